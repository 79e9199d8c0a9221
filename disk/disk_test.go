package disk

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func mkBlock(b byte) Block {
	block := NewBlock()
	for i := range block {
		block[i] = b
	}
	return block
}

func testReadWrite(t *testing.T, d Disk) {
	assert := assert.New(t)
	assert.Nil(d.Write(2, mkBlock(2)))
	assert.Nil(d.Write(1, mkBlock(1)))

	b, err := d.Read(2)
	assert.Nil(err)
	assert.Equal(mkBlock(2), b)

	b = NewBlock()
	assert.Nil(d.ReadTo(1, b))
	assert.Equal(mkBlock(1), b)

	b, err = d.Read(0)
	assert.Nil(err)
	assert.Equal(mkBlock(0), b, "unwritten block should be zero")

	_, err = d.Read(100)
	assert.Error(err, "read past end")
	assert.Error(d.Write(100, mkBlock(1)), "write past end")
	assert.Error(d.Write(0, make(Block, 10)), "short write")
}

func TestMemDisk(t *testing.T) {
	d := NewMemDisk(10)
	sz, _ := d.Size()
	assert.Equal(t, uint64(10), sz)
	testReadWrite(t, d)
}

func TestMemDiskReadTo(t *testing.T) {
	assert := assert.New(t)
	d := NewMemDisk(4)
	assert.Nil(d.Write(3, mkBlock(3)))

	b := mkBlock(9)
	assert.Nil(d.ReadTo(3, b))
	assert.Equal(mkBlock(3), b)

	b[0] = 7
	b2, _ := d.Read(3)
	assert.Equal(byte(3), b2[0], "ReadTo should copy out of the disk")

	assert.Nil(d.Write(3, mkBlock(4)))
	assert.Equal(byte(3), b[1], "caller buffer should not track later writes")

	assert.Error(d.ReadTo(4, b), "read past end")
	assert.Error(d.ReadTo(0, make(Block, 10)), "short buffer")
}

func TestFileDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "DISKFILE")
	d, err := Create(path, 10)
	assert.Nil(t, err)
	testReadWrite(t, d)
	assert.Nil(t, d.Barrier())
	assert.Nil(t, d.Close())
}

func TestFileDiskReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "DISKFILE")
	d, err := Create(path, 10)
	assert.Nil(t, err)
	assert.Nil(t, d.Write(3, mkBlock(3)))
	assert.Nil(t, d.Close())

	d, err = Open(path)
	assert.Nil(t, err)
	sz, _ := d.Size()
	assert.Equal(t, uint64(10), sz)
	b, err := d.Read(3)
	assert.Nil(t, err)
	assert.Equal(t, mkBlock(3), b, "contents should survive close")
	assert.Nil(t, d.Close())
}

func TestOpenMissing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
