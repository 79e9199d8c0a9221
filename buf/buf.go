// buf manages sub-block disk objects (inodes, directory entries, block-number
// slots) that are read and written back as part of their containing block.
package buf

import (
	"fmt"

	"github.com/tchajed/goose/machine"

	"github.com/mit-pdos/tinyfs/addr"
	"github.com/mit-pdos/tinyfs/common"
	"github.com/mit-pdos/tinyfs/disk"
	"github.com/mit-pdos/tinyfs/util"
)

// A Buf is one object of Sz bytes at Addr. Data aliases the containing
// block, so updating Data and calling WriteDirect performs a
// read-modify-write of that block.
type Buf struct {
	Addr  addr.Addr
	Sz    uint64 // number of bytes
	Data  []byte
	blk   disk.Block
	dirty bool
}

// MkBuf wraps an already-loaded block.
func MkBuf(a addr.Addr, sz uint64, blk disk.Block) *Buf {
	if a.Off+sz > disk.BlockSize {
		panic(fmt.Errorf("object %v of %d bytes crosses block boundary", a, sz))
	}
	b := &Buf{
		Addr:  a,
		Sz:    sz,
		Data:  blk[a.Off : a.Off+sz],
		blk:   blk,
		dirty: false,
	}
	return b
}

// Load reads the block containing a and returns the sz-byte object at a.
func Load(d disk.Disk, a addr.Addr, sz uint64) (*Buf, error) {
	blk, err := d.Read(a.Blkno)
	if err != nil {
		return nil, err
	}
	return MkBuf(a, sz, blk), nil
}

// LoadBlock loads a whole block as a single object.
func LoadBlock(d disk.Disk, bn common.Bnum) (*Buf, error) {
	return Load(d, addr.MkAddr(bn, 0), disk.BlockSize)
}

// ZeroBlock returns a dirty all-zero whole-block buffer for bn without
// reading it.
func ZeroBlock(bn common.Bnum) *Buf {
	b := MkBuf(addr.MkAddr(bn, 0), disk.BlockSize, disk.NewBlock())
	b.SetDirty()
	return b
}

func (buf *Buf) IsDirty() bool {
	return buf.dirty
}

func (buf *Buf) SetDirty() {
	buf.dirty = true
}

// Install copies src over the object.
func (buf *Buf) Install(src []byte) {
	if uint64(len(src)) != buf.Sz {
		panic(fmt.Errorf("install %d bytes into %d-byte object", len(src), buf.Sz))
	}
	copy(buf.Data, src)
	buf.SetDirty()
}

// WriteDirect writes the containing block back if the object is dirty.
func (buf *Buf) WriteDirect(d disk.Disk) error {
	if !buf.IsDirty() {
		return nil
	}
	util.DPrintf(10, "%v: write direct\n", buf.Addr)
	err := d.Write(buf.Addr.Blkno, buf.blk)
	if err != nil {
		return err
	}
	buf.dirty = false
	return nil
}

// BnumGet returns the block number in 4-byte slot i of the object.
func (buf *Buf) BnumGet(i uint64) common.Bnum {
	off := i * 4
	return common.Bnum(machine.UInt32Get(buf.Data[off : off+4]))
}

// BnumPut stores block number v in 4-byte slot i of the object.
func (buf *Buf) BnumPut(i uint64, v common.Bnum) {
	off := i * 4
	machine.UInt32Put(buf.Data[off:off+4], uint32(v))
	buf.SetDirty()
}
