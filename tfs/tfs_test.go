package tfs

import (
	"errors"
	"math/rand"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/zeebo/blake3"

	"github.com/mit-pdos/tinyfs/common"
	"github.com/mit-pdos/tinyfs/dir"
	"github.com/mit-pdos/tinyfs/disk"
	"github.com/mit-pdos/tinyfs/super"
)

var testTimestamp = time.Unix(1735689600, 0)

var testGeometry = super.Geometry{MaxInodes: 64, MaxDataBlocks: 512}

func data(sz int) []byte {
	d := make([]byte, sz)
	rand.Read(d)
	return d
}

type FsSuite struct {
	suite.Suite
	d  disk.Disk
	fs *Fs
}

func (suite *FsSuite) SetupTest() {
	suite.d = disk.NewMemDisk(super.MkSuperblock(testGeometry).NumBlocks())
	fs, err := Format(suite.d, testGeometry)
	suite.Require().Nil(err)
	fs.Clock = func() time.Time { return testTimestamp }
	suite.fs = fs
}

func TestFs(t *testing.T) {
	suite.Run(t, new(FsSuite))
}

func (suite *FsSuite) freeBlocks() uint64 {
	st, err := suite.fs.Statfs()
	suite.Require().Nil(err)
	return st.Bfree
}

func (suite *FsSuite) names(path string) []string {
	ents, err := suite.fs.Readdir(path)
	suite.Require().Nil(err)
	var names []string
	for _, de := range ents {
		names = append(names, de.Name)
	}
	return names
}

func (suite *FsSuite) TestFormat() {
	attr, err := suite.fs.Getattr("/")
	suite.Nil(err)
	suite.Equal(common.ROOTINUM, attr.Inum)
	suite.Equal(common.KindDir, attr.Kind)
	suite.Equal(uint64(2), attr.Link)
	suite.Equal(2*common.DIRENTSZ, attr.Size)
	suite.Equal(uint32(syscall.S_IFDIR|0755), attr.Mode())

	ents, err := suite.fs.Readdir("/")
	suite.Nil(err)
	suite.Equal([]DirEntry{
		{Name: ".", Inum: common.ROOTINUM, Kind: common.KindDir},
		{Name: "..", Inum: common.ROOTINUM, Kind: common.KindDir},
	}, ents)

	fs2, err := Attach(suite.d)
	suite.Nil(err)
	suite.Equal(common.MAGIC, fs2.Super().Sb.Magic)
	suite.Equal(suite.fs.Super().Sb.DataStrt, fs2.Super().Sb.DataStrt)
}

func (suite *FsSuite) TestScenario() {
	fs := suite.fs
	suite.Nil(fs.Mkdir("/a"))
	suite.Nil(fs.Create("/a/b"))
	attr, err := fs.Getattr("/a/b")
	suite.Nil(err)
	suite.Equal(uint64(0), attr.Size)

	x := data(5000)
	n, err := fs.Write("/a/b", 0, x)
	suite.Nil(err)
	suite.Equal(uint64(5000), n)
	got, err := fs.Read("/a/b", 0, 5000)
	suite.Nil(err)
	suite.Equal(x, got)

	err = fs.Rmdir("/a")
	suite.True(errors.Is(err, common.ErrNotEmpty))

	suite.Nil(fs.Unlink("/a/b"))
	dip, err := dir.Resolve(fs.Super(), "/a", common.ROOTINUM)
	suite.Nil(err)
	_, err = dir.Find(fs.Super(), dip, "b")
	suite.True(errors.Is(err, common.ErrNotFound))

	suite.Nil(fs.Rmdir("/a"))
	_, err = fs.Getattr("/a")
	suite.True(errors.Is(err, common.ErrNotFound))
	suite.Equal([]string{".", ".."}, suite.names("/"))
}

func (suite *FsSuite) TestLinkCounts() {
	fs := suite.fs
	suite.Nil(fs.Mkdir("/d"))
	suite.Nil(fs.Create("/d/f"))
	suite.Nil(fs.Mkdir("/d/e"))

	attr, _ := fs.Getattr("/d")
	suite.Equal(uint64(4), attr.Link)
	attr, _ = fs.Getattr("/")
	suite.Equal(uint64(3), attr.Link)
	attr, _ = fs.Getattr("/d/f")
	suite.Equal(uint64(1), attr.Link)

	ents, err := fs.Readdir("/d")
	suite.Nil(err)
	suite.Equal(common.KindFile, ents[2].Kind)
	suite.Equal(common.KindDir, ents[3].Kind)
	attr, _ = fs.Getattr("/d/e/..")
	suite.Equal(ents[0].Inum, attr.Inum, "\"..\" names the parent")
}

func (suite *FsSuite) TestFreeSpaceReturns() {
	fs := suite.fs
	blocks := suite.freeBlocks()
	st, _ := fs.Statfs()
	inodes := st.Ffree

	suite.Nil(fs.Mkdir("/d"))
	suite.Nil(fs.Create("/d/f"))
	_, err := fs.Write("/d/f", 0, data(int(20*disk.BlockSize)))
	suite.Nil(err)
	suite.Less(suite.freeBlocks(), blocks)

	suite.Nil(fs.Unlink("/d/f"))
	suite.Nil(fs.Rmdir("/d"))
	suite.Equal(blocks, suite.freeBlocks())
	st, _ = fs.Statfs()
	suite.Equal(inodes, st.Ffree)
}

func (suite *FsSuite) TestCreateErrors() {
	fs := suite.fs
	st, _ := fs.Statfs()
	suite.Nil(fs.Create("/f"))

	suite.True(errors.Is(fs.Create("/f"), common.ErrExist))
	suite.True(errors.Is(fs.Mkdir("/f"), common.ErrExist))
	suite.True(errors.Is(fs.Mkdir("/"), common.ErrExist))
	suite.True(errors.Is(fs.Create("/f/g"), common.ErrNotDir))
	suite.True(errors.Is(fs.Create("/missing/g"), common.ErrNotFound))

	st2, _ := fs.Statfs()
	suite.Equal(st.Ffree-1, st2.Ffree, "failed creates allocate nothing")
	suite.Equal(st.Bfree, st2.Bfree)
}

func (suite *FsSuite) TestRemoveErrors() {
	fs := suite.fs
	suite.Nil(fs.Mkdir("/d"))
	suite.Nil(fs.Create("/f"))

	suite.True(errors.Is(fs.Rmdir("/"), common.ErrBusy))
	suite.True(errors.Is(fs.Rmdir("/f"), common.ErrNotDir))
	suite.True(errors.Is(fs.Rmdir("/d/.."), common.ErrInvalid))
	suite.True(errors.Is(fs.Rmdir("/x"), common.ErrNotFound))
	suite.True(errors.Is(fs.Unlink("/d"), common.ErrNotFile))
	suite.True(errors.Is(fs.Unlink("/x"), common.ErrNotFound))
	suite.Equal([]string{".", "..", "d", "f"}, suite.names("/"))
}

func (suite *FsSuite) TestOpen() {
	fs := suite.fs
	suite.Nil(fs.Create("/f"))
	suite.Nil(fs.Mkdir("/d"))
	suite.Nil(fs.Open("/f"))
	suite.True(errors.Is(fs.Open("/d"), common.ErrNotFile))
	suite.True(errors.Is(fs.Open("/nope"), common.ErrNotFound))
	suite.Nil(fs.Opendir("/d"))
	suite.True(errors.Is(fs.Opendir("/f"), common.ErrNotDir))
	_, err := fs.Write("/d", 0, []byte("x"))
	suite.True(errors.Is(err, common.ErrNotFile))
}

func (suite *FsSuite) TestReadClamp() {
	fs := suite.fs
	suite.Nil(fs.Create("/f"))
	x := data(100)
	_, err := fs.Write("/f", 0, x)
	suite.Nil(err)

	got, err := fs.Read("/f", 50, 200)
	suite.Nil(err)
	suite.Equal(x[50:], got)
	got, err = fs.Read("/f", 100, 10)
	suite.Nil(err)
	suite.Empty(got)
	got, err = fs.Read("/f", 1000, 10)
	suite.Nil(err)
	suite.Empty(got)
}

func (suite *FsSuite) TestReadHole() {
	fs := suite.fs
	suite.Nil(fs.Create("/f"))
	off := 3*disk.BlockSize + 7
	_, err := fs.Write("/f", off, []byte{0xaa})
	suite.Nil(err)

	got, err := fs.Read("/f", 0, off+1)
	suite.Nil(err)
	suite.Equal(make([]byte, off), got[:off])
	suite.Equal(byte(0xaa), got[off])
}

func (suite *FsSuite) TestTruncate() {
	fs := suite.fs
	suite.Nil(fs.Create("/f"))
	x := data(10000)
	_, err := fs.Write("/f", 0, x)
	suite.Nil(err)

	suite.Nil(fs.Truncate("/f", 10))
	attr, _ := fs.Getattr("/f")
	suite.Equal(uint64(10), attr.Size)
	suite.Nil(fs.Truncate("/f", 20))
	got, err := fs.Read("/f", 0, 100)
	suite.Nil(err)
	suite.Equal(x[:10], got[:10])
	suite.Equal(make([]byte, 10), got[10:])
}

func (suite *FsSuite) TestTimes() {
	fs := suite.fs
	suite.Nil(fs.Create("/f"))
	attr, _ := fs.Getattr("/f")
	suite.True(attr.Mtime.Equal(testTimestamp))
	suite.True(attr.Ctime.Equal(testTimestamp))

	later := testTimestamp.Add(time.Hour)
	fs.Clock = func() time.Time { return later }
	_, err := fs.Write("/f", 0, []byte("hi"))
	suite.Nil(err)
	attr, _ = fs.Getattr("/f")
	suite.True(attr.Mtime.Equal(later))
	root, _ := fs.Getattr("/")
	suite.True(root.Mtime.Equal(testTimestamp), "parent touched only at create")

	at := time.Unix(1000, 0)
	mt := time.Unix(2000, 0)
	suite.Nil(fs.Utimens("/f", at, mt))
	attr, _ = fs.Getattr("/f")
	suite.True(attr.Atime.Equal(at))
	suite.True(attr.Mtime.Equal(mt))
}

func (suite *FsSuite) TestStatfs() {
	st, err := suite.fs.Statfs()
	suite.Nil(err)
	suite.Equal(disk.BlockSize, st.Bsize)
	suite.Equal(testGeometry.MaxDataBlocks, st.Blocks)
	suite.Equal(testGeometry.MaxDataBlocks-1, st.Bfree, "root directory block")
	suite.Equal(testGeometry.MaxInodes-1, st.Ffree)
	suite.Equal(common.NAMELEN, st.NameLen)
}

func (suite *FsSuite) TestSum() {
	fs := suite.fs
	suite.Nil(fs.Create("/f"))
	x := data(int(70*disk.BlockSize + 3))
	_, err := fs.Write("/f", 0, x)
	suite.Nil(err)
	sum, err := fs.Sum("/f")
	suite.Nil(err)
	suite.Equal(Digest(blake3.Sum256(x)), sum)

	suite.Nil(fs.Create("/empty"))
	sum, err = fs.Sum("/empty")
	suite.Nil(err)
	suite.Equal(Digest(blake3.Sum256(nil)), sum)
}

func (suite *FsSuite) TestNoSpace() {
	fs := suite.fs
	suite.Nil(fs.Create("/f"))
	_, err := fs.Write("/f", 0, data(int(600*disk.BlockSize)))
	suite.True(errors.Is(err, common.ErrNoSpace))
	suite.Equal(uint64(0), suite.freeBlocks())
	suite.True(errors.Is(fs.Mkdir("/d"), common.ErrNoSpace))
	suite.Equal([]string{".", "..", "f"}, suite.names("/"))
}

func TestInodeExhaust(t *testing.T) {
	g := super.Geometry{MaxInodes: 2, MaxDataBlocks: 16}
	fs, err := Format(disk.NewMemDisk(super.MkSuperblock(g).NumBlocks()), g)
	require.Nil(t, err)
	assert.Nil(t, fs.Create("/a"))
	err = fs.Create("/b")
	assert.True(t, errors.Is(err, common.ErrNoSpace))
	assert.Equal(t, syscall.ENOSPC, Errno(err))
}

func TestMountPersist(t *testing.T) {
	assert := assert.New(t)
	path := filepath.Join(t.TempDir(), "DISKFILE")

	fs, err := Mount(path, testGeometry)
	require.Nil(t, err)
	assert.Nil(fs.Mkdir("/a"))
	assert.Nil(fs.Create("/a/f"))
	x := data(9000)
	_, err = fs.Write("/a/f", 100, x)
	assert.Nil(err)
	assert.Nil(fs.Unmount())

	fs, err = Mount(path, super.Geometry{MaxInodes: 1, MaxDataBlocks: 1})
	require.Nil(t, err)
	assert.Equal(testGeometry.MaxInodes, fs.Super().Sb.MaxInum, "existing layout wins")
	got, err := fs.Read("/a/f", 100, 9000)
	assert.Nil(err)
	assert.Equal(x, got)
	attr, err := fs.Getattr("/a/f")
	assert.Nil(err)
	assert.Equal(uint64(9100), attr.Size)
	assert.Nil(fs.Unmount())
}

func TestMountCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "DISKFILE")
	d, err := disk.Create(path, 128)
	require.Nil(t, err)
	require.Nil(t, d.Close())

	_, err = Mount(path, testGeometry)
	assert.True(t, errors.Is(err, common.ErrCorrupt))
}

func TestErrno(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(syscall.Errno(0), Errno(nil))
	assert.Equal(syscall.ENOENT, Errno(common.ErrNotFound))
	assert.Equal(syscall.EEXIST, Errno(common.ErrExist))
	assert.Equal(syscall.EFBIG, Errno(common.ErrRange))
	assert.Equal(syscall.ENOTEMPTY, Errno(common.ErrNotEmpty))
	assert.Equal(syscall.EISDIR, Errno(common.ErrNotFile))
	assert.Equal(syscall.EIO, Errno(errors.New("disk on fire")))

	fs, err := Format(disk.NewMemDisk(super.MkSuperblock(testGeometry).NumBlocks()), testGeometry)
	require.Nil(t, err)
	assert.Equal(syscall.ENOENT, Errno(fs.Open("/a/b/c")))
	assert.Equal(syscall.ENAMETOOLONG, Errno(fs.Create("/"+strings.Repeat("n", 300))))
}
