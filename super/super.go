// Package super holds the superblock and the per-mount session state
// (FsSuper) that every core operation takes as its first argument.
package super

import (
	"fmt"

	"github.com/tchajed/marshal"

	"github.com/mit-pdos/tinyfs/addr"
	"github.com/mit-pdos/tinyfs/alloc"
	"github.com/mit-pdos/tinyfs/buf"
	"github.com/mit-pdos/tinyfs/common"
	"github.com/mit-pdos/tinyfs/disk"
	"github.com/mit-pdos/tinyfs/util"
)

// Geometry is the capacity chosen at format time.
type Geometry struct {
	MaxInodes     uint64
	MaxDataBlocks uint64
}

func DefaultGeometry() Geometry {
	return Geometry{MaxInodes: common.MAXINUM, MaxDataBlocks: common.MAXDNUM}
}

func (g Geometry) Validate() error {
	if g.MaxInodes == 0 || g.MaxInodes > common.NBITBLOCK {
		return fmt.Errorf("max inodes %d not in [1, %d]: %w", g.MaxInodes, common.NBITBLOCK, common.ErrInvalid)
	}
	if g.MaxDataBlocks == 0 || g.MaxDataBlocks > common.NBITBLOCK {
		return fmt.Errorf("max data blocks %d not in [1, %d]: %w", g.MaxDataBlocks, common.NBITBLOCK, common.ErrInvalid)
	}
	return nil
}

// Superblock is the block-zero layout descriptor.
type Superblock struct {
	Magic     uint64
	MaxInum   uint64
	MaxDnum   uint64
	IBitmap   common.Bnum
	DBitmap   common.Bnum
	InodeStrt common.Bnum
	DataStrt  common.Bnum
}

func MkSuperblock(g Geometry) Superblock {
	itable := util.RoundUp(g.MaxInodes*common.INODESZ, disk.BlockSize)
	return Superblock{
		Magic:     common.MAGIC,
		MaxInum:   g.MaxInodes,
		MaxDnum:   g.MaxDataBlocks,
		IBitmap:   common.IBITMAPBLK,
		DBitmap:   common.DBITMAPBLK,
		InodeStrt: common.ISTARTBLK,
		DataStrt:  common.ISTARTBLK + itable,
	}
}

// NumBlocks is the size of a disk image holding this layout.
func (sb Superblock) NumBlocks() uint64 {
	return sb.DataStrt + sb.MaxDnum
}

func (sb Superblock) Encode() disk.Block {
	enc := marshal.NewEnc(disk.BlockSize)
	enc.PutInt(sb.Magic)
	enc.PutInt(sb.MaxInum)
	enc.PutInt(sb.MaxDnum)
	enc.PutInt(sb.IBitmap)
	enc.PutInt(sb.DBitmap)
	enc.PutInt(sb.InodeStrt)
	enc.PutInt(sb.DataStrt)
	return enc.Finish()
}

func DecodeSuperblock(b disk.Block) Superblock {
	dec := marshal.NewDec(b)
	var sb Superblock
	sb.Magic = dec.GetInt()
	sb.MaxInum = dec.GetInt()
	sb.MaxDnum = dec.GetInt()
	sb.IBitmap = dec.GetInt()
	sb.DBitmap = dec.GetInt()
	sb.InodeStrt = dec.GetInt()
	sb.DataStrt = dec.GetInt()
	return sb
}

// check rejects a superblock that could not have been written by Format.
func (sb Superblock) check(size uint64) error {
	if sb.Magic != common.MAGIC {
		return fmt.Errorf("magic %#x, want %#x: %w", sb.Magic, common.MAGIC, common.ErrCorrupt)
	}
	want := MkSuperblock(Geometry{MaxInodes: sb.MaxInum, MaxDataBlocks: sb.MaxDnum})
	if err := (Geometry{sb.MaxInum, sb.MaxDnum}).Validate(); err != nil || want != sb {
		return fmt.Errorf("inconsistent layout %+v: %w", sb, common.ErrCorrupt)
	}
	if sb.NumBlocks() > size {
		return fmt.Errorf("layout needs %d blocks, disk has %d: %w", sb.NumBlocks(), size, common.ErrCorrupt)
	}
	return nil
}

// FsSuper is the state of one mounted filesystem: the disk, the in-memory
// superblock, and allocators over the two bitmaps. It is not safe for
// concurrent use; callers serialize operations.
type FsSuper struct {
	Disk disk.Disk
	Sb   Superblock

	ialloc *alloc.Alloc
	dalloc *alloc.Alloc
}

func mkFsSuper(d disk.Disk, sb Superblock) *FsSuper {
	return &FsSuper{
		Disk:   d,
		Sb:     sb,
		ialloc: alloc.MkAlloc(sb.IBitmap, sb.MaxInum),
		dalloc: alloc.MkAlloc(sb.DBitmap, sb.MaxDnum),
	}
}

// MkFs writes a fresh superblock and empty bitmaps to d. The root directory
// is created by the caller.
func MkFs(d disk.Disk, g Geometry) (*FsSuper, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	sb := MkSuperblock(g)
	size, err := d.Size()
	if err != nil {
		return nil, err
	}
	if sb.NumBlocks() > size {
		return nil, fmt.Errorf("layout needs %d blocks, disk has %d: %w", sb.NumBlocks(), size, common.ErrNoSpace)
	}
	util.DPrintf(1, "MkFs: %+v\n", sb)
	if err := d.Write(common.SUPERBLK, sb.Encode()); err != nil {
		return nil, err
	}
	fs := mkFsSuper(d, sb)
	if err := fs.ialloc.Init(d); err != nil {
		return nil, err
	}
	if err := fs.dalloc.Init(d); err != nil {
		return nil, err
	}
	return fs, nil
}

// Load reads and validates the superblock of an existing filesystem.
func Load(d disk.Disk) (*FsSuper, error) {
	b, err := d.Read(common.SUPERBLK)
	if err != nil {
		return nil, err
	}
	size, err := d.Size()
	if err != nil {
		return nil, err
	}
	sb := DecodeSuperblock(b)
	if err := sb.check(size); err != nil {
		return nil, err
	}
	util.DPrintf(1, "Load: %+v\n", sb)
	return mkFsSuper(d, sb), nil
}

func (fs *FsSuper) NInode() uint64 {
	return fs.ialloc.Max()
}

func (fs *FsSuper) Inum2Addr(inum common.Inum) addr.Addr {
	return addr.MkRecordAddr(fs.Sb.InodeStrt, uint64(inum), common.INODESZ)
}

// ValidData reports whether bn lies in the data area. Pointer fields
// outside it (including 0) mean "not allocated".
func (fs *FsSuper) ValidData(bn common.Bnum) bool {
	return bn >= fs.Sb.DataStrt && bn < fs.Sb.DataStrt+fs.Sb.MaxDnum
}

func (fs *FsSuper) AllocInum() (common.Inum, error) {
	n, err := fs.ialloc.AllocNum(fs.Disk)
	if err != nil {
		return 0, fmt.Errorf("inode bitmap: %w", err)
	}
	return common.Inum(n), nil
}

func (fs *FsSuper) FreeInum(inum common.Inum) error {
	return fs.ialloc.FreeNum(fs.Disk, uint64(inum))
}

func (fs *FsSuper) MarkInumUsed(inum common.Inum) error {
	return fs.ialloc.MarkUsed(fs.Disk, uint64(inum))
}

// AllocBlock allocates a data block, zeroes it on disk, and returns its
// absolute block number.
func (fs *FsSuper) AllocBlock() (common.Bnum, error) {
	n, err := fs.dalloc.AllocNum(fs.Disk)
	if err != nil {
		return 0, fmt.Errorf("data bitmap: %w", err)
	}
	bn := fs.Sb.DataStrt + n
	if err := buf.ZeroBlock(bn).WriteDirect(fs.Disk); err != nil {
		return 0, err
	}
	return bn, nil
}

func (fs *FsSuper) FreeBlock(bn common.Bnum) error {
	if !fs.ValidData(bn) {
		return fmt.Errorf("free block %d outside data area: %w", bn, common.ErrInvalid)
	}
	used, err := fs.BlockUsed(bn)
	if err != nil {
		return err
	}
	if !used {
		return fmt.Errorf("free block %d twice: %w", bn, common.ErrInvalid)
	}
	return fs.dalloc.FreeNum(fs.Disk, bn-fs.Sb.DataStrt)
}

func (fs *FsSuper) BlockUsed(bn common.Bnum) (bool, error) {
	if !fs.ValidData(bn) {
		return false, nil
	}
	return fs.dalloc.IsUsed(fs.Disk, bn-fs.Sb.DataStrt)
}

func (fs *FsSuper) NumFreeInodes() (uint64, error) {
	return fs.ialloc.NumFree(fs.Disk)
}

func (fs *FsSuper) NumFreeBlocks() (uint64, error) {
	return fs.dalloc.NumFree(fs.Disk)
}
