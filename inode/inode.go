// Package inode implements the inode table and the mapping from a file's
// byte range to data blocks through direct and indirect pointers.
package inode

import (
	"fmt"

	"github.com/tchajed/marshal"

	"github.com/mit-pdos/tinyfs/buf"
	"github.com/mit-pdos/tinyfs/common"
	"github.com/mit-pdos/tinyfs/super"
	"github.com/mit-pdos/tinyfs/util"
)

// Inode is the in-memory copy of one inode table record. Changes are not
// visible on disk until Write.
type Inode struct {
	Inum     common.Inum
	Valid    bool
	Kind     common.Kind
	Link     uint64
	Size     uint64
	Direct   [common.NDIRECT]common.Bnum
	Indirect [common.NINDIRECT]common.Bnum
	Atime    uint64 // seconds since the epoch
	Mtime    uint64
	Ctime    uint64
}

func b2i(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func (ip *Inode) Encode() []byte {
	enc := marshal.NewEnc(common.INODESZ)
	enc.PutInt(uint64(ip.Inum))
	enc.PutInt(b2i(ip.Valid))
	enc.PutInt(uint64(ip.Kind))
	enc.PutInt(ip.Link)
	enc.PutInt(ip.Size)
	enc.PutInts(ip.Direct[:])
	enc.PutInts(ip.Indirect[:])
	enc.PutInt(ip.Atime)
	enc.PutInt(ip.Mtime)
	enc.PutInt(ip.Ctime)
	return enc.Finish()
}

func Decode(b []byte) *Inode {
	ip := &Inode{}
	dec := marshal.NewDec(b)
	ip.Inum = common.Inum(dec.GetInt())
	ip.Valid = dec.GetInt() != 0
	ip.Kind = common.Kind(dec.GetInt())
	ip.Link = dec.GetInt()
	ip.Size = dec.GetInt()
	copy(ip.Direct[:], dec.GetInts(common.NDIRECT))
	copy(ip.Indirect[:], dec.GetInts(common.NINDIRECT))
	ip.Atime = dec.GetInt()
	ip.Mtime = dec.GetInt()
	ip.Ctime = dec.GetInt()
	return ip
}

func (ip *Inode) IsDir() bool {
	return ip.Kind == common.KindDir
}

func (ip *Inode) String() string {
	return fmt.Sprintf("inode %d (%v valid=%v link=%d size=%d)", ip.Inum, ip.Kind, ip.Valid, ip.Link, ip.Size)
}

func checkInum(fs *super.FsSuper, inum common.Inum) error {
	if uint64(inum) >= fs.NInode() {
		return fmt.Errorf("inode %d (max %d): %w", inum, fs.NInode(), common.ErrInvalidInode)
	}
	return nil
}

// Alloc marks the lowest free inode number used and returns it. The record
// itself is left as it was; the caller initializes and writes it.
func Alloc(fs *super.FsSuper) (common.Inum, error) {
	inum, err := fs.AllocInum()
	if err != nil {
		return 0, err
	}
	util.DPrintf(3, "inode.Alloc: %d\n", inum)
	return inum, nil
}

// Read loads inode inum. It does not check the valid flag.
func Read(fs *super.FsSuper, inum common.Inum) (*Inode, error) {
	if err := checkInum(fs, inum); err != nil {
		return nil, err
	}
	b, err := buf.Load(fs.Disk, fs.Inum2Addr(inum), common.INODESZ)
	if err != nil {
		return nil, err
	}
	return Decode(b.Data), nil
}

// WriteInode stores ip in its table slot with a read-modify-write of the
// containing block.
func (ip *Inode) WriteInode(fs *super.FsSuper) error {
	if err := checkInum(fs, ip.Inum); err != nil {
		return err
	}
	b, err := buf.Load(fs.Disk, fs.Inum2Addr(ip.Inum), common.INODESZ)
	if err != nil {
		return err
	}
	b.Install(ip.Encode())
	util.DPrintf(5, "inode.WriteInode: %v\n", ip)
	return b.WriteDirect(fs.Disk)
}
