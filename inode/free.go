package inode

import (
	"errors"

	"github.com/tchajed/goose/machine/disk"

	"github.com/mit-pdos/tinyfs/buf"
	"github.com/mit-pdos/tinyfs/common"
	"github.com/mit-pdos/tinyfs/super"
	"github.com/mit-pdos/tinyfs/util"
)

// shrinkIndirect releases the slots of indirect block i that map logical
// blocks >= first, and the indirect block itself once none remain.
func (ip *Inode) shrinkIndirect(fs *super.FsSuper, i uint64, first uint64) error {
	ibn := ip.Indirect[i]
	if !fs.ValidData(ibn) {
		return nil
	}
	base := common.NDIRECT + i*common.NSLOT
	ib, err := buf.LoadBlock(fs.Disk, ibn)
	if err != nil {
		return err
	}
	var live bool
	for j := uint64(0); j < common.NSLOT; j++ {
		bn := ib.BnumGet(j)
		if !fs.ValidData(bn) {
			continue
		}
		if base+j < first {
			live = true
			continue
		}
		if err := fs.FreeBlock(bn); err != nil {
			return err
		}
		ib.BnumPut(j, common.NULLBNUM)
	}
	if !live {
		util.DPrintf(5, "shrink: inode %d release indirect %d (%d)\n", ip.Inum, i, ibn)
		ip.Indirect[i] = common.NULLBNUM
		return fs.FreeBlock(ibn)
	}
	return ib.WriteDirect(fs.Disk)
}

// release frees every block mapping a logical block >= first, clearing the
// pointers in ip (the caller writes ip).
func (ip *Inode) release(fs *super.FsSuper, first uint64) error {
	for i := first; i < common.NDIRECT; i++ {
		bn := ip.Direct[i]
		if !fs.ValidData(bn) {
			continue
		}
		if err := fs.FreeBlock(bn); err != nil {
			return err
		}
		ip.Direct[i] = common.NULLBNUM
	}
	for i := uint64(0); i < common.NINDIRECT; i++ {
		if common.NDIRECT+(i+1)*common.NSLOT <= first {
			continue
		}
		if err := ip.shrinkIndirect(fs, i, first); err != nil {
			return err
		}
	}
	return nil
}

// Free releases all of ip's blocks and its inode number. Only the valid
// flag, type and link count of the record are cleared; the slot is reused by
// a later Alloc.
func (ip *Inode) Free(fs *super.FsSuper) error {
	if err := ip.release(fs, 0); err != nil {
		return err
	}
	ip.Valid = false
	ip.Kind = common.KindFree
	ip.Link = 0
	if err := ip.WriteInode(fs); err != nil {
		return err
	}
	util.DPrintf(3, "inode.Free: %d\n", ip.Inum)
	return fs.FreeInum(ip.Inum)
}

// Truncate sets the file size. Shrinking releases blocks past the new end
// and zeroes the rest of the last block; growing writes zeros.
func (ip *Inode) Truncate(fs *super.FsSuper, size uint64) error {
	if size > ip.Size {
		if err := checkRange(ip.Size, size-ip.Size); err != nil {
			return err
		}
		for ip.Size < size {
			n := util.Min(size-ip.Size, disk.BlockSize)
			if _, err := ip.WriteAt(fs, ip.Size, make([]byte, n)); err != nil {
				return err
			}
		}
		return nil
	}
	first := util.RoundUp(size, disk.BlockSize)
	if err := ip.release(fs, first); err != nil {
		return err
	}
	if boff := size % disk.BlockSize; boff != 0 {
		bn, _, err := ip.bmap(fs, size/disk.BlockSize, false)
		if err != nil && !errors.Is(err, common.ErrUnallocated) {
			return err
		}
		if err == nil {
			b, err := buf.LoadBlock(fs.Disk, bn)
			if err != nil {
				return err
			}
			copy(b.Data[boff:], make([]byte, disk.BlockSize-boff))
			b.SetDirty()
			if err := b.WriteDirect(fs.Disk); err != nil {
				return err
			}
		}
	}
	ip.Size = size
	return ip.WriteInode(fs)
}
