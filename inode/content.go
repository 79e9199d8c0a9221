package inode

import (
	"fmt"

	"github.com/tchajed/goose/machine/disk"

	"github.com/mit-pdos/tinyfs/buf"
	"github.com/mit-pdos/tinyfs/common"
	"github.com/mit-pdos/tinyfs/super"
	"github.com/mit-pdos/tinyfs/util"
)

// blockRef names the pointer slot for one logical block: Direct[index], or
// slot of the indirect block at Indirect[index].
type blockRef struct {
	indirect bool
	index    uint64
	slot     uint64
}

func locate(lbn uint64) (blockRef, error) {
	if lbn < common.NDIRECT {
		return blockRef{indirect: false, index: lbn}, nil
	}
	n := lbn - common.NDIRECT
	if n >= common.NINDIRECT*common.NSLOT {
		return blockRef{}, fmt.Errorf("logical block %d: %w", lbn, common.ErrRange)
	}
	return blockRef{indirect: true, index: n / common.NSLOT, slot: n % common.NSLOT}, nil
}

func checkRange(off uint64, n uint64) error {
	if util.SumOverflows(off, n) {
		return fmt.Errorf("offset %d + %d overflows: %w", off, n, common.ErrRange)
	}
	if n > 0 && (off+n-1)/disk.BlockSize >= common.MAXFILEBLKS {
		return fmt.Errorf("range [%d, %d): %w", off, off+n, common.ErrRange)
	}
	return nil
}

// bmap returns the data block backing logical block lbn. With alloc set, a
// missing indirect block or data block is allocated and spliced in; fresh
// reports whether the data block is new. ip itself is not written.
func (ip *Inode) bmap(fs *super.FsSuper, lbn uint64, alloc bool) (common.Bnum, bool, error) {
	ref, err := locate(lbn)
	if err != nil {
		return 0, false, err
	}
	if !ref.indirect {
		bn := ip.Direct[ref.index]
		if fs.ValidData(bn) {
			return bn, false, nil
		}
		if !alloc {
			return 0, false, fmt.Errorf("inode %d block %d: %w", ip.Inum, lbn, common.ErrUnallocated)
		}
		bn, err = fs.AllocBlock()
		if err != nil {
			return 0, false, err
		}
		ip.Direct[ref.index] = bn
		return bn, true, nil
	}

	ibn := ip.Indirect[ref.index]
	if !fs.ValidData(ibn) {
		if !alloc {
			return 0, false, fmt.Errorf("inode %d indirect %d: %w", ip.Inum, ref.index, common.ErrUnallocated)
		}
		ibn, err = fs.AllocBlock()
		if err != nil {
			return 0, false, err
		}
		util.DPrintf(5, "bmap: inode %d indirect %d -> %d\n", ip.Inum, ref.index, ibn)
		ip.Indirect[ref.index] = ibn
	}
	ib, err := buf.LoadBlock(fs.Disk, ibn)
	if err != nil {
		return 0, false, err
	}
	bn := ib.BnumGet(ref.slot)
	if fs.ValidData(bn) {
		return bn, false, nil
	}
	if !alloc {
		return 0, false, fmt.Errorf("inode %d block %d: %w", ip.Inum, lbn, common.ErrUnallocated)
	}
	bn, err = fs.AllocBlock()
	if err != nil {
		return 0, false, err
	}
	ib.BnumPut(ref.slot, bn)
	if err := ib.WriteDirect(fs.Disk); err != nil {
		return 0, false, err
	}
	return bn, true, nil
}

// ReadAt returns n bytes starting at off. Every block in the range must be
// allocated; ReadAt never allocates and does not look at Size.
func (ip *Inode) ReadAt(fs *super.FsSuper, off uint64, n uint64) ([]byte, error) {
	if err := checkRange(off, n); err != nil {
		return nil, err
	}
	data := make([]byte, n)
	var done uint64
	for done < n {
		pos := off + done
		boff := pos % disk.BlockSize
		cnt := util.Min(n-done, disk.BlockSize-boff)
		bn, _, err := ip.bmap(fs, pos/disk.BlockSize, false)
		if err != nil {
			return nil, err
		}
		blk, err := fs.Disk.Read(bn)
		if err != nil {
			return nil, err
		}
		copy(data[done:done+cnt], blk[boff:boff+cnt])
		done += cnt
	}
	util.DPrintf(5, "inode.ReadAt: %d [%d, %d)\n", ip.Inum, off, off+n)
	return data, nil
}

// WriteAt stores data at off, allocating blocks as needed, and persists ip.
// On error the bytes already written (and the blocks they occupy) are kept
// and their count is returned.
func (ip *Inode) WriteAt(fs *super.FsSuper, off uint64, data []byte) (uint64, error) {
	n := uint64(len(data))
	if err := checkRange(off, n); err != nil {
		return 0, err
	}
	var done uint64
	var err error
	for done < n {
		pos := off + done
		boff := pos % disk.BlockSize
		cnt := util.Min(n-done, disk.BlockSize-boff)
		var bn common.Bnum
		var fresh bool
		bn, fresh, err = ip.bmap(fs, pos/disk.BlockSize, true)
		if err != nil {
			break
		}
		var b *buf.Buf
		if fresh || cnt == disk.BlockSize {
			b = buf.ZeroBlock(bn)
		} else {
			b, err = buf.LoadBlock(fs.Disk, bn)
			if err != nil {
				break
			}
		}
		copy(b.Data[boff:boff+cnt], data[done:done+cnt])
		b.SetDirty()
		if err = b.WriteDirect(fs.Disk); err != nil {
			break
		}
		done += cnt
	}
	ip.Size = util.Max(ip.Size, off+done)
	if werr := ip.WriteInode(fs); werr != nil && err == nil {
		err = werr
	}
	util.DPrintf(5, "inode.WriteAt: %d [%d, %d) size %d\n", ip.Inum, off, off+done, ip.Size)
	return done, err
}
