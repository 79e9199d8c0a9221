// Package dir stores directories as arrays of fixed-size entries in the
// blocks named by a directory inode's direct pointers, and resolves paths
// through them.
package dir

import (
	"errors"
	"fmt"

	"github.com/tchajed/goose/machine/disk"

	"github.com/mit-pdos/tinyfs/addr"
	"github.com/mit-pdos/tinyfs/buf"
	"github.com/mit-pdos/tinyfs/common"
	"github.com/mit-pdos/tinyfs/inode"
	"github.com/mit-pdos/tinyfs/super"
	"github.com/mit-pdos/tinyfs/util"
)

// slot is the location of an entry: direct pointer index and record index
// within that block.
type slot struct {
	blk uint64
	ent uint64
}

func (s slot) addr(dip *inode.Inode) addr.Addr {
	return addr.MkRecordAddr(dip.Direct[s.blk], s.ent, common.DIRENTSZ)
}

func checkDir(dip *inode.Inode) error {
	if !dip.IsDir() {
		return fmt.Errorf("inode %d: %w", dip.Inum, common.ErrNotDir)
	}
	return nil
}

// scan calls f on every entry of every allocated block in storage order
// until f returns true.
func scan(fs *super.FsSuper, dip *inode.Inode, f func(s slot, de Dirent) bool) error {
	for i := uint64(0); i < common.NDIRECT; i++ {
		bn := dip.Direct[i]
		if !fs.ValidData(bn) {
			continue
		}
		blk, err := fs.Disk.Read(bn)
		if err != nil {
			return err
		}
		for j := uint64(0); j < common.DIRENTBLK; j++ {
			off := j * common.DIRENTSZ
			if f(slot{i, j}, DecodeDirent(blk[off:off+common.DIRENTSZ])) {
				return nil
			}
		}
	}
	return nil
}

func lookup(fs *super.FsSuper, dip *inode.Inode, name string) (Dirent, slot, error) {
	if err := checkDir(dip); err != nil {
		return Dirent{}, slot{}, err
	}
	var found Dirent
	var at slot
	var ok bool
	err := scan(fs, dip, func(s slot, de Dirent) bool {
		if de.Valid && de.Name == name {
			found, at, ok = de, s, true
		}
		return ok
	})
	if err != nil {
		return Dirent{}, slot{}, err
	}
	if !ok {
		return Dirent{}, slot{}, fmt.Errorf("%q in directory %d: %w", name, dip.Inum, common.ErrNotFound)
	}
	return found, at, nil
}

// Find returns the first live entry named name.
func Find(fs *super.FsSuper, dip *inode.Inode, name string) (Dirent, error) {
	de, _, err := lookup(fs, dip, name)
	return de, err
}

func putEntry(fs *super.FsSuper, a addr.Addr, de Dirent) error {
	b, err := buf.Load(fs.Disk, a, common.DIRENTSZ)
	if err != nil {
		return err
	}
	b.Install(de.Encode())
	return b.WriteDirect(fs.Disk)
}

// Add inserts name -> inum into the first free slot, allocating a directory
// block if every allocated one is full. It bumps the link count and size of
// dip and writes dip.
func Add(fs *super.FsSuper, dip *inode.Inode, inum common.Inum, name string) error {
	if err := ValidName(name); err != nil {
		return err
	}
	_, err := Find(fs, dip, name)
	if err == nil {
		return fmt.Errorf("%q in directory %d: %w", name, dip.Inum, common.ErrExist)
	}
	if !errors.Is(err, common.ErrNotFound) {
		return err
	}

	for i := uint64(0); i < common.NDIRECT; i++ {
		var at slot
		var free bool
		if fs.ValidData(dip.Direct[i]) {
			blk, err := fs.Disk.Read(dip.Direct[i])
			if err != nil {
				return err
			}
			for j := uint64(0); j < common.DIRENTBLK; j++ {
				off := j * common.DIRENTSZ
				if !DecodeDirent(blk[off : off+common.DIRENTSZ]).Valid {
					at, free = slot{i, j}, true
					break
				}
			}
		} else {
			bn, err := fs.AllocBlock()
			if err != nil {
				util.DPrintf(3, "dir.Add: %d block %d: %v\n", dip.Inum, i, err)
				continue
			}
			dip.Direct[i] = bn
			at, free = slot{i, 0}, true
		}
		if !free {
			continue
		}
		if err := putEntry(fs, at.addr(dip), Dirent{Inum: inum, Valid: true, Name: name}); err != nil {
			return err
		}
		dip.Link++
		dip.Size += common.DIRENTSZ
		util.DPrintf(3, "dir.Add: %d %q -> %d at %v\n", dip.Inum, name, inum, at)
		return dip.WriteInode(fs)
	}
	return fmt.Errorf("directory %d full: %w", dip.Inum, common.ErrNoSpace)
}

// Remove invalidates the entry for name. When the directory size drops to
// a block multiple, the block that held the entry is released, whether or
// not other live entries remain in it.
func Remove(fs *super.FsSuper, dip *inode.Inode, name string) error {
	de, at, err := lookup(fs, dip, name)
	if err != nil {
		return err
	}
	if err := putEntry(fs, at.addr(dip), Dirent{Inum: de.Inum}); err != nil {
		return err
	}
	dip.Size -= common.DIRENTSZ
	dip.Link--
	if dip.Size%disk.BlockSize == 0 {
		bn := dip.Direct[at.blk]
		util.DPrintf(3, "dir.Remove: %d release block %d (%d)\n", dip.Inum, at.blk, bn)
		if err := fs.FreeBlock(bn); err != nil {
			return err
		}
		dip.Direct[at.blk] = common.NULLBNUM
	}
	util.DPrintf(3, "dir.Remove: %d %q\n", dip.Inum, name)
	return dip.WriteInode(fs)
}

// List returns the live entries in storage order.
func List(fs *super.FsSuper, dip *inode.Inode) ([]Dirent, error) {
	if err := checkDir(dip); err != nil {
		return nil, err
	}
	var ents []Dirent
	err := scan(fs, dip, func(_ slot, de Dirent) bool {
		if de.Valid {
			ents = append(ents, de)
		}
		return false
	})
	if err != nil {
		return nil, err
	}
	return ents, nil
}

// Init seeds a new directory with "." and "..". dip must have no entries;
// on return its link count is 2.
func Init(fs *super.FsSuper, dip *inode.Inode, parent common.Inum) error {
	dip.Kind = common.KindDir
	dip.Link = 0
	dip.Size = 0
	if err := Add(fs, dip, dip.Inum, "."); err != nil {
		return err
	}
	return Add(fs, dip, parent, "..")
}
