// Package tfs is the filesystem session: it formats and mounts a disk
// image and exposes path-addressed operations over the inode, directory
// and content layers.
package tfs

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mit-pdos/tinyfs/common"
	"github.com/mit-pdos/tinyfs/dir"
	"github.com/mit-pdos/tinyfs/disk"
	"github.com/mit-pdos/tinyfs/inode"
	"github.com/mit-pdos/tinyfs/super"
	"github.com/mit-pdos/tinyfs/util"
)

// Fs is one mounted filesystem. Operations are not safe for concurrent
// use; the caller serializes them.
type Fs struct {
	sup *super.FsSuper

	// Clock stamps inode times. It defaults to time.Now.
	Clock func() time.Time
}

func mkFs(sup *super.FsSuper) *Fs {
	return &Fs{sup: sup, Clock: time.Now}
}

func (fs *Fs) stamp() uint64 {
	return uint64(fs.Clock().Unix())
}

func (fs *Fs) Super() *super.FsSuper {
	return fs.sup
}

// Format writes an empty filesystem to d: a fresh superblock, clear bitmaps
// and a root directory at inode 0 whose "." and ".." both name itself.
func Format(d disk.Disk, g super.Geometry) (*Fs, error) {
	sup, err := super.MkFs(d, g)
	if err != nil {
		return nil, err
	}
	fs := mkFs(sup)
	if err := sup.MarkInumUsed(common.ROOTINUM); err != nil {
		return nil, err
	}
	now := fs.stamp()
	root := &inode.Inode{
		Inum:  common.ROOTINUM,
		Valid: true,
		Kind:  common.KindDir,
		Atime: now,
		Mtime: now,
		Ctime: now,
	}
	if err := dir.Init(sup, root, common.ROOTINUM); err != nil {
		return nil, fmt.Errorf("root directory: %w", err)
	}
	util.DPrintf(1, "Format: %d inodes, %d data blocks at %d\n", g.MaxInodes, g.MaxDataBlocks, sup.Sb.DataStrt)
	return fs, nil
}

// Attach loads the filesystem already on d.
func Attach(d disk.Disk) (*Fs, error) {
	sup, err := super.Load(d)
	if err != nil {
		return nil, err
	}
	root, err := inode.Read(sup, common.ROOTINUM)
	if err != nil {
		return nil, err
	}
	if !root.Valid || !root.IsDir() {
		return nil, fmt.Errorf("root %v: %w", root, common.ErrCorrupt)
	}
	return mkFs(sup), nil
}

// Mount opens the image at path, or creates and formats it with geometry g
// if it does not exist. A corrupt superblock fails the mount.
func Mount(path string, g super.Geometry) (*Fs, error) {
	d, err := disk.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := g.Validate(); err != nil {
			return nil, err
		}
		d, err = disk.Create(path, super.MkSuperblock(g).NumBlocks())
		if err != nil {
			return nil, err
		}
		util.DPrintf(1, "Mount: formatting new image %s\n", path)
		fs, err := Format(d, g)
		if err != nil {
			d.Close()
			return nil, err
		}
		return fs, nil
	}
	if err != nil {
		return nil, err
	}
	fs, err := Attach(d)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("mount %s: %w", path, err)
	}
	util.DPrintf(1, "Mount: %s %+v\n", path, fs.sup.Sb)
	return fs, nil
}

// Unmount flushes and closes the disk. fs is unusable afterwards.
func (fs *Fs) Unmount() error {
	d := fs.sup.Disk
	fs.sup = nil
	if err := d.Barrier(); err != nil {
		d.Close()
		return err
	}
	return d.Close()
}
