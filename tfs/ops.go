package tfs

import (
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/mit-pdos/tinyfs/common"
	"github.com/mit-pdos/tinyfs/dir"
	"github.com/mit-pdos/tinyfs/disk"
	"github.com/mit-pdos/tinyfs/inode"
	"github.com/mit-pdos/tinyfs/util"
)

type Attr struct {
	Inum  common.Inum
	Kind  common.Kind
	Link  uint64
	Size  uint64
	Atime time.Time
	Mtime time.Time
	Ctime time.Time
}

// Mode is the st_mode reported for the inode. Permission bits are fixed.
func (a Attr) Mode() uint32 {
	if a.Kind == common.KindDir {
		return syscall.S_IFDIR | 0755
	}
	return syscall.S_IFREG | 0644
}

func mkAttr(ip *inode.Inode) Attr {
	return Attr{
		Inum:  ip.Inum,
		Kind:  ip.Kind,
		Link:  ip.Link,
		Size:  ip.Size,
		Atime: time.Unix(int64(ip.Atime), 0),
		Mtime: time.Unix(int64(ip.Mtime), 0),
		Ctime: time.Unix(int64(ip.Ctime), 0),
	}
}

type DirEntry struct {
	Name string
	Inum common.Inum
	Kind common.Kind
}

type Statfs struct {
	Bsize   uint64
	Blocks  uint64
	Bfree   uint64
	Files   uint64
	Ffree   uint64
	NameLen uint64
}

func (fs *Fs) resolve(path string) (*inode.Inode, error) {
	ip, err := dir.Resolve(fs.sup, path, common.ROOTINUM)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ip, nil
}

func (fs *Fs) file(path string) (*inode.Inode, error) {
	ip, err := fs.resolve(path)
	if err != nil {
		return nil, err
	}
	if ip.IsDir() {
		return nil, fmt.Errorf("%s: %w", path, common.ErrNotFile)
	}
	return ip, nil
}

// parent resolves the directory holding the last component of path.
func (fs *Fs) parent(path string) (*inode.Inode, string, error) {
	ppath, name, err := dir.Split(path)
	if err != nil {
		return nil, "", err
	}
	if err := dir.ValidName(name); err != nil {
		return nil, "", err
	}
	dip, err := fs.resolve(ppath)
	if err != nil {
		return nil, "", err
	}
	if !dip.IsDir() {
		return nil, "", fmt.Errorf("%s: %w", ppath, common.ErrNotDir)
	}
	return dip, name, nil
}

func isRoot(path string) bool {
	return len(dir.Components(path)) == 0
}

func (fs *Fs) Getattr(path string) (Attr, error) {
	ip, err := fs.resolve(path)
	if err != nil {
		return Attr{}, err
	}
	return mkAttr(ip), nil
}

func (fs *Fs) Opendir(path string) error {
	ip, err := fs.resolve(path)
	if err != nil {
		return err
	}
	if !ip.IsDir() {
		return fmt.Errorf("%s: %w", path, common.ErrNotDir)
	}
	return nil
}

// Readdir lists the live entries of a directory in storage order,
// including "." and "..".
func (fs *Fs) Readdir(path string) ([]DirEntry, error) {
	dip, err := fs.resolve(path)
	if err != nil {
		return nil, err
	}
	ents, err := dir.List(fs.sup, dip)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	out := make([]DirEntry, 0, len(ents))
	for _, de := range ents {
		ip, err := inode.Read(fs.sup, de.Inum)
		if err != nil {
			return nil, err
		}
		out = append(out, DirEntry{Name: de.Name, Inum: de.Inum, Kind: ip.Kind})
	}
	return out, nil
}

// mknod allocates an inode of the given kind and links it into its parent.
// On failure the inode and any blocks it got are released again.
func (fs *Fs) mknod(path string, kind common.Kind) (*inode.Inode, error) {
	if isRoot(path) {
		return nil, fmt.Errorf("%s: %w", path, common.ErrExist)
	}
	dip, name, err := fs.parent(path)
	if err != nil {
		return nil, err
	}
	_, err = dir.Find(fs.sup, dip, name)
	if err == nil {
		return nil, fmt.Errorf("%s: %w", path, common.ErrExist)
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}

	inum, err := inode.Alloc(fs.sup)
	if err != nil {
		return nil, err
	}
	now := fs.stamp()
	ip := &inode.Inode{
		Inum:  inum,
		Valid: true,
		Kind:  kind,
		Link:  1,
		Atime: now,
		Mtime: now,
		Ctime: now,
	}
	if kind == common.KindDir {
		err = dir.Init(fs.sup, ip, dip.Inum)
	} else {
		err = ip.WriteInode(fs.sup)
	}
	if err == nil {
		dip.Mtime = now
		dip.Ctime = now
		err = dir.Add(fs.sup, dip, inum, name)
	}
	if err != nil {
		if ferr := ip.Free(fs.sup); ferr != nil {
			util.DPrintf(1, "mknod %s: release %d: %v\n", path, inum, ferr)
		}
		return nil, err
	}
	util.DPrintf(3, "mknod %s: %v\n", path, ip)
	return ip, nil
}

func (fs *Fs) Mkdir(path string) error {
	_, err := fs.mknod(path, common.KindDir)
	return err
}

func (fs *Fs) Create(path string) error {
	_, err := fs.mknod(path, common.KindFile)
	return err
}

// Rmdir removes an empty directory, one whose only entries are "." and
// "..".
func (fs *Fs) Rmdir(path string) error {
	if isRoot(path) {
		return fmt.Errorf("%s: %w", path, common.ErrBusy)
	}
	dip, name, err := fs.parent(path)
	if err != nil {
		return err
	}
	if name == "." || name == ".." {
		return fmt.Errorf("%s: %w", path, common.ErrInvalid)
	}
	de, err := dir.Find(fs.sup, dip, name)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	ip, err := inode.Read(fs.sup, de.Inum)
	if err != nil {
		return err
	}
	if !ip.IsDir() {
		return fmt.Errorf("%s: %w", path, common.ErrNotDir)
	}
	if ip.Inum == common.ROOTINUM {
		return fmt.Errorf("%s: %w", path, common.ErrBusy)
	}
	if ip.Link > 2 {
		return fmt.Errorf("%s has %d entries: %w", path, ip.Link, common.ErrNotEmpty)
	}
	if err := ip.Free(fs.sup); err != nil {
		return err
	}
	dip.Mtime = fs.stamp()
	dip.Ctime = dip.Mtime
	return dir.Remove(fs.sup, dip, name)
}

// Unlink removes a file and releases its blocks.
func (fs *Fs) Unlink(path string) error {
	if isRoot(path) {
		return fmt.Errorf("%s: %w", path, common.ErrNotFile)
	}
	dip, name, err := fs.parent(path)
	if err != nil {
		return err
	}
	de, err := dir.Find(fs.sup, dip, name)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	ip, err := inode.Read(fs.sup, de.Inum)
	if err != nil {
		return err
	}
	if ip.IsDir() {
		return fmt.Errorf("%s: %w", path, common.ErrNotFile)
	}
	if err := ip.Free(fs.sup); err != nil {
		return err
	}
	dip.Mtime = fs.stamp()
	dip.Ctime = dip.Mtime
	return dir.Remove(fs.sup, dip, name)
}

func (fs *Fs) Open(path string) error {
	_, err := fs.file(path)
	return err
}

// Read returns up to n bytes at off, stopping at the end of the file.
// Blocks never written inside the file read as zeros.
func (fs *Fs) Read(path string, off uint64, n uint64) ([]byte, error) {
	ip, err := fs.file(path)
	if err != nil {
		return nil, err
	}
	if off >= ip.Size {
		return []byte{}, nil
	}
	n = util.Min(n, ip.Size-off)
	data := make([]byte, 0, n)
	for uint64(len(data)) < n {
		pos := off + uint64(len(data))
		cnt := util.Min(n-uint64(len(data)), disk.BlockSize-pos%disk.BlockSize)
		b, err := ip.ReadAt(fs.sup, pos, cnt)
		if errors.Is(err, common.ErrUnallocated) {
			b = make([]byte, cnt)
		} else if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		data = append(data, b...)
	}
	return data, nil
}

// Write stores data at off and returns the number of bytes written, which
// is short only together with an error.
func (fs *Fs) Write(path string, off uint64, data []byte) (uint64, error) {
	ip, err := fs.file(path)
	if err != nil {
		return 0, err
	}
	ip.Mtime = fs.stamp()
	n, err := ip.WriteAt(fs.sup, off, data)
	if err != nil {
		return n, fmt.Errorf("%s: %w", path, err)
	}
	return n, nil
}

func (fs *Fs) Truncate(path string, size uint64) error {
	ip, err := fs.file(path)
	if err != nil {
		return err
	}
	ip.Mtime = fs.stamp()
	ip.Ctime = ip.Mtime
	if err := ip.Truncate(fs.sup, size); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func (fs *Fs) Utimens(path string, atime time.Time, mtime time.Time) error {
	ip, err := fs.resolve(path)
	if err != nil {
		return err
	}
	ip.Atime = uint64(atime.Unix())
	ip.Mtime = uint64(mtime.Unix())
	ip.Ctime = fs.stamp()
	return ip.WriteInode(fs.sup)
}

func (fs *Fs) Statfs() (Statfs, error) {
	bfree, err := fs.sup.NumFreeBlocks()
	if err != nil {
		return Statfs{}, err
	}
	ffree, err := fs.sup.NumFreeInodes()
	if err != nil {
		return Statfs{}, err
	}
	return Statfs{
		Bsize:   disk.BlockSize,
		Blocks:  fs.sup.Sb.MaxDnum,
		Bfree:   bfree,
		Files:   fs.sup.Sb.MaxInum,
		Ffree:   ffree,
		NameLen: common.NAMELEN,
	}, nil
}
