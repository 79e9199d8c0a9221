package fuse

import (
	"context"
	"syscall"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/mit-pdos/tinyfs/common"
	"github.com/mit-pdos/tinyfs/tfs"
)

// node is a file or directory, identified by its path from the root.
type node struct {
	gofuse.Inode
	st *state
}

var _ gofuse.InodeEmbedder = (*node)(nil)
var _ gofuse.NodeLookuper = (*node)(nil)
var _ gofuse.NodeGetattrer = (*node)(nil)
var _ gofuse.NodeSetattrer = (*node)(nil)
var _ gofuse.NodeReaddirer = (*node)(nil)
var _ gofuse.NodeMkdirer = (*node)(nil)
var _ gofuse.NodeRmdirer = (*node)(nil)
var _ gofuse.NodeCreater = (*node)(nil)
var _ gofuse.NodeUnlinker = (*node)(nil)
var _ gofuse.NodeOpener = (*node)(nil)
var _ gofuse.NodeReader = (*node)(nil)
var _ gofuse.NodeWriter = (*node)(nil)
var _ gofuse.NodeStatfser = (*node)(nil)

func (n *node) path() string {
	return "/" + n.Path(nil)
}

// newChild makes the kernel-side inode for a child whose attributes were
// just read.
func (n *node) newChild(ctx context.Context, attr tfs.Attr, out *fuse.EntryOut) *gofuse.Inode {
	fillAttr(attr, &out.Attr)
	return n.NewInode(ctx, &node{st: n.st}, stableAttr(attr))
}

// stableAttr keys the kernel inode by tinyfs inode number. go-fuse reserves
// 0, and the root (inum 0) is 1.
func stableAttr(attr tfs.Attr) gofuse.StableAttr {
	return gofuse.StableAttr{
		Mode: attr.Mode() & syscall.S_IFMT,
		Ino:  uint64(attr.Inum) + 1,
	}
}

func (n *node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	n.st.mu.Lock()
	defer n.st.mu.Unlock()

	p := childPath(n.path(), name)
	attr, err := n.st.fs.Getattr(p)
	if err != nil {
		return nil, n.st.errno("lookup", p, err)
	}
	return n.newChild(ctx, attr, out), 0
}

func (n *node) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	n.st.mu.Lock()
	defer n.st.mu.Unlock()

	p := n.path()
	attr, err := n.st.fs.Getattr(p)
	if err != nil {
		return n.st.errno("getattr", p, err)
	}
	fillAttr(attr, &out.Attr)
	return 0
}

// Setattr supports truncation and time changes. Mode and owner changes are
// accepted and ignored.
func (n *node) Setattr(ctx context.Context, f gofuse.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	n.st.mu.Lock()
	defer n.st.mu.Unlock()

	p := n.path()
	if size, ok := in.GetSize(); ok {
		if err := n.st.fs.Truncate(p, size); err != nil {
			return n.st.errno("truncate", p, err)
		}
	}
	atime, aok := in.GetATime()
	mtime, mok := in.GetMTime()
	if aok || mok {
		attr, err := n.st.fs.Getattr(p)
		if err != nil {
			return n.st.errno("setattr", p, err)
		}
		if !aok {
			atime = attr.Atime
		}
		if !mok {
			mtime = attr.Mtime
		}
		if err := n.st.fs.Utimens(p, atime, mtime); err != nil {
			return n.st.errno("utimens", p, err)
		}
	}
	attr, err := n.st.fs.Getattr(p)
	if err != nil {
		return n.st.errno("setattr", p, err)
	}
	fillAttr(attr, &out.Attr)
	return 0
}

func (n *node) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	n.st.mu.Lock()
	defer n.st.mu.Unlock()

	p := n.path()
	ents, err := n.st.fs.Readdir(p)
	if err != nil {
		return nil, n.st.errno("readdir", p, err)
	}
	out := make([]fuse.DirEntry, 0, len(ents))
	for _, de := range ents {
		mode := uint32(syscall.S_IFREG)
		if de.Kind == common.KindDir {
			mode = syscall.S_IFDIR
		}
		out = append(out, fuse.DirEntry{Name: de.Name, Mode: mode})
	}
	return gofuse.NewListDirStream(out), 0
}

func (n *node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	n.st.mu.Lock()
	defer n.st.mu.Unlock()

	p := childPath(n.path(), name)
	if err := n.st.fs.Mkdir(p); err != nil {
		return nil, n.st.errno("mkdir", p, err)
	}
	attr, err := n.st.fs.Getattr(p)
	if err != nil {
		return nil, n.st.errno("mkdir", p, err)
	}
	return n.newChild(ctx, attr, out), 0
}

func (n *node) Rmdir(ctx context.Context, name string) syscall.Errno {
	n.st.mu.Lock()
	defer n.st.mu.Unlock()

	p := childPath(n.path(), name)
	if err := n.st.fs.Rmdir(p); err != nil {
		return n.st.errno("rmdir", p, err)
	}
	return 0
}

func (n *node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*gofuse.Inode, gofuse.FileHandle, uint32, syscall.Errno) {
	n.st.mu.Lock()
	defer n.st.mu.Unlock()

	p := childPath(n.path(), name)
	if err := n.st.fs.Create(p); err != nil {
		return nil, nil, 0, n.st.errno("create", p, err)
	}
	attr, err := n.st.fs.Getattr(p)
	if err != nil {
		return nil, nil, 0, n.st.errno("create", p, err)
	}
	return n.newChild(ctx, attr, out), nil, fuse.FOPEN_DIRECT_IO, 0
}

func (n *node) Unlink(ctx context.Context, name string) syscall.Errno {
	n.st.mu.Lock()
	defer n.st.mu.Unlock()

	p := childPath(n.path(), name)
	if err := n.st.fs.Unlink(p); err != nil {
		return n.st.errno("unlink", p, err)
	}
	return 0
}

// Open hands out no file handle; reads and writes go through the node.
// O_TRUNC is applied here as well as through Setattr.
func (n *node) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	n.st.mu.Lock()
	defer n.st.mu.Unlock()

	p := n.path()
	if err := n.st.fs.Open(p); err != nil {
		return nil, 0, n.st.errno("open", p, err)
	}
	if flags&syscall.O_TRUNC != 0 {
		if err := n.st.fs.Truncate(p, 0); err != nil {
			return nil, 0, n.st.errno("open", p, err)
		}
	}
	return nil, fuse.FOPEN_DIRECT_IO, 0
}

func (n *node) Read(ctx context.Context, f gofuse.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n.st.mu.Lock()
	defer n.st.mu.Unlock()

	p := n.path()
	if off < 0 {
		return nil, syscall.EINVAL
	}
	data, err := n.st.fs.Read(p, uint64(off), uint64(len(dest)))
	if err != nil {
		return nil, n.st.errno("read", p, err)
	}
	return fuse.ReadResultData(data), 0
}

func (n *node) Write(ctx context.Context, f gofuse.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	n.st.mu.Lock()
	defer n.st.mu.Unlock()

	p := n.path()
	if off < 0 {
		return 0, syscall.EINVAL
	}
	written, err := n.st.fs.Write(p, uint64(off), data)
	if err != nil && written == 0 {
		return 0, n.st.errno("write", p, err)
	}
	if err != nil {
		n.st.logger.Warn("short write", "path", p, "written", written, "error", err)
	}
	return uint32(written), 0
}

func (n *node) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	n.st.mu.Lock()
	defer n.st.mu.Unlock()

	st, err := n.st.fs.Statfs()
	if err != nil {
		return n.st.errno("statfs", "/", err)
	}
	fillStatfs(st, out)
	return 0
}

func fillStatfs(st tfs.Statfs, out *fuse.StatfsOut) {
	out.Bsize = uint32(st.Bsize)
	out.Frsize = uint32(st.Bsize)
	out.Blocks = st.Blocks
	out.Bfree = st.Bfree
	out.Bavail = st.Bfree
	out.Files = st.Files
	out.Ffree = st.Ffree
	out.NameLen = uint32(st.NameLen)
}
