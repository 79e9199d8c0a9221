// Package fuse serves a tinyfs filesystem to the kernel through go-fuse.
// Nodes carry no state of their own: every request is translated to a
// path and run against the tfs session under a single lock.
package fuse

import (
	"fmt"
	"log/slog"
	"os"
	"path"
	"sync"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/mit-pdos/tinyfs/disk"
	"github.com/mit-pdos/tinyfs/tfs"
)

// Options configures the FUSE mount.
type Options struct {
	// Mountpoint is the directory where the filesystem is mounted. It is
	// created if it does not exist.
	Mountpoint string

	// Fs is the mounted tinyfs session to serve.
	Fs *tfs.Fs

	// AllowOther permits other users to access the mount.
	AllowOther bool

	// FsName is shown as the mount source. Empty uses "tinyfs".
	FsName string

	// EntryTimeout and AttrTimeout bound kernel caching. Zero uses one
	// second.
	EntryTimeout time.Duration
	AttrTimeout  time.Duration

	// Logger receives diagnostic messages. If nil, errors go to stderr.
	Logger *slog.Logger
}

// state is shared by every node of one mount.
type state struct {
	mu     sync.Mutex
	fs     *tfs.Fs
	logger *slog.Logger
}

// Mount mounts opts.Fs at the mountpoint. The caller must call Unmount on
// the returned server, then unmount the tfs session.
func Mount(opts Options) (*fuse.Server, error) {
	if opts.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if opts.Fs == nil {
		return nil, fmt.Errorf("filesystem is required")
	}
	if opts.FsName == "" {
		opts.FsName = "tinyfs"
	}
	if opts.EntryTimeout == 0 {
		opts.EntryTimeout = time.Second
	}
	if opts.AttrTimeout == 0 {
		opts.AttrTimeout = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	}

	if err := os.MkdirAll(opts.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", opts.Mountpoint, err)
	}

	root := &node{st: &state{fs: opts.Fs, logger: opts.Logger}}
	negativeTimeout := 100 * time.Millisecond
	server, err := gofuse.Mount(opts.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &opts.EntryTimeout,
		AttrTimeout:     &opts.AttrTimeout,
		NegativeTimeout: &negativeTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     opts.FsName,
			Name:       "tinyfs",
			AllowOther: opts.AllowOther,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", opts.Mountpoint, err)
	}

	opts.Logger.Info("tinyfs mounted", "mountpoint", opts.Mountpoint)
	return server, nil
}

// errno converts err for the kernel. Anything that is not an ordinary
// lookup or argument failure is logged.
func (st *state) errno(op string, p string, err error) syscall.Errno {
	e := tfs.Errno(err)
	if e == syscall.EIO {
		st.logger.Error("operation failed", "op", op, "path", p, "error", err)
	} else {
		st.logger.Debug("operation rejected", "op", op, "path", p, "error", err)
	}
	return e
}

func fillAttr(a tfs.Attr, out *fuse.Attr) {
	out.Mode = a.Mode()
	out.Nlink = uint32(a.Link)
	out.Size = a.Size
	out.Blocks = (a.Size + 511) / 512
	out.Blksize = uint32(disk.BlockSize)
	out.SetTimes(&a.Atime, &a.Mtime, &a.Ctime)
}

func childPath(dir string, name string) string {
	return path.Join(dir, name)
}
