package disk

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/mit-pdos/tinyfs/util"
)

var _ Disk = (*fileDisk)(nil)

type fileDisk struct {
	fd        int
	numBlocks uint64
}

// Open opens an existing disk image. The returned error wraps
// os.ErrNotExist (via unix.ENOENT) if there is no image at path.
func Open(path string) (Disk, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	var stat unix.Stat_t
	err = unix.Fstat(fd, &stat)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	numBlocks := uint64(stat.Size) / BlockSize
	util.DPrintf(1, "disk: open %s (%d blocks)\n", path, numBlocks)
	return &fileDisk{fd, numBlocks}, nil
}

// Create creates (or truncates) a disk image of numBlocks zeroed blocks.
func Create(path string, numBlocks uint64) (Disk, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_TRUNC, 0666)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	err = unix.Ftruncate(fd, int64(numBlocks*BlockSize))
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("truncate %s: %w", path, err)
	}
	util.DPrintf(1, "disk: create %s (%d blocks)\n", path, numBlocks)
	return &fileDisk{fd, numBlocks}, nil
}

func (d *fileDisk) ReadTo(a uint64, buf Block) error {
	if uint64(len(buf)) != BlockSize {
		return fmt.Errorf("buffer is not block-sized (%d bytes)", len(buf))
	}
	if a >= d.numBlocks {
		return fmt.Errorf("out-of-bounds read at %v", a)
	}
	_, err := unix.Pread(d.fd, buf, int64(a*BlockSize))
	if err != nil {
		return fmt.Errorf("read block %d: %w", a, err)
	}
	util.DPrintf(20, "read: %v\n", a)
	return nil
}

func (d *fileDisk) Read(a uint64) (Block, error) {
	buf := NewBlock()
	err := d.ReadTo(a, buf)
	return buf, err
}

func (d *fileDisk) Write(a uint64, v Block) error {
	if uint64(len(v)) != BlockSize {
		return fmt.Errorf("v is not block sized (%d bytes)", len(v))
	}
	if a >= d.numBlocks {
		return fmt.Errorf("out-of-bounds write at %v", a)
	}
	_, err := unix.Pwrite(d.fd, v, int64(a*BlockSize))
	if err != nil {
		return fmt.Errorf("write block %d: %w", a, err)
	}
	util.DPrintf(20, "write: %v\n", a)
	return nil
}

func (d *fileDisk) Size() (uint64, error) {
	return d.numBlocks, nil
}

func (d *fileDisk) Barrier() error {
	// NOTE: on macOS, this flushes to the drive but doesn't actually issue a
	// disk barrier; see https://golang.org/src/internal/poll/fd_fsync_darwin.go
	// for more details. The correct replacement is to issue a fcntl syscall with
	// cmd F_FULLFSYNC.
	err := unix.Fsync(d.fd)
	if err != nil {
		return fmt.Errorf("file sync failed: %w", err)
	}
	return nil
}

func (d *fileDisk) Close() error {
	return unix.Close(d.fd)
}
