package disk

import (
	"fmt"

	gdisk "github.com/tchajed/goose/machine/disk"
)

var _ Disk = memDisk{}

// memDisk adapts goose's in-memory disk, which panics on bad addresses,
// to the error-returning Disk interface.
type memDisk struct {
	d         gdisk.Disk
	numBlocks uint64
}

func NewMemDisk(numBlocks uint64) Disk {
	return memDisk{d: gdisk.NewMemDisk(numBlocks), numBlocks: numBlocks}
}

func (d memDisk) check(a uint64) error {
	if a >= d.numBlocks {
		return fmt.Errorf("out-of-bounds access at %v", a)
	}
	return nil
}

func (d memDisk) ReadTo(a uint64, buf Block) error {
	if err := d.check(a); err != nil {
		return err
	}
	if uint64(len(buf)) != BlockSize {
		return fmt.Errorf("buffer is not block-sized (%d bytes)", len(buf))
	}
	copy(buf, d.d.Read(a))
	return nil
}

func (d memDisk) Read(a uint64) (Block, error) {
	buf := NewBlock()
	err := d.ReadTo(a, buf)
	return buf, err
}

func (d memDisk) Write(a uint64, v Block) error {
	if err := d.check(a); err != nil {
		return err
	}
	if uint64(len(v)) != BlockSize {
		return fmt.Errorf("v is not block-sized (%d bytes)", len(v))
	}
	d.d.Write(a, v)
	return nil
}

func (d memDisk) Size() (uint64, error) {
	return d.numBlocks, nil
}

func (d memDisk) Barrier() error { return nil }

func (d memDisk) Close() error { return nil }
