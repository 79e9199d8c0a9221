package alloc

import (
	"fmt"

	"github.com/mit-pdos/tinyfs/bitmap"
	"github.com/mit-pdos/tinyfs/buf"
	"github.com/mit-pdos/tinyfs/common"
	"github.com/mit-pdos/tinyfs/disk"
	"github.com/mit-pdos/tinyfs/util"
)

// Alloc uses a one-block bit map to allocate and free numbers in [0, max).
// Bit n corresponds to number n. Every change is written through to disk.
type Alloc struct {
	start common.Bnum // bitmap block
	max   uint64
}

func MkAlloc(start common.Bnum, max uint64) *Alloc {
	if max > common.NBITBLOCK {
		panic(fmt.Errorf("bitmap of %d bits does not fit a block", max))
	}
	a := &Alloc{
		start: start,
		max:   max,
	}
	return a
}

func (a *Alloc) Max() uint64 {
	return a.max
}

func (a *Alloc) load(d disk.Disk) (*buf.Buf, error) {
	return buf.LoadBlock(d, a.start)
}

// Init writes an empty bitmap.
func (a *Alloc) Init(d disk.Disk) error {
	return buf.ZeroBlock(a.start).WriteDirect(d)
}

// AllocNum returns the first clear bit, scanning from 0, after marking it
// used.
func (a *Alloc) AllocNum(d disk.Disk) (uint64, error) {
	b, err := a.load(d)
	if err != nil {
		return 0, err
	}
	for num := uint64(0); num < a.max; num++ {
		if !bitmap.Test(b.Data, num) {
			bitmap.Set(b.Data, num)
			b.SetDirty()
			util.DPrintf(5, "AllocNum: blk %d num %d\n", a.start, num)
			if err := b.WriteDirect(d); err != nil {
				return 0, err
			}
			return num, nil
		}
	}
	return 0, fmt.Errorf("bitmap %d: %w", a.start, common.ErrNoSpace)
}

func (a *Alloc) setBit(d disk.Disk, num uint64, used bool) error {
	if num >= a.max {
		return fmt.Errorf("bit %d of bitmap %d: %w", num, a.start, common.ErrInvalid)
	}
	b, err := a.load(d)
	if err != nil {
		return err
	}
	if used {
		bitmap.Set(b.Data, num)
	} else {
		bitmap.Clear(b.Data, num)
	}
	b.SetDirty()
	return b.WriteDirect(d)
}

func (a *Alloc) MarkUsed(d disk.Disk, num uint64) error {
	return a.setBit(d, num, true)
}

func (a *Alloc) FreeNum(d disk.Disk, num uint64) error {
	util.DPrintf(5, "FreeNum: blk %d num %d\n", a.start, num)
	return a.setBit(d, num, false)
}

func (a *Alloc) IsUsed(d disk.Disk, num uint64) (bool, error) {
	if num >= a.max {
		return false, fmt.Errorf("bit %d of bitmap %d: %w", num, a.start, common.ErrInvalid)
	}
	b, err := a.load(d)
	if err != nil {
		return false, err
	}
	return bitmap.Test(b.Data, num), nil
}

func popCnt(b byte) uint64 {
	var count uint64
	var x = b
	for i := uint64(0); i < 8; i++ {
		count += uint64(x & 1)
		x = x >> 1
	}
	return count
}

// NumFree counts clear bits below max.
func (a *Alloc) NumFree(d disk.Disk) (uint64, error) {
	b, err := a.load(d)
	if err != nil {
		return 0, err
	}
	var used uint64
	for i := uint64(0); i < a.max/8; i++ {
		used += popCnt(b.Data[i])
	}
	for num := a.max / 8 * 8; num < a.max; num++ {
		if bitmap.Test(b.Data, num) {
			used++
		}
	}
	return a.max - used, nil
}
