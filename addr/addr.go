package addr

import (
	"github.com/tchajed/goose/machine/disk"

	"github.com/mit-pdos/tinyfs/common"
)

// Addr identifies the start of a disk object.
//
// Blkno is the block number containing the object, and Off is the location of
// the object within the block (expressed as a byte offset). The size of the
// object is determined by the context in which Addr is used.
type Addr struct {
	Blkno common.Bnum
	Off   uint64 // offset in bytes
}

func MkAddr(blkno common.Bnum, off uint64) Addr {
	return Addr{Blkno: blkno, Off: off}
}

// MkRecordAddr locates the n-th fixed-size record of a table that starts at
// block start.
func MkRecordAddr(start common.Bnum, n uint64, recsz uint64) Addr {
	perblk := disk.BlockSize / recsz
	return MkAddr(start+common.Bnum(n/perblk), (n%perblk)*recsz)
}
