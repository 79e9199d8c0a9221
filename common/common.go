package common

import (
	"github.com/tchajed/goose/machine/disk"
)

const (
	NBITBLOCK uint64 = disk.BlockSize * 8

	INODESZ  uint64 = 256 // on-disk size
	INODEBLK uint64 = disk.BlockSize / INODESZ

	DIRENTSZ  uint64 = 256
	DIRENTBLK uint64 = disk.BlockSize / DIRENTSZ
	NAMELEN   uint64 = DIRENTSZ - 16

	NDIRECT   uint64 = 16
	NINDIRECT uint64 = 8
	NSLOT     uint64 = disk.BlockSize / 4 // block numbers per indirect block

	MAXFILEBLKS = NDIRECT + NINDIRECT*NSLOT

	MAGIC uint64 = 0x5C3A

	SUPERBLK   Bnum = 0
	IBITMAPBLK Bnum = 1
	DBITMAPBLK Bnum = 2
	ISTARTBLK  Bnum = 3

	// Default geometry
	MAXINUM uint64 = 1024
	MAXDNUM uint64 = 16384
)

type Inum uint64
type Bnum = uint64

const (
	ROOTINUM Inum = 0
	NULLBNUM Bnum = 0
)

type Kind uint64

const (
	KindFree Kind = 0
	KindFile Kind = 1
	KindDir  Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDir:
		return "dir"
	default:
		return "free"
	}
}
