package tfs

import (
	"encoding/hex"

	"github.com/zeebo/blake3"

	"github.com/mit-pdos/tinyfs/disk"
)

type Digest [32]byte

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Sum returns the BLAKE3 hash of a file's contents, read through the
// filesystem.
func (fs *Fs) Sum(path string) (Digest, error) {
	var d Digest
	hasher := blake3.New()
	chunk := 64 * disk.BlockSize
	for off := uint64(0); ; off += chunk {
		b, err := fs.Read(path, off, chunk)
		if err != nil {
			return d, err
		}
		if len(b) == 0 {
			break
		}
		hasher.Write(b)
	}
	copy(d[:], hasher.Sum(nil))
	return d, nil
}
