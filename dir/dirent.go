package dir

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/tchajed/marshal"

	"github.com/mit-pdos/tinyfs/common"
)

// Dirent is one 256-byte directory record: inode number, valid flag, and a
// zero-padded name.
type Dirent struct {
	Inum  common.Inum
	Valid bool
	Name  string
}

const nameOff = common.DIRENTSZ - common.NAMELEN

func (de Dirent) Encode() []byte {
	enc := marshal.NewEnc(common.DIRENTSZ)
	enc.PutInt(uint64(de.Inum))
	if de.Valid {
		enc.PutInt(1)
	} else {
		enc.PutInt(0)
	}
	b := enc.Finish()
	copy(b[nameOff:], de.Name)
	return b
}

func DecodeDirent(b []byte) Dirent {
	dec := marshal.NewDec(b)
	var de Dirent
	de.Inum = common.Inum(dec.GetInt())
	de.Valid = dec.GetInt() != 0
	name := b[nameOff:common.DIRENTSZ]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	de.Name = string(name)
	return de
}

// ValidName reports whether name can be stored in a dirent.
func ValidName(name string) error {
	if name == "" || strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("name %q: %w", name, common.ErrInvalid)
	}
	if uint64(len(name)) > common.NAMELEN {
		return fmt.Errorf("name of %d bytes: %w", len(name), common.ErrNameTooLong)
	}
	return nil
}
