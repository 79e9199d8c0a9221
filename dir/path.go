package dir

import (
	"fmt"
	"strings"

	"github.com/mit-pdos/tinyfs/common"
	"github.com/mit-pdos/tinyfs/inode"
	"github.com/mit-pdos/tinyfs/super"
	"github.com/mit-pdos/tinyfs/util"
)

// Components splits a slash-separated path, dropping empty components.
func Components(path string) []string {
	var names []string
	for _, n := range strings.Split(path, "/") {
		if n != "" {
			names = append(names, n)
		}
	}
	return names
}

// Split returns the parent path and final component of path. The root has
// no final component.
func Split(path string) (string, string, error) {
	names := Components(path)
	if len(names) == 0 {
		return "", "", fmt.Errorf("path %q has no name: %w", path, common.ErrInvalid)
	}
	return "/" + strings.Join(names[:len(names)-1], "/"), names[len(names)-1], nil
}

// Resolve walks path from the directory start and returns the inode it
// names. The walk stops at the first missing component.
func Resolve(fs *super.FsSuper, path string, start common.Inum) (*inode.Inode, error) {
	ip, err := inode.Read(fs, start)
	if err != nil {
		return nil, err
	}
	if !ip.Valid {
		return nil, fmt.Errorf("start inode %d: %w", start, common.ErrNotFound)
	}
	for _, name := range Components(path) {
		de, err := Find(fs, ip, name)
		if err != nil {
			return nil, err
		}
		ip, err = inode.Read(fs, de.Inum)
		if err != nil {
			return nil, err
		}
		if !ip.Valid {
			return nil, fmt.Errorf("%q -> free inode %d: %w", name, de.Inum, common.ErrNotFound)
		}
	}
	util.DPrintf(5, "dir.Resolve: %q -> %d\n", path, ip.Inum)
	return ip, nil
}
