package common

import "errors"

var (
	ErrInvalidInode = errors.New("invalid inode number")
	ErrNotFound     = errors.New("no such entry")
	ErrNotDir       = errors.New("not a directory")
	ErrNotFile      = errors.New("not a regular file")
	ErrExist        = errors.New("name already exists")
	ErrNoSpace      = errors.New("no space left")
	ErrRange        = errors.New("range exceeds maximum file size")
	ErrUnallocated  = errors.New("block not allocated")
	ErrCorrupt      = errors.New("corrupt superblock")
	ErrNotEmpty     = errors.New("directory not empty")
	ErrNameTooLong  = errors.New("name too long")
	ErrBusy         = errors.New("resource busy")
	ErrInvalid      = errors.New("invalid argument")
)
