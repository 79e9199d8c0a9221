package tfs

import (
	"errors"
	"syscall"

	"github.com/mit-pdos/tinyfs/common"
)

var errnos = []struct {
	err   error
	errno syscall.Errno
}{
	{common.ErrNotFound, syscall.ENOENT},
	{common.ErrInvalidInode, syscall.ENOENT},
	{common.ErrNotDir, syscall.ENOTDIR},
	{common.ErrNotFile, syscall.EISDIR},
	{common.ErrExist, syscall.EEXIST},
	{common.ErrNoSpace, syscall.ENOSPC},
	{common.ErrRange, syscall.EFBIG},
	{common.ErrNotEmpty, syscall.ENOTEMPTY},
	{common.ErrNameTooLong, syscall.ENAMETOOLONG},
	{common.ErrBusy, syscall.EBUSY},
	{common.ErrInvalid, syscall.EINVAL},
	{common.ErrUnallocated, syscall.EIO},
	{common.ErrCorrupt, syscall.EIO},
}

// Errno maps an operation error to the status returned to the kernel.
// Errors of no known kind, such as disk failures, become EIO.
func Errno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	for _, e := range errnos {
		if errors.Is(err, e.err) {
			return e.errno
		}
	}
	return syscall.EIO
}
