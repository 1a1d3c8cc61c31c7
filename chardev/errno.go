package chardev

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/joshuapare/knvram/knvram"
)

var errnos = []struct {
	err   error
	errno unix.Errno
}{
	{knvram.ErrNotFound, unix.ENODEV},
	{knvram.ErrBusy, unix.EBUSY},
	{knvram.ErrWouldBlock, unix.EAGAIN},
	{knvram.ErrPermissionDenied, unix.EPERM},
	{knvram.ErrInvalidArgument, unix.EINVAL},
	{knvram.ErrIOFault, unix.EFAULT},
	{knvram.ErrOutOfMemory, unix.ENOMEM},
	{knvram.ErrHardwareIO, unix.EIO},
	{ErrNoSpace, unix.ENOSPC},
	{ErrNotTTY, unix.ENOTTY},
}

// Errno maps err onto the errno a device file would report. nil maps to 0
// and unrecognized errors to EIO.
func Errno(err error) unix.Errno {
	if err == nil {
		return 0
	}
	for _, e := range errnos {
		if errors.Is(err, e.err) {
			return e.errno
		}
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return unix.EIO
}
