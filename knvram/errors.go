package knvram

import "errors"

// Sentinel errors returned (possibly wrapped) by partition, handle and
// registry operations. Test with errors.Is.
var (
	// ErrNotFound is returned when no partition has the requested name.
	ErrNotFound = errors.New("knvram: partition not found")

	// ErrBusy is returned for a conflicting writer, transaction or lock holder.
	ErrBusy = errors.New("knvram: busy")

	// ErrWouldBlock is returned by NONBLOCK handles when a lock is contended.
	ErrWouldBlock = errors.New("knvram: operation would block")

	// ErrPermissionDenied is returned when the partition configuration does
	// not allow the operation, e.g. transactions are disabled.
	ErrPermissionDenied = errors.New("knvram: permission denied")

	// ErrInvalidArgument is returned for offsets past the end, overlong names
	// and malformed configuration.
	ErrInvalidArgument = errors.New("knvram: invalid argument")

	// ErrIOFault is returned when copying to or from a caller-supplied
	// source or sink fails.
	ErrIOFault = errors.New("knvram: bad address")

	// ErrOutOfMemory is returned when partition buffers cannot be allocated.
	ErrOutOfMemory = errors.New("knvram: out of memory")

	// ErrHardwareIO is returned when the backend read or write fails.
	ErrHardwareIO = errors.New("knvram: hardware I/O error")
)
