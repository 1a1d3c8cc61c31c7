// Package chardev exposes knvram partitions through a file-like interface
// with a current position, seek, fsync and the transaction ioctls.
package chardev

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/joshuapare/knvram/internal/logger"
	"github.com/joshuapare/knvram/knvram"
)

var (
	// ErrNoSpace is returned by writes at the end of the partition.
	ErrNoSpace = errors.New("chardev: no space left on partition")

	// ErrNotTTY is returned for unknown ioctl commands.
	ErrNotTTY = errors.New("chardev: inappropriate ioctl for device")
)

// Mode selects how a partition is opened.
type Mode uint32

const (
	ModeRead Mode = 1 << iota
	ModeWrite
	ModeNonblock
	// ModeSync syncs the partition after every write.
	ModeSync
)

// chunkSize is the transfer unit of ReadFrom and WriteTo.
const chunkSize = 4096

// File is an open partition with a current position.
type File struct {
	h    *knvram.Handle
	mode Mode
	log  *slog.Logger

	mu  sync.Mutex // guards pos
	pos int64
}

var (
	_ io.ReadWriteSeeker = (*File)(nil)
	_ io.ReaderFrom      = (*File)(nil)
	_ io.WriterTo        = (*File)(nil)
	_ io.Closer          = (*File)(nil)
)

// Open opens p. Writable modes are refused on read-only partitions with
// knvram.ErrPermissionDenied.
func Open(p *knvram.Partition, mode Mode) (*File, error) {
	flags := knvram.FlagUser
	if mode&ModeWrite != 0 {
		if p.ReadOnly() {
			return nil, fmt.Errorf("%w: %s is read-only", knvram.ErrPermissionDenied, p.Name())
		}
		flags |= knvram.FlagWrite
	}
	if mode&ModeNonblock != 0 {
		flags |= knvram.FlagNonblock
	}

	h, err := p.Open(flags)
	if err != nil {
		return nil, err
	}
	return &File{
		h:    h,
		mode: mode,
		log:  logger.Component("chardev").With("partition", p.Name(), "handle", h.ID()),
	}, nil
}

// OpenName opens the named partition of reg.
func OpenName(reg *knvram.Registry, name string, mode Mode) (*File, error) {
	if len(name) > knvram.MaxNameLen {
		return nil, fmt.Errorf("%w: partition name %q too long", knvram.ErrInvalidArgument, name)
	}
	p, err := reg.Lookup(name)
	if err != nil {
		return nil, err
	}
	return Open(p, mode)
}

// Handle returns the underlying knvram handle.
func (f *File) Handle() *knvram.Handle { return f.h }

// Size returns the partition size.
func (f *File) Size() int64 { return f.h.Partition().Size() }

// Read reads from the current position, returning io.EOF at the end.
func (f *File) Read(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, err := f.h.Read(b, f.pos)
	f.pos += int64(n)
	if err != nil {
		return n, err
	}
	if n == 0 && len(b) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Write writes at the current position. At the end of the partition it
// fails with ErrNoSpace; a write truncated by the end returns the short count
// with ErrNoSpace.
func (f *File) Write(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writeLocked(b)
}

func (f *File) writeLocked(b []byte) (int, error) {
	if f.pos == f.Size() && len(b) > 0 {
		return 0, ErrNoSpace
	}
	n, err := f.h.Write(b, f.pos)
	f.pos += int64(n)

	if f.mode&ModeSync != 0 && n > 0 {
		if serr := f.h.Sync(); serr != nil {
			f.log.Warn("sync failed", "error", serr)
		}
	}
	if err == nil && n < len(b) {
		err = ErrNoSpace
	}
	return n, err
}

// Seek sets the position. The result must lie in [0, Size()].
func (f *File) Seek(offset int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += f.pos
	case io.SeekEnd:
		offset += f.Size()
	default:
		return f.pos, fmt.Errorf("%w: whence %d", knvram.ErrInvalidArgument, whence)
	}
	if offset < 0 || offset > f.Size() {
		return f.pos, fmt.Errorf("%w: seek to %d outside [0, %d]", knvram.ErrInvalidArgument, offset, f.Size())
	}
	f.pos = offset
	return f.pos, nil
}

// ReadFrom copies r into the partition from the current position until r is
// drained. A failing r surfaces as knvram.ErrIOFault; running out of
// partition space with data left as ErrNoSpace.
func (f *File) ReadFrom(r io.Reader) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	buf := make([]byte, chunkSize)
	var total int64
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			w, err := f.writeLocked(buf[:n])
			total += int64(w)
			if err != nil {
				return total, err
			}
		}
		if errors.Is(rerr, io.EOF) {
			return total, nil
		}
		if rerr != nil {
			return total, fmt.Errorf("%w: %w", knvram.ErrIOFault, rerr)
		}
	}
}

// WriteTo copies the partition from the current position to w. A failing w
// surfaces as knvram.ErrIOFault.
func (f *File) WriteTo(w io.Writer) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	buf := make([]byte, chunkSize)
	var total int64
	for {
		n, err := f.h.Read(buf, f.pos)
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, nil
		}
		m, werr := w.Write(buf[:n])
		f.pos += int64(m)
		total += int64(m)
		if werr == nil && m < n {
			werr = io.ErrShortWrite
		}
		if werr != nil {
			return total, fmt.Errorf("%w: %w", knvram.ErrIOFault, werr)
		}
	}
}

// Fsync writes the partition to its backend.
func (f *File) Fsync() error {
	return f.h.Sync()
}

// Close closes the handle, aborting an open transaction.
func (f *File) Close() error {
	return f.h.Close()
}
