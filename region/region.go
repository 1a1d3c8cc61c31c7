// Package region provides the hardware NVRAM address spaces partitions are
// carved from: an in-memory region, an mmap'd image file and a badger-backed
// store, plus Window for exposing a sub-range as a partition backend.
package region

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/joshuapare/knvram/internal/buf"
)

var (
	// ErrOutOfRange is returned for accesses outside a region or window.
	ErrOutOfRange = errors.New("region: access out of range")

	// ErrClosed is returned by operations on a closed region.
	ErrClosed = errors.New("region: closed")
)

// Region is a fixed-size NVRAM address space.
//
// ReadAt follows the io.ReaderAt contract: a read crossing the end returns
// the bytes available and io.EOF. WriteAt never writes partially; a write
// crossing the end fails with ErrOutOfRange.
type Region interface {
	io.ReaderAt
	io.WriterAt
	Size() int64
	Sync() error
	Close() error
}

func readAt(data, b []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(data)) {
		return 0, fmt.Errorf("%w: read at %d, size %d", ErrOutOfRange, off, len(data))
	}
	n := copy(b, data[off:])
	if n < len(b) {
		return n, io.EOF
	}
	return n, nil
}

func writeAt(data, b []byte, off int64) (int, error) {
	if !buf.Within(int64(len(data)), off, int64(len(b))) {
		return 0, fmt.Errorf("%w: write of %d at %d, size %d", ErrOutOfRange, len(b), off, len(data))
	}
	return copy(data[off:], b), nil
}

// Memory is a region held in RAM. Sync is a no-op.
type Memory struct {
	mu     sync.RWMutex
	data   []byte
	closed bool
}

// NewMemory returns a region of size bytes, each set to fill.
func NewMemory(size int, fill byte) *Memory {
	data := make([]byte, size)
	if fill != 0 {
		for i := range data {
			data[i] = fill
		}
	}
	return &Memory{data: data}
}

// FromBytes returns a region initialized with a copy of b.
func FromBytes(b []byte) *Memory {
	return &Memory{data: append([]byte(nil), b...)}
}

func (m *Memory) ReadAt(b []byte, off int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}
	return readAt(m.data, b, off)
}

func (m *Memory) WriteAt(b []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	return writeAt(m.data, b, off)
}

func (m *Memory) Size() int64 { return int64(len(m.data)) }

func (m *Memory) Sync() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Bytes returns a copy of the region contents.
func (m *Memory) Bytes() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]byte(nil), m.data...)
}
