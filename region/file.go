package region

import (
	"fmt"
	"sync"

	"github.com/joshuapare/knvram/internal/mmfile"
)

// File is a region backed by a memory-mapped image file. Writes reach the
// mapping immediately and the file on Sync.
type File struct {
	path string

	mu sync.RWMutex
	m  *mmfile.Mapping
}

// OpenFile maps the image at path, creating it and growing it to size bytes
// when needed. A size of 0 uses the image's current length.
func OpenFile(path string, size int64) (*File, error) {
	m, err := mmfile.Open(path, size)
	if err != nil {
		return nil, fmt.Errorf("region: open %s: %w", path, err)
	}
	return &File{path: path, m: m}, nil
}

// Path returns the image file path.
func (f *File) Path() string { return f.path }

func (f *File) ReadAt(b []byte, off int64) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.m == nil {
		return 0, ErrClosed
	}
	return readAt(f.m.Bytes(), b, off)
}

func (f *File) WriteAt(b []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.m == nil {
		return 0, ErrClosed
	}
	return writeAt(f.m.Bytes(), b, off)
}

func (f *File) Size() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.m == nil {
		return 0
	}
	return int64(len(f.m.Bytes()))
}

func (f *File) Sync() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.m == nil {
		return ErrClosed
	}
	if err := f.m.Sync(); err != nil {
		return fmt.Errorf("region: sync %s: %w", f.path, err)
	}
	return nil
}

// Close syncs and unmaps the image. Closing twice is a no-op.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.m == nil {
		return nil
	}
	err := f.m.Sync()
	if cerr := f.m.Close(); err == nil {
		err = cerr
	}
	f.m = nil
	return err
}
