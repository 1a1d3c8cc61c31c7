//go:build unix

package mmfile

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Mapping is a shared read-write mapping of a region image file.
type Mapping struct {
	f    *os.File
	data []byte
}

// Open maps the file at path read-write, creating it and growing it to size
// bytes when needed. A size of 0 maps the file at its current length.
func Open(path string, size int64) (*Mapping, error) {
	f, err := openSized(path, size)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if size == 0 {
		size = info.Size()
	}
	if size <= 0 {
		_ = f.Close()
		return nil, fmt.Errorf("mmfile: empty image %s", path)
	}
	if size > int64(^uint(0)>>1) {
		_ = f.Close()
		return nil, fmt.Errorf("mmfile: file too large to map (%d bytes)", size)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("mmfile: mmap failed: %w", err)
	}
	return &Mapping{f: f, data: data}, nil
}

// Bytes returns the mapped image. The slice is invalid after Close.
func (m *Mapping) Bytes() []byte { return m.data }

// Sync flushes dirty pages of the mapping to the file.
func (m *Mapping) Sync() error {
	if m.data == nil {
		return errors.New("mmfile: mapping closed")
	}
	return unix.Msync(m.data, unix.MS_SYNC)
}

// Close unmaps the image and closes the file. Closing twice is a no-op.
func (m *Mapping) Close() error {
	var err error
	if m.data != nil {
		err = unix.Munmap(m.data)
		if errors.Is(err, unix.EINVAL) {
			err = nil
		}
		m.data = nil
	}
	if m.f != nil {
		if cerr := m.f.Close(); err == nil {
			err = cerr
		}
		m.f = nil
	}
	return err
}
