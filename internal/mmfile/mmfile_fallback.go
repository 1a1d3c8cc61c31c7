//go:build !unix

package mmfile

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Mapping holds a region image file in memory when mmap is not available.
// Sync writes the whole buffer back.
type Mapping struct {
	f    *os.File
	data []byte
}

// Open reads the file at path, creating it and growing it to size bytes when
// needed. A size of 0 uses the file's current length.
func Open(path string, size int64) (*Mapping, error) {
	f, err := openSized(path, size)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if size == 0 {
		size = info.Size()
	}
	if size <= 0 {
		f.Close()
		return nil, fmt.Errorf("mmfile: empty image %s", path)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(io.NewSectionReader(f, 0, size), data); err != nil {
		f.Close()
		return nil, err
	}
	return &Mapping{f: f, data: data}, nil
}

// Bytes returns the in-memory image.
func (m *Mapping) Bytes() []byte { return m.data }

// Sync writes the image back to the file.
func (m *Mapping) Sync() error {
	if m.f == nil {
		return errors.New("mmfile: mapping closed")
	}
	if _, err := m.f.WriteAt(m.data, 0); err != nil {
		return err
	}
	return m.f.Sync()
}

// Close closes the file. Closing twice is a no-op.
func (m *Mapping) Close() error {
	var err error
	if m.f != nil {
		err = m.f.Close()
		m.f = nil
	}
	m.data = nil
	return err
}
