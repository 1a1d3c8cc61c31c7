// Package mmfile maps region image files into memory.
package mmfile

import "os"

// openSized opens path read-write, creating it if missing, and extends it
// with zeros to size bytes when it is shorter.
func openSized(path string, size int64) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if info.Size() < size {
		if err := f.Truncate(size); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return f, nil
}
