package region

import (
	"fmt"
	"io"

	"github.com/joshuapare/knvram/internal/buf"
)

// Window exposes the sub-range [off, off+size) of a region with offsets
// relative to its start. It satisfies knvram.Backend.
type Window struct {
	r    Region
	off  int64
	size int64
}

// NewWindow returns the window of r starting at off. The window must lie
// inside r.
func NewWindow(r Region, off, size int64) (*Window, error) {
	if size <= 0 || !buf.Within(r.Size(), off, size) {
		return nil, fmt.Errorf("%w: window 0x%x+0x%x, region size 0x%x", ErrOutOfRange, off, size, r.Size())
	}
	return &Window{r: r, off: off, size: size}, nil
}

// Offset returns the window start within the region.
func (w *Window) Offset() int64 { return w.off }

// Size returns the window length.
func (w *Window) Size() int64 { return w.size }

func (w *Window) ReadAt(b []byte, off int64) (int, error) {
	if off < 0 || off > w.size {
		return 0, fmt.Errorf("%w: read at %d, window size %d", ErrOutOfRange, off, w.size)
	}
	want := len(b)
	if rem := w.size - off; int64(want) > rem {
		b = b[:rem]
	}
	n, err := w.r.ReadAt(b, w.off+off)
	if err == nil && n < want {
		err = io.EOF
	}
	return n, err
}

func (w *Window) WriteAt(b []byte, off int64) (int, error) {
	if !buf.Within(w.size, off, int64(len(b))) {
		return 0, fmt.Errorf("%w: write of %d at %d, window size %d", ErrOutOfRange, len(b), off, w.size)
	}
	return w.r.WriteAt(b, w.off+off)
}
