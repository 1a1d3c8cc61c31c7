// Package cow tracks the dirty byte range of a copy-on-write transaction
// buffer.
//
// A transaction buffer mirrors a partition's shadow buffer. Writes inside a
// transaction land in the transaction buffer; before they do, every byte of
// the page-aligned range they widen the dirty range to must be valid, so the
// stretches not already covered are backfilled from shadow. The tracker does
// the range arithmetic only; copying is left to the caller, which holds the
// locks.
//
// The dirty range is inclusive on both ends and only grows until Reset.
package cow

// Range is an inclusive byte range [Bottom, Top].
type Range struct {
	Bottom int64
	Top    int64
}

// Len returns the number of bytes covered by r.
func (r Range) Len() int64 {
	return r.Top - r.Bottom + 1
}

// Span is a half-open byte stretch [Off, Off+Len).
type Span struct {
	Off int64
	Len int64
}

// End returns the first offset after s.
func (s Span) End() int64 {
	return s.Off + s.Len
}

// Tracker holds the optional dirty range of one transaction buffer.
//
// NOT thread-safe. The owning partition serializes access with its
// transaction mutex.
type Tracker struct {
	mask  int64 // page size - 1
	limit int64 // buffer size
	r     Range
	dirty bool
}

// NewTracker creates a tracker for a buffer of size bytes with the given
// page size. pageSize must be a power of two; the caller validates it.
func NewTracker(pageSize, size int64) *Tracker {
	return &Tracker{
		mask:  pageSize - 1,
		limit: size,
	}
}

// PageSize returns the alignment unit of the dirty range.
func (t *Tracker) PageSize() int64 {
	return t.mask + 1
}

// Range returns the current dirty range. ok is false when nothing has been
// written since the last Reset.
func (t *Tracker) Range() (r Range, ok bool) {
	return t.r, t.dirty
}

// Reset forgets the dirty range.
func (t *Tracker) Reset() {
	t.r = Range{}
	t.dirty = false
}

// Extend computes the dirty range after a write of n bytes at off, and the
// spans of the transaction buffer that must be backfilled from shadow before
// the write lands.
//
// The new range is the page-aligned cover of the write, widened to include
// the current range and clamped to the buffer. The returned spans are the
// parts of that range covered neither by the current range nor by the write
// itself, in ascending order. Extend does not modify the tracker; call Set
// once the write has been applied.
//
// n must be at least 1 and off+n must not exceed the buffer size.
func (t *Tracker) Extend(off, n int64) (Range, []Span) {
	first := off
	last := off + n - 1

	next := Range{
		Bottom: first &^ t.mask,
		Top:    last | t.mask,
	}
	if next.Top > t.limit-1 {
		next.Top = t.limit - 1
	}
	if t.dirty {
		if t.r.Bottom < next.Bottom {
			next.Bottom = t.r.Bottom
		}
		if t.r.Top > next.Top {
			next.Top = t.r.Top
		}
	}

	// Valid stretches, sorted by Bottom.
	valid := []Range{{Bottom: first, Top: last}}
	if t.dirty {
		if t.r.Bottom < first {
			valid = []Range{t.r, valid[0]}
		} else {
			valid = append(valid, t.r)
		}
	}

	var fills []Span
	cursor := next.Bottom
	for _, v := range valid {
		if v.Bottom > cursor {
			fills = append(fills, Span{Off: cursor, Len: v.Bottom - cursor})
		}
		if v.Top+1 > cursor {
			cursor = v.Top + 1
		}
	}
	if cursor <= next.Top {
		fills = append(fills, Span{Off: cursor, Len: next.Top + 1 - cursor})
	}
	return next, fills
}

// Set records r as the dirty range.
func (t *Tracker) Set(r Range) {
	t.r = r
	t.dirty = true
}

// Split divides a read of n bytes at off into the part before the dirty
// range, the part inside it and the part after it. The outer parts are
// served from shadow and the inner part from the transaction buffer. Any of
// the spans may be empty; with no dirty range the whole read is before.
func (t *Tracker) Split(off, n int64) (before, inside, after Span) {
	a := off
	d := off + n
	var b, c int64

	switch {
	case !t.dirty || d <= t.r.Bottom:
		b, c = d, d
	case a > t.r.Top:
		b, c = a, a
	default:
		b = max(a, t.r.Bottom)
		c = min(d, t.r.Top+1)
	}

	return Span{Off: a, Len: b - a}, Span{Off: b, Len: c - b}, Span{Off: c, Len: d - c}
}
