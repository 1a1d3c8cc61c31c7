package ptable

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// MaxTextLen bounds the text form accepted by Parse.
const MaxTextLen = 8192

// Format writes one line per entry: index, offset, size, page shift, flags.
func Format(w io.Writer, entries []Entry) error {
	bw := bufio.NewWriter(w)
	for i, e := range entries {
		if _, err := fmt.Fprintf(bw, "%d,0x%x,0x%x,%d,0x%02x\n", i, e.Offset, e.Size, e.PageShift, e.Flags); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// FormatString returns the text form of entries.
func FormatString(entries []Entry) string {
	var sb strings.Builder
	_ = Format(&sb, entries)
	return sb.String()
}

type line struct {
	index            uint64
	offset, size     uint64
	pageShift, flags uint64
}

// parseLine splits "index,0xoffset,0xsize,pageshift,0xflags".
func parseLine(s string) (line, bool) {
	f := strings.Split(strings.TrimSpace(s), ",")
	if len(f) != 5 {
		return line{}, false
	}
	var l line
	var err error
	if l.index, err = strconv.ParseUint(f[0], 10, 32); err != nil {
		return line{}, false
	}
	if l.offset, err = parseHex(f[1]); err != nil {
		return line{}, false
	}
	if l.size, err = parseHex(f[2]); err != nil {
		return line{}, false
	}
	if l.pageShift, err = strconv.ParseUint(f[3], 10, 32); err != nil {
		return line{}, false
	}
	if l.flags, err = parseHex(f[4]); err != nil {
		return line{}, false
	}
	return l, true
}

func parseHex(s string) (uint64, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return 0, strconv.ErrSyntax
	}
	return strconv.ParseUint(s[2:], 16, 32)
}

// Parse reads the text form of a table for an area of areaSize bytes.
//
// Lines are consumed until the first one that does not parse. Indexes must
// increase and stay below MaxEntries; skipped indexes become empty entries.
// Entries must be in ascending, non-overlapping order inside the area, and
// the last one must end below the encoded table.
func Parse(text []byte, areaSize int64) ([]Entry, error) {
	if len(text) > MaxTextLen {
		text = text[:MaxTextLen]
	}

	var (
		entries []Entry
		lastEnd int64
	)
	for _, raw := range bytes.Split(text, []byte("\n")) {
		l, ok := parseLine(string(raw))
		if !ok {
			break
		}

		var errs *multierror.Error
		if l.index < uint64(len(entries)) {
			errs = multierror.Append(errs, fmt.Errorf("entry %d: entries must be entered consecutively", l.index))
		}
		if l.index >= MaxEntries {
			errs = multierror.Append(errs, fmt.Errorf("entry %d: maximum entry index is %d", l.index, MaxEntries-1))
		}
		if int64(l.offset) >= areaSize {
			errs = multierror.Append(errs, fmt.Errorf("entry %d: offset 0x%x outside area", l.index, l.offset))
		}
		if int64(l.offset) < lastEnd {
			errs = multierror.Append(errs, fmt.Errorf("entry %d: offset 0x%x overlaps previous entry", l.index, l.offset))
		}
		if int64(l.offset)+int64(l.size) > areaSize {
			errs = multierror.Append(errs, fmt.Errorf("entry %d: size 0x%x outside area", l.index, l.size))
		}
		if l.pageShift > 31 {
			errs = multierror.Append(errs, fmt.Errorf("entry %d: page shift %d too large", l.index, l.pageShift))
		}
		if l.flags > 0xff {
			errs = multierror.Append(errs, fmt.Errorf("entry %d: flags 0x%x too large", l.index, l.flags))
		}
		if err := errs.ErrorOrNil(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
		}

		for uint64(len(entries)) < l.index {
			entries = append(entries, Entry{})
		}
		entries = append(entries, Entry{
			Offset:    uint32(l.offset),
			Size:      uint32(l.size),
			Flags:     uint8(l.flags),
			PageShift: uint8(l.pageShift),
		})
		lastEnd = int64(l.offset) + int64(l.size)
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no entries", ErrInvalid)
	}
	if lastEnd >= Roof(areaSize, len(entries)) {
		return nil, fmt.Errorf("%w: no space for the table after 0x%x", ErrInvalid, lastEnd)
	}
	return entries, nil
}
