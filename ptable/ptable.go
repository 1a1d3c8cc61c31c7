// Package ptable encodes and decodes the partition tables stored at the tail
// of NVRAM partition-table areas.
//
// An area of N bytes ends with
//
//	[entry 0] ... [entry n-1] [count u16] [crc32 u32]
//
// where each entry is {offset u32, size u32, flags u8, pageshift u8}, all
// little endian and packed. The checksum covers entries and count. Entry
// offsets are relative to the area start; the space below the table is what
// partitions may occupy.
package ptable

import (
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/joshuapare/knvram/internal/buf"
)

const (
	// EntrySize is the encoded size of one entry.
	EntrySize = 10

	// MaxEntries is the largest entry count a table may carry.
	MaxEntries = 256

	// TrailerSize is the size of the count and checksum after the entries.
	TrailerSize = 6

	// MinAreaSize is the smallest area that can hold a one-entry table and
	// some partition space.
	MinAreaSize = 16

	// FlagReadOnly marks a partition that must not be opened for writing.
	FlagReadOnly = 1 << 0
)

var (
	// ErrInvalid is returned for a malformed table or entry.
	ErrInvalid = errors.New("ptable: invalid partition table")

	// ErrChecksum is returned when the stored checksum does not match.
	ErrChecksum = errors.New("ptable: bad partition table checksum")
)

// Entry describes one partition of a table.
type Entry struct {
	Offset    uint32
	Size      uint32
	Flags     uint8
	PageShift uint8
}

// ReadOnly reports whether FlagReadOnly is set.
func (e Entry) ReadOnly() bool { return e.Flags&FlagReadOnly != 0 }

// PageSize returns the transaction page size, or 0 when the partition has no
// transactions.
func (e Entry) PageSize() int {
	if e.PageShift == 0 {
		return 0
	}
	return 1 << e.PageShift
}

// End returns the first offset after the entry.
func (e Entry) End() int64 { return int64(e.Offset) + int64(e.Size) }

// TableLen returns the encoded size of a table with n entries.
func TableLen(n int) int64 {
	return int64(n)*EntrySize + TrailerSize
}

// Roof returns the area offset where a table of n entries begins. Partitions
// must end below it.
func Roof(areaSize int64, n int) int64 {
	return areaSize - TableLen(n)
}

// Checksum returns the crc32 (IEEE, little endian, zero seed and no final
// inversion) of b.
func Checksum(b []byte) uint32 {
	return ^crc32.Update(0xffffffff, crc32.IEEETable, b)
}

// Encode returns the on-media form of entries.
func Encode(entries []Entry) []byte {
	out := make([]byte, TableLen(len(entries)))
	for i, e := range entries {
		rec := out[i*EntrySize:]
		buf.PutU32LE(rec[0:], e.Offset)
		buf.PutU32LE(rec[4:], e.Size)
		rec[8] = e.Flags
		rec[9] = e.PageShift
	}
	n := len(entries) * EntrySize
	buf.PutU16LE(out[n:], uint16(len(entries)))
	buf.PutU32LE(out[n+2:], Checksum(out[:n+2]))
	return out
}

// Decode parses an encoded table. On ErrChecksum the decoded entries are
// returned as well.
func Decode(b []byte) ([]Entry, error) {
	if len(b) < TrailerSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalid, len(b))
	}
	count := int(buf.U16LE(b[len(b)-TrailerSize:]))
	if count == 0 || count > MaxEntries || TableLen(count) != int64(len(b)) {
		return nil, fmt.Errorf("%w: %d entries in %d bytes", ErrInvalid, count, len(b))
	}

	entries := make([]Entry, count)
	for i := range entries {
		rec := b[i*EntrySize:]
		entries[i] = Entry{
			Offset:    buf.U32LE(rec[0:]),
			Size:      buf.U32LE(rec[4:]),
			Flags:     rec[8],
			PageShift: rec[9],
		}
	}

	sumLen := count*EntrySize + 2
	if stored, got := buf.U32LE(b[sumLen:]), Checksum(b[:sumLen]); stored != got {
		return entries, fmt.Errorf("%w: stored 0x%08x, computed 0x%08x", ErrChecksum, stored, got)
	}
	return entries, nil
}

// Read loads the table from the tail of an area of areaSize bytes. On
// ErrChecksum the decoded entries are returned as well.
func Read(r io.ReaderAt, areaSize int64) ([]Entry, error) {
	if areaSize < MinAreaSize {
		return nil, fmt.Errorf("%w: area size %d", ErrInvalid, areaSize)
	}

	var trailer [TrailerSize]byte
	if _, err := r.ReadAt(trailer[:], areaSize-TrailerSize); err != nil {
		return nil, fmt.Errorf("ptable: read count: %w", err)
	}
	count := int(buf.U16LE(trailer[:]))
	if count == 0 || count > MaxEntries {
		return nil, fmt.Errorf("%w: entry count %d", ErrInvalid, count)
	}
	n := TableLen(count)
	if n > areaSize {
		return nil, fmt.Errorf("%w: %d entries exceed area size %d", ErrInvalid, count, areaSize)
	}

	table := make([]byte, n)
	if _, err := r.ReadAt(table, areaSize-n); err != nil {
		return nil, fmt.Errorf("ptable: read table: %w", err)
	}
	return Decode(table)
}

// Write stores entries at the tail of an area of areaSize bytes.
func Write(w io.WriterAt, areaSize int64, entries []Entry) error {
	table := Encode(entries)
	if int64(len(table)) > areaSize {
		return fmt.Errorf("%w: table of %d bytes exceeds area size %d", ErrInvalid, len(table), areaSize)
	}
	if _, err := w.WriteAt(table, areaSize-int64(len(table))); err != nil {
		return fmt.Errorf("ptable: write table: %w", err)
	}
	return nil
}

// CheckLayout verifies that every non-empty entry lies below the table of an
// area of areaSize bytes.
func CheckLayout(entries []Entry, areaSize int64) error {
	roof := Roof(areaSize, len(entries))
	for i, e := range entries {
		if e.Size == 0 {
			continue
		}
		if int64(e.Offset) >= roof {
			return fmt.Errorf("%w: entry %d offset 0x%x beyond 0x%x", ErrInvalid, i, e.Offset, roof)
		}
		if e.End() >= roof {
			return fmt.Errorf("%w: entry %d size 0x%x beyond 0x%x", ErrInvalid, i, e.Size, roof)
		}
	}
	return nil
}
