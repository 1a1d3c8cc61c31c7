package nvram

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/joshuapare/knvram/knvram"
	"github.com/joshuapare/knvram/ptable"
	"github.com/joshuapare/knvram/region"
)

// MaxTableNameLen leaves room for a three digit entry index in the names of
// table partitions.
const MaxTableNameLen = knvram.MaxNameLen - 3

// Table is a partition-table area of a device. The partitions it describes
// are named after the table with the entry index appended.
type Table struct {
	dev  *Device
	name string
	area *region.Window

	mu    sync.Mutex // serializes reread, apply and sessions
	parts []*knvram.Partition
	inUse bool
}

func newTable(d *Device, tc TableConfig) (*Table, error) {
	if tc.Name == "" || len(tc.Name) > MaxTableNameLen {
		return nil, fmt.Errorf("%w: table name %q", knvram.ErrInvalidArgument, tc.Name)
	}
	if tc.Size < ptable.MinAreaSize {
		return nil, fmt.Errorf("%w: table %s area size %d", knvram.ErrInvalidArgument, tc.Name, tc.Size)
	}
	area, err := region.NewWindow(d.region, tc.Offset, tc.Size)
	if err != nil {
		return nil, fmt.Errorf("table %s: %w", tc.Name, err)
	}
	d.log.Info("partition table", "range", fmt.Sprintf("0x%08x-0x%08x", tc.Offset, tc.Offset+tc.Size), "name", tc.Name)
	return &Table{dev: d, name: tc.Name, area: area}, nil
}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// Offset returns the area start within the region.
func (t *Table) Offset() int64 { return t.area.Offset() }

// Size returns the area length.
func (t *Table) Size() int64 { return t.area.Size() }

// Partitions returns the partitions created from the table.
func (t *Table) Partitions() []*knvram.Partition {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*knvram.Partition(nil), t.parts...)
}

// Entries reads the table stored in the area. On ptable.ErrChecksum the
// decoded entries are returned as well.
func (t *Table) Entries() ([]ptable.Entry, error) {
	return ptable.Read(t.area, t.area.Size())
}

// Reread replaces the table's partitions with the ones the stored table
// describes. It fails with knvram.ErrBusy, leaving the current partitions in
// place, when any of them is open or locked.
func (t *Table) Reread() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rereadLocked()
}

func (t *Table) rereadLocked() error {
	log := t.dev.log.With("table", t.name)

	entries, err := t.Entries()
	if err != nil {
		return fmt.Errorf("%w: table %s: %w", knvram.ErrIOFault, t.name, err)
	}

	locked := make([]*knvram.Partition, 0, len(t.parts))
	for _, p := range t.parts {
		if err := p.Lock(); err != nil {
			log.Warn("failed to reread partition table", "partition", p.Name(), "error", err)
			for _, q := range locked {
				q.Unlock()
			}
			return fmt.Errorf("%w: reread %s: %s in use", knvram.ErrBusy, t.name, p.Name())
		}
		locked = append(locked, p)
	}
	for _, p := range locked {
		t.dev.reg.Delete(p)
		p.Unlock()
	}
	t.parts = nil

	if err := ptable.CheckLayout(entries, t.area.Size()); err != nil {
		log.Error("invalid partition table", "error", err)
		return fmt.Errorf("%w: table %s: %w", knvram.ErrIOFault, t.name, err)
	}

	log.Info("creating partitions", "entries", len(entries))
	var errs *multierror.Error
	for i, e := range entries {
		if e.Size == 0 {
			continue
		}
		name := fmt.Sprintf("%s%d", t.name, i)
		p, err := t.dev.addPartition(name, t.area.Offset()+int64(e.Offset), int64(e.Size), e.PageSize(), e.ReadOnly())
		if err != nil {
			log.Error("invalid partition table entry", "index", i, "offset", e.Offset, "size", e.Size, "error", err)
			errs = multierror.Append(errs, err)
			continue
		}
		t.parts = append(t.parts, p)
	}
	return errs.ErrorOrNil()
}

// Apply parses the text form of a table, stores it at the area tail and
// rereads it.
func (t *Table) Apply(text []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.applyLocked(text)
}

func (t *Table) applyLocked(text []byte) error {
	entries, err := ptable.Parse(text, t.area.Size())
	if err != nil {
		return fmt.Errorf("%w: %w", knvram.ErrInvalidArgument, err)
	}
	if err := ptable.Write(t.area, t.area.Size(), entries); err != nil {
		return fmt.Errorf("%w: %w", knvram.ErrHardwareIO, err)
	}
	if err := t.dev.region.Sync(); err != nil {
		return fmt.Errorf("%w: %w", knvram.ErrHardwareIO, err)
	}
	t.dev.log.Info("partition table written", "table", t.name, "entries", len(entries))
	return t.rereadLocked()
}

// Session is an exclusive text view of a table. Reads serve the formatted
// table as it was when the session opened; writes are buffered and applied
// on Close.
type Session struct {
	t      *Table
	id     uuid.UUID
	text   *bytes.Reader
	write  bool
	wbuf   []byte
	closed bool
}

// Open starts a session. Only one session per table may be open
// (knvram.ErrBusy). A reading session fails when the stored table is
// unreadable.
func (t *Table) Open(read, write bool) (*Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.inUse {
		return nil, fmt.Errorf("%w: table %s", knvram.ErrBusy, t.name)
	}
	s := &Session{t: t, id: uuid.New(), write: write}
	if read {
		entries, err := t.Entries()
		if err != nil && !errors.Is(err, ptable.ErrChecksum) {
			return nil, fmt.Errorf("%w: table %s: %w", knvram.ErrIOFault, t.name, err)
		}
		s.text = bytes.NewReader([]byte(ptable.FormatString(entries)))
	}
	t.inUse = true
	t.dev.log.Debug("table session opened", "table", t.name, "session", s.id, "write", write)
	return s, nil
}

// Read reads the formatted table.
func (s *Session) Read(p []byte) (int, error) {
	if s.text == nil {
		return 0, io.EOF
	}
	return s.text.Read(p)
}

// Write buffers table text, up to ptable.MaxTextLen bytes per session.
func (s *Session) Write(p []byte) (int, error) {
	if !s.write {
		return 0, fmt.Errorf("%w: session is read-only", knvram.ErrPermissionDenied)
	}
	room := ptable.MaxTextLen - len(s.wbuf)
	if len(p) > room {
		s.wbuf = append(s.wbuf, p[:room]...)
		return room, io.ErrShortWrite
	}
	s.wbuf = append(s.wbuf, p...)
	return len(p), nil
}

// Close ends the session, applying any buffered text.
func (s *Session) Close() error {
	t := s.t
	t.mu.Lock()
	defer t.mu.Unlock()

	if s.closed {
		return fmt.Errorf("%w: session closed", knvram.ErrInvalidArgument)
	}
	s.closed = true
	var err error
	if s.write && len(s.wbuf) > 0 {
		err = t.applyLocked(s.wbuf)
	}
	t.inUse = false
	s.wbuf = nil
	t.dev.log.Debug("table session closed", "table", t.name, "session", s.id, "error", err)
	return err
}
