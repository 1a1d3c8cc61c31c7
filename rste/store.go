package rste

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/joshuapare/knvram/internal/logger"
	"github.com/joshuapare/knvram/knvram"
)

// DefaultPartition is the partition holding the record.
const DefaultPartition = "mpc8xxx_rste"

// Store is an open reset-event record. It keeps a WRITE|AUTOT handle on the
// partition, so every update is a transaction of its own.
type Store struct {
	log *slog.Logger

	mu  sync.Mutex
	h   *knvram.Handle
	rec Record
}

// Open opens the record in the named partition of reg and reads it.
func Open(reg *knvram.Registry, partition string) (*Store, error) {
	if partition == "" {
		partition = DefaultPartition
	}
	log := logger.Component("rste").With("partition", partition)

	h, err := reg.Open(partition, knvram.FlagWrite|knvram.FlagAutoT)
	if err != nil {
		log.Warn("failed to open knvram partition", "error", err)
		return nil, fmt.Errorf("rste: open %s: %w", partition, err)
	}

	b := make([]byte, RecordSize)
	n, err := h.Read(b, 0)
	if err == nil && n != RecordSize {
		err = fmt.Errorf("%w: read %d of %d bytes", ErrShortRecord, n, RecordSize)
	}
	if err != nil {
		if cerr := h.Close(); cerr != nil {
			log.Warn("failed to close knvram", "error", cerr)
		}
		return nil, fmt.Errorf("rste: read %s: %w", partition, err)
	}

	s := &Store{log: log, h: h}
	if err := s.rec.UnmarshalBinary(b); err != nil {
		_ = h.Close()
		return nil, err
	}
	log.Info("reset events", "current", strings.Join(s.rec.CurrentEvents(), " "))
	return s, nil
}

// Record returns a copy of the in-memory record.
func (s *Store) Record() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec
}

// Current returns the names of the counters incremented on this boot.
func (s *Store) Current() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.CurrentEvents()
}

// Cause ORs c into the stored reset cause and persists the record. Bits
// outside CauseMask are stored but logged as invalid.
func (s *Store) Cause(c Cause) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.log.Debug("reset cause", "cause", c)
	if c&^CauseMask != 0 {
		s.log.Warn("invalid cause", "cause", fmt.Sprintf("0x%x", uint16(c)))
	}
	s.rec.ResetCause |= c
	return s.persistLocked()
}

// Panic records a kernel panic as the reset cause.
func (s *Store) Panic() error { return s.Cause(CauseLinuxPanic) }

// Reboot records an orderly restart as the reset cause.
func (s *Store) Reboot() error { return s.Cause(CauseLinuxReset) }

// Clear zeroes every current counter, and the totals as well when total is
// set, and persists the record.
func (s *Store) Clear(total bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.rec.Counters {
		s.rec.Counters[i].Current = 0
		if total {
			s.rec.Counters[i].Total = 0
		}
	}
	return s.persistLocked()
}

// persistLocked writes the record in one transaction, commits and syncs it.
// A partial write is aborted.
func (s *Store) persistLocked() error {
	b, err := s.rec.MarshalBinary()
	if err != nil {
		return err
	}
	n, err := s.h.Write(b, 0)
	if err != nil {
		s.log.Warn("write to knvram failed", "error", err)
		return fmt.Errorf("rste: write: %w", err)
	}
	if n != len(b) {
		s.log.Warn("partial write to knvram", "expected", len(b), "written", n)
		if aerr := s.h.Abort(); aerr != nil {
			s.log.Warn("abort failed", "error", aerr)
		}
		return fmt.Errorf("rste: partial write: %d of %d bytes", n, len(b))
	}
	if err := s.h.Commit(); err != nil {
		return fmt.Errorf("rste: commit: %w", err)
	}
	if err := s.h.Sync(); err != nil {
		return fmt.Errorf("rste: sync: %w", err)
	}
	return nil
}

// WriteReport writes the current events on one line followed by one
// "name = current / total" line per counter.
func (s *Store) WriteReport(w io.Writer) error {
	rec := s.Record()
	if _, err := fmt.Fprintln(w, strings.Join(rec.CurrentEvents(), " ")); err != nil {
		return err
	}
	for i, c := range rec.Counters {
		if _, err := fmt.Fprintf(w, "%-18s = %d / %d\n", CounterNames[i], c.Current, c.Total); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the partition handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.h.Close()
}
