package knvram

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/joshuapare/knvram/knvram/cow"
)

const (
	// MaxNameLen is the longest accepted partition name, in bytes.
	MaxNameLen = 31

	// DefaultPageSize replaces invalid transaction page sizes.
	DefaultPageSize = 128

	// MaxSize bounds a single partition's shadow and transaction buffers.
	MaxSize = 1 << 30
)

// Backend is the hardware collaborator of a partition. Offsets are relative
// to the start of the partition; the core only ever transfers the full
// partition (initial read, sync).
type Backend interface {
	io.ReaderAt
	io.WriterAt
}

// Config describes a partition at registration time.
type Config struct {
	Name string // Unique, at most MaxNameLen bytes
	Size int    // Bytes, fixed for the partition's lifetime

	// Transactions allocates a copy-on-write transaction buffer.
	Transactions bool
	// PageSize aligns the transaction dirty range. Must be a power of two;
	// anything else is replaced by DefaultPageSize with a warning.
	PageSize int

	// ReadOnly is advisory for front ends; the core does not enforce it.
	ReadOnly bool

	Backend Backend
}

// Partition is one named NVRAM region: the shadow buffer holding its
// authoritative contents and, when transactions are enabled, the transaction
// buffer collecting uncommitted writes.
//
// Lock order is openMu, then txMu, then shadowMu.
type Partition struct {
	name     string
	size     int64
	readOnly bool
	backend  Backend
	log      *slog.Logger

	openMu  sync.Mutex // guards handles, writer, removed
	handles int
	writer  bool
	removed bool

	shadowMu sync.RWMutex
	shadow   []byte

	txMu    sync.Mutex // guards tx contents, dirty, txOwner
	tx      []byte     // nil when transactions are disabled
	dirty   *cow.Tracker
	txOwner *Handle
}

// newPartition allocates the partition buffers and fills shadow from the
// backend. Nothing is retained on failure.
func newPartition(cfg Config, log *slog.Logger) (*Partition, error) {
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("%w: partition %q size %d", ErrInvalidArgument, cfg.Name, cfg.Size)
	}
	if cfg.Size > MaxSize {
		return nil, fmt.Errorf("%w: partition %q size %d", ErrOutOfMemory, cfg.Name, cfg.Size)
	}
	if cfg.Backend == nil {
		return nil, fmt.Errorf("%w: partition %q has no backend", ErrInvalidArgument, cfg.Name)
	}

	p := &Partition{
		name:     cfg.Name,
		size:     int64(cfg.Size),
		readOnly: cfg.ReadOnly,
		backend:  cfg.Backend,
		log:      log.With("partition", cfg.Name),
		shadow:   make([]byte, cfg.Size),
	}

	if cfg.Transactions {
		pageSize := cfg.PageSize
		if !isPowerOfTwo(pageSize) {
			p.log.Warn("invalid transaction pagesize", "pagesize", pageSize, "default", DefaultPageSize)
			pageSize = DefaultPageSize
		}
		p.tx = make([]byte, cfg.Size)
		p.dirty = cow.NewTracker(int64(pageSize), p.size)
	}

	n, err := p.backend.ReadAt(p.shadow, 0)
	if err == nil && n != len(p.shadow) {
		err = io.ErrUnexpectedEOF
	}
	if err != nil {
		p.log.Error("read to shadow failed", "error", err)
		return nil, fmt.Errorf("%w: read %q: %w", ErrHardwareIO, cfg.Name, err)
	}

	return p, nil
}

func isPowerOfTwo(x int) bool {
	return x > 0 && x&(x-1) == 0
}

// Name returns the partition name.
func (p *Partition) Name() string { return p.name }

// Size returns the partition size in bytes.
func (p *Partition) Size() int64 { return p.size }

// ReadOnly reports whether front ends must refuse write opens.
func (p *Partition) ReadOnly() bool { return p.readOnly }

// Transactional reports whether the partition has a transaction buffer.
func (p *Partition) Transactional() bool { return p.tx != nil }

// PageSize returns the transaction page size, or 0 without transactions.
func (p *Partition) PageSize() int {
	if p.dirty == nil {
		return 0
	}
	return int(p.dirty.PageSize())
}

// Handles returns the number of open handles.
func (p *Partition) Handles() int {
	p.openMu.Lock()
	defer p.openMu.Unlock()
	return p.handles
}

// DirtyRange returns the dirty range of the open transaction, if any.
func (p *Partition) DirtyRange() (cow.Range, bool) {
	if p.dirty == nil {
		return cow.Range{}, false
	}
	p.txMu.Lock()
	defer p.txMu.Unlock()
	return p.dirty.Range()
}

// Open creates a handle on the partition.
//
// flags may combine FlagWrite, FlagNonblock, FlagUser and FlagAutoT. Only one
// FlagWrite handle may be open at a time (ErrBusy), and FlagAutoT requires
// transactions (ErrPermissionDenied). With FlagNonblock, a contended open
// lock fails with ErrWouldBlock.
func (p *Partition) Open(flags Flags) (*Handle, error) {
	h, err := p.open(flags)
	observe(p.name, "open", err)
	return h, err
}

func (p *Partition) open(flags Flags) (*Handle, error) {
	if flags&^openFlags != 0 {
		return nil, fmt.Errorf("%w: open flags %s", ErrInvalidArgument, flags)
	}
	if err := lockMutex(&p.openMu, flags.Has(FlagNonblock)); err != nil {
		return nil, err
	}
	defer p.openMu.Unlock()

	if p.removed {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p.name)
	}
	if flags.Has(FlagWrite) && p.writer {
		return nil, fmt.Errorf("%w: %s already has a writer", ErrBusy, p.name)
	}
	if flags.Has(FlagAutoT) && p.tx == nil {
		p.log.Warn("autot requested with transactions disabled")
		return nil, fmt.Errorf("%w: %s has no transactions", ErrPermissionDenied, p.name)
	}

	h := newHandle(p, flags)
	p.handles++
	if flags.Has(FlagWrite) {
		p.writer = true
	}
	openHandles.WithLabelValues(p.name).Inc()
	p.log.Debug("opened", "handle", h.id, "flags", flags)
	return h, nil
}

// Lock takes the partition's open lock for administrative changes. It fails
// with ErrWouldBlock when the lock is contended, ErrNotFound once the
// partition has been deleted and ErrBusy while handles are open. No handle
// can be opened until Unlock.
func (p *Partition) Lock() error {
	if !p.openMu.TryLock() {
		return ErrWouldBlock
	}
	if p.removed {
		p.openMu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, p.name)
	}
	if p.handles > 0 {
		p.openMu.Unlock()
		return fmt.Errorf("%w: %s has %d open handles", ErrBusy, p.name, p.handles)
	}
	return nil
}

// Unlock releases a lock taken with Lock.
func (p *Partition) Unlock() {
	p.openMu.Unlock()
}

// Sync writes the whole shadow buffer to the backend. A failure leaves the
// in-memory contents untouched; the next sync writes them again.
func (p *Partition) Sync() error {
	p.shadowMu.RLock()
	n, err := p.backend.WriteAt(p.shadow, 0)
	p.shadowMu.RUnlock()

	if err == nil && n != int(p.size) {
		err = io.ErrShortWrite
	}
	if err != nil {
		p.log.Error("write to hw failed", "error", err)
		err = fmt.Errorf("%w: sync %q: %w", ErrHardwareIO, p.name, err)
	}
	observe(p.name, "sync", err)
	return err
}
