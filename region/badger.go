package region

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// BlockSize is the size of one badger value holding a slice of the region
// image. Blocks never written read as zeros.
const BlockSize = 512

// BadgerConfig configures a badger-backed region store.
type BadgerConfig struct {
	// Path is the database directory. Required unless InMemory.
	Path string

	// InMemory keeps the database in RAM (tests, simulation).
	InMemory bool

	// SyncWrites makes every commit durable without an explicit Sync.
	SyncWrites bool

	// Logger receives badger's internal logging. Nil disables it.
	Logger *slog.Logger
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenBadgerDB opens the database described by cfg.
func OpenBadgerDB(cfg BadgerConfig) (*badger.DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("region: badger path is required for a persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("region: create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("region: open badger database: %w", err)
	}
	return db, nil
}

// Badger is a region stored as fixed-size blocks in a badger database. Several
// named regions may share one database.
type Badger struct {
	db     *badger.DB
	name   string
	size   int64
	ownsDB bool

	mu     sync.Mutex // serializes read-modify-write of partial blocks
	closed bool
}

// OpenBadger opens a database per cfg and returns the named region on it. The
// region owns the database and closes it on Close.
func OpenBadger(cfg BadgerConfig, name string, size int64) (*Badger, error) {
	db, err := OpenBadgerDB(cfg)
	if err != nil {
		return nil, err
	}
	b, err := NewBadger(db, name, size)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	b.ownsDB = true
	return b, nil
}

// NewBadger returns the named region on an open database. The caller keeps
// ownership of db.
func NewBadger(db *badger.DB, name string, size int64) (*Badger, error) {
	if name == "" {
		return nil, errors.New("region: badger region needs a name")
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w: badger region size %d", ErrOutOfRange, size)
	}
	return &Badger{db: db, name: name, size: size}, nil
}

func (r *Badger) key(block int64) []byte {
	k := make([]byte, 0, len(r.name)+16)
	k = append(k, "region/"...)
	k = append(k, r.name...)
	k = append(k, '/')
	return binary.BigEndian.AppendUint64(k, uint64(block))
}

// loadBlock copies block into dst, leaving it zeroed when the block was never
// written.
func (r *Badger) loadBlock(txn *badger.Txn, block int64, dst []byte) error {
	clear(dst)
	item, err := txn.Get(r.key(block))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		copy(dst, val)
		return nil
	})
}

func (r *Badger) Size() int64 { return r.size }

func (r *Badger) ReadAt(b []byte, off int64) (int, error) {
	if off < 0 || off > r.size {
		return 0, fmt.Errorf("%w: read at %d, size %d", ErrOutOfRange, off, r.size)
	}
	want := len(b)
	if rem := r.size - off; int64(len(b)) > rem {
		b = b[:rem]
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, ErrClosed
	}

	blk := make([]byte, BlockSize)
	n := 0
	err := r.db.View(func(txn *badger.Txn) error {
		for n < len(b) {
			pos := off + int64(n)
			block := pos / BlockSize
			if err := r.loadBlock(txn, block, blk); err != nil {
				return err
			}
			n += copy(b[n:], blk[pos%BlockSize:])
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("region: badger read %s: %w", r.name, err)
	}
	if n < want {
		return n, io.EOF
	}
	return n, nil
}

func (r *Badger) WriteAt(b []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(b)) > r.size {
		return 0, fmt.Errorf("%w: write of %d at %d, size %d", ErrOutOfRange, len(b), off, r.size)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, ErrClosed
	}

	txn := r.db.NewTransaction(true)
	defer func() { txn.Discard() }()

	n := 0
	for n < len(b) {
		pos := off + int64(n)
		block := pos / BlockSize
		blk := make([]byte, BlockSize)
		if err := r.loadBlock(txn, block, blk); err != nil {
			return 0, fmt.Errorf("region: badger write %s: %w", r.name, err)
		}
		c := copy(blk[pos%BlockSize:], b[n:])

		err := txn.Set(r.key(block), blk)
		if errors.Is(err, badger.ErrTxnTooBig) {
			if err = txn.Commit(); err == nil {
				txn = r.db.NewTransaction(true)
				err = txn.Set(r.key(block), blk)
			}
		}
		if err != nil {
			return 0, fmt.Errorf("region: badger write %s: %w", r.name, err)
		}
		n += c
	}
	if err := txn.Commit(); err != nil {
		return 0, fmt.Errorf("region: badger commit %s: %w", r.name, err)
	}
	return n, nil
}

// Sync makes committed writes durable.
func (r *Badger) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if err := r.db.Sync(); err != nil {
		return fmt.Errorf("region: badger sync %s: %w", r.name, err)
	}
	return nil
}

// Close closes the database if the region owns it.
func (r *Badger) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.ownsDB {
		return r.db.Close()
	}
	return nil
}
