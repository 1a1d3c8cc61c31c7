package knvram

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/joshuapare/knvram/internal/logger"
)

// syncConcurrency bounds the number of partitions synced in parallel.
const syncConcurrency = 4

// Registry is the process-wide set of partitions. It is safe for concurrent
// use.
type Registry struct {
	mu    sync.RWMutex
	parts []*Partition
	log   *slog.Logger
}

// NewRegistry creates an empty registry. A nil log uses the package logger.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = logger.Component("knvram")
	}
	return &Registry{log: log}
}

// Add allocates and registers a partition, filling its shadow buffer from the
// backend. Names must be unique (ErrBusy otherwise). On failure nothing is
// registered.
func (r *Registry) Add(cfg Config) (*Partition, error) {
	if cfg.Name == "" || len(cfg.Name) > MaxNameLen {
		return nil, fmt.Errorf("%w: partition name %q", ErrInvalidArgument, cfg.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lookupLocked(cfg.Name) != nil {
		return nil, fmt.Errorf("%w: partition %q exists", ErrBusy, cfg.Name)
	}

	p, err := newPartition(cfg, r.log)
	if err != nil {
		return nil, err
	}
	r.parts = append(r.parts, p)
	r.log.Info("partition added",
		"partition", p.name, "size", p.size, "pagesize", p.PageSize(), "readonly", p.readOnly)
	return p, nil
}

// Delete unregisters p. The caller must hold p's lock (see Partition.Lock);
// later opens of p fail with ErrNotFound.
func (r *Registry) Delete(p *Partition) {
	r.mu.Lock()
	r.parts = slices.DeleteFunc(r.parts, func(q *Partition) bool { return q == p })
	r.mu.Unlock()

	p.removed = true
	openHandles.DeleteLabelValues(p.name)
	r.log.Info("partition removed", "partition", p.name)
}

// Remove locks, unregisters and unlocks the named partition. It fails with
// ErrBusy while the partition has open handles.
func (r *Registry) Remove(name string) error {
	p, err := r.Lookup(name)
	if err != nil {
		return err
	}
	if err := p.Lock(); err != nil {
		return err
	}
	r.Delete(p)
	p.Unlock()
	return nil
}

// Lookup returns the partition with the given name.
func (r *Registry) Lookup(name string) (*Partition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p := r.lookupLocked(name); p != nil {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

func (r *Registry) lookupLocked(name string) *Partition {
	for _, p := range r.parts {
		if p.name == name {
			return p
		}
	}
	return nil
}

// Open looks up a partition by name and opens a handle on it. Names longer
// than MaxNameLen fail with ErrInvalidArgument.
func (r *Registry) Open(name string, flags Flags) (*Handle, error) {
	if len(name) > MaxNameLen {
		return nil, fmt.Errorf("%w: partition name %q too long", ErrInvalidArgument, name)
	}
	p, err := r.Lookup(name)
	if err != nil {
		r.log.Warn("partition not found", "partition", name)
		return nil, err
	}
	return p.Open(flags)
}

// Partitions returns the registered partitions in registration order.
func (r *Registry) Partitions() []*Partition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.parts)
}

// SyncAll syncs every partition. Each failure is logged; all of them are
// returned together.
func (r *Registry) SyncAll(ctx context.Context) error {
	var (
		mu   sync.Mutex
		errs *multierror.Error
	)

	var g errgroup.Group
	g.SetLimit(syncConcurrency)
	for _, p := range r.Partitions() {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			if err := p.Sync(); err != nil {
				r.log.Error("sync of partition failed", "partition", p.name, "error", err)
				mu.Lock()
				errs = multierror.Append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		mu.Lock()
		errs = multierror.Append(errs, err)
		mu.Unlock()
	}
	return errs.ErrorOrNil()
}
