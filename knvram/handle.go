package knvram

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Handle is one open session on a partition. Its flags parameterize every
// operation. A handle is meant to be used by one goroutine at a time; the
// partition serializes handles against each other.
type Handle struct {
	p      *Partition
	id     uuid.UUID
	flags  atomic.Uint32
	closed atomic.Bool
}

func newHandle(p *Partition, flags Flags) *Handle {
	h := &Handle{p: p, id: uuid.New()}
	h.flags.Store(uint32(flags))
	return h
}

// Partition returns the partition the handle was opened on.
func (h *Handle) Partition() *Partition { return h.p }

// ID identifies the handle in logs.
func (h *Handle) ID() uuid.UUID { return h.id }

// Flags returns the current handle flags.
func (h *Handle) Flags() Flags { return Flags(h.flags.Load()) }

// InTransaction reports whether the handle has a transaction open.
func (h *Handle) InTransaction() bool { return h.Flags().Has(FlagTransaction) }

func (h *Handle) nonblock() bool { return h.Flags().Has(FlagNonblock) }

func (h *Handle) setFlags(f Flags)   { h.flags.Or(uint32(f)) }
func (h *Handle) clearFlags(f Flags) { h.flags.And(^uint32(f)) }

func (h *Handle) usable() error {
	if h.closed.Load() {
		return fmt.Errorf("%w: handle %s is closed", ErrInvalidArgument, h.id)
	}
	return nil
}

// AutoT reports whether writes implicitly open a transaction.
func (h *Handle) AutoT() bool { return h.Flags().Has(FlagAutoT) }

// SetAutoT toggles implicit transactions. Enabling it on a partition without
// transactions fails with ErrPermissionDenied.
func (h *Handle) SetAutoT(on bool) error {
	if err := h.usable(); err != nil {
		return err
	}
	if !on {
		h.clearFlags(FlagAutoT)
		return nil
	}
	if !h.p.Transactional() {
		return fmt.Errorf("%w: %s has no transactions", ErrPermissionDenied, h.p.name)
	}
	h.setFlags(FlagAutoT)
	return nil
}

// Sync writes the partition's shadow buffer to the backend.
func (h *Handle) Sync() error {
	if err := h.usable(); err != nil {
		return err
	}
	return h.p.Sync()
}

// Close ends the handle. An open transaction is aborted. Closing the last
// handle of a partition syncs it; a failed sync is logged, not returned.
// Closing twice fails with ErrInvalidArgument.
func (h *Handle) Close() error {
	err := h.close()
	observe(h.p.name, "close", err)
	return err
}

func (h *Handle) close() error {
	p := h.p
	if err := lockMutex(&p.openMu, h.nonblock()); err != nil {
		return err
	}
	defer p.openMu.Unlock()

	if h.closed.Load() {
		return fmt.Errorf("%w: handle %s is closed", ErrInvalidArgument, h.id)
	}

	if p.Transactional() {
		if err := h.abort(); err != nil {
			return err
		}
	}

	if h.Flags().Has(FlagWrite) {
		p.writer = false
	}
	p.handles--
	h.closed.Store(true)
	openHandles.WithLabelValues(p.name).Dec()
	p.log.Debug("closed", "handle", h.id, "handles", p.handles)

	if p.handles == 0 {
		if err := p.Sync(); err != nil {
			p.log.Warn("sync on last close failed", "error", err)
		}
	}
	return nil
}
