package knvram

import "fmt"

// Begin opens an explicit transaction. Writes are then collected in the
// transaction buffer and reads see them, until Commit or Abort.
//
// It fails with ErrPermissionDenied without transactions and with ErrBusy
// when this or another handle already has a transaction open.
func (h *Handle) Begin() error {
	err := h.begin()
	observe(h.p.name, "begin", err)
	return err
}

func (h *Handle) begin() error {
	if err := h.usable(); err != nil {
		return err
	}
	p := h.p
	if err := lockMutex(&p.txMu, h.nonblock()); err != nil {
		return err
	}
	defer p.txMu.Unlock()

	if p.tx == nil {
		return fmt.Errorf("%w: %s has no transactions", ErrPermissionDenied, p.name)
	}
	if h.InTransaction() {
		return fmt.Errorf("%w: transaction already open", ErrBusy)
	}
	return p.startLocked(h)
}

// startLocked makes h the transaction owner with an empty dirty range.
// Caller holds txMu.
func (p *Partition) startLocked(h *Handle) error {
	if p.txOwner != nil && p.txOwner != h {
		return fmt.Errorf("%w: %s has a transaction open on handle %s", ErrBusy, p.name, p.txOwner.id)
	}
	p.txOwner = h
	p.dirty.Reset()
	h.setFlags(FlagTransaction)
	return nil
}

// endLocked drops the transaction of h. Caller holds txMu.
func (p *Partition) endLocked(h *Handle) {
	h.clearFlags(FlagTransaction)
	p.txOwner = nil
	p.dirty.Reset()
}

// Abort discards the open transaction. Without one it does nothing.
func (h *Handle) Abort() error {
	if err := h.usable(); err != nil {
		return err
	}
	err := h.abort()
	observe(h.p.name, "abort", err)
	return err
}

func (h *Handle) abort() error {
	p := h.p
	if err := lockMutex(&p.txMu, h.nonblock()); err != nil {
		return err
	}
	defer p.txMu.Unlock()

	if p.tx == nil {
		return fmt.Errorf("%w: %s has no transactions", ErrPermissionDenied, p.name)
	}
	if !h.InTransaction() {
		return nil
	}
	p.endLocked(h)
	return nil
}

// Commit copies the dirty range of the open transaction into shadow and ends
// the transaction. A transaction without writes ends like Abort. Without an
// open transaction Commit does nothing.
//
// When a NONBLOCK handle cannot take the shadow lock, Commit fails with
// ErrWouldBlock and the transaction stays open.
func (h *Handle) Commit() error {
	err := h.commit()
	observe(h.p.name, "commit", err)
	return err
}

func (h *Handle) commit() error {
	if err := h.usable(); err != nil {
		return err
	}
	p := h.p
	if err := lockMutex(&p.txMu, h.nonblock()); err != nil {
		return err
	}
	defer p.txMu.Unlock()

	if p.tx == nil {
		return fmt.Errorf("%w: %s has no transactions", ErrPermissionDenied, p.name)
	}
	if !h.InTransaction() {
		return nil
	}

	r, ok := p.dirty.Range()
	if !ok {
		p.endLocked(h)
		return nil
	}

	if err := writeLock(&p.shadowMu, h.nonblock()); err != nil {
		return err
	}
	copy(p.shadow[r.Bottom:r.Top+1], p.tx[r.Bottom:r.Top+1])
	p.shadowMu.Unlock()

	commitBytesTotal.WithLabelValues(p.name).Add(float64(r.Len()))
	p.log.Debug("committed", "handle", h.id, "bottom", r.Bottom, "top", r.Top)
	p.endLocked(h)
	return nil
}
