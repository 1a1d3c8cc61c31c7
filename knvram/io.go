package knvram

import "fmt"

// clip bounds a transfer of n bytes at off to the partition. An offset equal
// to the size yields 0 bytes; anything past it is invalid.
func (p *Partition) clip(off int64, n int) (int, error) {
	if off < 0 || off > p.size {
		return 0, fmt.Errorf("%w: offset %d outside %s (size %d)", ErrInvalidArgument, off, p.name, p.size)
	}
	if rem := p.size - off; int64(n) > rem {
		n = int(rem)
	}
	return n, nil
}

// Read copies up to len(b) bytes at off into b and returns the count. Reads
// are truncated at the end of the partition; at exactly the end 0 bytes are
// returned. Inside a transaction the dirty range is served from the
// transaction buffer, so the handle sees its own uncommitted writes.
func (h *Handle) Read(b []byte, off int64) (int, error) {
	n, err := h.read(b, off)
	observe(h.p.name, "read", err)
	return n, err
}

func (h *Handle) read(b []byte, off int64) (int, error) {
	if err := h.usable(); err != nil {
		return 0, err
	}
	p := h.p
	n, err := p.clip(off, len(b))
	if err != nil || n == 0 {
		return 0, err
	}
	dst := b[:n]
	nonblock := h.nonblock()

	if !h.InTransaction() {
		if err := readLock(&p.shadowMu, nonblock); err != nil {
			return 0, err
		}
		copy(dst, p.shadow[off:off+int64(n)])
		p.shadowMu.RUnlock()
		return n, nil
	}

	if err := lockMutex(&p.txMu, nonblock); err != nil {
		return 0, err
	}
	defer p.txMu.Unlock()
	if err := readLock(&p.shadowMu, nonblock); err != nil {
		return 0, err
	}
	defer p.shadowMu.RUnlock()

	before, inside, after := p.dirty.Split(off, int64(n))
	copy(dst[before.Off-off:before.End()-off], p.shadow[before.Off:before.End()])
	copy(dst[inside.Off-off:inside.End()-off], p.tx[inside.Off:inside.End()])
	copy(dst[after.Off-off:after.End()-off], p.shadow[after.Off:after.End()])
	return n, nil
}

// Write copies up to len(b) bytes from b to off and returns the count.
// Writes are truncated at the end of the partition; at exactly the end 0
// bytes are written. The handle must have been opened with FlagWrite.
//
// Inside a transaction, or with FlagAutoT which opens one implicitly, the
// bytes go to the transaction buffer and shadow is unchanged until Commit.
// Otherwise they go straight to shadow.
func (h *Handle) Write(b []byte, off int64) (int, error) {
	n, err := h.write(b, off)
	observe(h.p.name, "write", err)
	return n, err
}

func (h *Handle) write(b []byte, off int64) (int, error) {
	if err := h.usable(); err != nil {
		return 0, err
	}
	p := h.p
	flags := h.Flags()
	if !flags.Has(FlagWrite) {
		return 0, fmt.Errorf("%w: handle %s is read-only", ErrPermissionDenied, h.id)
	}
	n, err := p.clip(off, len(b))
	if err != nil || n == 0 {
		return 0, err
	}
	src := b[:n]
	nonblock := flags.Has(FlagNonblock)

	if flags&(FlagTransaction|FlagAutoT) == 0 {
		if err := writeLock(&p.shadowMu, nonblock); err != nil {
			return 0, err
		}
		copy(p.shadow[off:], src)
		p.shadowMu.Unlock()
		return n, nil
	}

	if err := lockMutex(&p.txMu, nonblock); err != nil {
		return 0, err
	}
	defer p.txMu.Unlock()

	if p.tx == nil {
		return 0, fmt.Errorf("%w: %s has no transactions", ErrPermissionDenied, p.name)
	}
	if !h.InTransaction() {
		if err := p.startLocked(h); err != nil {
			return 0, err
		}
	}
	if err := p.writeTxLocked(src, off, nonblock); err != nil {
		return 0, err
	}
	return n, nil
}

// writeTxLocked backfills the widened dirty range from shadow and applies the
// write to the transaction buffer. Caller holds txMu.
func (p *Partition) writeTxLocked(src []byte, off int64, nonblock bool) error {
	next, fills := p.dirty.Extend(off, int64(len(src)))
	if len(fills) > 0 {
		if err := readLock(&p.shadowMu, nonblock); err != nil {
			return err
		}
		for _, f := range fills {
			copy(p.tx[f.Off:f.End()], p.shadow[f.Off:f.End()])
		}
		p.shadowMu.RUnlock()
	}
	copy(p.tx[off:], src)
	p.dirty.Set(next)
	return nil
}
