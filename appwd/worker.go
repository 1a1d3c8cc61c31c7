package appwd

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Worker runs events one at a time in submission order. Every state machine
// transition and every heartbeat runs on the monitor's worker, so handlers
// never race with each other.
type Worker struct {
	log  *slog.Logger
	mu   sync.Mutex
	q    []func()
	wake chan struct{}
}

// NewWorker returns an idle worker. Events queue up until Run is called.
func NewWorker(log *slog.Logger) *Worker {
	return &Worker{log: log, wake: make(chan struct{}, 1)}
}

// Queue appends fn to the event queue. It never blocks, so handlers running on
// the worker may queue further events.
func (w *Worker) Queue(fn func()) {
	w.mu.Lock()
	w.q = append(w.q, fn)
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Worker) next() (func(), bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.q) == 0 {
		return nil, false
	}
	fn := w.q[0]
	w.q[0] = nil
	w.q = w.q[1:]
	return fn, true
}

func (w *Worker) pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.q)
}

// Run processes events until ctx is cancelled. Events still queued at that
// point are left unprocessed.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Debug("worker started")
	for {
		if ctx.Err() != nil {
			w.log.Debug("worker stopped", "pending", w.pending())
			return ctx.Err()
		}
		if fn, ok := w.next(); ok {
			fn()
			continue
		}
		select {
		case <-ctx.Done():
		case <-w.wake:
		}
	}
}

// Drain waits until the queue is empty, including events queued by the
// handlers that ran while waiting. Run must be active.
func (w *Worker) Drain(ctx context.Context) error {
	for {
		done := make(chan bool, 1)
		w.Queue(func() { done <- w.pending() == 0 })
		select {
		case empty := <-done:
			if empty {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// delayed is a cancellable timer whose expiry is delivered as an event on a
// worker. Every Start and Cancel bumps a generation; an expiry event carrying
// an older generation is stale and handed to onStale instead of fn.
type delayed struct {
	name    string
	w       *Worker
	clock   Clock
	fn      func()
	onStale func(name string)

	mu    sync.Mutex
	gen   uint64
	armed bool
	t     Timer
}

func newDelayed(name string, w *Worker, clock Clock, fn func(), onStale func(string)) *delayed {
	return &delayed{name: name, w: w, clock: clock, fn: fn, onStale: onStale}
}

// Start (re)arms the timer. A delay of zero or less queues the expiry at once.
func (d *delayed) Start(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
	d.gen++
	d.armed = true
	gen := d.gen
	if delay <= 0 {
		d.w.Queue(func() { d.fire(gen) })
		return
	}
	d.t = d.clock.AfterFunc(delay, func() {
		d.w.Queue(func() { d.fire(gen) })
	})
}

// Cancel disarms the timer and reports whether it was armed.
func (d *delayed) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	was := d.armed
	d.stopLocked()
	d.gen++
	d.armed = false
	return was
}

// Pending reports whether the timer is armed and has not yet run.
func (d *delayed) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.armed
}

func (d *delayed) stopLocked() {
	if d.t != nil {
		d.t.Stop()
		d.t = nil
	}
}

func (d *delayed) fire(gen uint64) {
	d.mu.Lock()
	stale := gen != d.gen || !d.armed
	if !stale {
		d.armed = false
		d.t = nil
	}
	d.mu.Unlock()

	if stale {
		if d.onStale != nil {
			d.onStale(d.name)
		}
		return
	}
	d.fn()
}
