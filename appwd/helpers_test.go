package appwd

import (
	"context"
	"sort"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/knvram/rste"
)

type fakeTimer struct {
	c       *fakeClock
	when    time.Time
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// fakeClock only moves when Advance is called. Due callbacks run
// synchronously inside Advance.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, when: c.now.Add(d), d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.when.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].when.Before(due[j].when) })
	for _, t := range due {
		t.f()
	}
}

// pending counts armed timers created with delay d.
func (c *fakeClock) pending(d time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if t.d == d && !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type signal struct {
	pid int
	sig syscall.Signal
}

// recorder stands in for the system: it records signals, restarts and reset
// causes.
type recorder struct {
	mu       sync.Mutex
	signals  []signal
	restarts int
	causes   []rste.Cause
}

func (r *recorder) Signal(pid int, sig syscall.Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, signal{pid, sig})
	return nil
}

func (r *recorder) Restart() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.restarts++
	return nil
}

func (r *recorder) Cause(c rste.Cause) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.causes = append(r.causes, c)
	return nil
}

func (r *recorder) Signals() []signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]signal(nil), r.signals...)
}

func (r *recorder) Causes() []rste.Cause {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]rste.Cause(nil), r.causes...)
}

func (r *recorder) Restarts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.restarts
}

type countingWDT struct {
	mu  sync.Mutex
	n   int
	err error
}

func (w *countingWDT) Keepalive() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.n++
	return w.err
}

func (w *countingWDT) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}

const (
	testKeepalive = 1 * time.Second
	testRestart   = 2 * time.Second
	testRecover   = 3 * time.Second
	testInit      = 5 * time.Second
	testBoot      = 10 * time.Second
	testReboot    = 20 * time.Second
)

func testConfig() Config {
	return Config{
		BootTimeout:   testBoot,
		RebootTimeout: testReboot,
		Devices: []DeviceConfig{{
			InitTimeout:      testInit,
			KeepaliveTimeout: testKeepalive,
			RestartTimeout:   testRestart,
			RecoverTimeout:   testRecover,
		}},
	}
}

type harness struct {
	t   *testing.T
	m   *Monitor
	clk *fakeClock
	rec *recorder
}

func setupMonitor(t *testing.T, cfg Config) *harness {
	t.Helper()
	clk := newFakeClock()
	rec := &recorder{}
	m, err := NewMonitor(cfg, Options{Clock: clk, Signaler: rec, Rebooter: rec, Causes: rec})
	require.NoError(t, err)
	startWorker(t, m.w)
	return &harness{t: t, m: m, clk: clk, rec: rec}
}

func startWorker(t *testing.T, w *Worker) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (h *harness) drain() {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(h.t, h.m.Drain(ctx))
}

// step advances the clock and waits for the resulting events.
func (h *harness) step(d time.Duration) {
	h.t.Helper()
	h.clk.Advance(d)
	h.drain()
}

func (h *harness) device() *Device {
	h.t.Helper()
	d, err := h.m.Device("watchdog0")
	require.NoError(h.t, err)
	return d
}

// active boots the monitor and opens watchdog0 for pid.
func (h *harness) active(pid int) *Session {
	h.t.Helper()
	h.m.BootDone()
	h.drain()
	s, err := h.device().Open(pid)
	require.NoError(h.t, err)
	h.drain()
	require.Equal(h.t, DeviceActive, h.device().State())
	return s
}
