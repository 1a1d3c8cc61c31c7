// Package wdt provides hardware watchdog timers for the appwd heartbeat.
package wdt

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
)

// Dummy is a timer without hardware. It only counts and logs keepalives.
type Dummy struct {
	log *slog.Logger
	n   atomic.Uint64
}

// NewDummy returns a Dummy logging through log.
func NewDummy(log *slog.Logger) *Dummy {
	return &Dummy{log: log}
}

func (d *Dummy) Keepalive() error {
	n := d.n.Add(1)
	d.log.Debug("dummy watchdog keepalive", "count", n)
	return nil
}

// Count returns the number of keepalives so far.
func (d *Dummy) Count() uint64 { return d.n.Load() }

// File is a Linux watchdog device node such as /dev/watchdog. Every write
// counts as a keepalive.
type File struct {
	mu sync.Mutex
	f  *os.File
}

// OpenFile opens the watchdog device at path. Opening it starts the hardware
// timer.
func OpenFile(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("wdt: open %s: %w", path, err)
	}
	return &File{f: f}, nil
}

func (w *File) Keepalive() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.f.Write([]byte{0}); err != nil {
		return fmt.Errorf("wdt: keepalive %s: %w", w.f.Name(), err)
	}
	return nil
}

// Close disarms the timer with a magic close, if the driver allows it, and
// closes the device.
func (w *File) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, werr := w.f.Write([]byte("V"))
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("wdt: close %s: %w", w.f.Name(), err)
	}
	if werr != nil {
		return fmt.Errorf("wdt: magic close %s: %w", w.f.Name(), werr)
	}
	return nil
}

// GPIO is an external watchdog fed by toggling a GPIO line through its sysfs
// value file.
type GPIO struct {
	mu    sync.Mutex
	f     *os.File
	level bool
}

// OpenGPIO opens the value file of an exported output GPIO, for example
// /sys/class/gpio/gpio42/value.
func OpenGPIO(path string) (*GPIO, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("wdt: open %s: %w", path, err)
	}
	return &GPIO{f: f}, nil
}

// Keepalive flips the line.
func (g *GPIO) Keepalive() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	v := []byte("0")
	if !g.level {
		v[0] = '1'
	}
	if _, err := g.f.WriteAt(v, 0); err != nil {
		return fmt.Errorf("wdt: toggle %s: %w", g.f.Name(), err)
	}
	g.level = !g.level
	return nil
}

func (g *GPIO) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.f.Close()
}
