package appwd

import (
	"bytes"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/joshuapare/knvram/knvram"
)

// TimeoutKind selects one of a device's run-time adjustable timeouts.
type TimeoutKind int

const (
	TimeoutKeepalive TimeoutKind = iota
	TimeoutRestart
	TimeoutRecover
)

func (k TimeoutKind) String() string {
	switch k {
	case TimeoutKeepalive:
		return "keepalive"
	case TimeoutRestart:
		return "restart"
	case TimeoutRecover:
		return "recover"
	}
	return fmt.Sprintf("TimeoutKind(%d)", int(k))
}

// Session is an open watchdog device.
type Session struct {
	d      *Device
	closed atomic.Bool
}

// Device returns the device the session is open on.
func (s *Session) Device() *Device { return s.d }

func (s *Session) usable() error {
	if s.closed.Load() {
		return fmt.Errorf("%w: session on %s is closed", knvram.ErrInvalidArgument, s.d.cfg.Name)
	}
	return nil
}

// Write counts as a keepalive when p is non-empty. A 'V' anywhere in p arms
// magic close instead, unless the device is configured with NoWayOut.
func (s *Session) Write(p []byte) (int, error) {
	if err := s.usable(); err != nil {
		return 0, err
	}
	if len(p) > 0 {
		s.d.keepalive(bytes.IndexByte(p, 'V') >= 0)
	}
	return len(p), nil
}

// Keepalive pets the watchdog.
func (s *Session) Keepalive() error {
	if err := s.usable(); err != nil {
		return err
	}
	s.d.keepalive(false)
	return nil
}

// Status returns the status flags and clears StatusKeepalivePing.
func (s *Session) Status() uint32 {
	d := s.d
	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.status
	d.status &^= StatusKeepalivePing
	return st
}

// BootStatus returns the configured boot status flags.
func (s *Session) BootStatus() uint32 { return s.d.cfg.BootStatus }

// Support returns the device identity and the options it supports.
func (s *Session) Support() Info {
	return Info{
		Options:  OptionSetTimeout | OptionKeepalivePing | OptionMagicClose,
		Identity: Identity,
	}
}

func (d *Device) timeoutVar(kind TimeoutKind) (*atomic.Int64, error) {
	switch kind {
	case TimeoutKeepalive:
		return &d.keepaliveTimeout, nil
	case TimeoutRestart:
		return &d.restartTimeout, nil
	case TimeoutRecover:
		return &d.recoverTimeout, nil
	}
	return nil, fmt.Errorf("%w: timeout kind %d", knvram.ErrInvalidArgument, int(kind))
}

// Timeout returns the current value of a timeout.
func (s *Session) Timeout(kind TimeoutKind) (time.Duration, error) {
	v, err := s.d.timeoutVar(kind)
	if err != nil {
		return 0, err
	}
	return time.Duration(v.Load()), nil
}

// SetTimeout changes a timeout, truncated to whole milliseconds, and returns
// the value in effect. The new value applies the next time the timer is
// armed.
func (s *Session) SetTimeout(kind TimeoutKind, t time.Duration) (time.Duration, error) {
	if err := s.usable(); err != nil {
		return 0, err
	}
	if t < 0 {
		return 0, fmt.Errorf("%w: negative %s timeout", knvram.ErrInvalidArgument, kind)
	}
	v, err := s.d.timeoutVar(kind)
	if err != nil {
		return 0, err
	}
	t = t.Truncate(time.Millisecond)
	v.Store(int64(t))
	s.d.log.Info("timeout changed", "timeout", kind.String(), "value", t)
	return t, nil
}

// Close ends the session. Unless magic close was armed, the device starts
// its recover timer. Closing twice fails with knvram.ErrInvalidArgument.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: session on %s already closed", knvram.ErrInvalidArgument, s.d.cfg.Name)
	}
	d := s.d
	d.mu.Lock()
	d.w.Queue(d.handleClose)
	d.open = false
	d.mu.Unlock()
	d.log.Debug("closed")
	return nil
}
