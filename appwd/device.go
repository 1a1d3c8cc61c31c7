package appwd

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joshuapare/knvram/knvram"
)

// DeviceState is the state of a watchdog device.
type DeviceState int32

const (
	DeviceInit DeviceState = iota
	DeviceReady
	DeviceActive
	DeviceMagic
	DeviceLate
	DeviceRestart
	DeviceDying
	DeviceRecover
	DeviceDead
)

var deviceStateNames = [...]string{
	DeviceInit:    "INIT",
	DeviceReady:   "READY",
	DeviceActive:  "ACTIVE",
	DeviceMagic:   "MAGIC",
	DeviceLate:    "LATE",
	DeviceRestart: "RESTART",
	DeviceDying:   "DYING",
	DeviceRecover: "RECOVER",
	DeviceDead:    "DEAD",
}

func (s DeviceState) String() string {
	if s >= 0 && int(s) < len(deviceStateNames) {
		return deviceStateNames[s]
	}
	return fmt.Sprintf("DeviceState(%d)", int32(s))
}

// Status and option bits, as defined by the Linux watchdog API.
const (
	OptionSetTimeout    = 0x0080
	OptionMagicClose    = 0x0100
	OptionKeepalivePing = 0x8000

	// StatusKeepalivePing is set in Status after a keepalive and cleared
	// when Status is read.
	StatusKeepalivePing = OptionKeepalivePing

	// BootStatusCardReset reports that the previous reset was caused by the
	// watchdog.
	BootStatusCardReset = 0x0020
)

// Identity is the identity string reported by Support.
const Identity = "Appliance Watchdog"

// Info describes a watchdog device to its client.
type Info struct {
	Options         uint32
	FirmwareVersion uint32
	Identity        string
}

// DeviceConfig configures one watchdog device. An empty Name is replaced by
// watchdog<N>, N being the device's index.
type DeviceConfig struct {
	Name string

	// InitTimeout is how long after boot-done the device may stay unopened.
	// Zero disables the check.
	InitTimeout time.Duration

	// KeepaliveTimeout is the longest allowed gap between keepalives.
	KeepaliveTimeout time.Duration

	// RestartTimeout is how long the owner has after SIGHUP before it is
	// killed.
	RestartTimeout time.Duration

	// RecoverTimeout is how long a closed or killed owner has to reopen the
	// device before the monitor reboots the system.
	RecoverTimeout time.Duration

	// NoWayOut disables magic close.
	NoWayOut bool

	// BootStatus is reported by BootStatus, e.g. BootStatusCardReset after
	// a watchdog reset.
	BootStatus uint32
}

// Device is one watchdog device supervising one application. Its state
// machine runs on the monitor's worker. Open hands out a Session, at most one
// at a time.
type Device struct {
	cfg    DeviceConfig
	w      *Worker
	sig    Signaler
	failed func()
	log    *slog.Logger
	proto  func(event, state string)

	state atomic.Int32

	keepaliveTimeout atomic.Int64
	restartTimeout   atomic.Int64
	recoverTimeout   atomic.Int64

	mu     sync.Mutex
	open   bool
	pid    int
	status uint32

	initTimer      *delayed
	keepaliveTimer *delayed
	restartTimer   *delayed
	recoverTimer   *delayed
}

func newDevice(cfg DeviceConfig, m *Monitor) *Device {
	d := &Device{
		cfg:    cfg,
		w:      m.w,
		sig:    m.sig,
		failed: m.deviceFailed,
		log:    m.log.With("device", cfg.Name),
	}
	d.proto = func(event, state string) { m.protocolError("wdd", d.cfg.Name, event, state) }
	d.keepaliveTimeout.Store(int64(cfg.KeepaliveTimeout))
	d.restartTimeout.Store(int64(cfg.RestartTimeout))
	d.recoverTimeout.Store(int64(cfg.RecoverTimeout))

	stale := func(timer string) { d.proto("stale_"+timer, d.State().String()) }
	d.initTimer = newDelayed("init_timeout", m.w, m.clock, d.initTimeout, stale)
	d.keepaliveTimer = newDelayed("keepalive_timeout", m.w, m.clock, d.keepaliveExpired, stale)
	d.restartTimer = newDelayed("restart_timeout", m.w, m.clock, d.restartExpired, stale)
	d.recoverTimer = newDelayed("recover_timeout", m.w, m.clock, d.recoverExpired, stale)
	deviceState.WithLabelValues(cfg.Name).Set(float64(DeviceInit))
	return d
}

// Name returns the device name.
func (d *Device) Name() string { return d.cfg.Name }

// Config returns the configuration the device was created with.
func (d *Device) Config() DeviceConfig { return d.cfg }

// State returns the current state. Events still queued on the worker are not
// reflected.
func (d *Device) State() DeviceState { return DeviceState(d.state.Load()) }

func (d *Device) setState(to DeviceState) {
	from := d.State()
	d.state.Store(int32(to))
	transitionsTotal.WithLabelValues("wdd", from.String(), to.String()).Inc()
	deviceState.WithLabelValues(d.cfg.Name).Set(float64(to))
	d.log.Debug("state change", "from", from, "to", to)
}

func (d *Device) owner() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pid
}

func (d *Device) kill(sig syscall.Signal) {
	pid := d.owner()
	if pid <= 0 {
		d.log.Warn("no owner to signal", "signal", sig)
		return
	}
	if err := d.sig.Signal(pid, sig); err != nil {
		d.log.Error("signal owner failed", "pid", pid, "signal", sig, "error", err)
	}
}

// startInit arms the init timer. The monitor calls it on boot-done.
func (d *Device) startInit() {
	if d.cfg.InitTimeout <= 0 || d.State() != DeviceInit {
		return
	}
	d.log.Info("init timeout armed", "timeout", d.cfg.InitTimeout)
	d.initTimer.Start(d.cfg.InitTimeout)
}

func (d *Device) armKeepalive() {
	d.keepaliveTimer.Start(time.Duration(d.keepaliveTimeout.Load()))
}

func (d *Device) handleOpen() {
	switch s := d.State(); s {
	case DeviceInit, DeviceReady:
		d.setState(DeviceActive)
		d.armKeepalive()
	case DeviceRestart:
		d.log.Info("restart success")
		d.setState(DeviceActive)
		d.restartTimer.Cancel()
		d.armKeepalive()
	case DeviceRecover:
		d.log.Info("recover success")
		d.setState(DeviceActive)
		d.recoverTimer.Cancel()
		d.armKeepalive()
	default:
		d.proto("open", s.String())
	}
}

func (d *Device) handleClose() {
	switch s := d.State(); s {
	case DeviceActive:
		timeout := time.Duration(d.recoverTimeout.Load())
		d.log.Warn("closed without magic", "recover_timeout", timeout)
		d.setState(DeviceRecover)
		d.keepaliveTimer.Cancel()
		d.recoverTimer.Start(timeout)
	case DeviceMagic:
		d.log.Warn("closed with magic")
		d.setState(DeviceReady)
		d.keepaliveTimer.Cancel()
	case DeviceLate:
		d.setState(DeviceRestart)
	case DeviceDying:
		d.setState(DeviceRecover)
	default:
		d.proto("close", s.String())
	}
}

func (d *Device) handleKeepalive() {
	switch s := d.State(); s {
	case DeviceActive:
		d.armKeepalive()
	case DeviceMagic:
		d.setState(DeviceActive)
		d.armKeepalive()
	case DeviceLate, DeviceDying, DeviceDead:
		d.log.Debug("late keepalive", "state", s)
	default:
		d.proto("keepalive", s.String())
	}
}

func (d *Device) handleMagic() {
	switch s := d.State(); s {
	case DeviceActive:
		d.setState(DeviceMagic)
		d.armKeepalive()
	case DeviceMagic:
		d.armKeepalive()
	case DeviceLate, DeviceDying, DeviceDead:
		d.log.Debug("late magic", "state", s)
	default:
		d.proto("magic", s.String())
	}
}

func (d *Device) keepaliveExpired() {
	switch s := d.State(); s {
	case DeviceActive, DeviceMagic:
		timeout := time.Duration(d.restartTimeout.Load())
		d.log.Warn("keepalive timeout", "restart_timeout", timeout)
		d.setState(DeviceLate)
		d.kill(syscall.SIGHUP)
		d.restartTimer.Start(timeout)
	default:
		d.proto("keepalive_timeout", s.String())
	}
}

func (d *Device) restartExpired() {
	var next DeviceState
	switch s := d.State(); s {
	case DeviceLate:
		next = DeviceDying
	case DeviceRestart:
		next = DeviceRecover
	default:
		d.proto("restart_timeout", s.String())
		return
	}
	timeout := time.Duration(d.recoverTimeout.Load())
	d.log.Warn("restart timeout", "recover_timeout", timeout)
	d.setState(next)
	d.kill(syscall.SIGKILL)
	d.recoverTimer.Start(timeout)
}

func (d *Device) recoverExpired() {
	switch s := d.State(); s {
	case DeviceDying, DeviceRecover:
		d.log.Error("recover timeout")
		d.setState(DeviceDead)
		d.failed()
	default:
		d.proto("recover_timeout", s.String())
	}
}

func (d *Device) initTimeout() {
	switch s := d.State(); s {
	case DeviceInit:
		d.log.Error("init timeout")
		d.setState(DeviceDead)
		d.failed()
	default:
		d.proto("init_timeout", s.String())
	}
}

// Open starts a session for the process pid, which receives SIGHUP and
// SIGKILL when it stops sending keepalives. Only one session may be open at a
// time; a second Open fails with knvram.ErrBusy.
func (d *Device) Open(pid int) (*Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open {
		return nil, fmt.Errorf("%w: %s already open", knvram.ErrBusy, d.cfg.Name)
	}
	d.open = true
	d.pid = pid
	d.initTimer.Cancel()
	d.w.Queue(d.handleOpen)
	d.log.Debug("opened", "pid", pid)
	return &Session{d: d}, nil
}

func (d *Device) keepalive(magic bool) {
	d.mu.Lock()
	d.status |= StatusKeepalivePing
	d.mu.Unlock()
	if magic && !d.cfg.NoWayOut {
		d.w.Queue(d.handleMagic)
	} else {
		d.w.Queue(d.handleKeepalive)
	}
}
