package appwd

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joshuapare/knvram/internal/logger"
	"github.com/joshuapare/knvram/knvram"
	"github.com/joshuapare/knvram/rste"
)

// MaxTimers is the number of hardware watchdog timers a monitor can feed.
const MaxTimers = 4

// InitPID is the process signalled for a graceful reboot.
const InitPID = 1

const (
	protocolLogInterval = 10 * time.Second
	protocolLogBurst    = 5
)

// MonitorState is the state of the watchdog monitor.
type MonitorState int32

const (
	MonitorBoot MonitorState = iota
	MonitorActive
	MonitorReboot
	MonitorZombie
)

func (s MonitorState) String() string {
	switch s {
	case MonitorBoot:
		return "BOOT"
	case MonitorActive:
		return "ACTIVE"
	case MonitorReboot:
		return "REBOOT"
	case MonitorZombie:
		return "ZOMBIE"
	}
	return fmt.Sprintf("MonitorState(%d)", int32(s))
}

// WDT is a hardware watchdog timer fed by the monitor's heartbeat.
type WDT interface {
	Keepalive() error
}

// Config configures a monitor and its devices.
type Config struct {
	// BootTimeout bounds the time from Options.Since to BootDone. Zero
	// disables it.
	BootTimeout time.Duration

	// RebootTimeout bounds a graceful reboot. When it expires the machine is
	// restarted unconditionally.
	RebootTimeout time.Duration

	Devices []DeviceConfig
}

// Options carries the monitor's collaborators. Zero values select the real
// implementations.
type Options struct {
	Clock    Clock
	Signaler Signaler
	Rebooter Rebooter
	Causes   CauseRecorder
	Logger   *slog.Logger

	// Since is the instant the boot timeout is measured from. Zero means
	// when the monitor is created.
	Since time.Time
}

type heartbeat struct {
	name  string
	wdt   WDT
	delay time.Duration
	timer *delayed
}

// Monitor supervises system boot and the watchdog devices, and reboots the
// system when either fails. All of its events, its devices' events and the
// hardware heartbeats run on one Worker; call Run to process them.
type Monitor struct {
	cfg      Config
	clock    Clock
	sig      Signaler
	rebooter Rebooter
	causes   CauseRecorder
	log      *slog.Logger
	errs     *logger.Limiter
	w        *Worker

	state       atomic.Int32
	bootTimer   *delayed
	rebootTimer *delayed
	devices     []*Device

	mu     sync.Mutex
	timers []*heartbeat
}

// NewMonitor creates a monitor in state BOOT with one device per
// cfg.Devices entry, and arms the boot timer.
func NewMonitor(cfg Config, opts Options) (*Monitor, error) {
	if cfg.BootTimeout < 0 || cfg.RebootTimeout < 0 {
		return nil, fmt.Errorf("%w: negative monitor timeout", knvram.ErrInvalidArgument)
	}
	m := &Monitor{
		cfg:      cfg,
		clock:    opts.Clock,
		sig:      opts.Signaler,
		rebooter: opts.Rebooter,
		causes:   opts.Causes,
		log:      opts.Logger,
	}
	if m.clock == nil {
		m.clock = SystemClock()
	}
	if m.sig == nil {
		m.sig = System{}
	}
	if m.rebooter == nil {
		m.rebooter = System{}
	}
	if m.log == nil {
		m.log = logger.Component("appwd")
	}
	m.errs = logger.NewLimiter(m.log, protocolLogInterval, protocolLogBurst)
	m.w = NewWorker(m.log)

	stale := func(timer string) { m.protocolError("wdm", "monitor", "stale_"+timer, m.State().String()) }
	m.bootTimer = newDelayed("boot_timeout", m.w, m.clock, m.bootExpired, stale)
	m.rebootTimer = newDelayed("reboot_timeout", m.w, m.clock, m.rebootExpired, stale)

	seen := make(map[string]bool, len(cfg.Devices))
	for i, dc := range cfg.Devices {
		if dc.Name == "" {
			dc.Name = fmt.Sprintf("watchdog%d", i)
		}
		if seen[dc.Name] {
			return nil, fmt.Errorf("%w: duplicate device %q", knvram.ErrInvalidArgument, dc.Name)
		}
		if dc.KeepaliveTimeout <= 0 || dc.InitTimeout < 0 || dc.RestartTimeout < 0 || dc.RecoverTimeout < 0 {
			return nil, fmt.Errorf("%w: device %q timeouts", knvram.ErrInvalidArgument, dc.Name)
		}
		seen[dc.Name] = true
		m.devices = append(m.devices, newDevice(dc, m))
		m.log.Info("device registered", "device", dc.Name,
			"init_timeout", dc.InitTimeout, "keepalive_timeout", dc.KeepaliveTimeout,
			"restart_timeout", dc.RestartTimeout, "recover_timeout", dc.RecoverTimeout,
			"nowayout", dc.NoWayOut)
	}
	monitorState.Set(float64(MonitorBoot))

	if cfg.BootTimeout > 0 {
		since := opts.Since
		if since.IsZero() {
			since = m.clock.Now()
		}
		delay := cfg.BootTimeout - m.clock.Now().Sub(since)
		if delay <= 0 {
			m.log.Warn("boot timeout already elapsed", "boot_timeout", cfg.BootTimeout)
		}
		m.bootTimer.Start(delay)
	}
	return m, nil
}

// Run processes events until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	return m.w.Run(ctx)
}

// Drain waits until every queued event, and every event those queue in turn,
// has been processed.
func (m *Monitor) Drain(ctx context.Context) error {
	return m.w.Drain(ctx)
}

// State returns the current monitor state.
func (m *Monitor) State() MonitorState { return MonitorState(m.state.Load()) }

func (m *Monitor) setState(to MonitorState) {
	from := m.State()
	m.state.Store(int32(to))
	transitionsTotal.WithLabelValues("wdm", from.String(), to.String()).Inc()
	monitorState.Set(float64(to))
	m.log.Debug("monitor state change", "from", from, "to", to)
}

// Devices returns the devices in configuration order.
func (m *Monitor) Devices() []*Device { return slices.Clone(m.devices) }

// Device returns the named device.
func (m *Monitor) Device(name string) (*Device, error) {
	for _, d := range m.devices {
		if d.cfg.Name == name {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: watchdog device %s", knvram.ErrNotFound, name)
}

func (m *Monitor) protocolError(fsm, name, event, state string) {
	protocolErrorsTotal.WithLabelValues(fsm, event).Inc()
	m.errs.Error(fsm+"/"+name+"/"+event, "event in invalid state",
		"fsm", fsm, "name", name, "event", event, "state", state)
}

func (m *Monitor) record(c rste.Cause) {
	if m.causes == nil {
		return
	}
	if err := m.causes.Cause(c); err != nil {
		m.log.Error("recording reset cause failed", "cause", c, "error", err)
	}
}

// reboot asks init for a graceful reboot, the way ctrl-alt-del does, and
// arms the reboot timer as a fallback.
func (m *Monitor) reboot() {
	m.rebootTimer.Start(m.cfg.RebootTimeout)
	if err := m.sig.Signal(InitPID, syscall.SIGINT); err != nil {
		m.log.Error("signalling init failed", "error", err)
	}
}

// BootDone reports that user space has finished booting. It stops the boot
// timer and arms the devices' init timers.
func (m *Monitor) BootDone() {
	m.bootTimer.Cancel()
	m.w.Queue(m.handleBootDone)
}

// SystemDown reports an orderly shutdown in progress. It is only logged.
func (m *Monitor) SystemDown() {
	m.w.Queue(m.handleSystemDown)
}

func (m *Monitor) handleBootDone() {
	switch s := m.State(); s {
	case MonitorBoot:
		m.log.Info("boot completed")
		m.setState(MonitorActive)
		for _, d := range m.devices {
			d.startInit()
		}
	case MonitorReboot:
		m.log.Debug("boot done while rebooting, too late")
	default:
		m.protocolError("wdm", "monitor", "boot_done", s.String())
	}
}

func (m *Monitor) bootExpired() {
	switch s := m.State(); s {
	case MonitorBoot:
		m.setState(MonitorReboot)
		m.record(rste.CauseBootTimeout)
		m.log.Error("boot timeout, rebooting system")
		m.reboot()
	case MonitorReboot:
		m.log.Debug("boot timeout while rebooting")
	default:
		m.protocolError("wdm", "monitor", "boot_timeout", s.String())
	}
}

// deviceFailed queues a device failure. Devices call it on the worker when
// they reach DEAD.
func (m *Monitor) deviceFailed() {
	m.w.Queue(m.handleDeviceFailure)
}

func (m *Monitor) handleDeviceFailure() {
	switch s := m.State(); s {
	case MonitorActive:
		m.setState(MonitorReboot)
		m.record(rste.CauseAppTimeout)
		m.log.Error("application watchdog expired, rebooting system")
		m.reboot()
	case MonitorReboot:
		m.log.Debug("device failure while rebooting")
	default:
		m.protocolError("wdm", "monitor", "device_failure", s.String())
	}
}

func (m *Monitor) rebootExpired() {
	switch s := m.State(); s {
	case MonitorReboot:
		m.setState(MonitorZombie)
		m.record(rste.CauseRebootTimeout)
		m.log.Error("reboot timeout, restarting now; hardware watchdogs will expire soon")
		if err := m.rebooter.Restart(); err != nil {
			m.log.Error("restart failed", "error", err)
		}
	default:
		m.protocolError("wdm", "monitor", "reboot_timeout", s.String())
	}
}

func (m *Monitor) handleSystemDown() {
	m.log.Info("system down", "state", m.State())
}

// RegisterTimer adds a hardware watchdog timer to be fed every delay. The
// timer is fed once immediately. It fails with knvram.ErrInvalidArgument for
// an empty name, a nil timer or a non-positive delay, and with knvram.ErrBusy
// when MaxTimers are already registered.
func (m *Monitor) RegisterTimer(name string, wdt WDT, delay time.Duration) error {
	if name == "" || wdt == nil || delay <= 0 {
		m.log.Warn("invalid timer registration", "timer", name, "delay", delay)
		return fmt.Errorf("%w: timer %q delay %s", knvram.ErrInvalidArgument, name, delay)
	}
	m.feed(name, wdt)

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.timers) == MaxTimers {
		m.log.Warn("out of timer slots", "timer", name, "max", MaxTimers)
		return fmt.Errorf("%w: %d timers registered", knvram.ErrBusy, MaxTimers)
	}
	hb := &heartbeat{name: name, wdt: wdt, delay: delay}
	hb.timer = newDelayed("heartbeat", m.w, m.clock, func() { m.beat(hb) }, nil)
	m.timers = append(m.timers, hb)
	m.log.Info("timer registered", "timer", name, "delay", delay, "slot", len(m.timers)-1)
	hb.timer.Start(delay)
	return nil
}

// Timers returns the names of the registered hardware timers.
func (m *Monitor) Timers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, len(m.timers))
	for i, hb := range m.timers {
		names[i] = hb.name
	}
	return names
}

func (m *Monitor) feed(name string, wdt WDT) {
	if err := wdt.Keepalive(); err != nil {
		heartbeatsTotal.WithLabelValues(name, "error").Inc()
		m.errs.Warn("heartbeat/"+name, "timer keepalive failed", "timer", name, "error", err)
		return
	}
	heartbeatsTotal.WithLabelValues(name, "ok").Inc()
}

// beat feeds one timer and re-arms it. A zombie is not fed: the hardware
// watchdog is left to reset the machine.
func (m *Monitor) beat(hb *heartbeat) {
	if m.State() == MonitorZombie {
		m.log.Debug("not feeding a zombie", "timer", hb.name)
		return
	}
	m.feed(hb.name, hb.wdt)
	hb.timer.Start(hb.delay)
}
