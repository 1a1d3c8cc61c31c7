package appwd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/knvram/knvram"
	"github.com/joshuapare/knvram/rste"
)

func TestMonitor_BootDone(t *testing.T) {
	h := setupMonitor(t, testConfig())
	assert.Equal(t, MonitorBoot, h.m.State())
	assert.Equal(t, 1, h.clk.pending(testBoot))

	h.m.BootDone()
	h.drain()
	assert.Equal(t, MonitorActive, h.m.State())
	assert.Zero(t, h.clk.pending(testBoot))
	assert.Equal(t, 1, h.clk.pending(testInit))

	h.step(testBoot)
	assert.Equal(t, MonitorReboot, h.m.State(), "unopened device hit its init timeout")
	assert.Equal(t, []rste.Cause{rste.CauseAppTimeout}, h.rec.Causes())
}

func TestMonitor_BootTimeout(t *testing.T) {
	h := setupMonitor(t, testConfig())

	h.step(testBoot)
	assert.Equal(t, MonitorReboot, h.m.State())
	assert.Equal(t, []rste.Cause{rste.CauseBootTimeout}, h.rec.Causes())
	assert.Equal(t, []signal{{InitPID, syscall.SIGINT}}, h.rec.Signals())
	assert.Equal(t, 1, h.clk.pending(testReboot))

	// Too late.
	h.m.BootDone()
	h.drain()
	assert.Equal(t, MonitorReboot, h.m.State())
	assert.Zero(t, h.clk.pending(testInit))
}

func TestMonitor_BootTimeoutAlreadyElapsed(t *testing.T) {
	clk := newFakeClock()
	rec := &recorder{}
	m, err := NewMonitor(testConfig(), Options{
		Clock: clk, Signaler: rec, Rebooter: rec, Causes: rec,
		Since: clk.Now().Add(-time.Minute),
	})
	require.NoError(t, err)
	startWorker(t, m.w)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Drain(ctx))
	assert.Equal(t, MonitorReboot, m.State())
}

func TestMonitor_BootTimeoutMeasuredFromSince(t *testing.T) {
	clk := newFakeClock()
	rec := &recorder{}
	m, err := NewMonitor(testConfig(), Options{
		Clock: clk, Signaler: rec, Rebooter: rec, Causes: rec,
		Since: clk.Now().Add(-4 * time.Second),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, clk.pending(testBoot-4*time.Second))
	assert.Equal(t, MonitorBoot, m.State())
}

func TestMonitor_RebootTimeoutForcesRestart(t *testing.T) {
	h := setupMonitor(t, testConfig())
	h.step(testBoot)
	require.Equal(t, MonitorReboot, h.m.State())

	h.step(testReboot)
	assert.Equal(t, MonitorZombie, h.m.State())
	assert.Equal(t, 1, h.rec.Restarts())
	assert.Equal(t, []rste.Cause{rste.CauseBootTimeout, rste.CauseRebootTimeout}, h.rec.Causes())

	h.step(time.Hour)
	assert.Equal(t, MonitorZombie, h.m.State(), "never re-enters REBOOT")
	assert.Equal(t, 1, h.rec.Restarts())
}

func TestMonitor_DeviceFailureOnlyOnce(t *testing.T) {
	cfg := testConfig()
	cfg.Devices = append(cfg.Devices, cfg.Devices[0])
	cfg.Devices[0].Name = ""
	cfg.Devices[1].Name = ""
	h := setupMonitor(t, cfg)

	h.m.BootDone()
	h.drain()
	h.step(testInit)

	for _, d := range h.m.Devices() {
		assert.Equal(t, DeviceDead, d.State())
	}
	assert.Equal(t, MonitorReboot, h.m.State())
	assert.Equal(t, []rste.Cause{rste.CauseAppTimeout}, h.rec.Causes())
	assert.Equal(t, 1, h.clk.pending(testReboot))
}

func TestMonitor_SystemDownOnlyLogs(t *testing.T) {
	h := setupMonitor(t, testConfig())
	h.m.SystemDown()
	h.drain()
	assert.Equal(t, MonitorBoot, h.m.State())
}

func TestMonitor_ProtocolErrors(t *testing.T) {
	h := setupMonitor(t, testConfig())
	h.m.w.Queue(h.m.rebootExpired)
	h.m.w.Queue(h.m.handleDeviceFailure)
	h.drain()
	assert.Equal(t, MonitorBoot, h.m.State())
	assert.Empty(t, h.rec.Causes())
	assert.Zero(t, h.rec.Restarts())
}

func TestMonitor_Devices(t *testing.T) {
	cfg := Config{Devices: []DeviceConfig{
		{KeepaliveTimeout: time.Second},
		{Name: "app", KeepaliveTimeout: time.Second},
		{KeepaliveTimeout: time.Second},
	}}
	m, err := NewMonitor(cfg, Options{Clock: newFakeClock(), Signaler: &recorder{}, Rebooter: &recorder{}})
	require.NoError(t, err)

	var names []string
	for _, d := range m.Devices() {
		names = append(names, d.Name())
	}
	assert.Equal(t, []string{"watchdog0", "app", "watchdog2"}, names)

	d, err := m.Device("app")
	require.NoError(t, err)
	assert.Equal(t, DeviceInit, d.State())
	_, err = m.Device("watchdog9")
	assert.ErrorIs(t, err, knvram.ErrNotFound)
}

func TestNewMonitor_Invalid(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"negative boot timeout", Config{BootTimeout: -time.Second}},
		{"duplicate device", Config{Devices: []DeviceConfig{
			{Name: "a", KeepaliveTimeout: time.Second},
			{Name: "a", KeepaliveTimeout: time.Second},
		}}},
		{"zero keepalive", Config{Devices: []DeviceConfig{{Name: "a"}}}},
		{"negative recover", Config{Devices: []DeviceConfig{
			{Name: "a", KeepaliveTimeout: time.Second, RecoverTimeout: -1},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMonitor(tt.cfg, Options{Clock: newFakeClock()})
			assert.ErrorIs(t, err, knvram.ErrInvalidArgument)
		})
	}
}

func TestMonitor_Heartbeat(t *testing.T) {
	h := setupMonitor(t, testConfig())
	wdt := &countingWDT{}

	require.NoError(t, h.m.RegisterTimer("hw", wdt, time.Second))
	assert.Equal(t, 1, wdt.count(), "fed once on registration")
	assert.Equal(t, []string{"hw"}, h.m.Timers())

	for range 3 {
		h.step(time.Second)
	}
	assert.Equal(t, 4, wdt.count())

	// Heartbeats continue through REBOOT and stop in ZOMBIE.
	h.step(testBoot)
	require.Equal(t, MonitorReboot, h.m.State())
	n := wdt.count()
	h.step(time.Second)
	assert.Equal(t, n+1, wdt.count())

	h.step(testReboot)
	require.Equal(t, MonitorZombie, h.m.State())
	n = wdt.count()
	for range 5 {
		h.step(time.Second)
	}
	assert.Equal(t, n, wdt.count())
}

func TestMonitor_HeartbeatErrorKeepsFeeding(t *testing.T) {
	h := setupMonitor(t, testConfig())
	wdt := &countingWDT{err: errors.New("bus error")}

	require.NoError(t, h.m.RegisterTimer("hw", wdt, time.Second))
	h.step(time.Second)
	h.step(time.Second)
	assert.Equal(t, 3, wdt.count())
}

func TestMonitor_RegisterTimerErrors(t *testing.T) {
	h := setupMonitor(t, testConfig())
	wdt := &countingWDT{}

	assert.ErrorIs(t, h.m.RegisterTimer("", wdt, time.Second), knvram.ErrInvalidArgument)
	assert.ErrorIs(t, h.m.RegisterTimer("hw", nil, time.Second), knvram.ErrInvalidArgument)
	assert.ErrorIs(t, h.m.RegisterTimer("hw", wdt, 0), knvram.ErrInvalidArgument)
	assert.Zero(t, wdt.count())

	for i := range MaxTimers {
		require.NoError(t, h.m.RegisterTimer(string(rune('a'+i)), wdt, time.Second))
	}
	assert.ErrorIs(t, h.m.RegisterTimer("extra", wdt, time.Second), knvram.ErrBusy)
	assert.Len(t, h.m.Timers(), MaxTimers)
}

func TestWatchBootMarker(t *testing.T) {
	t.Run("created later", func(t *testing.T) {
		dir := t.TempDir()
		marker := filepath.Join(dir, "boot-done")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		called := make(chan struct{})
		errc := make(chan error, 1)
		go func() {
			errc <- WatchBootMarker(ctx, marker, func() { close(called) })
		}()

		// Retry until the watcher is up; creating an existing file again is
		// harmless.
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
	loop:
		for {
			require.NoError(t, os.WriteFile(marker, []byte("1"), 0o644))
			select {
			case <-called:
				break loop
			case <-tick.C:
			case <-ctx.Done():
				t.Fatal("boot marker not noticed")
			}
		}
		require.NoError(t, <-errc)
	})

	t.Run("already present", func(t *testing.T) {
		marker := filepath.Join(t.TempDir(), "boot-done")
		require.NoError(t, os.WriteFile(marker, nil, 0o644))

		called := false
		require.NoError(t, WatchBootMarker(context.Background(), marker, func() { called = true }))
		assert.True(t, called)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := WatchBootMarker(ctx, filepath.Join(t.TempDir(), "never"), func() { t.Error("unexpected call") })
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("missing directory", func(t *testing.T) {
		err := WatchBootMarker(context.Background(), filepath.Join(t.TempDir(), "nope", "marker"), func() {})
		assert.Error(t, err)
	})
}
