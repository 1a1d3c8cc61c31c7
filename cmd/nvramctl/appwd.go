package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/joshuapare/knvram/appwd"
	"github.com/joshuapare/knvram/appwd/wdt"
	"github.com/joshuapare/knvram/internal/config"
	"github.com/joshuapare/knvram/internal/logger"
	"github.com/joshuapare/knvram/rste"
)

const shutdownDrainTimeout = 2 * time.Second

var (
	appwdBootDone      bool
	appwdMetricsListen string
)

// system returns the signaler and rebooter the monitor acts through.
var system = func() (appwd.Signaler, appwd.Rebooter) {
	return appwd.System{}, appwd.System{}
}

func init() {
	rootCmd.AddCommand(newAppwdCmd())
}

func newAppwdCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "appwd",
		Short: "Application watchdog",
	}
	run := &cobra.Command{
		Use:   "run",
		Short: "Run the watchdog monitor until interrupted",
		Long: `The run command starts the watchdog monitor with the devices and hardware
timers of the board file. Reset causes are recorded in the rste partition when
it is enabled. Boot completes when the boot marker file appears, or right away
with --boot-done.

Example:
  nvramctl appwd run
  nvramctl appwd run --boot-done --metrics-listen :9100`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runAppwd(ctx, args)
		},
	}
	run.Flags().BoolVar(&appwdBootDone, "boot-done", false, "Treat boot as complete immediately")
	run.Flags().StringVar(&appwdMetricsListen, "metrics-listen", "", "Serve Prometheus metrics on this address (overrides the board file)")
	cmd.AddCommand(run)
	return cmd
}

func runAppwd(ctx context.Context, args []string) (err error) {
	if err := checkArgs(args, 0, "nvramctl appwd run"); err != nil {
		return err
	}
	b, err := openBoard(true)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := b.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	log := logger.Component("nvramctl")

	mcfg := b.cfg.Monitor()
	sig, rb := system()
	opts := appwd.Options{Signaler: sig, Rebooter: rb}

	var st *rste.Store
	if b.cfg.RSTE.Enabled {
		st, err = rste.Open(b.reg, b.cfg.RSTE.Partition)
		if err != nil {
			log.Warn("reset causes will not be recorded", "error", err)
			st = nil
		} else {
			defer st.Close()
			opts.Causes = st
			rec := st.Record()
			if rec.WatchdogReset() {
				log.Info("previous reset was caused by a watchdog")
				for i := range mcfg.Devices {
					mcfg.Devices[i].BootStatus = appwd.BootStatusCardReset
				}
			}
		}
	}

	m, err := appwd.NewMonitor(mcfg, opts)
	if err != nil {
		return err
	}

	closers, err := registerTimers(m, b.cfg.Appwd.Timers, log)
	defer func() {
		for _, c := range closers {
			if cerr := c.Close(); cerr != nil {
				log.Warn("closing timer failed", "error", cerr)
			}
		}
	}()
	if err != nil {
		return err
	}

	listen := b.cfg.Metrics.Listen
	if appwdMetricsListen != "" {
		listen = appwdMetricsListen
	}

	// The worker outlives ctx so the shutdown events still get processed.
	runCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return m.Run(gctx) })
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-ctx.Done():
		}
		shutdownMonitor(m, st, log)
		stopWorker()
		return nil
	})

	switch {
	case appwdBootDone:
		m.BootDone()
	case b.cfg.Appwd.BootMarker != "":
		g.Go(func() error {
			return appwd.WatchBootMarker(gctx, b.cfg.Appwd.BootMarker, m.BootDone)
		})
	}

	if listen != "" {
		srv := &http.Server{Addr: listen, Handler: metricsMux(), ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			log.Info("serving metrics", "listen", listen)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	printVerbose("Watchdog monitor running with %d device(s) and %d timer(s)\n", len(m.Devices()), len(m.Timers()))
	err = g.Wait()
	log.Info("watchdog monitor stopped", "state", m.State())
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// shutdownMonitor reports the orderly shutdown to the monitor, waits for the
// queued events and records it as the reset cause.
func shutdownMonitor(m *appwd.Monitor, st *rste.Store, log *slog.Logger) {
	m.SystemDown()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownDrainTimeout)
	defer cancel()
	if err := m.Drain(ctx); err != nil {
		log.Warn("events still pending at shutdown", "error", err)
	}
	if st == nil {
		return
	}
	if err := st.Reboot(); err != nil {
		log.Warn("failed to record shutdown", "error", err)
	}
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// registerTimers opens and registers the hardware timers. The returned
// closers must be closed even when an error is returned.
func registerTimers(m *appwd.Monitor, timers []config.Timer, log *slog.Logger) ([]io.Closer, error) {
	var closers []io.Closer
	for _, tc := range timers {
		var t appwd.WDT
		switch tc.Type {
		case "dummy":
			t = wdt.NewDummy(log.With("timer", tc.Name))
		case "file":
			f, err := wdt.OpenFile(tc.Path)
			if err != nil {
				return closers, err
			}
			closers = append(closers, f)
			t = f
		case "gpio":
			g, err := wdt.OpenGPIO(tc.Path)
			if err != nil {
				return closers, err
			}
			closers = append(closers, g)
			t = g
		default:
			return closers, fmt.Errorf("%w: timer type %q", config.ErrInvalid, tc.Type)
		}
		if err := m.RegisterTimer(tc.Name, t, tc.Interval); err != nil {
			return closers, fmt.Errorf("timer %s: %w", tc.Name, err)
		}
	}
	return closers, nil
}
