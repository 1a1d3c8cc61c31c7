package main

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"

	"github.com/joshuapare/knvram/internal/config"
	"github.com/joshuapare/knvram/internal/logger"
	"github.com/joshuapare/knvram/knvram"
	"github.com/joshuapare/knvram/nvram"
	"github.com/joshuapare/knvram/region"
)

// board is an opened board description: the region, its registry and the
// probed NVRAM device.
type board struct {
	cfg    *config.Config
	region region.Region
	reg    *knvram.Registry
	dev    *nvram.Device
}

// openBoard loads the board file, sets up logging and probes the region.
// Daemons always log; one-shot commands log only when asked to.
func openBoard(daemon bool) (*board, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	initLogging(cfg, daemon)

	printVerbose("Opening %s region (%d bytes)\n", cfg.Region.Type, cfg.Region.Size)
	r, err := cfg.OpenRegion(logger.Component("region"))
	if err != nil {
		return nil, fmt.Errorf("failed to open region: %w", err)
	}
	reg := knvram.NewRegistry(nil)
	dev, err := nvram.Probe(r, reg, cfg.NVRAM(), nil)
	if err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("failed to probe region: %w", err)
	}
	return &board{cfg: cfg, region: r, reg: reg, dev: dev}, nil
}

func initLogging(cfg *config.Config, daemon bool) {
	level := cfg.LogLevel()
	if logLevel != "" {
		level = logger.ParseLevel(logLevel)
	}
	if err := logger.Init(logger.Options{
		Enabled: daemon || verbose || logLevel != "" || cfg.Logging.Dir != "",
		LogDir:  cfg.Logging.Dir,
		Level:   level,
		JSON:    cfg.Logging.JSON,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to init logging: %v\n", err)
	}
}

// Close syncs and releases every partition, then closes the region.
func (b *board) Close() error {
	var errs *multierror.Error
	errs = multierror.Append(errs, b.dev.Close())
	errs = multierror.Append(errs, b.region.Close())
	return errs.ErrorOrNil()
}

// withBoard opens the board, runs fn and closes the board, keeping the first
// error.
func withBoard(fn func(b *board) error) (err error) {
	b, err := openBoard(false)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := b.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(b)
}
