// Package config loads the YAML board description: where the NVRAM image
// lives, how it is partitioned and how the application watchdog is set up.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/joshuapare/knvram/appwd"
	"github.com/joshuapare/knvram/internal/logger"
	"github.com/joshuapare/knvram/nvram"
	"github.com/joshuapare/knvram/region"
	"github.com/joshuapare/knvram/rste"
)

// ErrInvalid is returned (wrapped) for a description that does not validate.
var ErrInvalid = errors.New("config: invalid board description")

const (
	DefaultRegionName    = "nvram"
	DefaultRebootTimeout = 60 * time.Second
	DefaultTimerInterval = time.Second
	DefaultLogLevel      = "info"
)

// Config is a board description.
type Config struct {
	Region     Region      `yaml:"region"`
	Partitions []Partition `yaml:"partitions" validate:"dive"`
	Tables     []Table     `yaml:"tables" validate:"dive"`
	RSTE       RSTE        `yaml:"rste"`
	Appwd      Appwd       `yaml:"appwd"`
	Logging    Logging     `yaml:"logging"`
	Metrics    Metrics     `yaml:"metrics"`
}

// Region selects the store holding the NVRAM image.
type Region struct {
	Type       string `yaml:"type" validate:"oneof=memory file badger"`
	Path       string `yaml:"path" validate:"required_unless=Type memory"`
	Size       int64  `yaml:"size" validate:"gt=0"`
	Name       string `yaml:"name"`
	Fill       uint8  `yaml:"fill"`
	SyncWrites bool   `yaml:"sync_writes"`
}

// Partition is a static partition at a fixed offset in the region.
type Partition struct {
	Name     string `yaml:"name" validate:"required,max=31"`
	Offset   int64  `yaml:"offset" validate:"gte=0"`
	Size     int64  `yaml:"size" validate:"gt=0"`
	PageSize int    `yaml:"page_size" validate:"gte=0"`
	ReadOnly bool   `yaml:"read_only"`
}

// Table is an area holding a partition table.
type Table struct {
	Name   string `yaml:"name" validate:"required,max=28"`
	Offset int64  `yaml:"offset" validate:"gte=0"`
	Size   int64  `yaml:"size" validate:"gte=16"`
}

// RSTE configures the reset event counters.
type RSTE struct {
	Enabled   bool   `yaml:"enabled"`
	Partition string `yaml:"partition" validate:"max=31"`
}

// Appwd configures the watchdog monitor.
type Appwd struct {
	BootTimeout   time.Duration `yaml:"boot_timeout" validate:"gte=0"`
	RebootTimeout time.Duration `yaml:"reboot_timeout" validate:"gte=0"`
	// BootMarker is a file whose creation signals boot-done.
	BootMarker string   `yaml:"boot_marker"`
	Devices    []Device `yaml:"devices" validate:"dive"`
	Timers     []Timer  `yaml:"timers" validate:"max=4,dive"`
}

// Device configures one watchdog device.
type Device struct {
	Name             string        `yaml:"name"`
	InitTimeout      time.Duration `yaml:"init_timeout" validate:"gte=0"`
	KeepaliveTimeout time.Duration `yaml:"keepalive_timeout" validate:"gt=0"`
	RestartTimeout   time.Duration `yaml:"restart_timeout" validate:"gte=0"`
	RecoverTimeout   time.Duration `yaml:"recover_timeout" validate:"gte=0"`
	NoWayOut         bool          `yaml:"nowayout"`
}

// Timer configures one hardware watchdog timer.
type Timer struct {
	Name     string        `yaml:"name" validate:"required"`
	Type     string        `yaml:"type" validate:"oneof=dummy file gpio"`
	Path     string        `yaml:"path" validate:"required_unless=Type dummy"`
	Interval time.Duration `yaml:"interval" validate:"gt=0"`
}

// Logging mirrors the logger options.
type Logging struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir"`
}

// Metrics configures the Prometheus endpoint. An empty Listen disables it.
type Metrics struct {
	Listen string `yaml:"listen" validate:"omitempty,hostname_port"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads and validates the description at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a description, fills in defaults and validates it. Unknown
// keys are rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Region.Type == "" {
		c.Region.Type = "memory"
	}
	if c.Region.Name == "" {
		c.Region.Name = DefaultRegionName
	}
	if c.RSTE.Partition == "" {
		c.RSTE.Partition = rste.DefaultPartition
	}
	if c.Appwd.RebootTimeout == 0 {
		c.Appwd.RebootTimeout = DefaultRebootTimeout
	}
	for i := range c.Appwd.Timers {
		if c.Appwd.Timers[i].Interval == 0 {
			c.Appwd.Timers[i].Interval = DefaultTimerInterval
		}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
}

// Validate checks struct constraints and the layout: every partition and
// table must lie inside the region and partition names must be unique.
func (c *Config) Validate() error {
	var errs *multierror.Error

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		for _, fe := range verrs {
			errs = multierror.Append(errs, fmt.Errorf("%s: failed %q", fieldPath(fe.Namespace()), fe.Tag()))
		}
	}

	names := make(map[string]bool)
	for _, p := range c.Partitions {
		if names[p.Name] {
			errs = multierror.Append(errs, fmt.Errorf("partition %q: duplicate name", p.Name))
		}
		names[p.Name] = true
		if p.Offset+p.Size > c.Region.Size {
			errs = multierror.Append(errs, fmt.Errorf("partition %q: ends at %d, past region size %d", p.Name, p.Offset+p.Size, c.Region.Size))
		}
	}
	for _, t := range c.Tables {
		if t.Offset+t.Size > c.Region.Size {
			errs = multierror.Append(errs, fmt.Errorf("table %q: ends at %d, past region size %d", t.Name, t.Offset+t.Size, c.Region.Size))
		}
	}

	if err := errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// fieldPath drops the root type name from a validator namespace.
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

// LogLevel returns the configured level.
func (c *Config) LogLevel() slog.Level {
	return logger.ParseLevel(c.Logging.Level)
}

// OpenRegion opens the configured region store.
func (c *Config) OpenRegion(log *slog.Logger) (region.Region, error) {
	r := c.Region
	switch r.Type {
	case "memory":
		return region.NewMemory(int(r.Size), r.Fill), nil
	case "file":
		f, err := region.OpenFile(r.Path, r.Size)
		if err != nil {
			return nil, err
		}
		return f, nil
	case "badger":
		b, err := region.OpenBadger(region.BadgerConfig{
			Path:       r.Path,
			SyncWrites: r.SyncWrites,
			Logger:     log,
		}, r.Name, r.Size)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, fmt.Errorf("%w: region type %q", ErrInvalid, r.Type)
}

// NVRAM returns the partition layout for nvram.Probe.
func (c *Config) NVRAM() nvram.Config {
	var out nvram.Config
	for _, p := range c.Partitions {
		out.Partitions = append(out.Partitions, nvram.PartitionConfig{
			Name:     p.Name,
			Offset:   p.Offset,
			Size:     p.Size,
			PageSize: p.PageSize,
			ReadOnly: p.ReadOnly,
		})
	}
	for _, t := range c.Tables {
		out.Tables = append(out.Tables, nvram.TableConfig{Name: t.Name, Offset: t.Offset, Size: t.Size})
	}
	return out
}

// Monitor returns the watchdog monitor configuration.
func (c *Config) Monitor() appwd.Config {
	out := appwd.Config{
		BootTimeout:   c.Appwd.BootTimeout,
		RebootTimeout: c.Appwd.RebootTimeout,
	}
	for _, d := range c.Appwd.Devices {
		out.Devices = append(out.Devices, appwd.DeviceConfig{
			Name:             d.Name,
			InitTimeout:      d.InitTimeout,
			KeepaliveTimeout: d.KeepaliveTimeout,
			RestartTimeout:   d.RestartTimeout,
			RecoverTimeout:   d.RecoverTimeout,
			NoWayOut:         d.NoWayOut,
		})
	}
	return out
}
