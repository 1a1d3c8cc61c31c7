// Package nvram carves knvram partitions out of an NVRAM region, either
// statically from configuration or dynamically from partition tables stored
// in the region itself.
package nvram

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/joshuapare/knvram/internal/logger"
	"github.com/joshuapare/knvram/knvram"
	"github.com/joshuapare/knvram/region"
)

// PartitionConfig describes a static partition.
type PartitionConfig struct {
	Name     string
	Offset   int64
	Size     int64
	PageSize int // 0 disables transactions
	ReadOnly bool
}

// TableConfig describes a partition-table area.
type TableConfig struct {
	Name   string // at most MaxTableNameLen bytes
	Offset int64
	Size   int64
}

// Config lists the static partitions and table areas of a region.
type Config struct {
	Partitions []PartitionConfig
	Tables     []TableConfig
}

// Device is an NVRAM region with its partitions registered in a registry.
type Device struct {
	region region.Region
	reg    *knvram.Registry
	log    *slog.Logger

	mu     sync.Mutex
	static []*knvram.Partition
	tables []*Table
}

// Probe registers the static partitions of cfg and reads every partition
// table. A partition that cannot be registered, or a table that cannot be
// read, is logged and skipped; only a table area that does not fit the region
// fails the probe.
func Probe(r region.Region, reg *knvram.Registry, cfg Config, log *slog.Logger) (*Device, error) {
	if log == nil {
		log = logger.Component("nvram")
	}
	d := &Device{region: r, reg: reg, log: log}

	for _, tc := range cfg.Tables {
		t, err := newTable(d, tc)
		if err != nil {
			return nil, err
		}
		d.tables = append(d.tables, t)
	}

	for _, pc := range cfg.Partitions {
		p, err := d.addPartition(pc.Name, pc.Offset, pc.Size, pc.PageSize, pc.ReadOnly)
		if err != nil {
			log.Warn("static partition skipped", "partition", pc.Name, "error", err)
			continue
		}
		d.static = append(d.static, p)
	}

	for _, t := range d.tables {
		if err := t.Reread(); err != nil {
			log.Warn("partition table not loaded", "table", t.name, "error", err)
		}
	}
	return d, nil
}

func (d *Device) addPartition(name string, off, size int64, pageSize int, readOnly bool) (*knvram.Partition, error) {
	w, err := region.NewWindow(d.region, off, size)
	if err != nil {
		return nil, err
	}
	p, err := d.reg.Add(knvram.Config{
		Name:         name,
		Size:         int(size),
		Transactions: pageSize != 0,
		PageSize:     pageSize,
		ReadOnly:     readOnly,
		Backend:      w,
	})
	if err != nil {
		return nil, err
	}
	d.log.Info("partition", "range", fmt.Sprintf("0x%08x-0x%08x", off, off+size), "name", name)
	return p, nil
}

// Region returns the underlying region.
func (d *Device) Region() region.Region { return d.region }

// Tables returns the partition tables in configuration order.
func (d *Device) Tables() []*Table {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Table(nil), d.tables...)
}

// Table returns the named partition table.
func (d *Device) Table(name string) (*Table, error) {
	for _, t := range d.Tables() {
		if t.name == name {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: partition table %s", knvram.ErrNotFound, name)
}

// Close syncs and unregisters every partition of the device. Partitions with
// open handles are left registered and reported.
func (d *Device) Close() error {
	var errs *multierror.Error

	d.mu.Lock()
	static := d.static
	d.static = nil
	d.mu.Unlock()

	for _, p := range static {
		errs = multierror.Append(errs, d.release(p))
	}
	for _, t := range d.Tables() {
		t.mu.Lock()
		for _, p := range t.parts {
			errs = multierror.Append(errs, d.release(p))
		}
		t.parts = nil
		t.mu.Unlock()
	}
	return errs.ErrorOrNil()
}

func (d *Device) release(p *knvram.Partition) error {
	if err := p.Sync(); err != nil {
		return err
	}
	if err := p.Lock(); err != nil {
		return fmt.Errorf("release %s: %w", p.Name(), err)
	}
	d.reg.Delete(p)
	p.Unlock()
	return nil
}
