// Package rste keeps the reset-event counters that the boot loader and the
// running system maintain in a knvram partition, and records why the system
// is about to reset.
package rste

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/joshuapare/knvram/internal/buf"
)

// NumCounters is the number of reset counters in a record.
const NumCounters = 18

// RecordSize is the packed, big-endian size of a Record.
const RecordSize = NumCounters*6 + 2 + 4 + 2 + 2 + 4

// ErrShortRecord is returned when a record buffer is smaller than RecordSize.
var ErrShortRecord = errors.New("rste: short record")

// CounterNames are the counter names in record order.
var CounterNames = [NumCounters]string{
	"coldstart",
	"boot_timeout_reset",
	"app_timeout_reset",
	"reboot_timeout",
	"linux_reset",
	"linux_panic",
	"uboot_reset",
	"wdt_reset",
	"checkstop_reset",
	"busmonitor_reset",
	"jtag_hreset",
	"jtag_sreset",
	"hw_hreset",
	"hw_sreset",
	"sw_hreset",
	"sw_sreset",
	"unknown_reset",
	"invalid_cause",
}

// Cause is the reset-cause bit field the boot loader turns into counter
// increments on the next boot.
type Cause uint16

const (
	CauseUBootReset Cause = 1 << iota
	CauseLinuxReset
	CauseBootTimeout
	CauseAppTimeout
	CauseRebootTimeout
	CauseLinuxPanic

	// CauseMask covers every defined cause bit.
	CauseMask Cause = 1<<iota - 1
)

var causeNames = []string{
	"UBOOT_RESET",
	"LINUX_RESET",
	"BOOT_TIMEOUT",
	"APP_TIMEOUT",
	"REBOOT_TIMEOUT",
	"LINUX_PANIC",
}

func (c Cause) String() string {
	if c == 0 {
		return "0"
	}
	var parts []string
	for i, name := range causeNames {
		if c&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	if rest := c &^ CauseMask; rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint16(rest)))
	}
	return strings.Join(parts, "|")
}

// ParseCause parses a "|" or "," separated list of cause names, as printed by
// Cause.String. Names are case-insensitive.
func ParseCause(s string) (Cause, error) {
	var c Cause
	for _, f := range strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ',' }) {
		f = strings.TrimSpace(f)
		i := slices.IndexFunc(causeNames, func(n string) bool { return strings.EqualFold(n, f) })
		if i < 0 {
			return 0, fmt.Errorf("rste: unknown reset cause %q", f)
		}
		c |= 1 << i
	}
	if c == 0 {
		return 0, errors.New("rste: no reset cause")
	}
	return c, nil
}

// Counter is one reset counter. Current is cleared on coldstart, Total only
// on explicit request.
type Counter struct {
	Current uint16
	Total   uint32
}

// Record is the reset-event record stored at the start of the partition.
type Record struct {
	Counters              [NumCounters]Counter
	ResetCause            Cause
	LastUnknownRSR        uint32
	LastUnknownResetCause uint16
	LastInvalidResetCause uint16
	// Current has bit i set when counter i was incremented on this boot.
	Current uint32
}

// MarshalBinary encodes r in its packed, big-endian form.
func (r *Record) MarshalBinary() ([]byte, error) {
	b := make([]byte, RecordSize)
	off := 0
	for _, c := range r.Counters {
		buf.PutU16BE(b[off:], c.Current)
		buf.PutU32BE(b[off+2:], c.Total)
		off += 6
	}
	buf.PutU16BE(b[off:], uint16(r.ResetCause))
	buf.PutU32BE(b[off+2:], r.LastUnknownRSR)
	buf.PutU16BE(b[off+6:], r.LastUnknownResetCause)
	buf.PutU16BE(b[off+8:], r.LastInvalidResetCause)
	buf.PutU32BE(b[off+10:], r.Current)
	return b, nil
}

// UnmarshalBinary decodes a packed, big-endian record.
func (r *Record) UnmarshalBinary(b []byte) error {
	if len(b) < RecordSize {
		return fmt.Errorf("%w: %d bytes", ErrShortRecord, len(b))
	}
	off := 0
	for i := range r.Counters {
		r.Counters[i] = Counter{Current: buf.U16BE(b[off:]), Total: buf.U32BE(b[off+2:])}
		off += 6
	}
	r.ResetCause = Cause(buf.U16BE(b[off:]))
	r.LastUnknownRSR = buf.U32BE(b[off+2:])
	r.LastUnknownResetCause = buf.U16BE(b[off+6:])
	r.LastInvalidResetCause = buf.U16BE(b[off+8:])
	r.Current = buf.U32BE(b[off+10:])
	return nil
}

// CurrentEvents returns the names of the counters flagged in Current.
func (r *Record) CurrentEvents() []string {
	var names []string
	for i, name := range CounterNames {
		if r.Current&(1<<i) != 0 {
			names = append(names, name)
		}
	}
	return names
}

// watchdogCounters are the counters incremented by watchdog-initiated resets.
var watchdogCounters = []int{1, 2, 3, 7}

// WatchdogReset reports whether this boot followed a reset initiated by a
// watchdog.
func (r *Record) WatchdogReset() bool {
	for _, i := range watchdogCounters {
		if r.Current&(1<<i) != 0 {
			return true
		}
	}
	return false
}
