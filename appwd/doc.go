// Package appwd supervises applications with software watchdog devices and
// escalates to a system reboot when one of them stops responding.
//
// A Device is opened by the supervised process, which must then send
// keepalives within the keepalive timeout. When it misses one, the process
// gets SIGHUP; when it still has not recovered after the restart timeout it
// gets SIGKILL; when the device is not reopened within the recover timeout the
// device is DEAD and the Monitor reboots the system. A graceful reboot that
// does not finish within the reboot timeout is followed by a forced restart.
//
// The Monitor also feeds the hardware watchdog timers registered with
// RegisterTimer, until it gives up on a forced restart and stops feeding
// them.
//
// Every event of the monitor and its devices runs on a single Worker, in
// order. Timer expiries are delivered as events too; an expiry for a timer
// that was cancelled or re-armed in the meantime is discarded and counted as
// a protocol error, like any other event arriving in a state that does not
// accept it.
package appwd
