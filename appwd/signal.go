package appwd

import (
	"syscall"

	"github.com/joshuapare/knvram/rste"
)

// Signaler delivers signals to the processes owning watchdog devices and to
// init.
type Signaler interface {
	Signal(pid int, sig syscall.Signal) error
}

// Rebooter performs the last-resort restart once a graceful reboot has timed
// out.
type Rebooter interface {
	Restart() error
}

// CauseRecorder persists the reason for an upcoming reset. *rste.Store
// implements it.
type CauseRecorder interface {
	Cause(c rste.Cause) error
}

// System signals real processes and restarts the machine. Restart requires
// CAP_SYS_BOOT.
type System struct{}

var (
	_ Signaler      = System{}
	_ Rebooter      = System{}
	_ CauseRecorder = (*rste.Store)(nil)
)
