package appwd

import (
	"fmt"
	"time"

	"github.com/joshuapare/knvram/chardev"
	"github.com/joshuapare/knvram/knvram"
)

const iocType = 'W'

func ioc(dir, nr, size uint32) uint32 {
	return dir<<30 | size<<16 | iocType<<8 | nr
}

const (
	iocRead      = 2
	iocReadWrite = 3
)

// Watchdog ioctl commands. The first group is the standard Linux watchdog
// API; the rest add restart and recover timeouts and millisecond variants.
var (
	WDIOCGetStatus     = ioc(iocRead, 1, 4)
	WDIOCGetBootStatus = ioc(iocRead, 2, 4)
	WDIOCSetOptions    = ioc(iocRead, 4, 4)
	WDIOCKeepalive     = ioc(iocRead, 5, 4)
	WDIOCSetTimeout    = ioc(iocReadWrite, 6, 4)
	WDIOCGetTimeout    = ioc(iocRead, 7, 4)

	WDIOCSetRestartTimeout     = ioc(iocReadWrite, 16, 4)
	WDIOCGetRestartTimeout     = ioc(iocRead, 17, 4)
	WDIOCSetRecoverTimeout     = ioc(iocReadWrite, 18, 4)
	WDIOCGetRecoverTimeout     = ioc(iocRead, 19, 4)
	WDIOCSetTimeoutMsec        = ioc(iocReadWrite, 20, 4)
	WDIOCGetTimeoutMsec        = ioc(iocRead, 21, 4)
	WDIOCSetRestartTimeoutMsec = ioc(iocReadWrite, 22, 4)
	WDIOCGetRestartTimeoutMsec = ioc(iocRead, 23, 4)
	WDIOCSetRecoverTimeoutMsec = ioc(iocReadWrite, 24, 4)
	WDIOCGetRecoverTimeoutMsec = ioc(iocRead, 25, 4)
)

type timeoutIoctl struct {
	kind TimeoutKind
	set  bool
	unit time.Duration
}

var timeoutIoctls = map[uint32]timeoutIoctl{
	WDIOCSetTimeout:            {TimeoutKeepalive, true, time.Second},
	WDIOCGetTimeout:            {TimeoutKeepalive, false, time.Second},
	WDIOCSetRestartTimeout:     {TimeoutRestart, true, time.Second},
	WDIOCGetRestartTimeout:     {TimeoutRestart, false, time.Second},
	WDIOCSetRecoverTimeout:     {TimeoutRecover, true, time.Second},
	WDIOCGetRecoverTimeout:     {TimeoutRecover, false, time.Second},
	WDIOCSetTimeoutMsec:        {TimeoutKeepalive, true, time.Millisecond},
	WDIOCGetTimeoutMsec:        {TimeoutKeepalive, false, time.Millisecond},
	WDIOCSetRestartTimeoutMsec: {TimeoutRestart, true, time.Millisecond},
	WDIOCGetRestartTimeoutMsec: {TimeoutRestart, false, time.Millisecond},
	WDIOCSetRecoverTimeoutMsec: {TimeoutRecover, true, time.Millisecond},
	WDIOCGetRecoverTimeoutMsec: {TimeoutRecover, false, time.Millisecond},
}

// Ioctl runs a watchdog control command with an int argument. Set commands
// read the new value from arg and, like the get commands, store the value in
// effect back in arg. SETOPTIONS is accepted and ignored. A nil arg fails
// with knvram.ErrIOFault and unknown commands with chardev.ErrNotTTY.
func (s *Session) Ioctl(cmd uint32, arg *int32) error {
	if err := s.usable(); err != nil {
		return err
	}
	switch cmd {
	case WDIOCKeepalive:
		return s.Keepalive()
	case WDIOCSetOptions:
		return nil
	}

	if arg == nil {
		return knvram.ErrIOFault
	}
	switch cmd {
	case WDIOCGetStatus:
		*arg = int32(s.Status())
		return nil
	case WDIOCGetBootStatus:
		*arg = int32(s.BootStatus())
		return nil
	}

	op, ok := timeoutIoctls[cmd]
	if !ok {
		s.d.log.Debug("unsupported ioctl", "cmd", fmt.Sprintf("0x%08x", cmd))
		return fmt.Errorf("%w: 0x%x", chardev.ErrNotTTY, cmd)
	}
	var (
		t   time.Duration
		err error
	)
	if op.set {
		t, err = s.SetTimeout(op.kind, time.Duration(*arg)*op.unit)
	} else {
		t, err = s.Timeout(op.kind)
	}
	if err != nil {
		return err
	}
	*arg = int32(t / op.unit)
	return nil
}
