package chardev

import (
	"fmt"

	"github.com/joshuapare/knvram/knvram"
)

const iocType = 'K'

func ioc(dir, nr, size uint32) uint32 {
	return dir<<30 | size<<16 | iocType<<8 | nr
}

// Ioctl commands, numbered as the Linux _IO/_IOW/_IOR macros lay them out.
var (
	IocSync     = ioc(0, 0, 0)
	IocTBegin   = ioc(0, 1, 0)
	IocTCommit  = ioc(0, 2, 0)
	IocTAbort   = ioc(0, 3, 0)
	IocSetAutoT = ioc(1, 4, 4)
	IocGetAutoT = ioc(2, 5, 4)
)

// Ioctl runs a control command. SETAUTOT reads the new setting from arg and,
// like GETAUTOT, stores the resulting setting (0 or 1) back in arg; both
// fail with knvram.ErrIOFault when arg is nil. Unknown commands fail with
// ErrNotTTY.
func (f *File) Ioctl(cmd uint32, arg *int32) error {
	switch cmd {
	case IocSync:
		return f.h.Sync()
	case IocTBegin:
		return f.h.Begin()
	case IocTCommit:
		return f.h.Commit()
	case IocTAbort:
		return f.h.Abort()
	case IocSetAutoT:
		if arg == nil {
			return knvram.ErrIOFault
		}
		if err := f.h.SetAutoT(*arg != 0); err != nil {
			return err
		}
		return f.Ioctl(IocGetAutoT, arg)
	case IocGetAutoT:
		if arg == nil {
			return knvram.ErrIOFault
		}
		*arg = 0
		if f.h.AutoT() {
			*arg = 1
		}
		return nil
	default:
		return fmt.Errorf("%w: 0x%x", ErrNotTTY, cmd)
	}
}
