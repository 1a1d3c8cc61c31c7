//go:build linux

package appwd

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func (System) Signal(pid int, sig syscall.Signal) error {
	return unix.Kill(pid, sig)
}

func (System) Restart() error {
	return unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART)
}
