//go:build !linux

package appwd

import (
	"errors"
	"syscall"
)

func (System) Signal(pid int, sig syscall.Signal) error {
	return errors.ErrUnsupported
}

func (System) Restart() error {
	return errors.ErrUnsupported
}
