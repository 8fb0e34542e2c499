//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package announce

import (
	"syscall"

	"github.com/juju/errors"
	"golang.org/x/sys/unix"
)

func reuseControl(network, address string, c syscall.RawConn) error {
	var serr error
	err := c.Control(func(fd uintptr) {
		if serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); serr != nil {
			serr = errors.Annotate(serr, "SO_REUSEADDR")
			return
		}
		if serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); serr != nil {
			serr = errors.Annotate(serr, "SO_REUSEPORT")
		}
	})
	if err != nil {
		return err
	}
	return serr
}
