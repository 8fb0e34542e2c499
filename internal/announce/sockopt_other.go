//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package announce

import "syscall"

func reuseControl(network, address string, c syscall.RawConn) error { return nil }
