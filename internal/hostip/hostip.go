// Package hostip finds IPv4 address this host is reachable at on local network.
package hostip

import (
	"fmt"
	"net"

	"github.com/juju/errors"
)

var ErrNoIPv4Interface = fmt.Errorf("no network adapters with an IPv4 address in the system")

// LocalIPv4 returns first IPv4 address of up, non-loopback interface.
func LocalIPv4() (net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, errors.Annotate(err, "net.Interfaces")
	}
	return pick(ifaces, func(iface *net.Interface) ([]net.Addr, error) { return iface.Addrs() })
}

// Resolve returns configured address if not empty, otherwise LocalIPv4.
func Resolve(configured string) (net.IP, error) {
	if configured == "" {
		return LocalIPv4()
	}
	ip := net.ParseIP(configured)
	if ip == nil || ip.To4() == nil {
		return nil, errors.NotValidf("listen_ip=%q", configured)
	}
	return ip.To4(), nil
}

type addrsFunc func(*net.Interface) ([]net.Addr, error)

func pick(ifaces []net.Interface, addrs addrsFunc) (net.IP, error) {
	for i := range ifaces {
		iface := &ifaces[i]
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		as, err := addrs(iface)
		if err != nil {
			continue
		}
		for _, a := range as {
			var ip net.IP
			switch v := a.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip4 := ip.To4(); ip4 != nil && !ip4.IsLoopback() {
				return ip4, nil
			}
		}
	}
	return nil, ErrNoIPv4Interface
}
