package hostip

import (
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPick(t *testing.T) {
	t.Parallel()
	ipnet := func(s string) net.Addr {
		_, n, err := net.ParseCIDR(s)
		require.NoError(t, err)
		ip, _, _ := net.ParseCIDR(s)
		n.IP = ip
		return n
	}
	table := map[string][]net.Addr{
		"lo":   {ipnet("127.0.0.1/8")},
		"down": {ipnet("10.1.1.1/24")},
		"v6":   {ipnet("fe80::1/64")},
		"wlan": {ipnet("fe80::2/64"), ipnet("192.168.1.20/24")},
		"bad":  nil,
	}
	addrs := func(iface *net.Interface) ([]net.Addr, error) {
		if iface.Name == "bad" {
			return nil, fmt.Errorf("addrs failed")
		}
		return table[iface.Name], nil
	}

	cases := []struct {
		name   string
		ifaces []net.Interface
		expect string
		err    error
	}{
		{"empty", nil, "", ErrNoIPv4Interface},
		{"loopback-only", []net.Interface{{Name: "lo", Flags: net.FlagUp | net.FlagLoopback}}, "", ErrNoIPv4Interface},
		{"down", []net.Interface{{Name: "down"}}, "", ErrNoIPv4Interface},
		{"ipv6-only", []net.Interface{{Name: "v6", Flags: net.FlagUp}}, "", ErrNoIPv4Interface},
		{"wlan", []net.Interface{
			{Name: "lo", Flags: net.FlagUp | net.FlagLoopback},
			{Name: "bad", Flags: net.FlagUp},
			{Name: "v6", Flags: net.FlagUp},
			{Name: "wlan", Flags: net.FlagUp | net.FlagBroadcast},
		}, "192.168.1.20", nil},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			ip, err := pick(c.ifaces, addrs)
			if c.err != nil {
				assert.Equal(t, c.err, err)
				assert.Nil(t, ip)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.expect, ip.String())
		})
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()
	ip, err := Resolve("10.0.0.5")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", ip.String())

	_, err = Resolve("::1")
	assert.Error(t, err)
	_, err = Resolve("not-an-ip")
	assert.Error(t, err)
}
