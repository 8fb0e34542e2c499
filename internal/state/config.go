package state

import (
	"fmt"
	"net"
	"path/filepath"
	"sync"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/temoto/picocast/helpers"
	"github.com/temoto/picocast/internal/announce"
	"github.com/temoto/picocast/internal/session"
	"github.com/temoto/picocast/log2"
	"github.com/temoto/picocast/wire"
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include"`

	LogDebug bool `hcl:"log_debug"`

	Network struct {
		ListenIP            string `hcl:"listen_ip"` // empty = first IPv4 of up interface
		TcpPort             int    `hcl:"tcp_port"`
		UdpPort             int    `hcl:"udp_port"`
		BroadcastAddr       string `hcl:"broadcast_addr"` // default 255.255.255.255:udp_port
		AnnounceIntervalSec int    `hcl:"announce_interval_sec"`
		IdleTimeoutSec      int    `hcl:"idle_timeout_sec"`
		Framing             string `hcl:"framing"`
		ReadLimit           int    `hcl:"read_limit"`
	} `hcl:"network"`

	Session struct {
		Logging      *bool `hcl:"logging"` // default true
		FeedCapacity int   `hcl:"feed_capacity"`
	} `hcl:"session"`

	Uplink struct {
		Enable       bool   `hcl:"enable"`
		MqttBroker   string `hcl:"mqtt_broker"`
		ClientID     string `hcl:"client_id"`
		Username     string `hcl:"username"`
		Password     string `hcl:"password"`
		TopicPrefix  string `hcl:"topic_prefix"`
		QoS          int    `hcl:"qos"`
		KeepaliveSec int    `hcl:"keepalive_sec"`
	} `hcl:"uplink"`

	_copy_guard sync.Mutex //nolint:unused
}

type ConfigSource struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

const DefaultFeedCapacity = 64

func (c *Config) LoggingEnabled() bool { return c.Session.Logging == nil || *c.Session.Logging }

func (c *Config) BroadcastTarget() (*net.UDPAddr, error) {
	s := c.Network.BroadcastAddr
	if s == "" {
		s = fmt.Sprintf("%s:%d", net.IPv4bcast, c.Network.UdpPort)
	}
	addr, err := net.ResolveUDPAddr("udp4", s)
	return addr, errors.Annotatef(err, "config network.broadcast_addr=%s", s)
}

// applyDefaults fills zero values and validates the rest.
func (c *Config) applyDefaults() error {
	n := &c.Network
	if n.TcpPort == 0 {
		n.TcpPort = session.DefaultPort
	}
	if n.UdpPort == 0 {
		n.UdpPort = announce.DefaultPort
	}
	if n.ReadLimit == 0 {
		n.ReadLimit = wire.DefaultReadLimit
	}
	framing, err := wire.ParseFraming(n.Framing)
	if err != nil {
		return errors.Annotate(err, "config network.framing")
	}
	n.Framing = string(framing)
	if c.Session.FeedCapacity == 0 {
		c.Session.FeedCapacity = DefaultFeedCapacity
	}

	errs := make([]error, 0)
	for name, port := range map[string]int{"tcp_port": n.TcpPort, "udp_port": n.UdpPort} {
		if port < 0 || port > 65535 {
			errs = append(errs, errors.NotValidf("config network.%s=%d", name, port))
		}
	}
	if n.ReadLimit < 0 || n.AnnounceIntervalSec < 0 || n.IdleTimeoutSec < 0 || c.Session.FeedCapacity < 0 {
		errs = append(errs, errors.NotValidf("config negative value"))
	}
	if c.Uplink.QoS < 0 || c.Uplink.QoS > 2 {
		errs = append(errs, errors.NotValidf("config uplink.qos=%d", c.Uplink.QoS))
	}
	if c.Uplink.Enable && c.Uplink.MqttBroker == "" {
		errs = append(errs, errors.NotValidf("config uplink.enable=true mqtt_broker=empty"))
	}
	return helpers.FoldErrors(errs)
}

func (c *Config) read(log *log2.Log, fs FullReader, source ConfigSource, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.Errorf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	err = hcl.Unmarshal(bs, c)
	if err != nil {
		err = errors.Annotatef(err, "config unmarshal source=%s content='%s'", source.Name, string(bs))
		*errs = append(*errs, err)
		return
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		log.Fatal("code error [Must]ReadConfig() without names")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		osfs.SetBase(dir)
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, ConfigSource{Name: name}, &errs)
	}
	if len(errs) == 0 {
		if err := c.applyDefaults(); err != nil {
			errs = append(errs, err)
		}
	}
	return c, helpers.FoldErrors(errs)
}

func MustReadConfig(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}
