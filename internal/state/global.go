package state

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/picocast/helpers"
	"github.com/temoto/picocast/internal/announce"
	"github.com/temoto/picocast/internal/hostip"
	"github.com/temoto/picocast/internal/session"
	"github.com/temoto/picocast/internal/uplink"
	"github.com/temoto/picocast/log2"
	"github.com/temoto/picocast/wire"
)

// Global owns every long-lived component. Constructed once in main
// and passed explicitly or via context.
type Global struct {
	Alive        *alive.Alive
	BuildVersion string
	Config       *Config
	Log          *log2.Log

	IP         net.IP
	Controller *session.Controller
	Announcer  *announce.Announcer
	Server     *session.Server
	Uplink     *uplink.Uplink // nil when disabled

	_copy_guard sync.Mutex //nolint:unused
}

const ContextKey = "run/state-global"

func NewContext(log *log2.Log) (context.Context, *Global) {
	if log == nil {
		panic("code error NewContext() log=nil")
	}
	g := &Global{
		Alive:        alive.NewAlive(),
		BuildVersion: "unknown",
		Log:          log,
	}
	ctx := context.WithValue(context.Background(), ContextKey, g)
	return ctx, g
}

func GetGlobal(ctx context.Context) *Global {
	v := ctx.Value(ContextKey)
	if v == nil {
		panic(fmt.Sprintf("context['%s'] is nil", ContextKey))
	}
	if g, ok := v.(*Global); ok {
		return g
	}
	panic(fmt.Sprintf("context['%s'] expected type *Global actual=%#v", ContextKey, v))
}

// If `Init` fails, consider `Global` is in broken state.
func (g *Global) Init(ctx context.Context, cfg *Config) error {
	g.Config = cfg
	g.Log.Infof("build version=%s", g.BuildVersion)
	if cfg.LogDebug {
		g.Log.SetLevel(log2.LDebug)
	}

	ip, err := hostip.Resolve(cfg.Network.ListenIP)
	if err != nil {
		return errors.Annotate(err, "listen address")
	}
	g.IP = ip
	target, err := cfg.BroadcastTarget()
	if err != nil {
		return err
	}

	g.Controller = session.NewController(g.Log, cfg.LoggingEnabled())
	g.Announcer = announce.New(announce.Options{
		Log:      g.Log,
		Interval: helpers.IntSecondDefault(cfg.Network.AnnounceIntervalSec, announce.DefaultInterval),
		Target:   target,
		IP:       ip.String(),
		Port:     cfg.Network.TcpPort,
	})
	g.Server = session.NewServer(session.Options{
		Log:         g.Log,
		Controller:  g.Controller,
		Announcer:   g.Announcer,
		Addr:        net.JoinHostPort(ip.String(), strconv.Itoa(cfg.Network.TcpPort)),
		Framing:     wire.Framing(cfg.Network.Framing),
		ReadLimit:   cfg.Network.ReadLimit,
		IdleTimeout: helpers.IntSecondDefault(cfg.Network.IdleTimeoutSec, session.DefaultIdleTimeout),
		OnError: func(err error) {
			g.Error(err, "session server")
			g.Stop()
		},
	})

	if u := cfg.Uplink; u.Enable {
		clientID := u.ClientID
		if clientID == "" {
			clientID = "picocast-" + ip.String()
		}
		// uplink gets log clone before SetErrorFunc, so its errors don't recurse
		g.Uplink, err = uplink.New(uplink.Options{
			Log:         g.Log.Clone(log2.LInfo),
			Broker:      u.MqttBroker,
			ClientID:    clientID,
			Username:    u.Username,
			Password:    u.Password,
			TopicPrefix: u.TopicPrefix,
			QoS:         byte(u.QoS),
			KeepAlive:   helpers.IntSecondDefault(u.KeepaliveSec, uplink.DefaultKeepAlive),
		})
		if err != nil {
			return errors.Annotate(err, "uplink init")
		}
	}
	return nil
}

func (g *Global) MustInit(ctx context.Context, cfg *Config) {
	err := g.Init(ctx, cfg)
	if err != nil {
		g.Fatal(err)
	}
}

// Start runs server, announcer and uplink until Stop.
func (g *Global) Start() error {
	if g.Server == nil {
		return errors.Errorf("code error Global.Start before Init")
	}
	if !g.Alive.Add(1) {
		return errors.Errorf("Global.Start after Stop")
	}
	if err := g.Server.Start(); err != nil {
		g.Alive.Done()
		return errors.Annotate(err, "session server")
	}
	if err := g.Announcer.Start(); err != nil {
		g.Server.Stop()
		g.Alive.Done()
		return errors.Annotate(err, "announcer")
	}
	if g.Uplink != nil {
		if err := g.Uplink.Start(g.Controller.Subscribe(g.Config.Session.FeedCapacity)); err != nil {
			g.Log.Error(errors.Annotate(err, "uplink"))
		}
	}
	g.Log.Infof("serving ip=%s tcp=%d udp=%s", g.IP, g.Config.Network.TcpPort, g.Announcer.Target())

	go func() {
		defer g.Alive.Done()
		<-g.Alive.StopChan()
		if g.Uplink != nil {
			g.Uplink.Stop()
		}
		g.Server.Stop()
		g.Announcer.Close()
		g.Log.Infof("stopped")
	}()
	return nil
}

func (g *Global) Error(err error, args ...interface{}) {
	if err != nil {
		if len(args) != 0 {
			msg := args[0].(string)
			args = args[1:]
			err = errors.Annotatef(err, msg, args...)
		}
		g.Log.Error(err)
	}
}

func (g *Global) Fatal(err error, args ...interface{}) {
	if err != nil {
		g.Error(err, args...)
		g.StopWait(5 * time.Second)
		g.Log.Fatal(errors.ErrorStack(err))
		os.Exit(1)
	}
}

func (g *Global) Stop() {
	g.Alive.Stop()
}

func (g *Global) StopWait(timeout time.Duration) bool {
	g.Alive.Stop()
	select {
	case <-g.Alive.WaitChan():
		return true
	case <-time.After(timeout):
		return false
	}
}

// Stat is one line summary of component counters.
func (g *Global) Stat() string {
	s := fmt.Sprintf("session=%s announce=%s feed.dropped=%d",
		g.Server.Stat(), g.Announcer.Stat(), g.Controller.Feed().Dropped.Value())
	if g.Uplink != nil {
		s += " uplink=" + g.Uplink.Stat().String()
	}
	return s
}
