package session

import (
	"net"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/picocast/helpers"
	"github.com/temoto/picocast/log2"
	"github.com/temoto/picocast/wire"
)

const (
	DefaultPort        = 51520
	DefaultIdleTimeout = 5 * time.Second
)

// Announcer is advertised while no client is connected.
type Announcer interface {
	Start() error
	Stop()
}

type Options struct {
	Log         *log2.Log
	Controller  *Controller
	Announcer   Announcer // optional
	Addr        string    // ip:port
	Framing     wire.Framing
	ReadLimit   int
	IdleTimeout time.Duration
	// OnError receives accept failure after server stopped itself.
	OnError log2.ErrorFunc
}

// Server accepts one connection at a time. Next client waits in listen backlog
// until current session ends.
type Server struct {
	mu     sync.Mutex
	run    *alive.Alive
	ll     *net.TCPListener
	active *conn
	log    *log2.Log
	ctl    *Controller
	ann    Announcer
	opt    Options
	stat   Stat
}

func NewServer(opt Options) *Server {
	if opt.Framing == "" {
		opt.Framing = wire.FramingLine
	}
	if opt.ReadLimit <= 0 {
		opt.ReadLimit = wire.DefaultReadLimit
	}
	if opt.IdleTimeout <= 0 {
		opt.IdleTimeout = DefaultIdleTimeout
	}
	if opt.Controller == nil {
		panic("code error session.NewServer Controller=nil")
	}
	return &Server{
		log: opt.Log,
		ctl: opt.Controller,
		ann: opt.Announcer,
		opt: opt,
	}
}

func (s *Server) Stat() *Stat { return &s.stat }

// Addr returns bound address, nil when not listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ll == nil {
		return nil
	}
	return s.ll.Addr()
}

// Start is no-op when already running.
func (s *Server) Start() error {
	return helpers.WithLockError(&s.mu, func() error {
		if s.run != nil && s.run.IsRunning() {
			s.log.Debugf("session: server already running addr=%s", s.ll.Addr())
			return nil
		}

		addr, err := net.ResolveTCPAddr("tcp4", s.opt.Addr)
		if err != nil {
			return errors.Annotatef(err, "session resolve addr=%s", s.opt.Addr)
		}
		ll, err := net.ListenTCP("tcp4", addr)
		if err != nil {
			return errors.Annotatef(err, "session listen addr=%s", s.opt.Addr)
		}
		s.ll = ll
		s.run = alive.NewAlive()
		s.run.Add(1)
		s.log.Infof("session: listen addr=%s framing=%s", ll.Addr(), s.opt.Framing)
		go s.acceptLoop(s.run, ll)
		return nil
	})
}

// Stop closes listener and active connection, waits for loop exit.
func (s *Server) Stop() {
	s.mu.Lock()
	run, ll := s.run, s.ll
	s.mu.Unlock()
	if run == nil {
		return
	}
	run.Stop()
	_ = ll.Close()
	var active *conn
	helpers.WithLock(&s.mu, func() { active = s.active })
	if active != nil {
		_ = active.die(ErrClosing)
	}
	run.Wait()
}

func (s *Server) acceptLoop(run *alive.Alive, ll *net.TCPListener) {
	defer run.Done()
	for {
		_ = ll.SetDeadline(time.Now().Add(s.opt.IdleTimeout))
		netConn, err := ll.Accept()
		if !run.IsRunning() {
			if netConn != nil {
				_ = netConn.Close()
			}
			return
		}
		if err != nil {
			if isTimeout(err) {
				continue
			}
			err = errors.Annotatef(err, "accept listen=%s", addrString(ll.Addr()))
			s.log.Error(err)
			run.Stop()
			_ = ll.Close()
			if s.ann != nil {
				s.ann.Stop()
			}
			if s.opt.OnError != nil {
				s.opt.OnError(err)
			}
			return
		}
		s.serve(run, netConn)
	}
}

func (s *Server) serve(run *alive.Alive, netConn net.Conn) {
	c := newConn(netConn, &s.opt, &s.stat)
	s.stat.Conn.Add(1)
	if s.ann != nil {
		s.ann.Stop()
	}
	s.ctl.setConnected(true)
	helpers.WithLock(&s.mu, func() { s.active = c })
	s.log.Infof("session: connected %s", c)

	err := s.loop(run, c)
	if err == nil {
		err = ErrClosing
	}
	err = c.die(err)

	helpers.WithLock(&s.mu, func() { s.active = nil })
	s.ctl.setConnected(false)
	s.log.Infof("session: disconnected %s reason=%v", c, err)
	if s.ann != nil && run.IsRunning() {
		if err := s.ann.Start(); err != nil {
			s.log.Error(errors.Annotate(err, "announcer restart"))
		}
	}
}

// loop ends on peer close, I/O error or server stop.
func (s *Server) loop(run *alive.Alive, c *conn) error {
	for run.IsRunning() && !c.Closed() {
		b, err := c.receive()
		if err == wire.ErrFrameTooLarge {
			s.stat.Dropped.Add(1)
			s.log.Errorf("session: %s frame dropped, limit=%d", c, s.opt.ReadLimit)
			continue
		}
		if err != nil {
			return err
		}
		if b == nil { // idle
			continue
		}
		s.stat.Recv.Add(1)

		m, err := wire.ParseMessage(b)
		if err != nil {
			s.stat.Dropped.Add(1)
			s.log.Errorf("session: %s %v", c, err)
			continue
		}
		s.log.Debugf("session: %s recv %s", c, m)
		resp := s.ctl.Handle(m)
		if resp == nil {
			continue
		}
		if err = c.send(resp); err != nil {
			return err
		}
		s.stat.Sent.Add(1)
		s.log.Debugf("session: %s sent %s", c, resp)
	}
	return nil
}
