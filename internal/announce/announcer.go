// Package announce advertises session server endpoint with UDP broadcast
// and listens for such announcements on the device side.
package announce

import (
	"expvar"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/picocast/log2"
	"github.com/temoto/picocast/wire"
)

const (
	DefaultPort     = 51519
	DefaultInterval = 5 * time.Second
)

type Options struct {
	Log      *log2.Log
	Interval time.Duration
	Target   *net.UDPAddr // default 255.255.255.255:DefaultPort
	IP       string       // advertised session endpoint
	Port     int
}

type Stat struct {
	Runs   expvar.Int
	Sent   expvar.Int
	Errors expvar.Int
}

func (s *Stat) String() string {
	return fmt.Sprintf(`{"runs":%d,"sent":%d,"errors":%d}`, s.Runs.Value(), s.Sent.Value(), s.Errors.Value())
}

// Announcer periodically broadcasts Announcement until stopped.
// Each Start begins new run with iteration counter from zero.
type Announcer struct {
	mu   sync.Mutex
	run  *alive.Alive // nil before first Start
	log  *log2.Log
	opt  Options
	stat Stat
}

func New(opt Options) *Announcer {
	if opt.Interval <= 0 {
		opt.Interval = DefaultInterval
	}
	if opt.Target == nil {
		opt.Target = &net.UDPAddr{IP: net.IPv4bcast, Port: DefaultPort}
	}
	return &Announcer{log: opt.Log, opt: opt}
}

func (a *Announcer) Stat() *Stat          { return &a.stat }
func (a *Announcer) Target() *net.UDPAddr { return a.opt.Target }

func (a *Announcer) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.run != nil && a.run.IsRunning()
}

// Start is no-op when already running.
func (a *Announcer) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.run != nil && a.run.IsRunning() {
		a.log.Debugf("announce: already running")
		return nil
	}

	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return errors.Annotate(err, "announce socket")
	}
	run := alive.NewAlive()
	run.Add(1)
	a.run = run
	a.stat.Runs.Add(1)
	a.log.Debugf("announce: start endpoint=%s:%d target=%s interval=%v", a.opt.IP, a.opt.Port, a.opt.Target, a.opt.Interval)
	go a.loop(run, conn)
	return nil
}

// Stop signals current run to finish and returns immediately.
func (a *Announcer) Stop() {
	a.mu.Lock()
	run := a.run
	a.mu.Unlock()
	if run != nil {
		run.Stop()
	}
}

// Close stops current run and waits until its socket is closed.
func (a *Announcer) Close() {
	a.mu.Lock()
	run := a.run
	a.mu.Unlock()
	if run != nil {
		run.Stop()
		run.Wait()
	}
}

func (a *Announcer) loop(run *alive.Alive, conn *net.UDPConn) {
	defer run.Done()
	defer conn.Close()

	tick := time.NewTicker(a.opt.Interval)
	defer tick.Stop()
	stopch := run.StopChan()
	for iter := 0; ; iter++ {
		a.send(conn, iter)
		select {
		case <-stopch:
			a.log.Debugf("announce: stop after iter=%d", iter)
			return
		case <-tick.C:
		}
	}
}

func (a *Announcer) send(conn *net.UDPConn, iter int) {
	b := wire.NewAnnouncement(iter, a.opt.IP, a.opt.Port).Marshal()
	if _, err := conn.WriteToUDP(b, a.opt.Target); err != nil {
		a.stat.Errors.Add(1)
		a.log.Errorf("announce iter=%d target=%s err=%v", iter, a.opt.Target, err)
		return
	}
	a.stat.Sent.Add(1)
}
