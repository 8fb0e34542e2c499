// Package devsim is device side of session protocol: discovers server by
// announcement, uploads fresh readings and keeps backlog for resync.
package devsim

import (
	"context"
	"expvar"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/picocast/helpers"
	"github.com/temoto/picocast/internal/announce"
	"github.com/temoto/picocast/log2"
	"github.com/temoto/picocast/measure"
	"github.com/temoto/picocast/wire"
)

type DiscoverFunc func(ctx context.Context) (wire.Announcement, error)

type Options struct {
	Log          *log2.Log
	DiscoverAddr string       // default ":51519"
	Discover     DiscoverFunc // default announce.Discover on DiscoverAddr
	Framing      wire.Framing
	ReadLimit    int
	Interval     time.Duration // pause before each reply, default 1s
	BacklogEvery int           // every Nth reading is kept in backlog, default 1
	Sensor       Sensor
}

type Stat struct {
	Sessions expvar.Int
	Sent     expvar.Int
	Resets   expvar.Int
}

func (s *Stat) String() string {
	return fmt.Sprintf(`{"sessions":%d,"sent":%d,"resets":%d}`, s.Sessions.Value(), s.Sent.Value(), s.Resets.Value())
}

type Device struct {
	log     *log2.Log
	opt     Options
	backoff helpers.Backoff
	stat    Stat

	mu      sync.Mutex
	backlog []measure.Measurement
	counter int
}

func New(opt Options) *Device {
	if opt.DiscoverAddr == "" {
		opt.DiscoverAddr = fmt.Sprintf(":%d", announce.DefaultPort)
	}
	if opt.Framing == "" {
		opt.Framing = wire.FramingLine
	}
	if opt.Interval == 0 {
		opt.Interval = time.Second
	}
	if opt.BacklogEvery <= 0 {
		opt.BacklogEvery = 1
	}
	if opt.Sensor == nil {
		opt.Sensor = &Synthetic{}
	}
	d := &Device{
		log:     opt.Log,
		opt:     opt,
		backoff: helpers.Backoff{Min: time.Second, Max: 30 * time.Second, K: 2},
	}
	if d.opt.Discover == nil {
		d.opt.Discover = func(ctx context.Context) (wire.Announcement, error) {
			return announce.Discover(ctx, d.opt.DiscoverAddr, d.log)
		}
	}
	return d
}

func (d *Device) Stat() *Stat { return &d.stat }

func (d *Device) Backlog() []measure.Measurement {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]measure.Measurement(nil), d.backlog...)
}

// Run repeats discover and session until ctx is done.
func (d *Device) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(d.backoff.DelayBefore()):
		}

		a, err := d.opt.Discover(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.backoff.Failure()
			d.log.Error(errors.Annotate(err, "devsim discover"))
			continue
		}
		d.log.Infof("devsim: found server %s iter=%d", a.Addr(), a.Iter)
		err = d.Session(ctx, a.Addr())
		if ctx.Err() != nil {
			return nil
		}
		d.backoff.Update(err == nil)
		if err != nil {
			d.log.Error(errors.Annotate(err, "devsim session"))
		}
	}
}

// Session talks to server at addr until server closes, error or ctx done.
// Remote close is not an error.
func (d *Device) Session(ctx context.Context, addr string) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp4", addr)
	if err != nil {
		return errors.Annotatef(err, "dial %s", addr)
	}
	defer conn.Close()
	d.stat.Sessions.Add(1)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = wire.WriteMessage(conn, wire.NewMessage(wire.StatusClose), d.opt.Framing)
			_ = conn.Close()
		case <-done:
		}
	}()

	if err = d.send(conn, wire.NewMessage(wire.StatusConn)); err != nil {
		return err
	}
	dec := wire.NewDecoder(conn, d.opt.Framing, d.opt.ReadLimit)
	for {
		b, err := dec.ReadFrame()
		if err != nil {
			if ctx.Err() != nil || errors.Cause(err) == io.EOF {
				return nil
			}
			return errors.Annotate(err, "receive")
		}
		m, err := wire.ParseMessage(b)
		if err != nil {
			d.log.Error(err)
			continue
		}
		reply := d.reply(m)
		if reply == nil {
			d.log.Debugf("devsim: no reply to %s", m)
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(d.opt.Interval):
		}
		if err = d.send(conn, reply); err != nil {
			return err
		}
	}
}

func (d *Device) reply(m *wire.Message) *wire.Message {
	switch m.Status {
	case wire.StatusAck:
		return wire.NewMessage(wire.StatusMes, d.measure())
	case wire.StatusData:
		return wire.NewMessage(wire.StatusData, d.Backlog()...)
	case wire.StatusReset:
		d.mu.Lock()
		d.backlog = nil
		d.mu.Unlock()
		d.stat.Resets.Add(1)
		return wire.NewMessage(wire.StatusMes, d.measure())
	}
	return nil
}

func (d *Device) measure() measure.Measurement {
	m := d.opt.Sensor.Read()
	d.mu.Lock()
	d.counter++
	if d.counter >= d.opt.BacklogEvery {
		d.counter = 0
		d.backlog = append(d.backlog, m)
	}
	d.mu.Unlock()
	return m
}

func (d *Device) send(conn net.Conn, m *wire.Message) error {
	if err := wire.WriteMessage(conn, m, d.opt.Framing); err != nil {
		return errors.Annotatef(err, "send %s", m)
	}
	d.stat.Sent.Add(1)
	d.log.Debugf("devsim: sent %s", m)
	return nil
}
