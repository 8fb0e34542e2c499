package session

import (
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/temoto/picocast/helpers"
	"github.com/temoto/picocast/helpers/atomic_clock"
	"github.com/temoto/picocast/log2"
	"github.com/temoto/picocast/wire"
)

var (
	ErrClosing     = fmt.Errorf("closing")
	ErrRemoteClose = fmt.Errorf("closed by remote")
)

type conn struct {
	id      string
	net     net.Conn
	dec     *wire.Decoder
	w       io.Writer
	framing wire.Framing
	idle    time.Duration
	err     helpers.AtomicError
	last    atomic_clock.Clock
	log     *log2.Log
	stat    *Stat
}

func newConn(netConn net.Conn, opt *Options, stat *Stat) *conn {
	c := &conn{
		id:      uuid.New().String(),
		net:     netConn,
		framing: opt.Framing,
		idle:    opt.IdleTimeout,
		log:     opt.Log,
		stat:    stat,
	}
	if tcp, ok := netConn.(*net.TCPConn); ok {
		_ = tcp.SetKeepAlive(false)
		_ = tcp.SetLinger(0)
	}
	statread := helpers.NewStatReader(netConn, &stat.RecvBytes, 0)
	c.w = helpers.NewStatWriter(netConn, &stat.SentBytes, 0)
	c.dec = wire.NewDecoder(statread, opt.Framing, opt.ReadLimit)
	c.last.SetNow()
	return c
}

func (c *conn) String() string {
	return fmt.Sprintf("(id=%s remote=%s)", c.id, addrString(c.net.RemoteAddr()))
}

func (c *conn) Closed() bool {
	_, ok := c.err.Load()
	return ok
}

func (c *conn) SinceLastRecv() time.Duration { return atomic_clock.Since(&c.last) }

// die closes connection once, returns first reason.
func (c *conn) die(e error) error {
	if err, found := c.err.StoreOnce(e); found {
		return err
	}
	_ = c.net.Close()

	// reformat some well known errors for easier log reading
	estr := e.Error()
	if strings.HasSuffix(estr, "connection reset by peer") {
		estr = "closed by remote"
	} else if strings.HasSuffix(estr, "use of closed network connection") {
		estr = "closed"
	}
	c.log.Debugf("session: die %s last_recv=%v ago e=%s", c, c.SinceLastRecv().Round(time.Millisecond), estr)
	return e
}

// receive returns next frame. Idle timeout is reported as (nil, nil).
func (c *conn) receive() ([]byte, error) {
	if err := c.net.SetReadDeadline(time.Now().Add(c.idle)); err != nil {
		return nil, errors.Annotate(err, "SetReadDeadline")
	}
	b, err := c.dec.ReadFrame()
	switch {
	case err == nil:
		c.last.SetNow()
		return b, nil
	case err == io.EOF:
		return nil, ErrRemoteClose
	case err == wire.ErrFrameTooLarge:
		return nil, err
	case isTimeout(err):
		return nil, nil
	}
	return nil, errors.Annotate(err, "receive")
}

func (c *conn) send(m *wire.Message) error {
	if err := c.net.SetWriteDeadline(time.Now().Add(c.idle)); err != nil {
		return errors.Annotate(err, "SetWriteDeadline")
	}
	if err := wire.WriteMessage(c.w, m, c.framing); err != nil {
		return errors.Annotate(err, "send")
	}
	return nil
}

func isTimeout(err error) bool {
	ne, ok := errors.Cause(err).(net.Error)
	return ok && ne.Timeout()
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
