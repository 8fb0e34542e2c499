package announce

import (
	"context"
	"net"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/picocast/log2"
	"github.com/temoto/picocast/wire"
)

const maxDatagram = 2048

// Listener receives announcements. Port is shared with other local listeners.
type Listener struct {
	conn net.PacketConn
	log  *log2.Log
	buf  []byte
}

func Listen(ctx context.Context, addr string, log *log2.Log) (*Listener, error) {
	lc := net.ListenConfig{Control: reuseControl}
	conn, err := lc.ListenPacket(ctx, "udp4", addr)
	if err != nil {
		return nil, errors.Annotatef(err, "announce listen addr=%s", addr)
	}
	return &Listener{conn: conn, log: log, buf: make([]byte, maxDatagram)}, nil
}

func (l *Listener) Addr() net.Addr { return l.conn.LocalAddr() }
func (l *Listener) Close() error   { return l.conn.Close() }

// Next returns first valid announcement, skipping foreign and corrupt datagrams.
// Zero deadline means wait forever.
func (l *Listener) Next(deadline time.Time) (wire.Announcement, net.Addr, error) {
	if err := l.conn.SetReadDeadline(deadline); err != nil {
		return wire.Announcement{}, nil, errors.Annotate(err, "SetReadDeadline")
	}
	for {
		n, from, err := l.conn.ReadFrom(l.buf)
		if err != nil {
			return wire.Announcement{}, nil, errors.Annotate(err, "announce receive")
		}
		a, err := wire.ParseAnnouncement(l.buf[:n])
		if err != nil {
			l.log.Debugf("announce skip from=%s err=%v", from, err)
			continue
		}
		return a, from, nil
	}
}

// Discover waits for first announcement until ctx is done.
func Discover(ctx context.Context, addr string, log *log2.Log) (wire.Announcement, error) {
	l, err := Listen(ctx, addr, log)
	if err != nil {
		return wire.Announcement{}, err
	}
	defer l.Close()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = l.conn.SetReadDeadline(time.Unix(1, 0))
		case <-done:
		}
	}()
	deadline, _ := ctx.Deadline()
	a, from, err := l.Next(deadline)
	if err != nil {
		return a, errors.Annotate(err, "discover")
	}
	log.Debugf("discover from=%s endpoint=%s iter=%d", from, a.Addr(), a.Iter)
	return a, nil
}
