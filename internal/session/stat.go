package session

// Counters are updated atomically one by one, not as consistent snapshot.

import (
	"expvar"
	"fmt"
)

type Stat struct {
	Conn      expvar.Int
	Recv      expvar.Int
	Sent      expvar.Int
	Dropped   expvar.Int
	RecvBytes expvar.Int
	SentBytes expvar.Int
}

func (s *Stat) String() string {
	return fmt.Sprintf(`{"conn":%d,"recv":%d,"sent":%d,"dropped":%d,"recv.bytes":%d,"sent.bytes":%d}`,
		s.Conn.Value(), s.Recv.Value(), s.Sent.Value(), s.Dropped.Value(),
		s.RecvBytes.Value(), s.SentBytes.Value())
}

// Publish registers counters in expvar under prefix, e.g. for /debug/vars.
// Panics on duplicate name, call once per process.
func (s *Stat) Publish(prefix string) {
	expvar.Publish(prefix+".conn", &s.Conn)
	expvar.Publish(prefix+".recv", &s.Recv)
	expvar.Publish(prefix+".sent", &s.Sent)
	expvar.Publish(prefix+".dropped", &s.Dropped)
	expvar.Publish(prefix+".recv_bytes", &s.RecvBytes)
	expvar.Publish(prefix+".sent_bytes", &s.SentBytes)
}
