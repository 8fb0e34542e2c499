package wire

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/juju/errors"
	"github.com/temoto/picocast/measure"
)

const AnnounceID = "PicoCast"

var ErrForeignAnnouncement = fmt.Errorf("foreign announcement")

type Status string

const (
	StatusConn  Status = "CONN"  // device: session start
	StatusAck   Status = "ACK"   // app: nothing pending, continue
	StatusData  Status = "DATA"  // device: backlog upload; app: request backlog
	StatusMes   Status = "MES"   // device: fresh measurement
	StatusReset Status = "RST"   // app: device may discard backlog
	StatusClose Status = "CLOSE" // device: going away
)

// Announcement advertises TCP endpoint of session server.
type Announcement struct {
	ID   string `json:"ID"`
	Iter int    `json:"iter"`
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

func NewAnnouncement(iter int, ip string, port int) Announcement {
	return Announcement{ID: AnnounceID, Iter: iter, IP: ip, Port: port}
}

func (a Announcement) Addr() string { return fmt.Sprintf("%s:%d", a.IP, a.Port) }

func (a Announcement) Marshal() []byte { return mustMarshal(a) }

// ParseAnnouncement returns ErrForeignAnnouncement for valid JSON with unexpected id,
// so receivers may silently skip unrelated broadcast traffic.
func ParseAnnouncement(b []byte) (Announcement, error) {
	var a Announcement
	if err := json.Unmarshal(b, &a); err != nil {
		return a, &DecodeError{Frame: b, Err: err}
	}
	if a.ID != AnnounceID {
		return a, errors.Annotatef(ErrForeignAnnouncement, "id=%q", a.ID)
	}
	return a, nil
}

// Message is session request or response.
// Data is nil for statuses without payload and encodes as null.
type Message struct {
	Status Status                `json:"STATUS"`
	Data   []measure.Measurement `json:"DATA"`
}

func NewMessage(status Status, data ...measure.Measurement) *Message {
	m := &Message{Status: status}
	if len(data) != 0 {
		m.Data = data
	}
	return m
}

func (m *Message) Marshal() []byte { return mustMarshal(m) }

func (m *Message) String() string {
	return fmt.Sprintf("(status=%s data=%d)", m.Status, len(m.Data))
}

func ParseMessage(b []byte) (*Message, error) {
	m := &Message{}
	if err := json.Unmarshal(b, m); err != nil {
		return nil, &DecodeError{Frame: append([]byte(nil), b...), Err: err}
	}
	if m.Status == "" {
		return nil, &DecodeError{Frame: append([]byte(nil), b...), Err: errors.NotValidf("missing STATUS")}
	}
	return m, nil
}

// DecodeError means frame is corrupt. Drop frame, keep connection.
type DecodeError struct {
	Frame []byte
	Err   error
}

func (e *DecodeError) Error() string {
	const maxShow = 64
	show := e.Frame
	suffix := ""
	if len(show) > maxShow {
		show, suffix = show[:maxShow], "..."
	}
	return fmt.Sprintf("protocol decode frame=(%d)%q%s err=%v", len(e.Frame), show, suffix, e.Err)
}

func IsDecodeError(err error) bool {
	_, ok := errors.Cause(err).(*DecodeError)
	return ok
}

func mustMarshal(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("code error json.Marshal v=%#v err=%v", v, err))
	}
	return b
}
