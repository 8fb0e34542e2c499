package wire

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/juju/errors"
	"github.com/temoto/picocast/helpers"
)

type Framing string

const (
	FramingLine Framing = "line"
	FramingRaw  Framing = "raw"
)

// DefaultReadLimit is max frame size, generously above any expected message.
const DefaultReadLimit = 85000

var ErrFrameTooLarge = fmt.Errorf("frame is too large")

func ParseFraming(s string) (Framing, error) {
	switch Framing(s) {
	case "", FramingLine:
		return FramingLine, nil
	case FramingRaw:
		return FramingRaw, nil
	}
	return "", errors.NotValidf("framing=%q", s)
}

// Decoder splits stream into frames.
// Returned frame is valid until next ReadFrame call.
type Decoder struct {
	framing Framing
	max     int

	// line
	r        *bufio.Reader
	pending  []byte
	overflow bool

	// raw
	raw io.Reader
	buf []byte
}

func NewDecoder(r io.Reader, framing Framing, max int) *Decoder {
	if max <= 0 {
		max = DefaultReadLimit
	}
	d := &Decoder{framing: framing, max: max}
	switch framing {
	case FramingRaw:
		d.raw = r
		d.buf = make([]byte, max)
	case FramingLine:
		d.r = bufio.NewReader(r)
	default:
		panic(fmt.Sprintf("code error NewDecoder framing=%q", framing))
	}
	return d
}

// ReadFrame returns next frame.
// io.EOF means peer closed stream between frames.
// ErrFrameTooLarge: frame skipped, stream is still usable.
// Other errors come from underlying reader as is, so caller may check net.Error.Timeout();
// after timeout, partially received line frame is kept and completed by next call.
func (d *Decoder) ReadFrame() ([]byte, error) {
	if d.framing == FramingRaw {
		return d.readRaw()
	}
	return d.readLine()
}

func (d *Decoder) readRaw() ([]byte, error) {
	n, err := d.raw.Read(d.buf)
	if n > 0 {
		// only bytes of this read, stale tail of buffer never reaches parser
		return d.buf[:n], nil
	}
	if err == nil {
		err = io.EOF
	}
	return nil, err
}

func (d *Decoder) readLine() ([]byte, error) {
	for {
		chunk, err := d.r.ReadSlice('\n')
		if !d.overflow {
			if len(d.pending)+len(chunk) > d.max+1 { // +1 delimiter
				d.overflow = true
				d.pending = d.pending[:0]
			} else {
				d.pending = append(d.pending, chunk...)
			}
		}

		switch err {
		case nil:
			frame, overflow := d.take()
			if overflow {
				return nil, ErrFrameTooLarge
			}
			if len(frame) == 0 {
				continue
			}
			return frame, nil

		case bufio.ErrBufferFull:
			continue

		case io.EOF:
			// accept last frame without delimiter
			frame, overflow := d.take()
			if overflow {
				return nil, ErrFrameTooLarge
			}
			if len(frame) == 0 {
				return nil, io.EOF
			}
			return frame, nil

		default:
			return nil, err
		}
	}
}

func (d *Decoder) take() ([]byte, bool) {
	frame := bytes.TrimSpace(d.pending)
	overflow := d.overflow
	d.pending = d.pending[:0]
	d.overflow = false
	return frame, overflow
}

// WriteMessage encodes m as one frame.
func WriteMessage(w io.Writer, m *Message, framing Framing) error {
	b := m.Marshal()
	if framing != FramingRaw {
		b = append(b, '\n')
	}
	return helpers.WriteAll(w, b)
}
