package wire_test

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/picocast/measure"
	"github.com/temoto/picocast/wire"
)

func TestMessageMarshal(t *testing.T) {
	t.Parallel()
	cases := []struct {
		m      *wire.Message
		expect string
	}{
		{wire.NewMessage(wire.StatusAck), `{"STATUS":"ACK","DATA":null}`},
		{wire.NewMessage(wire.StatusData), `{"STATUS":"DATA","DATA":null}`},
		{wire.NewMessage(wire.StatusMes, measure.Measurement{Time: 10, Temperature: 22.5, Humidity: 40, UV: 3.1}),
			`{"STATUS":"MES","DATA":[{"TIME":10,"TEMP":22.5,"HUM":40,"UV":3.1}]}`},
	}
	for _, c := range cases {
		c := c
		t.Run(c.m.String(), func(t *testing.T) {
			assert.Equal(t, c.expect, string(c.m.Marshal()))
		})
	}
}

func TestMessageRoundTrip(t *testing.T) {
	t.Parallel()
	cases := []*wire.Message{
		{Status: wire.StatusConn},
		{Status: wire.StatusData, Data: []measure.Measurement{
			{Time: 1, Temperature: -3.25, Humidity: 99.9, UV: 0},
			{Time: 2, Temperature: 21.123456789, Humidity: 0.5, UV: 12.75},
		}},
		{Status: wire.StatusReset},
	}
	for _, m := range cases {
		m := m
		t.Run(m.String(), func(t *testing.T) {
			m2, err := wire.ParseMessage(m.Marshal())
			require.NoError(t, err)
			assert.Equal(t, m, m2)
		})
	}
}

func TestParseMessageDevice(t *testing.T) {
	t.Parallel()
	// firmware output
	m, err := wire.ParseMessage([]byte(`{"STATUS": "MES", "DATA": [{"TIME": 10, "TEMP": 22.5, "HUM": 40.0, "UV": 3.1}]}`))
	require.NoError(t, err)
	assert.Equal(t, wire.StatusMes, m.Status)
	require.Len(t, m.Data, 1)
	assert.Equal(t, measure.Measurement{Time: 10, Temperature: 22.5, Humidity: 40, UV: 3.1}, m.Data[0])

	// key case does not matter for decoding
	m, err = wire.ParseMessage([]byte(`{"status":"CONN","data":[]}`))
	require.NoError(t, err)
	assert.Equal(t, wire.StatusConn, m.Status)
}

func TestParseMessageError(t *testing.T) {
	t.Parallel()
	cases := []string{
		``,
		`{`,
		`not json`,
		`null`,
		`{"DATA":[]}`,
		`{"STATUS":""}`,
		`{"STATUS":"MES","DATA":"oops"}`,
	}
	for _, c := range cases {
		c := c
		t.Run(c, func(t *testing.T) {
			m, err := wire.ParseMessage([]byte(c))
			require.Error(t, err)
			assert.Nil(t, m)
			assert.True(t, wire.IsDecodeError(err))
			assert.True(t, wire.IsDecodeError(errors.Annotate(err, "wrapped")))
			assert.Contains(t, err.Error(), "protocol decode")
		})
	}
}

func TestAnnouncement(t *testing.T) {
	t.Parallel()
	a := wire.NewAnnouncement(7, "192.168.1.20", 51520)
	b := a.Marshal()
	assert.Equal(t, `{"ID":"PicoCast","iter":7,"ip":"192.168.1.20","port":51520}`, string(b))
	assert.Equal(t, "192.168.1.20:51520", a.Addr())

	a2, err := wire.ParseAnnouncement(b)
	require.NoError(t, err)
	assert.Equal(t, a, a2)

	// firmware matches key case-sensitively
	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.Equal(t, wire.AnnounceID, raw["ID"])

	lower, err := wire.ParseAnnouncement([]byte(`{"id":"PicoCast","iter":3,"ip":"10.0.0.2","port":51520}`))
	require.NoError(t, err)
	assert.Equal(t, 3, lower.Iter)

	_, err = wire.ParseAnnouncement([]byte(`{"ID":"SomethingElse","iter":1}`))
	require.Error(t, err)
	assert.Equal(t, wire.ErrForeignAnnouncement, errors.Cause(err))

	_, err = wire.ParseAnnouncement([]byte(`garbage`))
	assert.True(t, wire.IsDecodeError(err))
}
