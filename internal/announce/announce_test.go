package announce

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/picocast/log2"
	"github.com/temoto/picocast/wire"
)

func newTestListener(t testing.TB) *Listener {
	l, err := Listen(context.Background(), "127.0.0.1:0", log2.NewTest(t, log2.LDebug))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func receive(t testing.TB, l *Listener) wire.Announcement {
	a, _, err := l.Next(time.Now().Add(2 * time.Second))
	require.NoError(t, err)
	return a
}

func drain(l *Listener) {
	for {
		if _, _, err := l.Next(time.Now().Add(50 * time.Millisecond)); err != nil {
			return
		}
	}
}

func TestAnnouncerIterations(t *testing.T) {
	t.Parallel()
	l := newTestListener(t)
	a := New(Options{
		Log:      log2.NewTest(t, log2.LDebug),
		Interval: 20 * time.Millisecond,
		Target:   l.Addr().(*net.UDPAddr),
		IP:       "192.168.1.20",
		Port:     51520,
	})
	require.NoError(t, a.Start())
	assert.True(t, a.Running())
	for i := 0; i < 3; i++ {
		ann := receive(t, l)
		assert.Equal(t, wire.AnnounceID, ann.ID)
		assert.Equal(t, i, ann.Iter)
		assert.Equal(t, "192.168.1.20:51520", ann.Addr())
	}
	a.Close()
	assert.False(t, a.Running())
	drain(l)

	// counter restarts from zero
	require.NoError(t, a.Start())
	defer a.Close()
	assert.Equal(t, 0, receive(t, l).Iter)
	assert.Equal(t, 1, receive(t, l).Iter)
	assert.Equal(t, int64(2), a.Stat().Runs.Value())
	assert.True(t, a.Stat().Sent.Value() >= 5)
}

func TestAnnouncerIdempotentStart(t *testing.T) {
	t.Parallel()
	l := newTestListener(t)
	a := New(Options{
		Log:      log2.NewTest(t, log2.LDebug),
		Interval: time.Hour,
		Target:   l.Addr().(*net.UDPAddr),
		IP:       "10.0.0.1",
		Port:     1,
	})
	require.NoError(t, a.Start())
	require.NoError(t, a.Start())
	assert.Equal(t, int64(1), a.Stat().Runs.Value())
	assert.Equal(t, 0, receive(t, l).Iter)

	// stop is observed during interval wait, well before next tick
	begin := time.Now()
	a.Close()
	assert.True(t, time.Since(begin) < time.Second)
	_, _, err := l.Next(time.Now().Add(50 * time.Millisecond))
	assert.Error(t, err)
}

func TestAnnouncerStopBeforeStart(t *testing.T) {
	t.Parallel()
	a := New(Options{})
	a.Stop()
	a.Close()
	assert.False(t, a.Running())
	assert.Equal(t, DefaultInterval, a.opt.Interval)
	assert.Equal(t, "255.255.255.255:51519", a.opt.Target.String())
}

func TestListenerSkipsForeign(t *testing.T) {
	t.Parallel()
	l := newTestListener(t)
	conn, err := net.DialUDP("udp4", nil, l.Addr().(*net.UDPAddr))
	require.NoError(t, err)
	defer conn.Close()
	for _, s := range []string{
		`garbage`,
		`{"id":"Chromecast","iter":0}`,
		string(wire.NewAnnouncement(3, "10.1.2.3", 51520).Marshal()),
	} {
		_, err = conn.Write([]byte(s))
		require.NoError(t, err)
	}
	ann := receive(t, l)
	assert.Equal(t, 3, ann.Iter)
	assert.Equal(t, "10.1.2.3:51520", ann.Addr())
}

func TestDiscoverTimeout(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := Discover(ctx, "127.0.0.1:0", log2.NewTest(t, log2.LDebug))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discover")
}
