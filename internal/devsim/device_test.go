package devsim

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/picocast/internal/announce"
	"github.com/temoto/picocast/internal/session"
	"github.com/temoto/picocast/log2"
	"github.com/temoto/picocast/measure"
	"github.com/temoto/picocast/wire"
)

func TestSynthetic(t *testing.T) {
	t.Parallel()
	s := &Synthetic{}
	m1, m2 := s.Read(), s.Read()
	assert.Equal(t, int64(1), m1.Time)
	assert.Equal(t, int64(2), m2.Time)
	assert.True(t, m1.UV >= 0)
}

func TestReply(t *testing.T) {
	t.Parallel()
	d := New(Options{BacklogEvery: 2})
	r := d.reply(wire.NewMessage(wire.StatusAck))
	require.Equal(t, wire.StatusMes, r.Status)
	require.Len(t, r.Data, 1)
	d.reply(wire.NewMessage(wire.StatusAck))
	d.reply(wire.NewMessage(wire.StatusAck))
	d.reply(wire.NewMessage(wire.StatusAck))
	// every second reading kept
	assert.Equal(t, []int64{2, 4}, times(d.Backlog()))

	r = d.reply(wire.NewMessage(wire.StatusData))
	assert.Equal(t, wire.StatusData, r.Status)
	assert.Equal(t, []int64{2, 4}, times(r.Data))

	r = d.reply(wire.NewMessage(wire.StatusReset))
	assert.Equal(t, wire.StatusMes, r.Status)
	assert.Equal(t, int64(5), r.Data[0].Time)
	assert.Empty(t, d.Backlog())
	assert.Equal(t, int64(1), d.Stat().Resets.Value())

	assert.Nil(t, d.reply(wire.NewMessage(wire.StatusConn)))
}

func TestEndToEnd(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	l, err := announce.Listen(context.Background(), "127.0.0.1:0", log)
	require.NoError(t, err)
	defer l.Close()

	ctl := session.NewController(log, false)
	srv := session.NewServer(session.Options{
		Log:         log,
		Controller:  ctl,
		Addr:        "127.0.0.1:0",
		IdleTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, srv.Start())
	defer srv.Stop()
	port := srv.Addr().(*net.TCPAddr).Port
	ann := announce.New(announce.Options{
		Log:      log,
		Interval: 20 * time.Millisecond,
		Target:   l.Addr().(*net.UDPAddr),
		IP:       "127.0.0.1",
		Port:     port,
	})
	require.NoError(t, ann.Start())
	defer ann.Close()

	d := New(Options{
		Log: log,
		Discover: func(ctx context.Context) (wire.Announcement, error) {
			a, _, err := l.Next(time.Now().Add(2 * time.Second))
			return a, err
		},
		Interval: 5 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- d.Run(ctx) }()

	require.Eventually(t, ctl.IsConnected, 3*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(d.Backlog()) >= 3 }, 3*time.Second, 5*time.Millisecond)
	// logging off: fresh readings are not stored
	assert.Equal(t, 0, ctl.LogLen())

	// pull backlog
	ctl.RequestFullResync()
	require.Eventually(t, func() bool { return ctl.LogLen() >= 3 }, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), ctl.Log()[0].Time)

	// reset device backlog and pull again
	ctl.SetLoggingEnabled(true)
	ctl.RequestBacklogReset()
	ctl.RequestFullResync()
	require.Eventually(t, func() bool {
		all, reset := ctl.Pending()
		return !all && !reset
	}, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), d.Stat().Resets.Value())
	require.Eventually(t, func() bool {
		log := ctl.Log()
		return len(log) > 0 && log[0].Time > 1
	}, 3*time.Second, 5*time.Millisecond)

	sub := ctl.Subscribe(1)
	defer sub.Cancel()
	select {
	case m := <-sub.C:
		assert.True(t, m.Time > 3)
	case <-time.After(3 * time.Second):
		t.Fatal("no fresh measurement")
	}

	cancel()
	require.NoError(t, <-runErr)
	require.Eventually(t, func() bool { return !ctl.IsConnected() }, 3*time.Second, 5*time.Millisecond)
	assert.True(t, srv.Stat().Recv.Value() > 5)
}

func times(ms []measure.Measurement) []int64 {
	ts := make([]int64, len(ms))
	for i, m := range ms {
		ts[i] = m.Time
	}
	return ts
}
