package uplink

import (
	"fmt"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/picocast/log2"
	"github.com/temoto/picocast/measure"
)

type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  string
}

type fakeClient struct {
	mu          sync.Mutex
	connectErrs []error
	connects    int
	publishErr  error
	pubs        []published
	disconnects int
}

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	var err error
	if len(c.connectErrs) > 0 {
		err, c.connectErrs = c.connectErrs[0], c.connectErrs[1:]
	}
	return &fakeToken{err: err}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.disconnects++
	c.mu.Unlock()
}

func (c *fakeClient) IsConnected() bool { return true }

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pubs = append(c.pubs, published{topic, qos, retained, string(payload.([]byte))})
	return &fakeToken{err: c.publishErr}
}

func (c *fakeClient) published() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.pubs...)
}

func TestUplinkPublish(t *testing.T) {
	t.Parallel()
	client := &fakeClient{}
	u := NewWithClient(Options{Log: log2.NewTest(t, log2.LDebug), ClientID: "pc1", QoS: 1}, client)
	feed := measure.NewFeed()
	require.NoError(t, u.Start(feed.Subscribe(4)))

	feed.Publish(measure.Measurement{Time: 10, Temperature: 22.5, Humidity: 40, UV: 3.1})
	require.Eventually(t, func() bool { return len(client.published()) == 1 }, 2*time.Second, 5*time.Millisecond)
	u.Stop()

	pubs := client.published()
	assert.Equal(t, published{"pc1/m", 1, false, `{"TIME":10,"TEMP":22.5,"HUM":40,"UV":3.1}`}, pubs[0])
	assert.Equal(t, int64(1), u.Stat().Published.Value())
	assert.Equal(t, 1, client.disconnects)
	assert.Equal(t, 0, feed.Len(), "subscription cancelled on stop")
}

func TestUplinkOnline(t *testing.T) {
	t.Parallel()
	client := &fakeClient{}
	u := NewWithClient(Options{ClientID: "pc1", TopicPrefix: "home/pico"}, client)
	u.onConnect()
	assert.Equal(t, []published{{"home/pico/c", 1, true, "\x01"}}, client.published())
}

func TestUplinkPublishError(t *testing.T) {
	t.Parallel()
	client := &fakeClient{publishErr: fmt.Errorf("broker gone")}
	u := NewWithClient(Options{ClientID: "pc1"}, client)
	err := u.Publish(measure.Measurement{Time: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker gone")
	assert.Equal(t, int64(1), u.Stat().Errors.Value())
}

func TestUplinkStopWhileConnecting(t *testing.T) {
	t.Parallel()
	client := &fakeClient{connectErrs: []error{fmt.Errorf("refused"), fmt.Errorf("refused"), fmt.Errorf("refused")}}
	u := NewWithClient(Options{Log: log2.NewTest(t, log2.LDebug), ClientID: "pc1"}, client)
	feed := measure.NewFeed()
	require.NoError(t, u.Start(feed.Subscribe(1)))
	require.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return client.connects >= 1
	}, 2*time.Second, 5*time.Millisecond)
	u.Stop()
	assert.Equal(t, 0, client.disconnects)
	assert.Error(t, u.Start(feed.Subscribe(1)))
}

func TestNewValidate(t *testing.T) {
	t.Parallel()
	_, err := New(Options{ClientID: "x"})
	assert.Error(t, err)
	_, err = New(Options{Broker: "tcp://127.0.0.1:1883"})
	assert.Error(t, err)
	u, err := New(Options{Broker: "tcp://127.0.0.1:1883", ClientID: "pc1"})
	require.NoError(t, err)
	assert.Equal(t, "pc1/m", u.topicMeasure)
}
