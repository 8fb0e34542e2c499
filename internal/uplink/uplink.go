// Package uplink republishes new measurements to MQTT broker.
package uplink

import (
	"expvar"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	json "github.com/goccy/go-json"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/picocast/helpers"
	"github.com/temoto/picocast/log2"
	"github.com/temoto/picocast/measure"
)

const (
	DefaultKeepAlive      = 60 * time.Second
	DefaultPublishTimeout = 10 * time.Second
)

// Client is subset of mqtt.Client used here.
type Client interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type Options struct {
	Log            *log2.Log
	Broker         string // tcp://host:1883
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string // default ClientID
	QoS            byte
	KeepAlive      time.Duration
	PublishTimeout time.Duration
}

type Stat struct {
	Published expvar.Int
	Errors    expvar.Int
}

func (s *Stat) String() string {
	return fmt.Sprintf(`{"published":%d,"errors":%d}`, s.Published.Value(), s.Errors.Value())
}

type Uplink struct {
	alive   *alive.Alive
	log     *log2.Log
	client  Client
	opt     Options
	backoff helpers.Backoff
	stat    Stat

	topicMeasure string
	topicConnect string
}

// New creates paho client, connection is established by Start.
func New(opt Options) (*Uplink, error) {
	if opt.Broker == "" {
		return nil, errors.NotValidf("uplink broker empty")
	}
	if opt.ClientID == "" {
		return nil, errors.NotValidf("uplink client_id empty")
	}
	self := newUplink(opt)
	mqtt.ERROR = opt.Log
	mqtt.CRITICAL = opt.Log
	mqtt.WARN = opt.Log

	mopt := mqtt.NewClientOptions().
		AddBroker(opt.Broker).
		SetBinaryWill(self.topicConnect, []byte{0x00}, 1, true).
		SetCleanSession(true).
		SetClientID(opt.ClientID).
		SetUsername(opt.Username).
		SetPassword(opt.Password).
		SetKeepAlive(self.opt.KeepAlive).
		SetOrderMatters(false).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(time.Minute).
		SetOnConnectHandler(func(mqtt.Client) { self.onConnect() }).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			self.log.Infof("uplink: mqtt disconnect err=%v", err)
		})
	self.client = mqtt.NewClient(mopt)
	return self, nil
}

// NewWithClient is for custom transport, e.g. tests.
func NewWithClient(opt Options, client Client) *Uplink {
	self := newUplink(opt)
	self.client = client
	return self
}

func newUplink(opt Options) *Uplink {
	if opt.TopicPrefix == "" {
		opt.TopicPrefix = opt.ClientID
	}
	if opt.KeepAlive == 0 {
		opt.KeepAlive = DefaultKeepAlive
	}
	if opt.PublishTimeout == 0 {
		opt.PublishTimeout = DefaultPublishTimeout
	}
	return &Uplink{
		alive:        alive.NewAlive(),
		log:          opt.Log,
		opt:          opt,
		backoff:      helpers.Backoff{Min: time.Second, Max: time.Minute, K: 2, Res: time.Second},
		topicMeasure: fmt.Sprintf("%s/m", opt.TopicPrefix),
		topicConnect: fmt.Sprintf("%s/c", opt.TopicPrefix),
	}
}

func (self *Uplink) Stat() *Stat { return &self.stat }

// Start connects in background and publishes every measurement from sub
// until Stop. Subscription is cancelled on exit.
func (self *Uplink) Start(sub *measure.Subscription) error {
	if !self.alive.Add(1) {
		return errors.Errorf("uplink Start after Stop")
	}
	go self.worker(sub)
	return nil
}

func (self *Uplink) Stop() {
	self.alive.Stop()
	self.alive.Wait()
}

func (self *Uplink) worker(sub *measure.Subscription) {
	defer self.alive.Done()
	defer sub.Cancel()
	stopch := self.alive.StopChan()

	if !self.connect(stopch) {
		return
	}
	defer self.client.Disconnect(250)
	for {
		select {
		case <-stopch:
			return
		case m, ok := <-sub.C:
			if !ok {
				return
			}
			_ = self.Publish(m)
		}
	}
}

// connect retries until success or stop.
func (self *Uplink) connect(stopch <-chan struct{}) bool {
	for {
		select {
		case <-stopch:
			return false
		case <-time.After(self.backoff.DelayBefore()):
		}
		token := self.client.Connect()
		token.Wait()
		err := token.Error()
		self.backoff.Update(err == nil)
		if err == nil {
			self.log.Infof("uplink: connected broker=%s", self.opt.Broker)
			return true
		}
		self.log.Errorf("uplink: connect broker=%s err=%v retry in %v", self.opt.Broker, err, self.backoff.Next())
	}
}

func (self *Uplink) onConnect() {
	token := self.client.Publish(self.topicConnect, 1, true, []byte{0x01})
	if err := self.wait(token); err != nil {
		self.log.Errorf("uplink: online flag err=%v", err)
	}
}

// Publish sends one measurement as JSON.
func (self *Uplink) Publish(m measure.Measurement) error {
	b, err := json.Marshal(m)
	if err != nil {
		return errors.Annotate(err, "uplink marshal")
	}
	token := self.client.Publish(self.topicMeasure, self.opt.QoS, false, b)
	if err = self.wait(token); err != nil {
		self.stat.Errors.Add(1)
		err = errors.Annotatef(err, "uplink publish topic=%s", self.topicMeasure)
		self.log.Error(err)
		return err
	}
	self.stat.Published.Add(1)
	return nil
}

func (self *Uplink) wait(token mqtt.Token) error {
	if !token.WaitTimeout(self.opt.PublishTimeout) {
		return errors.Timeoutf("mqtt token")
	}
	return token.Error()
}
