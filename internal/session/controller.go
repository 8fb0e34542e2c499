// Package session serves one device at a time over TCP and keeps
// client-facing state: measurement log, logging switch and one-shot requests.
package session

import (
	"sync"

	"github.com/temoto/picocast/log2"
	"github.com/temoto/picocast/measure"
	"github.com/temoto/picocast/wire"
)

// Controller is safe for concurrent use by server loop and UI.
type Controller struct {
	log  *log2.Log
	data *measure.Log
	feed *measure.Feed

	mu           sync.Mutex
	connected    bool
	logging      bool
	requestAll   bool
	resetBacklog bool
}

func NewController(log *log2.Log, logging bool) *Controller {
	return &Controller{
		log:     log,
		data:    measure.NewLog(),
		feed:    measure.NewFeed(),
		logging: logging,
	}
}

func (c *Controller) Feed() *measure.Feed { return c.feed }

func (c *Controller) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Controller) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

// Log returns snapshot copy.
func (c *Controller) Log() []measure.Measurement { return c.data.Snapshot() }
func (c *Controller) LogLen() int                { return c.data.Len() }

func (c *Controller) ReplaceLog(ms []measure.Measurement) { c.data.Replace(ms) }
func (c *Controller) ClearLog()                           { c.data.Clear() }

func (c *Controller) LoggingEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logging
}

func (c *Controller) SetLoggingEnabled(v bool) {
	c.mu.Lock()
	c.logging = v
	c.mu.Unlock()
}

// ToggleLogging returns new value.
func (c *Controller) ToggleLogging() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logging = !c.logging
	return c.logging
}

// RequestFullResync asks device to upload whole backlog on next MES.
// Local log is cleared, incoming DATA replaces it.
func (c *Controller) RequestFullResync() {
	c.mu.Lock()
	c.data.Clear()
	c.requestAll = true
	c.mu.Unlock()
}

// RequestBacklogReset lets device discard its backlog.
// Takes effect only together with pending full resync.
func (c *Controller) RequestBacklogReset() {
	c.mu.Lock()
	c.resetBacklog = true
	c.mu.Unlock()
}

// Pending reports one-shot requests not yet delivered.
func (c *Controller) Pending() (requestAll, resetBacklog bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestAll, c.resetBacklog
}

// Subscribe to new measurements. Cancel subscription when done.
func (c *Controller) Subscribe(capacity int) *measure.Subscription {
	return c.feed.Subscribe(capacity)
}

// Handle applies incoming message and returns response, nil means no response.
// Flags are read and cleared under same lock as UI writers use.
func (c *Controller) Handle(m *wire.Message) *wire.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch m.Status {
	case wire.StatusConn:
		return wire.NewMessage(wire.StatusAck)

	case wire.StatusData:
		if len(m.Data) != 0 {
			c.data.Replace(m.Data)
			c.feed.Publish(m.Data[len(m.Data)-1])
			c.log.Debugf("session: backlog replaced len=%d", len(m.Data))
		}
		// reset is never offered here, only after MES
		if c.requestAll {
			c.requestAll = false
			return wire.NewMessage(wire.StatusData)
		}
		return wire.NewMessage(wire.StatusAck)

	case wire.StatusMes:
		if c.logging && len(m.Data) != 0 {
			c.data.Append(m.Data[0])
			c.feed.Publish(m.Data[0])
		}
		switch {
		case !c.requestAll:
			return wire.NewMessage(wire.StatusAck)
		case c.resetBacklog:
			c.resetBacklog = false
			return wire.NewMessage(wire.StatusReset)
		default:
			c.requestAll = false
			return wire.NewMessage(wire.StatusData)
		}

	case wire.StatusClose:
		c.log.Debugf("session: device says close")
		return nil
	}
	c.log.Debugf("session: ignore status=%q", m.Status)
	return nil
}
