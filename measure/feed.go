package measure

import (
	"expvar"
	"sync"
)

// Feed delivers new measurements to subscribers, e.g. UI or uplink.
// Publish never blocks: each subscription has bounded buffer
// and loses oldest entry on overflow.
type Feed struct {
	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	Dropped expvar.Int
}

type Subscription struct {
	C    <-chan Measurement
	ch   chan Measurement
	feed *Feed
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[*Subscription]struct{})}
}

// Subscribe with buffer capacity, minimum 1.
func (f *Feed) Subscribe(capacity int) *Subscription {
	if capacity < 1 {
		capacity = 1
	}
	ch := make(chan Measurement, capacity)
	s := &Subscription{C: ch, ch: ch, feed: f}
	f.mu.Lock()
	f.subs[s] = struct{}{}
	f.mu.Unlock()
	return s
}

// Cancel removes subscription and closes its channel. Idempotent.
func (s *Subscription) Cancel() {
	f := s.feed
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[s]; ok {
		delete(f.subs, s)
		close(s.ch)
	}
}

func (f *Feed) Publish(m Measurement) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for s := range f.subs {
		select {
		case s.ch <- m:
			continue
		default:
		}
		// full, drop oldest
		select {
		case <-s.ch:
			f.Dropped.Add(1)
		default:
		}
		select {
		case s.ch <- m:
		default:
			f.Dropped.Add(1)
		}
	}
}

func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
