// Package measure keeps telemetry samples received from sensor device.
package measure

import (
	"fmt"
	"sync"
)

// Measurement is one telemetry sample, carried verbatim from device.
type Measurement struct {
	Time        int64   `json:"TIME"` // device clock seconds, device-defined epoch
	Temperature float64 `json:"TEMP"` // °C
	Humidity    float64 `json:"HUM"`  // %
	UV          float64 `json:"UV"`   // mW/m²
}

func (m Measurement) String() string {
	return fmt.Sprintf("(time=%d temp=%.2f hum=%.2f uv=%.2f)", m.Time, m.Temperature, m.Humidity, m.UV)
}

// Log is ordered append-only sequence of measurements, arrival order.
// Safe for concurrent use. Readers get copies.
type Log struct {
	mu    sync.RWMutex
	items []Measurement
}

func NewLog() *Log { return &Log{} }

func (l *Log) Append(m Measurement) {
	l.mu.Lock()
	l.items = append(l.items, m)
	l.mu.Unlock()
}

// Replace discards all entries and installs copy of ms.
func (l *Log) Replace(ms []Measurement) {
	fresh := make([]Measurement, len(ms))
	copy(fresh, ms)
	l.mu.Lock()
	l.items = fresh
	l.mu.Unlock()
}

func (l *Log) Clear() {
	l.mu.Lock()
	l.items = nil
	l.mu.Unlock()
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

func (l *Log) Last() (Measurement, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.items) == 0 {
		return Measurement{}, false
	}
	return l.items[len(l.items)-1], true
}

// Snapshot returns copy of all entries, never nil.
func (l *Log) Snapshot() []Measurement {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Measurement, len(l.items))
	copy(out, l.items)
	return out
}
