// Package netmon classifies host-reported connectivity into the coarse
// quality levels that drive sync scheduling. The host platform feeds it
// boolean online/offline events and, when available, link measurements.
package netmon

import (
	"sync"
	"time"

	"github.com/haulmark/fieldsync/internal/logging"
)

// Quality is the coarse connection classification.
type Quality int

const (
	Offline Quality = iota
	Poor
	Good
	Excellent
)

// String returns the quality name.
func (q Quality) String() string {
	switch q {
	case Offline:
		return "offline"
	case Poor:
		return "poor"
	case Good:
		return "good"
	case Excellent:
		return "excellent"
	}
	return "unknown"
}

// Classification thresholds. Derived from what a constrained mobile link
// looks like in the field: anything under ~1Mbps or over ~500ms RTT is
// treated as poor.
const (
	excellentBandwidthKbps = 5000
	excellentRTTMillis     = 100
	goodBandwidthKbps      = 1000
	goodRTTMillis          = 500
)

// Sample is a link measurement reported by the host platform.
type Sample struct {
	BandwidthKbps float64
	RTTMillis     float64
}

// Event notifies subscribers of a connectivity change.
type Event struct {
	Online    bool
	WasOnline bool
	Quality   Quality
	At        time.Time
}

// Monitor tracks reachability and quality and notifies subscribers on
// change. It starts offline until the host reports otherwise.
type Monitor struct {
	mu        sync.RWMutex
	online    bool
	quality   Quality
	hasSample bool
	sample    Sample

	subs   map[int]chan Event
	nextID int
}

// NewMonitor creates a Monitor in the offline state.
func NewMonitor() *Monitor {
	return &Monitor{
		quality: Offline,
		subs:    make(map[int]chan Event),
	}
}

// SetOnline records a reachability change from the host platform.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	wasOnline := m.online
	m.online = online
	quality := m.classifyLocked()
	changed := quality != m.quality || wasOnline != online
	m.quality = quality
	m.mu.Unlock()

	if changed {
		logging.Info("connectivity changed",
			map[string]interface{}{
				"online":  online,
				"quality": quality.String(),
			})
		m.notify(Event{Online: online, WasOnline: wasOnline, Quality: quality, At: time.Now()})
	}
}

// ReportSample records a link measurement and re-classifies.
func (m *Monitor) ReportSample(s Sample) {
	m.mu.Lock()
	m.sample = s
	m.hasSample = true
	wasQuality := m.quality
	m.quality = m.classifyLocked()
	online := m.online
	changed := m.quality != wasQuality
	quality := m.quality
	m.mu.Unlock()

	if changed {
		m.notify(Event{Online: online, WasOnline: online, Quality: quality, At: time.Now()})
	}
}

// Reevaluate re-runs classification against the last sample. Called on
// app-foreground transitions, where a stale classification is likely.
func (m *Monitor) Reevaluate() {
	m.mu.RLock()
	s := m.sample
	has := m.hasSample
	m.mu.RUnlock()
	if has {
		m.ReportSample(s)
	}
}

// classifyLocked derives quality from the current state. Callers hold m.mu.
// With no measurement available the monitor defaults to a conservative
// "good" profile rather than assuming the best.
func (m *Monitor) classifyLocked() Quality {
	if !m.online {
		return Offline
	}
	if !m.hasSample || m.sample.BandwidthKbps <= 0 {
		return Good
	}
	if m.sample.BandwidthKbps >= excellentBandwidthKbps && m.sample.RTTMillis <= excellentRTTMillis {
		return Excellent
	}
	if m.sample.BandwidthKbps >= goodBandwidthKbps && m.sample.RTTMillis <= goodRTTMillis {
		return Good
	}
	return Poor
}

// Online reports current reachability.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Quality returns the current classification.
func (m *Monitor) Quality() Quality {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.quality
}

// Subscribe registers for connectivity events. The returned cancel func
// removes the subscription and closes the channel.
func (m *Monitor) Subscribe() (<-chan Event, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan Event, 16)
	m.subs[id] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if sub, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// notify pushes an event to all subscribers without blocking; a subscriber
// that stops draining loses events rather than stalling the monitor.
func (m *Monitor) notify(ev Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
