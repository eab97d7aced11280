// Package network classifies connectivity into quality tiers and reports
// changes to subscribers.
package network

import (
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "network")

// Quality is the coarse connectivity tier surfaced to the call UI.
type Quality string

const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityFair      Quality = "fair"
	QualityPoor      Quality = "poor"
	QualityOffline   Quality = "offline"
)

// Degraded reports whether q warrants a warning during a call.
func (q Quality) Degraded() bool {
	return q == QualityPoor || q == QualityOffline
}

// Transport is the link type reported by a Provider.
type Transport string

const (
	TransportWiFi     Transport = "wifi"
	TransportCellular Transport = "cellular"
	TransportEthernet Transport = "ethernet"
	TransportUnknown  Transport = "unknown"
	TransportNone     Transport = "none"
)

// Status is a point-in-time reading from a Provider. Generation is only
// meaningful for cellular links ("2g", "3g", "4g", "5g").
type Status struct {
	Connected  bool
	Transport  Transport
	Generation string
}

// Provider is the platform's connectivity source.
type Provider interface {
	Current() (Status, error)
	Subscribe(func(Status)) (unsubscribe func())
}

// Classify maps a status reading to a quality tier.
func Classify(st Status) Quality {
	if !st.Connected || st.Transport == TransportNone {
		return QualityOffline
	}
	switch st.Transport {
	case TransportWiFi, TransportEthernet:
		return QualityExcellent
	case TransportCellular:
		switch strings.ToLower(st.Generation) {
		case "5g":
			return QualityExcellent
		case "4g", "lte":
			return QualityGood
		case "3g":
			return QualityFair
		case "2g":
			return QualityPoor
		}
		return QualityFair
	}
	return QualityFair
}

type listeners[T any] struct {
	next uint64
	m    map[uint64]T
}

func (l *listeners[T]) add(fn T) uint64 {
	if l.m == nil {
		l.m = make(map[uint64]T)
	}
	l.next++
	l.m[l.next] = fn
	return l.next
}

func (l *listeners[T]) list() []T {
	out := make([]T, 0, len(l.m))
	for _, fn := range l.m {
		out = append(out, fn)
	}
	return out
}

// Monitor tracks the provider's status and raises connectivity lost,
// connectivity restored and quality changed events. It never ends a call.
type Monitor struct {
	provider Provider

	mu       sync.Mutex
	started  bool
	status   Status
	quality  Quality
	unsub    func()
	lost     listeners[func()]
	restored listeners[func()]
	changed  listeners[func(from, to Quality)]
}

func NewMonitor(p Provider) *Monitor {
	return &Monitor{provider: p, quality: QualityOffline}
}

// Start reads the current status and subscribes to provider updates.
func (m *Monitor) Start() error {
	st, err := m.provider.Current()
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.status = st
	m.quality = Classify(st)
	m.mu.Unlock()

	unsub := m.provider.Subscribe(m.Update)
	m.mu.Lock()
	m.unsub = unsub
	m.mu.Unlock()

	log.WithField("quality", Classify(st)).Infof("network monitor started (%s)", st.Transport)
	return nil
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	unsub := m.unsub
	m.unsub = nil
	m.started = false
	m.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// Quality returns the current tier.
func (m *Monitor) Quality() Quality {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.quality
}

func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// OnConnectivityLost registers fn for connected -> disconnected edges.
func (m *Monitor) OnConnectivityLost(fn func()) func() {
	m.mu.Lock()
	id := m.lost.add(fn)
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.lost.m, id)
		m.mu.Unlock()
	}
}

// OnConnectivityRestored registers fn for disconnected -> connected edges.
func (m *Monitor) OnConnectivityRestored(fn func()) func() {
	m.mu.Lock()
	id := m.restored.add(fn)
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.restored.m, id)
		m.mu.Unlock()
	}
}

// OnQualityChange registers fn for tier changes.
func (m *Monitor) OnQualityChange(fn func(from, to Quality)) func() {
	m.mu.Lock()
	id := m.changed.add(fn)
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.changed.m, id)
		m.mu.Unlock()
	}
}

// Update applies a new provider reading and fires the matching events.
// Handlers run on the caller's goroutine after the monitor lock is released.
func (m *Monitor) Update(st Status) {
	m.mu.Lock()
	prev := m.status
	from := m.quality
	to := Classify(st)
	m.status = st
	m.quality = to

	var lost, restored []func()
	var changed []func(from, to Quality)
	wasUp := prev.Connected && prev.Transport != TransportNone
	isUp := st.Connected && st.Transport != TransportNone
	if wasUp && !isUp {
		lost = m.lost.list()
	}
	if !wasUp && isUp {
		restored = m.restored.list()
	}
	if from != to {
		changed = m.changed.list()
	}
	m.mu.Unlock()

	switch {
	case wasUp && !isUp:
		log.WithField("quality", to).Warnf("connectivity lost")
	case !wasUp && isUp:
		log.WithField("quality", to).Infof("connectivity restored")
	case from != to:
		log.Debugf("quality %s -> %s", from, to)
	}

	for _, fn := range lost {
		fn()
	}
	for _, fn := range restored {
		fn()
	}
	for _, fn := range changed {
		fn(from, to)
	}
}
