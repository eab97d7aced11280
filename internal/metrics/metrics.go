// Package metrics exposes Prometheus collectors for the call lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector records call lifecycle counters. A nil *Collector is valid and
// records nothing.
type Collector struct {
	started     *prometheus.CounterVec
	finished    *prometheus.CounterVec
	staleResets prometheus.Counter
	discarded   *prometheus.CounterVec
	failures    *prometheus.CounterVec
	status      *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		started: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callcore_calls_started_total",
				Help: "Total number of calls started, by direction",
			},
			[]string{"direction"},
		),
		finished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callcore_calls_finished_total",
				Help: "Total number of calls that reached a final status",
			},
			[]string{"status"},
		),
		staleResets: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "callcore_stale_resets_total",
				Help: "Total number of sessions forced back to idle by the reconciler",
			},
		),
		discarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callcore_signaling_discarded_total",
				Help: "Signaling messages discarded for a room that is not current",
			},
			[]string{"kind"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callcore_call_failures_total",
				Help: "Calls ended by an error, by reason",
			},
			[]string{"reason"},
		),
		status: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "callcore_session_status",
				Help: "1 for the session's current status, 0 otherwise",
			},
			[]string{"status"},
		),
	}
	reg.MustRegister(c.started, c.finished, c.staleResets, c.discarded, c.failures, c.status)
	return c
}

func (c *Collector) CallStarted(direction string) {
	if c == nil {
		return
	}
	c.started.WithLabelValues(direction).Inc()
}

func (c *Collector) CallFinished(status string) {
	if c == nil {
		return
	}
	c.finished.WithLabelValues(status).Inc()
}

func (c *Collector) StaleReset() {
	if c == nil {
		return
	}
	c.staleResets.Inc()
}

func (c *Collector) MessageDiscarded(kind string) {
	if c == nil {
		return
	}
	c.discarded.WithLabelValues(kind).Inc()
}

func (c *Collector) CallFailed(reason string) {
	if c == nil {
		return
	}
	c.failures.WithLabelValues(reason).Inc()
}

// StatusChanged moves the status gauge from one label to the other.
func (c *Collector) StatusChanged(from, to string) {
	if c == nil {
		return
	}
	if from != "" {
		c.status.WithLabelValues(from).Set(0)
	}
	c.status.WithLabelValues(to).Set(1)
}
