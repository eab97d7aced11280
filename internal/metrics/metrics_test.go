package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollectorCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.CallStarted("outgoing")
	c.CallStarted("outgoing")
	c.CallStarted("incoming")
	c.CallFinished("ended")
	c.StaleReset()
	c.MessageDiscarded("offer")
	c.CallFailed("negotiation")
	c.StatusChanged("", "calling")
	c.StatusChanged("calling", "connecting")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.started.WithLabelValues("outgoing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.started.WithLabelValues("incoming")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.finished.WithLabelValues("ended")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.staleResets))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.discarded.WithLabelValues("offer")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.failures.WithLabelValues("negotiation")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.status.WithLabelValues("calling")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.status.WithLabelValues("connecting")))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.CallStarted("outgoing")
		c.CallFinished("ended")
		c.StaleReset()
		c.MessageDiscarded("offer")
		c.CallFailed("x")
		c.StatusChanged("idle", "calling")
	})
}
