package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollector_Counters(t *testing.T) {
	c := New()

	c.IncPublishAttempt("t-metrics")
	c.IncPublishAttempt("t-metrics")
	c.IncPublishRetry("t-metrics")
	c.IncPublishFailure("t-metrics", "timeout")
	c.ObservePublishLatency("t-metrics", 25*time.Millisecond)
	c.IncAck("sub-metrics")
	c.IncNack("sub-metrics")
	c.SetInFlight("sub-metrics", 7)

	assert.Equal(t, 2.0, testutil.ToFloat64(PublishAttempts.WithLabelValues("t-metrics")))
	assert.Equal(t, 1.0, testutil.ToFloat64(PublishRetries.WithLabelValues("t-metrics")))
	assert.Equal(t, 1.0, testutil.ToFloat64(PublishFailures.WithLabelValues("t-metrics", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(MessagesAcked.WithLabelValues("sub-metrics")))
	assert.Equal(t, 1.0, testutil.ToFloat64(MessagesNacked.WithLabelValues("sub-metrics")))
	assert.Equal(t, 7.0, testutil.ToFloat64(InFlight.WithLabelValues("sub-metrics")))

	c.SetInFlight("sub-metrics", 0)
	assert.Equal(t, 0.0, testutil.ToFloat64(InFlight.WithLabelValues("sub-metrics")))
}
