package broker

import "time"

// Metrics receives best-effort counters from the client layer. Absence of a
// sink never affects publish or dispatch outcomes.
type Metrics interface {
	IncPublishAttempt(topic string)
	IncPublishRetry(topic string)
	IncPublishFailure(topic string, reason string)
	ObservePublishLatency(topic string, latency time.Duration)

	IncAck(subscription string)
	IncNack(subscription string)
	SetInFlight(subscription string, n int)
}

// NoopMetrics discards all metrics.
type NoopMetrics struct{}

func (NoopMetrics) IncPublishAttempt(string)                    {}
func (NoopMetrics) IncPublishRetry(string)                      {}
func (NoopMetrics) IncPublishFailure(string, string)            {}
func (NoopMetrics) ObservePublishLatency(string, time.Duration) {}
func (NoopMetrics) IncAck(string)                               {}
func (NoopMetrics) IncNack(string)                              {}
func (NoopMetrics) SetInFlight(string, int)                     {}
