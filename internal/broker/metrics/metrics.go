// Package metrics implements the broker Metrics interface on prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/walofficial/wal-server/internal/broker"
)

var (
	PublishAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_publish_attempts_total",
		Help: "The total number of publish attempts, including retries",
	}, []string{"topic"})

	PublishRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_publish_retries_total",
		Help: "The total number of publish retries after transient failures",
	}, []string{"topic"})

	PublishFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_publish_failures_total",
		Help: "The total number of publishes that failed permanently",
	}, []string{"topic", "reason"})

	PublishLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "broker_publish_latency_seconds",
		Help: "The latency of individual publish attempts",
	}, []string{"topic"})

	MessagesAcked = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_messages_acked_total",
		Help: "The total number of acknowledged messages",
	}, []string{"subscription"})

	MessagesNacked = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_messages_nacked_total",
		Help: "The total number of negatively acknowledged messages",
	}, []string{"subscription"})

	InFlight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "broker_in_flight_messages",
		Help: "The number of messages currently being processed",
	}, []string{"subscription"})
)

func init() {
	prometheus.MustRegister(PublishAttempts)
	prometheus.MustRegister(PublishRetries)
	prometheus.MustRegister(PublishFailures)
	prometheus.MustRegister(PublishLatency)
	prometheus.MustRegister(MessagesAcked)
	prometheus.MustRegister(MessagesNacked)
	prometheus.MustRegister(InFlight)
}

// Collector implements broker.Metrics on the package counters.
type Collector struct{}

// Compile-time check that Collector implements broker.Metrics.
var _ broker.Metrics = Collector{}

func New() Collector {
	return Collector{}
}

func (Collector) IncPublishAttempt(topic string) {
	PublishAttempts.WithLabelValues(topic).Inc()
}

func (Collector) IncPublishRetry(topic string) {
	PublishRetries.WithLabelValues(topic).Inc()
}

func (Collector) IncPublishFailure(topic, reason string) {
	PublishFailures.WithLabelValues(topic, reason).Inc()
}

func (Collector) ObservePublishLatency(topic string, latency time.Duration) {
	PublishLatency.WithLabelValues(topic).Observe(latency.Seconds())
}

func (Collector) IncAck(subscription string) {
	MessagesAcked.WithLabelValues(subscription).Inc()
}

func (Collector) IncNack(subscription string) {
	MessagesNacked.WithLabelValues(subscription).Inc()
}

func (Collector) SetInFlight(subscription string, n int) {
	InFlight.WithLabelValues(subscription).Set(float64(n))
}
