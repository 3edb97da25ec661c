// Package metrics registers and exposes the prometheus counters and
// histograms produced by the publish and worker pipelines: messages
// published, consumed, retried and dead-lettered, labelled by destination,
// routing key and outcome.
package metrics

import (
	lib "github.com/prometheus/client_golang/prometheus"
)

// Outcome labels the result of a publish or a consume attempt.
type Outcome string

// Recognized outcomes.
const (
	Success Outcome = "success"
	Failure Outcome = "failure"
)

// Collectors bundles every metric the messaging pipelines emit. Build one
// with NewCollectors and register it against a shared registry with
// Registry.MustRegister, e.g. the Registry exposed by the prometheus
// package's Operator.
type Collectors struct {
	PublishTotal    *lib.CounterVec
	PublishDuration *lib.HistogramVec
	ConsumeTotal    *lib.CounterVec
	ConsumeDuration *lib.HistogramVec
	RetryTotal      *lib.CounterVec
	DeadLetterTotal *lib.CounterVec
}

// NewCollectors builds an unregistered Collectors set. namespace prefixes
// every metric name (e.g. "contractq").
func NewCollectors(namespace string) *Collectors {
	return &Collectors{
		PublishTotal: lib.NewCounterVec(lib.CounterOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "total",
			Help:      "Total number of publish attempts.",
		}, []string{"exchange", "routing_key", "outcome"}),
		PublishDuration: lib.NewHistogramVec(lib.HistogramOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "duration_seconds",
			Help:      "Publish confirmation latency in seconds.",
			Buckets:   lib.DefBuckets,
		}, []string{"exchange", "routing_key"}),
		ConsumeTotal: lib.NewCounterVec(lib.CounterOpts{
			Namespace: namespace,
			Subsystem: "consume",
			Name:      "total",
			Help:      "Total number of deliveries processed.",
		}, []string{"queue", "outcome"}),
		ConsumeDuration: lib.NewHistogramVec(lib.HistogramOpts{
			Namespace: namespace,
			Subsystem: "consume",
			Name:      "duration_seconds",
			Help:      "Handler execution latency in seconds.",
			Buckets:   lib.DefBuckets,
		}, []string{"queue"}),
		RetryTotal: lib.NewCounterVec(lib.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "total",
			Help:      "Total number of retry dispatches.",
		}, []string{"queue", "mode"}),
		DeadLetterTotal: lib.NewCounterVec(lib.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "dead_letter_total",
			Help:      "Total number of deliveries routed to a dead letter queue.",
		}, []string{"queue", "reason"}),
	}
}

// MustRegister registers every collector against reg, panicking on
// duplicate registration the way prometheus' own MustRegister does.
func (c *Collectors) MustRegister(reg *lib.Registry) {
	reg.MustRegister(
		c.PublishTotal,
		c.PublishDuration,
		c.ConsumeTotal,
		c.ConsumeDuration,
		c.RetryTotal,
		c.DeadLetterTotal,
	)
}

// ObservePublish records the outcome and latency of a publish attempt.
func (c *Collectors) ObservePublish(exchange, routingKey string, outcome Outcome, seconds float64) {
	c.PublishTotal.WithLabelValues(exchange, routingKey, string(outcome)).Inc()
	c.PublishDuration.WithLabelValues(exchange, routingKey).Observe(seconds)
}

// ObserveConsume records the outcome and handler latency of a delivery.
func (c *Collectors) ObserveConsume(queue string, outcome Outcome, seconds float64) {
	c.ConsumeTotal.WithLabelValues(queue, string(outcome)).Inc()
	c.ConsumeDuration.WithLabelValues(queue).Observe(seconds)
}

// ObserveRetry records a retry dispatch for queue under mode ("quorum-native"
// or "ttl-backoff").
func (c *Collectors) ObserveRetry(queue, mode string) {
	c.RetryTotal.WithLabelValues(queue, mode).Inc()
}

// ObserveDeadLetter records a delivery routed to a dead letter queue because
// of reason (e.g. "retries-exhausted", "non-retryable").
func (c *Collectors) ObserveDeadLetter(queue, reason string) {
	c.DeadLetterTotal.WithLabelValues(queue, reason).Inc()
}
