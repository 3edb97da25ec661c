package worker

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	driver "github.com/rabbitmq/amqp091-go"
	"go.bryk.io/contractq/contract"
	xlog "go.bryk.io/contractq/log"
	"go.bryk.io/contractq/metrics"
)

// Ackable is the subset of *amqp091.Channel the retry engine needs to
// acknowledge, reject and re-publish deliveries.
type Ackable interface {
	Ack(tag uint64, multiple bool) error
	Nack(tag uint64, multiple, requeue bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg driver.Publishing) error
}

// RetryEngine classifies a handler error and dispatches the delivery
// accordingly: nack-and-requeue for quorum-native mode, ack-and-republish-
// to-the-wait-queue for ttl-backoff mode, or straight to the dead letter
// queue for NonRetryableError and exhausted retries.
type RetryEngine struct {
	channel func() Ackable
	log     xlog.Logger
	metrics *metrics.Collectors

	// now and jitter are overridable for deterministic tests.
	now    func() time.Time
	jitter func() float64
}

// NewRetryEngine builds a RetryEngine. channel is invoked per call so it
// reflects the worker's current (possibly reconnected) channel.
func NewRetryEngine(channel func() Ackable, mc *metrics.Collectors, log xlog.Logger) *RetryEngine {
	if log == nil {
		log = xlog.Discard()
	}
	return &RetryEngine{
		channel: channel,
		log:     log,
		metrics: mc,
		now:     time.Now,
		jitter:  rand.Float64,
	}
}

// HandleError is the retry engine's entry point: handleError(error,
// rawMessage, consumerName, consumer).
func (e *RetryEngine) HandleError(ctx context.Context, err error, d driver.Delivery, consumerName string, q contract.Queue) error {
	var nre *NonRetryableError
	if stderrors.As(err, &nre) {
		return e.sendToDLQ(d, q.Name, "non-retryable")
	}

	if q.Retry == nil {
		e.log.WithField("queue", q.Name).Warning("handler error on queue without a retry policy; sending to DLQ")
		return e.sendToDLQ(d, q.Name, "no-retry-policy")
	}

	switch q.Retry.Mode {
	case contract.RetryQuorumNative:
		return e.handleQuorumNative(d, q)
	case contract.RetryTTLBackoff:
		return e.handleTTLBackoff(ctx, err, d, q)
	default:
		return e.sendToDLQ(d, q.Name, "unknown-retry-mode")
	}
}

func (e *RetryEngine) handleQuorumNative(d driver.Delivery, q contract.Queue) error {
	deliveryCount := headerInt(d.Headers, "x-delivery-count")
	if q.Retry.DeliveryLimit > 0 && deliveryCount == q.Retry.DeliveryLimit-1 {
		e.log.WithFields(xlog.Fields{"queue": q.Name, "deliveryCount": deliveryCount}).Warning("final delivery attempt")
	}
	if err := e.channel().Nack(d.DeliveryTag, false, true); err != nil {
		return fmt.Errorf("retry: quorum-native nack failed: %w", err)
	}
	if e.metrics != nil {
		e.metrics.ObserveRetry(q.Name, "quorum-native")
	}
	return nil
}

func (e *RetryEngine) handleTTLBackoff(ctx context.Context, cause error, d driver.Delivery, q contract.Queue) error {
	retryCount := headerInt(d.Headers, "x-retry-count")
	if retryCount >= q.Retry.MaxRetries {
		return e.sendToDLQ(d, q.Name, "retries-exhausted")
	}

	delayMs := computeDelay(q.Retry, retryCount, e.jitter)

	headers := driver.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers["x-retry-count"] = retryCount + 1
	headers["x-last-error"] = cause.Error()
	if _, ok := headers["x-first-failure-timestamp"]; !ok {
		headers["x-first-failure-timestamp"] = e.now().UnixMilli()
	}

	msg := driver.Publishing{
		ContentType:     d.ContentType,
		ContentEncoding: d.ContentEncoding,
		Body:            d.Body,
		Headers:         headers,
		Expiration:      fmt.Sprintf("%d", delayMs),
	}

	if q.DeadLetter == nil {
		e.log.WithField("queue", q.Name).Warning("ttl-backoff queue has no dead letter exchange; requeueing")
		return e.requeueFallback(d)
	}

	if err := e.channel().PublishWithContext(ctx, q.DeadLetter.Exchange, q.Name+"-wait", false, false, msg); err != nil {
		e.log.WithField("error", err.Error()).Warning("retry publish failed, falling back to requeue")
		return e.requeueFallback(d)
	}
	if err := e.channel().Ack(d.DeliveryTag, false); err != nil {
		return fmt.Errorf("retry: ttl-backoff ack failed: %w", err)
	}
	if e.metrics != nil {
		e.metrics.ObserveRetry(q.Name, "ttl-backoff")
	}
	return nil
}

func (e *RetryEngine) requeueFallback(d driver.Delivery) error {
	if err := e.channel().Nack(d.DeliveryTag, false, true); err != nil {
		return fmt.Errorf("retry: fallback nack failed: %w", err)
	}
	return nil
}

func (e *RetryEngine) sendToDLQ(d driver.Delivery, queueName, reason string) error {
	if err := e.channel().Nack(d.DeliveryTag, false, false); err != nil {
		return fmt.Errorf("retry: dead letter nack failed: %w", err)
	}
	if e.metrics != nil {
		e.metrics.ObserveDeadLetter(queueName, reason)
	}
	return nil
}

// computeDelay implements delayMs = min(initialDelayMs *
// backoffMultiplier^retryCount, maxDelayMs), optionally scaled by a uniform
// jitter factor in [0.5, 1.0].
func computeDelay(policy *contract.RetryPolicy, retryCount int, jitter func() float64) int64 {
	base := float64(policy.InitialDelayMs) * math.Pow(policy.BackoffMultiplier, float64(retryCount))
	if policy.MaxDelayMs > 0 && base > float64(policy.MaxDelayMs) {
		base = float64(policy.MaxDelayMs)
	}
	if policy.Jitter {
		factor := 0.5 + 0.5*jitter()
		base *= factor
	}
	return int64(math.Floor(base))
}

func headerInt(headers driver.Table, key string) int {
	v, ok := headers[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case int16:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
