// Package worker implements the worker pipeline: prefetch setup,
// decompression, payload/header validation, handler dispatch, ack/nack,
// retry dispatch, and graceful cancellation. The retry engine itself lives
// in retry.go.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	driver "github.com/rabbitmq/amqp091-go"
	"go.bryk.io/contractq/contract"
	xlog "go.bryk.io/contractq/log"
	"go.bryk.io/contractq/metrics"
	"go.bryk.io/contractq/publish"
	"go.bryk.io/contractq/telemetry"
	"go.bryk.io/contractq/ulid"
)

// Channel is the subset of *amqp091.Channel the worker pipeline depends on.
type Channel interface {
	Ackable
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args driver.Table) (<-chan driver.Delivery, error)
	Cancel(consumer string, noWait bool) error
	Qos(prefetchCount, prefetchSize int, global bool) error
}

// Handler processes one delivery's decoded payload and headers. Returning
// NonRetryable(err) sends the delivery straight to the dead letter queue;
// any other non-nil error feeds the retry engine.
type Handler func(ctx context.Context, payload any, headers map[string]any, raw driver.Delivery) error

// Registration binds a Handler to a contract consumer name, with an
// optional per-consumer prefetch hint.
type Registration struct {
	Handler  Handler
	Prefetch int
}

// Options configures a Worker.
type Options struct {
	Telemetry telemetry.Provider
	Metrics   *metrics.Collectors
	Log       xlog.Logger
}

// Worker dispatches deliveries for every consumer defined in a contract to
// its registered Handler.
type Worker struct {
	contract  *contract.Contract
	channel   func() Channel
	handlers  map[string]Registration
	telemetry telemetry.Provider
	metrics   *metrics.Collectors
	log       xlog.Logger
	retry     *RetryEngine

	mu   sync.Mutex
	tags map[string]string // consumerName -> consumer tag
	wg   sync.WaitGroup
}

// New builds a Worker bound to c's consumer definitions. channel is invoked
// whenever the worker needs the current channel, so it can track a
// reconnecting broker.Conn. handlers must have one entry per key in
// c.Consumers; a missing handler is a programmer error surfaced here, not
// at delivery time.
func New(c *contract.Contract, channel func() Channel, handlers map[string]Registration, opts Options) (*Worker, error) {
	for name := range c.Consumers {
		if _, ok := handlers[name]; !ok {
			return nil, fmt.Errorf("worker: no handler registered for consumer %q", name)
		}
	}
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.NoOp()
	}
	if opts.Log == nil {
		opts.Log = xlog.Discard()
	}
	w := &Worker{
		contract:  c,
		channel:   channel,
		handlers:  handlers,
		telemetry: opts.Telemetry,
		metrics:   opts.Metrics,
		log:       opts.Log,
		tags:      map[string]string{},
	}
	w.retry = NewRetryEngine(func() Ackable { return channel() }, opts.Metrics, opts.Log)
	return w, nil
}

// MaxPrefetch returns max(handler.prefetch) across every registration,
// honoring AMQP 0-9-1's per-channel prefetch by applying it once for the
// whole channel.
func (w *Worker) MaxPrefetch() int {
	max := 0
	for _, reg := range w.handlers {
		if reg.Prefetch > max {
			max = reg.Prefetch
		}
	}
	return max
}

// Start applies the channel-wide prefetch and registers a consumer for
// every contract consumer, dispatching deliveries to their handler in a
// dedicated goroutine per consumer.
func (w *Worker) Start(ctx context.Context) error {
	ch := w.channel()
	if ch == nil {
		return publish.NewTechnicalError("channel unavailable", nil)
	}
	if mp := w.MaxPrefetch(); mp > 0 {
		if err := ch.Qos(mp, 0, false); err != nil {
			return publish.NewTechnicalError("failed to set channel prefetch", err)
		}
	}

	for name, def := range w.contract.Consumers {
		id, err := ulid.New()
		if err != nil {
			return publish.NewTechnicalError("failed to generate consumer tag", err)
		}
		tag := name + "-" + id.String()
		deliveries, err := ch.Consume(def.Queue.Name, tag, false, false, false, false, nil)
		if err != nil {
			return publish.NewTechnicalError(fmt.Sprintf("failed to register consumer for %q", name), err)
		}
		w.mu.Lock()
		w.tags[name] = tag
		w.mu.Unlock()

		w.wg.Add(1)
		go w.consume(ctx, name, def, deliveries)
	}
	return nil
}

// Close cancels every registered consumer tag (best-effort), then lets
// in-flight handlers finish without dispatching new deliveries.
func (w *Worker) Close() error {
	ch := w.channel()
	w.mu.Lock()
	tags := make([]string, 0, len(w.tags))
	for _, tag := range w.tags {
		tags = append(tags, tag)
	}
	w.mu.Unlock()

	for _, tag := range tags {
		if ch != nil {
			if err := ch.Cancel(tag, false); err != nil {
				w.log.WithField("error", err.Error()).Warning("failed to cancel consumer")
			}
		}
	}
	w.wg.Wait()
	return nil
}

func (w *Worker) consume(ctx context.Context, consumerName string, def contract.Consumer, deliveries <-chan driver.Delivery) {
	defer w.wg.Done()
	for d := range deliveries {
		// Null delivery: broker cancelled the consumer server-side.
		if d.Body == nil && d.DeliveryTag == 0 && d.ConsumerTag == "" {
			w.log.WithField("consumer", consumerName).Warning("consumer cancelled by server")
			continue
		}
		w.handleDelivery(ctx, consumerName, def, d)
	}
}

func (w *Worker) handleDelivery(ctx context.Context, consumerName string, def contract.Consumer, d driver.Delivery) {
	started := time.Now()
	ctx, span := w.telemetry.Tracer().Start(ctx, "consume", telemetry.WithSpanKind(telemetry.Consumer), telemetry.WithAttributes(telemetry.Attributes{
		"messaging.system":           "rabbitmq",
		"messaging.destination.name": def.Queue.Name,
		"messaging.operation":        "process",
	}))

	var outcomeErr error
	defer func() {
		span.End(outcomeErr)
		if w.metrics != nil {
			outcome := metrics.Success
			if outcomeErr != nil {
				outcome = metrics.Failure
			}
			w.metrics.ObserveConsume(def.Queue.Name, outcome, time.Since(started).Seconds())
		}
	}()

	body := d.Body
	if d.ContentEncoding != "" {
		decoded, err := publish.Decompress(publish.Algorithm(d.ContentEncoding), body)
		if err != nil {
			w.log.WithField("error", err.Error()).Warning("decompression failed, discarding message")
			w.nackNoRequeue(d)
			outcomeErr = err
			return
		}
		body = decoded
	}

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		w.log.WithField("error", err.Error()).Warning("payload parse failed, discarding message")
		w.nackNoRequeue(d)
		outcomeErr = err
		return
	}

	if def.Message.Payload != nil {
		issues, err := def.Message.Payload.Validate(payload)
		if err != nil {
			w.log.WithField("error", err.Error()).Warning("payload validator failed, discarding message")
			w.nackNoRequeue(d)
			outcomeErr = err
			return
		}
		if len(issues) > 0 {
			w.log.WithField("issues", issues.Error()).Warning("payload validation failed, discarding message")
			w.nackNoRequeue(d)
			outcomeErr = issues
			return
		}
	}

	headers := map[string]any(d.Headers)
	if def.Message.Headers != nil {
		issues, err := def.Message.Headers.Validate(headers)
		if err != nil {
			w.log.WithField("error", err.Error()).Warning("headers validator misconfigured, discarding message")
			w.nackNoRequeue(d)
			outcomeErr = err
			return
		}
		if len(issues) > 0 {
			w.log.WithField("issues", issues.Error()).Warning("headers validation failed, discarding message")
			w.nackNoRequeue(d)
			outcomeErr = issues
			return
		}
	}

	reg := w.handlers[consumerName]
	if err := reg.Handler(ctx, payload, headers, d); err != nil {
		outcomeErr = err
		if retryErr := w.retry.HandleError(ctx, err, d, consumerName, def.Queue); retryErr != nil {
			w.log.WithField("error", retryErr.Error()).Error("retry dispatch failed")
		}
		return
	}

	if err := w.channel().Ack(d.DeliveryTag, false); err != nil {
		outcomeErr = err
		w.log.WithField("error", err.Error()).Error("ack failed")
	}
}

func (w *Worker) nackNoRequeue(d driver.Delivery) {
	if err := w.channel().Nack(d.DeliveryTag, false, false); err != nil {
		w.log.WithField("error", err.Error()).Error("nack failed")
	}
}
