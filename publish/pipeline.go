// Package publish implements the publish pipeline: validate the payload
// against the publisher's message schema, optionally compress it, publish
// with confirm on the broker channel, and record a telemetry span plus
// publish metrics.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	driver "github.com/rabbitmq/amqp091-go"
	"go.bryk.io/contractq/contract"
	xlog "go.bryk.io/contractq/log"
	"go.bryk.io/contractq/metrics"
	"go.bryk.io/contractq/telemetry"
)

// Channel is the subset of *amqp091.Channel the publish pipeline depends
// on, isolated behind an interface for testability.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg driver.Publishing) error
}

// Options adjusts a single publish call.
type Options struct {
	// RoutingKey overrides the publisher's default routing key; leave empty
	// to use the one defined on the contract publisher.
	RoutingKey string

	// Compression, when non-empty, compresses the serialized JSON body and
	// sets contentEncoding to its value.
	Compression Algorithm

	Headers    map[string]interface{}
	Mandatory  bool
	Immediate  bool
	Persistent bool
	Priority   uint8
	TTLSeconds int
}

// Publisher dispatches messages for every publisher defined in a contract.
type Publisher struct {
	channel    func() Channel
	publishers map[string]contract.Publisher
	telemetry  telemetry.Provider
	metrics    *metrics.Collectors
	log        xlog.Logger
}

// New builds a Publisher bound to c's publisher definitions. channel is
// invoked per publish call, so it can return the current channel of a
// reconnecting broker.Conn. tp and mc may be nil, in which case telemetry
// is a no-op and metrics are not recorded.
func New(c *contract.Contract, channel func() Channel, tp telemetry.Provider, mc *metrics.Collectors, log xlog.Logger) *Publisher {
	if tp == nil {
		tp = telemetry.NoOp()
	}
	if log == nil {
		log = xlog.Discard()
	}
	return &Publisher{channel: channel, publishers: c.Publishers, telemetry: tp, metrics: mc, log: log}
}

// Publish runs the publish pipeline for publisherName with payload.
func (p *Publisher) Publish(ctx context.Context, publisherName string, payload any, opts Options) error {
	def, ok := p.publishers[publisherName]
	if !ok {
		return NewTechnicalError(fmt.Sprintf("publisher %q not found", publisherName), nil)
	}

	routingKey := def.RoutingKey
	if opts.RoutingKey != "" {
		routingKey = opts.RoutingKey
	}

	started := time.Now()
	ctx, span := p.telemetry.Tracer().Start(ctx, "publish", telemetry.WithSpanKind(telemetry.Producer), telemetry.WithAttributes(telemetry.Attributes{
		"messaging.system":             "rabbitmq",
		"messaging.destination.name":   def.Exchange.Name,
		"messaging.destination.kind":   "exchange",
		"messaging.operation":          "publish",
		"messaging.rabbitmq.routing_key": routingKey,
	}))

	var err error
	defer func() {
		span.End(err)
		if p.metrics != nil {
			outcome := metrics.Success
			if err != nil {
				outcome = metrics.Failure
			}
			p.metrics.ObservePublish(def.Exchange.Name, routingKey, outcome, time.Since(started).Seconds())
		}
	}()

	if def.Message.Payload != nil {
		iss, verr := def.Message.Payload.Validate(payload)
		if verr != nil {
			err = NewTechnicalError("payload validator failed", verr)
			return err
		}
		if len(iss) > 0 {
			err = &MessageValidationError{Publisher: publisherName, Issues: iss}
			return err
		}
	}

	body, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		err = NewTechnicalError("payload marshal failed", marshalErr)
		return err
	}

	contentEncoding := ""
	if opts.Compression != "" {
		compressed, cErr := compress(opts.Compression, body)
		if cErr != nil {
			err = cErr
			return err
		}
		body = compressed
		contentEncoding = string(opts.Compression)
	}

	headers := driver.Table{}
	for k, v := range opts.Headers {
		headers[k] = v
	}

	msg := driver.Publishing{
		MessageId:       uuid.NewString(),
		ContentType:     "application/json",
		ContentEncoding: contentEncoding,
		Body:            body,
		Headers:         headers,
		Priority:        opts.Priority,
	}
	if opts.Persistent {
		msg.DeliveryMode = driver.Persistent
	}
	if opts.TTLSeconds > 0 {
		msg.Expiration = fmt.Sprintf("%d", opts.TTLSeconds*1000)
	}

	ch := p.channel()
	if ch == nil {
		err = NewTechnicalError("channel unavailable", nil)
		return err
	}
	if pubErr := ch.PublishWithContext(ctx, def.Exchange.Name, routingKey, opts.Mandatory, opts.Immediate, msg); pubErr != nil {
		err = NewTechnicalError("channel rejected publish", pubErr)
		return err
	}
	return nil
}
