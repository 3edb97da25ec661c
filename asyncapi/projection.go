// Package asyncapi projects a contract into an AsyncAPI 3.0.0 document: one
// channel per exchange and per queue, AMQP channel bindings, one operation
// per publisher/consumer, and one components.messages entry per referenced
// message schema.
package asyncapi

import (
	"go.bryk.io/contractq/contract"
)

// SchemaConverter turns a validator into a JSON Schema document. It is the
// AsyncAPI emitter's own external collaborator: a concrete schema engine
// is never assumed here.
type SchemaConverter interface {
	Convert(v any) (map[string]any, error)
}

// NoopConverter returns an empty schema for every validator; used when a
// contract carries no schema-to-JSON-Schema mapping.
type NoopConverter struct{}

// Convert implements SchemaConverter.
func (NoopConverter) Convert(any) (map[string]any, error) { return map[string]any{}, nil }

// Document mirrors the subset of the AsyncAPI 3.0.0 document shape this
// emitter produces; encoded as YAML by callers via gopkg.in/yaml.v3.
type Document struct {
	AsyncAPI   string                    `yaml:"asyncapi"`
	Info       Info                      `yaml:"info"`
	Channels   map[string]Channel        `yaml:"channels"`
	Operations map[string]Operation      `yaml:"operations"`
	Components Components                `yaml:"components"`
}

// Info carries the document's identity metadata.
type Info struct {
	Title   string `yaml:"title"`
	Version string `yaml:"version"`
}

// Channel describes one exchange or queue as an AsyncAPI channel.
type Channel struct {
	Address  string             `yaml:"address"`
	Bindings ChannelBindings    `yaml:"bindings"`
	Messages map[string]MessageRef `yaml:"messages,omitempty"`
}

// ChannelBindings carries the AMQP-specific channel binding.
type ChannelBindings struct {
	AMQP AMQPChannelBinding `yaml:"amqp"`
}

// AMQPChannelBinding follows the AsyncAPI AMQP binding spec: `is` is either
// "routingKey" (exchange-backed channel) or "queue" (queue-backed channel).
type AMQPChannelBinding struct {
	Is       string        `yaml:"is"`
	Exchange *AMQPExchange `yaml:"exchange,omitempty"`
	Queue    *AMQPQueue    `yaml:"queue,omitempty"`
}

// AMQPExchange describes an exchange-kind channel binding.
type AMQPExchange struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Durable bool   `yaml:"durable"`
}

// AMQPQueue describes a queue-kind channel binding.
type AMQPQueue struct {
	Name      string `yaml:"name"`
	Durable   bool   `yaml:"durable"`
	Exclusive bool   `yaml:"exclusive"`
}

// MessageRef points at a components.messages entry.
type MessageRef struct {
	Ref string `yaml:"$ref"`
}

// Operation describes one publisher (action: send) or consumer
// (action: receive).
type Operation struct {
	Action  string     `yaml:"action"`
	Channel MessageRef `yaml:"channel"`
}

// Components holds every referenced message schema.
type Components struct {
	Messages map[string]Message `yaml:"messages"`
}

// Message is one components.messages entry.
type Message struct {
	Name        string         `yaml:"name"`
	Summary     string         `yaml:"summary,omitempty"`
	Description string         `yaml:"description,omitempty"`
	Payload     map[string]any `yaml:"payload,omitempty"`
	Headers     map[string]any `yaml:"headers,omitempty"`
}

// Project builds an AsyncAPI 3.0.0 Document for c. title/version populate
// the document's info block. conv is used to render payload/header
// validators as JSON Schema; pass NoopConverter{} when no mapping exists.
func Project(c *contract.Contract, title, version string, conv SchemaConverter) (*Document, error) {
	doc := &Document{
		AsyncAPI:   "3.0.0",
		Info:       Info{Title: title, Version: version},
		Channels:   map[string]Channel{},
		Operations: map[string]Operation{},
		Components: Components{Messages: map[string]Message{}},
	}

	for name, ex := range c.Exchanges {
		doc.Channels[name] = Channel{
			Address: ex.Name,
			Bindings: ChannelBindings{AMQP: AMQPChannelBinding{
				Is:       "routingKey",
				Exchange: &AMQPExchange{Name: ex.Name, Type: string(ex.Kind), Durable: ex.Durable},
			}},
		}
	}
	for name, q := range c.Queues {
		doc.Channels[name] = Channel{
			Address: q.Name,
			Bindings: ChannelBindings{AMQP: AMQPChannelBinding{
				Is:    "queue",
				Queue: &AMQPQueue{Name: q.Name, Durable: q.Durable, Exclusive: q.Exclusive},
			}},
		}
	}

	for name, pub := range c.Publishers {
		msgKey := name + "Message"
		if err := addMessage(doc, msgKey, pub.Message, conv); err != nil {
			return nil, err
		}
		channelKey := findChannelKey(c.Exchanges, pub.Exchange.Name)
		doc.Operations[name] = Operation{Action: "send", Channel: MessageRef{Ref: "#/channels/" + channelKey}}
		ch := doc.Channels[channelKey]
		if ch.Messages == nil {
			ch.Messages = map[string]MessageRef{}
		}
		ch.Messages[msgKey] = MessageRef{Ref: "#/components/messages/" + msgKey}
		doc.Channels[channelKey] = ch
	}

	for name, con := range c.Consumers {
		msgKey := name + "Message"
		if err := addMessage(doc, msgKey, con.Message, conv); err != nil {
			return nil, err
		}
		channelKey := findChannelKey(nil, "")
		for qn, q := range c.Queues {
			if q.Name == con.Queue.Name {
				channelKey = qn
				break
			}
		}
		doc.Operations[name] = Operation{Action: "receive", Channel: MessageRef{Ref: "#/channels/" + channelKey}}
		ch := doc.Channels[channelKey]
		if ch.Messages == nil {
			ch.Messages = map[string]MessageRef{}
		}
		ch.Messages[msgKey] = MessageRef{Ref: "#/components/messages/" + msgKey}
		doc.Channels[channelKey] = ch
	}

	return doc, nil
}

func addMessage(doc *Document, key string, schema contract.MessageSchema, conv SchemaConverter) error {
	msg := Message{Name: key, Summary: schema.Summary, Description: schema.Description}
	if schema.Payload != nil {
		payloadSchema, err := conv.Convert(schema.Payload)
		if err != nil {
			return err
		}
		msg.Payload = payloadSchema
	}
	if schema.Headers != nil {
		headersSchema, err := conv.Convert(schema.Headers)
		if err != nil {
			return err
		}
		msg.Headers = headersSchema
	}
	doc.Components.Messages[key] = msg
	return nil
}

func findChannelKey(exchanges map[string]contract.Exchange, exchangeName string) string {
	for k, ex := range exchanges {
		if ex.Name == exchangeName {
			return k
		}
	}
	return exchangeName
}
