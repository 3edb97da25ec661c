// Package contract implements the immutable declarative data model described
// by the core specification: exchanges, queues, bindings, message schemas,
// publishers and consumers composed into a single Contract, plus the builder
// algebra that derives bindings and dead-letter infrastructure automatically.
package contract

import (
	"go.bryk.io/contractq/validator"
)

// ExchangeKind enumerates the AMQP exchange routing algorithms the contract
// model supports.
type ExchangeKind string

// Recognized exchange kinds.
const (
	Fanout ExchangeKind = "fanout"
	Direct ExchangeKind = "direct"
	Topic  ExchangeKind = "topic"
)

// QueueType distinguishes classic (single node) from quorum (replicated)
// queues. Quorum queues are required for the "quorum-native" retry mode.
type QueueType string

// Recognized queue types.
const (
	Classic QueueType = "classic"
	Quorum  QueueType = "quorum"
)

// RetryMode selects how a queue's retry/dead-lettering behavior is
// implemented.
type RetryMode string

// Recognized retry modes.
const (
	// RetryQuorumNative relies on RabbitMQ's quorum queue x-delivery-count /
	// x-delivery-limit mechanism; the broker dead-letters automatically.
	RetryQuorumNative RetryMode = "quorum-native"

	// RetryTTLBackoff relies on a synthesized wait queue whose per-message
	// TTL dead-letters messages back into the main queue for another
	// attempt, with exponential backoff computed by the retry engine.
	RetryTTLBackoff RetryMode = "ttl-backoff"
)

// DeadLetter names the exchange (and, optionally, routing key) a queue
// dead-letters rejected or expired messages to.
type DeadLetter struct {
	Exchange   string
	RoutingKey string
}

// RetryPolicy configures the behavior of a queue's retry mode. DefineQueue
// supplies the whole default ttl-backoff policy only when no policy is given;
// DefineTTLBackoffQueue fills zero ttl-backoff fields with the defaults.
type RetryPolicy struct {
	Mode RetryMode

	// ttl-backoff fields.
	MaxRetries        int
	InitialDelayMs    int64
	MaxDelayMs        int64
	BackoffMultiplier float64
	Jitter            bool

	// quorum-native field.
	DeliveryLimit int
}

// Queue is a broker message store.
type Queue struct {
	Name       string
	Type       QueueType
	Durable    bool
	Exclusive  bool
	AutoDelete bool
	DeadLetter *DeadLetter
	Retry      *RetryPolicy
	MaxPriority uint8
	Arguments  map[string]interface{}
}

// Exchange is a broker routing node.
type Exchange struct {
	Name       string
	Kind       ExchangeKind
	Durable    bool
	AutoDelete bool
	Internal   bool
	Arguments  map[string]interface{}
}

// BindingKind distinguishes a queue-binding (exchange -> queue) from an
// exchange-binding (exchange -> exchange).
type BindingKind string

// Recognized binding kinds.
const (
	QueueBinding    BindingKind = "queue-binding"
	ExchangeBinding BindingKind = "exchange-binding"
)

// Binding connects an exchange to a queue, or an exchange to another
// exchange, optionally scoped to a routing key.
type Binding struct {
	Kind BindingKind

	// Queue-binding fields.
	Queue    string
	Exchange string

	// Exchange-binding fields.
	Source      string
	Destination string

	// RoutingKey is required unless the relevant source/exchange kind is
	// Fanout.
	RoutingKey string

	Arguments map[string]interface{}
}

// MessageSchema describes the shape of a message's payload and, optionally,
// its headers. Validators are external collaborators (see the validator
// package); the contract model never interprets the schema itself.
type MessageSchema struct {
	Payload     validator.Validator
	Headers     validator.Validator
	Summary     string
	Description string
}

// Publisher is a typed handle to publish messages of a given schema to a
// given exchange.
type Publisher struct {
	Exchange   Exchange
	Message    MessageSchema
	RoutingKey string
}

// Consumer is a typed handle to consume and validate messages of a given
// schema from a given queue.
type Consumer struct {
	Queue   Queue
	Message MessageSchema
}

// Contract is the immutable, assembled description of a domain's AMQP
// topology and message schemas. Once returned by DefineContract it must not
// be mutated; downstream packages (topology, publish, worker) only read it.
type Contract struct {
	Exchanges  map[string]Exchange
	Queues     map[string]Queue
	Bindings   map[string]Binding
	Publishers map[string]Publisher
	Consumers  map[string]Consumer
}

func emptyContract() *Contract {
	return &Contract{
		Exchanges:  map[string]Exchange{},
		Queues:     map[string]Queue{},
		Bindings:   map[string]Binding{},
		Publishers: map[string]Publisher{},
		Consumers:  map[string]Consumer{},
	}
}
