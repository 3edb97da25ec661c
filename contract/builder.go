package contract

import "go.bryk.io/contractq/validator"

// ExchangeOptions adjusts an exchange declaration.
type ExchangeOptions struct {
	Durable    bool
	AutoDelete bool
	Internal   bool
	Arguments  map[string]interface{}
}

// DefineExchange declares an exchange. All options are copied as given; in
// particular Durable is false unless opts.Durable is set.
func DefineExchange(name string, kind ExchangeKind, opts ExchangeOptions) Exchange {
	return Exchange{
		Name:       name,
		Kind:       kind,
		Durable:    opts.Durable,
		AutoDelete: opts.AutoDelete,
		Internal:   opts.Internal,
		Arguments:  opts.Arguments,
	}
}

// defaultTTLBackoffRetry returns the default ttl-backoff retry policy, per
// spec.md §4.2: {maxRetries:3, initialDelayMs:1000, maxDelayMs:30000,
// backoffMultiplier:2, jitter:true}.
func defaultTTLBackoffRetry() *RetryPolicy {
	return &RetryPolicy{
		Mode:              RetryTTLBackoff,
		MaxRetries:        3,
		InitialDelayMs:    1000,
		MaxDelayMs:        30000,
		BackoffMultiplier: 2,
		Jitter:            true,
	}
}

// QueueOptions adjusts a queue declaration.
type QueueOptions struct {
	Type        QueueType
	Durable     bool
	Exclusive   bool
	AutoDelete  bool
	DeadLetter  *DeadLetter
	Retry       *RetryPolicy
	MaxPriority uint8
	Arguments   map[string]interface{}
}

// DefineQueue declares a queue. Defaults Type to Quorum and Retry to the
// default ttl-backoff policy, per spec.md §4.2, when not provided.
func DefineQueue(name string, opts QueueOptions) Queue {
	q := Queue{
		Name:        name,
		Type:        opts.Type,
		Durable:     opts.Durable,
		Exclusive:   opts.Exclusive,
		AutoDelete:  opts.AutoDelete,
		DeadLetter:  opts.DeadLetter,
		Retry:       opts.Retry,
		MaxPriority: opts.MaxPriority,
		Arguments:   opts.Arguments,
	}
	if q.Type == "" {
		q.Type = Quorum
	}
	if q.Retry == nil {
		q.Retry = defaultTTLBackoffRetry()
	}
	return q
}

// QuorumQueueOptions configures a quorum-native retry queue.
type QuorumQueueOptions struct {
	DeadLetter    *DeadLetter
	DeliveryLimit int
	Durable       bool
	Exclusive     bool
	AutoDelete    bool
	MaxPriority   uint8
	Arguments     map[string]interface{}
}

// DefineQuorumQueue declares a queue whose retries are driven by RabbitMQ's
// native quorum-queue delivery-count mechanism.
func DefineQuorumQueue(name string, opts QuorumQueueOptions) Queue {
	return Queue{
		Name:        name,
		Type:        Quorum,
		Durable:     opts.Durable,
		Exclusive:   opts.Exclusive,
		AutoDelete:  opts.AutoDelete,
		DeadLetter:  opts.DeadLetter,
		MaxPriority: opts.MaxPriority,
		Arguments:   opts.Arguments,
		Retry: &RetryPolicy{
			Mode:          RetryQuorumNative,
			DeliveryLimit: opts.DeliveryLimit,
		},
	}
}

// TTLBackoffQueueOptions configures a ttl-backoff retry queue and its
// synthesized wait-queue infrastructure.
type TTLBackoffQueueOptions struct {
	DeadLetter        DeadLetter
	MaxRetries        int
	InitialDelayMs    int64
	MaxDelayMs        int64
	BackoffMultiplier float64
	Jitter            bool
	Durable           bool
	Exclusive         bool
	AutoDelete        bool
	Type              QueueType
	MaxPriority       uint8
	Arguments         map[string]interface{}
}

// TTLBackoffQueueBundle bundles a main queue with its synthesized wait queue
// and the two DLX bindings described in spec.md §3 invariant 5.
type TTLBackoffQueueBundle struct {
	Main     Queue
	Wait     Queue
	Bindings []Binding
}

func (o *TTLBackoffQueueOptions) defaults() {
	d := defaultTTLBackoffRetry()
	if o.MaxRetries == 0 {
		o.MaxRetries = d.MaxRetries
	}
	if o.InitialDelayMs == 0 {
		o.InitialDelayMs = d.InitialDelayMs
	}
	if o.MaxDelayMs == 0 {
		o.MaxDelayMs = d.MaxDelayMs
	}
	if o.BackoffMultiplier == 0 {
		o.BackoffMultiplier = d.BackoffMultiplier
	}
	if o.Type == "" {
		o.Type = Quorum
	}
}

// DefineTTLBackoffQueue declares a main queue plus its synthesized
// `${name}-wait` sibling: the wait queue dead-letters to the same DLX with
// routing key `${name}`, and two bindings route `${name}-wait -> wait queue`
// and `${name} -> main queue`, so an expired retry returns to the main queue.
func DefineTTLBackoffQueue(name string, opts TTLBackoffQueueOptions) TTLBackoffQueueBundle {
	opts.defaults()
	waitName := name + "-wait"

	main := Queue{
		Name:        name,
		Type:        opts.Type,
		Durable:     opts.Durable,
		Exclusive:   opts.Exclusive,
		AutoDelete:  opts.AutoDelete,
		MaxPriority: opts.MaxPriority,
		Arguments:   opts.Arguments,
		DeadLetter:  &opts.DeadLetter,
		Retry: &RetryPolicy{
			Mode:              RetryTTLBackoff,
			MaxRetries:        opts.MaxRetries,
			InitialDelayMs:    opts.InitialDelayMs,
			MaxDelayMs:        opts.MaxDelayMs,
			BackoffMultiplier: opts.BackoffMultiplier,
			Jitter:            opts.Jitter,
		},
	}
	wait := Queue{
		Name:       waitName,
		Type:       opts.Type,
		Durable:    opts.Durable,
		AutoDelete: opts.AutoDelete,
		DeadLetter: &DeadLetter{
			Exchange:   opts.DeadLetter.Exchange,
			RoutingKey: name,
		},
	}

	bindings := []Binding{
		{
			Kind:       QueueBinding,
			Queue:      wait.Name,
			Exchange:   opts.DeadLetter.Exchange,
			RoutingKey: waitName,
		},
		{
			Kind:       QueueBinding,
			Queue:      main.Name,
			Exchange:   opts.DeadLetter.Exchange,
			RoutingKey: main.Name,
		},
	}

	return TTLBackoffQueueBundle{Main: main, Wait: wait, Bindings: bindings}
}

// MessageOptions configures an optional headers validator and documentation
// strings for a message schema.
type MessageOptions struct {
	Headers     validator.Validator
	Summary     string
	Description string
}

// DefineMessage declares a message schema.
func DefineMessage(payload validator.Validator, opts MessageOptions) MessageSchema {
	return MessageSchema{
		Payload:     payload,
		Headers:     opts.Headers,
		Summary:     opts.Summary,
		Description: opts.Description,
	}
}

// DefinePublisher declares a plain publisher.
func DefinePublisher(exchange Exchange, msg MessageSchema, routingKey string) Publisher {
	return Publisher{Exchange: exchange, Message: msg, RoutingKey: routingKey}
}

// DefineConsumer declares a plain consumer.
func DefineConsumer(queue Queue, msg MessageSchema) Consumer {
	return Consumer{Queue: queue, Message: msg}
}

// EventPublisherOptions configures an event (pub/sub) publisher.
type EventPublisherOptions struct {
	RoutingKey string
}

// DefineEventPublisher declares a publisher tagged as an "event" (pub/sub):
// fanout exchanges allow an empty routing key, direct/topic exchanges
// require a concrete (non-wildcard) one.
func DefineEventPublisher(exchange Exchange, msg MessageSchema, opts EventPublisherOptions) Publisher {
	return Publisher{Exchange: exchange, Message: msg, RoutingKey: opts.RoutingKey}
}

// EventConsumerOptions configures an event consumer, optionally bridging it
// through a local exchange.
type EventConsumerOptions struct {
	// RoutingKey overrides the publisher's routing key; patterns (topic
	// wildcards) are allowed here even though the publisher side forbids
	// them.
	RoutingKey string

	// BridgeExchange, when set, rewrites the bundle so the consumer's queue
	// binds to this local exchange instead of the publisher's source
	// exchange, and an exchange-to-exchange binding source -> bridge is
	// emitted (see bridgeExchange below).
	BridgeExchange *Exchange
}

// EventConsumerBundle bundles a consumer with its derived binding(s).
type EventConsumerBundle struct {
	Consumer        Consumer
	QueueBinding     Binding
	ExchangeBinding  *Binding
	BridgeExchange   *Exchange
}

// DefineEventConsumer declares a consumer for a previously defined event
// publisher, deriving the queue binding (and, when bridged, the
// exchange-to-exchange binding) automatically.
func DefineEventConsumer(pub Publisher, queue Queue, msg MessageSchema, opts EventConsumerOptions) (EventConsumerBundle, error) {
	rk := opts.RoutingKey
	if rk == "" {
		rk = pub.RoutingKey
	}

	consumer := Consumer{Queue: queue, Message: msg}

	if opts.BridgeExchange == nil {
		binding := Binding{
			Kind:       QueueBinding,
			Queue:      queue.Name,
			Exchange:   pub.Exchange.Name,
			RoutingKey: rk,
		}
		return EventConsumerBundle{Consumer: consumer, QueueBinding: binding}, nil
	}

	bridge := *opts.BridgeExchange
	if err := checkBridgeCompatible(pub.Exchange.Kind, bridge.Kind); err != nil {
		return EventConsumerBundle{}, err
	}

	queueBinding := Binding{
		Kind:       QueueBinding,
		Queue:      queue.Name,
		Exchange:   bridge.Name,
		RoutingKey: rk,
	}
	exchangeBinding := Binding{
		Kind:        ExchangeBinding,
		Source:      pub.Exchange.Name,
		Destination: bridge.Name,
		RoutingKey:  rk,
	}
	return EventConsumerBundle{
		Consumer:        consumer,
		QueueBinding:    queueBinding,
		ExchangeBinding: &exchangeBinding,
		BridgeExchange:  &bridge,
	}, nil
}

// CommandOptions configures a command consumer; the consumer owns the
// routing key (1-of-N delivery).
type CommandOptions struct {
	RoutingKey string
}

// CommandConsumerBundle bundles a command consumer with its exchange and
// derived binding.
type CommandConsumerBundle struct {
	Queue      Queue
	Exchange   Exchange
	Message    MessageSchema
	RoutingKey string
	Consumer   Consumer
	Binding    Binding
}

// DefineCommandConsumer declares a consumer for a command (1-of-N queue):
// the consumer itself owns the routing key the exchange routes on.
func DefineCommandConsumer(queue Queue, exchange Exchange, msg MessageSchema, opts CommandOptions) CommandConsumerBundle {
	binding := Binding{
		Kind:       QueueBinding,
		Queue:      queue.Name,
		Exchange:   exchange.Name,
		RoutingKey: opts.RoutingKey,
	}
	return CommandConsumerBundle{
		Queue:      queue,
		Exchange:   exchange,
		Message:    msg,
		RoutingKey: opts.RoutingKey,
		Consumer:   Consumer{Queue: queue, Message: msg},
		Binding:    binding,
	}
}

// CommandPublisherOptions configures a command publisher, optionally
// bridging it through a local exchange.
type CommandPublisherOptions struct {
	BridgeExchange *Exchange
	RoutingKey     string
}

// BridgedPublisherBundle bundles a publisher with the exchange binding
// required to reach the original command exchange through the bridge.
type BridgedPublisherBundle struct {
	Publisher       Publisher
	ExchangeBinding Binding
}

// DefineCommandPublisher declares a publisher for a previously defined
// command consumer. When opts.BridgeExchange is set, the publisher targets
// the bridge exchange instead and an exchange binding bridge -> cmd.exchange
// is returned alongside it.
func DefineCommandPublisher(cmd CommandConsumerBundle, opts CommandPublisherOptions) (any, error) {
	rk := opts.RoutingKey
	if rk == "" {
		rk = cmd.RoutingKey
	}

	if opts.BridgeExchange == nil {
		return Publisher{Exchange: cmd.Exchange, Message: cmd.Message, RoutingKey: rk}, nil
	}

	bridge := *opts.BridgeExchange
	if err := checkBridgeCompatible(cmd.Exchange.Kind, bridge.Kind); err != nil {
		return nil, err
	}
	pub := Publisher{Exchange: bridge, Message: cmd.Message, RoutingKey: rk}
	binding := Binding{
		Kind:        ExchangeBinding,
		Source:      bridge.Name,
		Destination: cmd.Exchange.Name,
		RoutingKey:  rk,
	}
	return BridgedPublisherBundle{Publisher: pub, ExchangeBinding: binding}, nil
}

// checkBridgeCompatible enforces spec.md §4.2's bridging compatibility rule:
// a fanout source requires a fanout bridge; a direct/topic source requires a
// direct or topic bridge (topic preferred so routing keys with wildcards
// survive).
func checkBridgeCompatible(source, bridge ExchangeKind) error {
	if source == Fanout && bridge != Fanout {
		return newValidationError(KindIncompatibleBridge,
			"fanout source exchange requires a fanout bridge exchange")
	}
	if source != Fanout && bridge == Fanout {
		return newValidationError(KindIncompatibleBridge,
			"direct/topic source exchange requires a direct or topic bridge exchange")
	}
	return nil
}
