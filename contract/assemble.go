package contract

import "fmt"

// PublisherEntry bundles a publisher with the exchange binding a bridged
// publisher requires to reach its original destination.
type PublisherEntry struct {
	Publisher       Publisher
	ExchangeBinding *Binding
}

// ConsumerEntry bundles a consumer with the queue binding (and, when
// bridged, the exchange binding) that route messages to it.
type ConsumerEntry struct {
	Consumer        Consumer
	QueueBinding    Binding
	ExchangeBinding *Binding
}

// ContractInput collects every bundle produced by the builder algebra ahead
// of assembly. Keys are the contract-level names used for lookup
// (publisherName, consumerName, queueName, ...).
type ContractInput struct {
	Publishers map[string]PublisherEntry
	Consumers  map[string]ConsumerEntry

	// TTLBackoffQueues are merged in by base queue name (the main queue's
	// name, not `${name}-wait`); their wait queue and two DLX bindings are
	// auto-extracted per spec.md §3 invariant 5.
	TTLBackoffQueues map[string]TTLBackoffQueueBundle

	// Queues/Exchanges/Bindings accept any additional resources not already
	// reachable through a publisher or consumer bundle above.
	Queues    map[string]Queue
	Exchanges map[string]Exchange
	Bindings  map[string]Binding
}

// DefineContract walks every bundle in in and produces an assembled,
// immutable Contract: the extra resources, every publisher's exchange, every
// consumer and ttl-backoff queue (main and wait), and every queue's dead
// letter exchange are collected. An exchange referenced only by a binding
// (a consumer's queue binding or an exchange binding) is not collected; it
// has to be listed in Exchanges, otherwise assembly fails with
// KindMissingExchange. A queue binding `${consumerName}Binding` is emitted for every consumer,
// `${name}ExchangeBinding` for every bridged bundle, and
// `${queueName}WaitBinding`/`${queueName}RetryBinding` for every ttl-backoff
// queue. Assembly fails with a *ValidationError when any of spec.md §3's
// invariants is violated.
func DefineContract(in ContractInput) (*Contract, error) {
	c := emptyContract()

	addExchange := func(ex Exchange) error {
		if existing, ok := c.Exchanges[ex.Name]; ok && !sameExchange(existing, ex) {
			return newValidationError(KindDuplicateKey,
				fmt.Sprintf("exchange %q declared more than once with different settings", ex.Name))
		}
		c.Exchanges[ex.Name] = ex
		return nil
	}
	addQueue := func(q Queue) error {
		if existing, ok := c.Queues[q.Name]; ok && !sameQueue(existing, q) {
			return newValidationError(KindDuplicateKey,
				fmt.Sprintf("queue %q declared more than once with different settings", q.Name))
		}
		c.Queues[q.Name] = q
		return nil
	}
	addBinding := func(name string, b Binding) error {
		if _, ok := c.Bindings[name]; ok {
			return newValidationError(KindDuplicateKey,
				fmt.Sprintf("binding name %q collides", name))
		}
		for _, existing := range c.Bindings {
			if sameBindingDestination(existing, b) {
				return newValidationError(KindDuplicateBinding,
					fmt.Sprintf("duplicate binding destination for %+v", b))
			}
		}
		c.Bindings[name] = b
		return nil
	}

	// Extra resources first so later overrides (publisher/consumer derived
	// ones) can still detect genuine conflicts.
	for _, ex := range in.Exchanges {
		if err := addExchange(ex); err != nil {
			return nil, err
		}
	}
	for _, q := range in.Queues {
		if err := addQueue(q); err != nil {
			return nil, err
		}
	}
	for name, b := range in.Bindings {
		if err := addBinding(name, b); err != nil {
			return nil, err
		}
	}

	// Publishers.
	for name, entry := range in.Publishers {
		pub := entry.Publisher
		if err := validatePublisherRoutingKey(pub); err != nil {
			return nil, err
		}
		if err := addExchange(pub.Exchange); err != nil {
			return nil, err
		}
		if entry.ExchangeBinding != nil {
			if err := addBinding(name+"ExchangeBinding", *entry.ExchangeBinding); err != nil {
				return nil, err
			}
		}
		if _, ok := c.Publishers[name]; ok {
			return nil, newValidationError(KindDuplicateKey, fmt.Sprintf("publisher name %q collides", name))
		}
		c.Publishers[name] = pub
	}

	// Consumers.
	for name, entry := range in.Consumers {
		if err := addQueue(entry.Consumer.Queue); err != nil {
			return nil, err
		}
		bindingExchangeName := entry.QueueBinding.Exchange
		if ex, ok := c.Exchanges[bindingExchangeName]; ok {
			if err := validateQueueBinding(ex, entry.QueueBinding); err != nil {
				return nil, err
			}
		}
		if err := addBinding(name+"Binding", entry.QueueBinding); err != nil {
			return nil, err
		}
		if entry.ExchangeBinding != nil {
			if err := addBinding(name+"ExchangeBinding", *entry.ExchangeBinding); err != nil {
				return nil, err
			}
		}
		if _, ok := c.Consumers[name]; ok {
			return nil, newValidationError(KindDuplicateKey, fmt.Sprintf("consumer name %q collides", name))
		}
		c.Consumers[name] = entry.Consumer
	}

	// TTL-backoff queues: main + wait + the two synthesized bindings.
	for queueName, bundle := range in.TTLBackoffQueues {
		if err := addQueue(bundle.Main); err != nil {
			return nil, err
		}
		if err := addQueue(bundle.Wait); err != nil {
			return nil, err
		}
		if len(bundle.Bindings) != 2 {
			return nil, newValidationError(KindMissingDeadLetter,
				fmt.Sprintf("ttl-backoff queue %q missing synthesized DLX bindings", queueName))
		}
		if err := addBinding(queueName+"WaitBinding", bundle.Bindings[0]); err != nil {
			return nil, err
		}
		if err := addBinding(queueName+"RetryBinding", bundle.Bindings[1]); err != nil {
			return nil, err
		}
	}

	// A queue's dead-letter exchange is routed to (by the broker itself, on
	// reject/expiry) whether or not the caller ever mentions it elsewhere. If
	// nothing already declared it explicitly, synthesize a direct, durable
	// exchange under its own name so topology declares it and bindings that
	// reference it validate.
	for _, q := range c.Queues {
		if q.DeadLetter == nil || q.DeadLetter.Exchange == "" {
			continue
		}
		if _, ok := c.Exchanges[q.DeadLetter.Exchange]; ok {
			continue
		}
		c.Exchanges[q.DeadLetter.Exchange] = Exchange{
			Name:    q.DeadLetter.Exchange,
			Kind:    Direct,
			Durable: true,
		}
	}

	if err := checkQueueInvariants(c); err != nil {
		return nil, err
	}
	if err := checkBindingInvariants(c); err != nil {
		return nil, err
	}
	return c, nil
}

// MergeContracts combines multiple assembled contracts into one. Later
// contracts override earlier ones under the same map key; invariants are
// re-checked on the merged result.
func MergeContracts(contracts ...*Contract) (*Contract, error) {
	out := emptyContract()
	for _, c := range contracts {
		if c == nil {
			continue
		}
		for k, v := range c.Exchanges {
			out.Exchanges[k] = v
		}
		for k, v := range c.Queues {
			out.Queues[k] = v
		}
		for k, v := range c.Bindings {
			out.Bindings[k] = v
		}
		for k, v := range c.Publishers {
			out.Publishers[k] = v
		}
		for k, v := range c.Consumers {
			out.Consumers[k] = v
		}
	}
	if err := checkQueueInvariants(out); err != nil {
		return nil, err
	}
	if err := checkBindingInvariants(out); err != nil {
		return nil, err
	}
	return out, nil
}

func validatePublisherRoutingKey(pub Publisher) error {
	if pub.Exchange.Kind == Fanout {
		return nil
	}
	if pub.RoutingKey == "" {
		return newValidationError(KindMissingRoutingKey,
			fmt.Sprintf("publisher on exchange %q requires a non-empty routing key", pub.Exchange.Name))
	}
	if containsWildcard(pub.RoutingKey) {
		return newValidationError(KindWildcardRoutingKey,
			fmt.Sprintf("publisher routing key %q must not contain wildcards", pub.RoutingKey))
	}
	return nil
}

func validateQueueBinding(ex Exchange, b Binding) error {
	if ex.Kind == Fanout && b.RoutingKey != "" {
		return newValidationError(KindUnexpectedRoutingKey,
			fmt.Sprintf("binding to fanout exchange %q must not set a routing key", ex.Name))
	}
	if ex.Kind != Fanout && b.RoutingKey == "" {
		return newValidationError(KindMissingRoutingKey,
			fmt.Sprintf("binding to %s exchange %q requires a routing key", ex.Kind, ex.Name))
	}
	return nil
}

func checkQueueInvariants(c *Contract) error {
	for name, q := range c.Queues {
		if q.Retry == nil {
			continue
		}
		switch q.Retry.Mode {
		case RetryTTLBackoff:
			if q.DeadLetter == nil {
				return newValidationError(KindMissingDeadLetter,
					fmt.Sprintf("queue %q uses ttl-backoff retry but has no deadLetter configured", name))
			}
		case RetryQuorumNative:
			if q.Type != Quorum {
				return newValidationError(KindInvalidQueueType,
					fmt.Sprintf("queue %q uses quorum-native retry but is not a quorum queue", name))
			}
			if q.Retry.DeliveryLimit <= 0 {
				return newValidationError(KindMissingDeliveryLimit,
					fmt.Sprintf("queue %q uses quorum-native retry but has no positive deliveryLimit", name))
			}
		}
		if q.MaxPriority != 0 && (q.MaxPriority < 1 || q.MaxPriority > 255) {
			return newValidationError(KindInvalidMaxPriority,
				fmt.Sprintf("queue %q maxPriority must be in [1,255]", name))
		}
	}
	return nil
}

func checkBindingInvariants(c *Contract) error {
	seen := map[string]bool{}
	for name, b := range c.Bindings {
		switch b.Kind {
		case QueueBinding:
			if b.Queue == "" || b.Exchange == "" {
				return newValidationError(KindMissingQueue,
					fmt.Sprintf("binding %q requires both queue and exchange", name))
			}
			if _, ok := c.Queues[b.Queue]; !ok {
				return newValidationError(KindMissingQueue,
					fmt.Sprintf("binding %q references unknown queue %q", name, b.Queue))
			}
			ex, ok := c.Exchanges[b.Exchange]
			if !ok {
				return newValidationError(KindMissingExchange,
					fmt.Sprintf("binding %q references unknown exchange %q", name, b.Exchange))
			}
			if err := validateQueueBinding(ex, b); err != nil {
				return err
			}
			key := fmt.Sprintf("q:%s|%s|%s", b.Queue, b.Exchange, b.RoutingKey)
			if seen[key] {
				return newValidationError(KindDuplicateBinding, fmt.Sprintf("duplicate queue binding %q", key))
			}
			seen[key] = true
		case ExchangeBinding:
			if b.Source == "" || b.Destination == "" {
				return newValidationError(KindMissingExchange,
					fmt.Sprintf("exchange binding %q requires both source and destination", name))
			}
			src, ok := c.Exchanges[b.Source]
			if !ok {
				return newValidationError(KindMissingExchange,
					fmt.Sprintf("exchange binding %q references unknown source exchange %q", name, b.Source))
			}
			if _, ok := c.Exchanges[b.Destination]; !ok {
				return newValidationError(KindMissingExchange,
					fmt.Sprintf("exchange binding %q references unknown destination exchange %q", name, b.Destination))
			}
			if src.Kind == Fanout && b.RoutingKey != "" {
				return newValidationError(KindUnexpectedRoutingKey,
					fmt.Sprintf("exchange binding %q: fanout source must not set a routing key", name))
			}
			if src.Kind != Fanout && b.RoutingKey == "" {
				return newValidationError(KindMissingRoutingKey,
					fmt.Sprintf("exchange binding %q: non-fanout source requires a routing key", name))
			}
			key := fmt.Sprintf("e:%s|%s|%s", b.Source, b.Destination, b.RoutingKey)
			if seen[key] {
				return newValidationError(KindDuplicateBinding, fmt.Sprintf("duplicate exchange binding %q", key))
			}
			seen[key] = true
		}
	}
	return nil
}

func containsWildcard(routingKey string) bool {
	for _, r := range routingKey {
		if r == '*' || r == '#' {
			return true
		}
	}
	return false
}

func sameExchange(a, b Exchange) bool {
	return a.Name == b.Name && a.Kind == b.Kind && a.Durable == b.Durable &&
		a.AutoDelete == b.AutoDelete && a.Internal == b.Internal
}

func sameQueue(a, b Queue) bool {
	return a.Name == b.Name && a.Type == b.Type && a.Durable == b.Durable &&
		a.Exclusive == b.Exclusive && a.AutoDelete == b.AutoDelete
}

func sameBindingDestination(a, b Binding) bool {
	if a.Kind != b.Kind {
		return false
	}
	if a.Kind == QueueBinding {
		return a.Queue == b.Queue && a.Exchange == b.Exchange && a.RoutingKey == b.RoutingKey
	}
	return a.Source == b.Source && a.Destination == b.Destination && a.RoutingKey == b.RoutingKey
}
