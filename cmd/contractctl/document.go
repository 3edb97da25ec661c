package main

import (
	"os"

	"go.bryk.io/contractq/contract"
	"go.bryk.io/contractq/errors"
	"go.bryk.io/contractq/validator"
	"gopkg.in/yaml.v3"
)

// document is the on-disk declarative shape `validate`/`topology`/`asyncapi`/
// `declare` all load: a plain YAML/JSON rendering of the builder algebra's
// inputs. It carries no schema validators of its own (schema engines are an
// external collaborator per the core contract model); every message loaded
// this way gets validator.Noop, so loaded contracts describe topology and
// routing only.
type document struct {
	Exchanges  map[string]exchangeDoc  `yaml:"exchanges"`
	Queues     map[string]queueDoc     `yaml:"queues"`
	Bindings   map[string]bindingDoc   `yaml:"bindings"`
	Publishers map[string]publisherDoc `yaml:"publishers"`
	Consumers  map[string]consumerDoc  `yaml:"consumers"`
}

type exchangeDoc struct {
	Kind       string `yaml:"kind"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"autoDelete"`
	Internal   bool   `yaml:"internal"`
}

type deadLetterDoc struct {
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routingKey"`
}

type retryDoc struct {
	Mode              string  `yaml:"mode"`
	MaxRetries        int     `yaml:"maxRetries"`
	InitialDelayMs    int64   `yaml:"initialDelayMs"`
	MaxDelayMs        int64   `yaml:"maxDelayMs"`
	BackoffMultiplier float64 `yaml:"backoffMultiplier"`
	Jitter            bool    `yaml:"jitter"`
	DeliveryLimit     int     `yaml:"deliveryLimit"`
}

type queueDoc struct {
	Type        string         `yaml:"type"`
	Durable     bool           `yaml:"durable"`
	Exclusive   bool           `yaml:"exclusive"`
	AutoDelete  bool           `yaml:"autoDelete"`
	MaxPriority uint8          `yaml:"maxPriority"`
	DeadLetter  *deadLetterDoc `yaml:"deadLetter"`
	Retry       *retryDoc      `yaml:"retry"`
}

type bindingDoc struct {
	Kind        string `yaml:"kind"` // "queue" or "exchange"
	Queue       string `yaml:"queue"`
	Exchange    string `yaml:"exchange"`
	Source      string `yaml:"source"`
	Destination string `yaml:"destination"`
	RoutingKey  string `yaml:"routingKey"`
}

type publisherDoc struct {
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routingKey"`
	Summary    string `yaml:"summary"`
}

type consumerDoc struct {
	Queue      string `yaml:"queue"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routingKey"`
	Summary    string `yaml:"summary"`
}

// loadDocument reads and decodes a YAML (or JSON, a subset of YAML) contract
// definition from path.
func loadDocument(path string) (*document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read contract file")
	}
	doc := new(document)
	if err := yaml.Unmarshal(raw, doc); err != nil {
		return nil, errors.Wrap(err, "decode contract file")
	}
	return doc, nil
}

// assemble turns a document into a live *contract.Contract via the builder
// algebra, exactly as a Go caller would.
func (d *document) assemble() (*contract.Contract, error) {
	in := contract.ContractInput{
		Publishers: map[string]contract.PublisherEntry{},
		Consumers:  map[string]contract.ConsumerEntry{},
		Queues:     map[string]contract.Queue{},
		Exchanges:  map[string]contract.Exchange{},
		Bindings:   map[string]contract.Binding{},
	}

	for name, ex := range d.Exchanges {
		in.Exchanges[name] = contract.DefineExchange(name, contract.ExchangeKind(ex.Kind), contract.ExchangeOptions{
			Durable:    ex.Durable,
			AutoDelete: ex.AutoDelete,
			Internal:   ex.Internal,
		})
	}

	for name, q := range d.Queues {
		in.Queues[name] = contract.Queue{
			Name:        name,
			Type:        contract.QueueType(q.Type),
			Durable:     q.Durable,
			Exclusive:   q.Exclusive,
			AutoDelete:  q.AutoDelete,
			MaxPriority: q.MaxPriority,
			DeadLetter:  q.deadLetter(),
			Retry:       q.retry(),
		}
	}

	for name, b := range d.Bindings {
		kind := contract.QueueBinding
		if b.Kind == "exchange" {
			kind = contract.ExchangeBinding
		}
		in.Bindings[name] = contract.Binding{
			Kind:        kind,
			Queue:       b.Queue,
			Exchange:    b.Exchange,
			Source:      b.Source,
			Destination: b.Destination,
			RoutingKey:  b.RoutingKey,
		}
	}

	for name, p := range d.Publishers {
		ex, ok := in.Exchanges[p.Exchange]
		if !ok {
			return nil, errors.Errorf("publisher %q references unknown exchange %q", name, p.Exchange)
		}
		msg := contract.DefineMessage(validator.Noop, contract.MessageOptions{Summary: p.Summary})
		pub := contract.DefinePublisher(ex, msg, p.RoutingKey)
		in.Publishers[name] = contract.PublisherEntry{Publisher: pub}
	}

	for name, cs := range d.Consumers {
		q, ok := in.Queues[cs.Queue]
		if !ok {
			return nil, errors.Errorf("consumer %q references unknown queue %q", name, cs.Queue)
		}
		ex, ok := in.Exchanges[cs.Exchange]
		if !ok {
			return nil, errors.Errorf("consumer %q references unknown exchange %q", name, cs.Exchange)
		}
		msg := contract.DefineMessage(validator.Noop, contract.MessageOptions{Summary: cs.Summary})
		in.Consumers[name] = contract.ConsumerEntry{
			Consumer: contract.DefineConsumer(q, msg),
			QueueBinding: contract.Binding{
				Kind:       contract.QueueBinding,
				Queue:      q.Name,
				Exchange:   ex.Name,
				RoutingKey: cs.RoutingKey,
			},
		}
	}

	return contract.DefineContract(in)
}

func (q queueDoc) deadLetter() *contract.DeadLetter {
	if q.DeadLetter == nil {
		return nil
	}
	return &contract.DeadLetter{Exchange: q.DeadLetter.Exchange, RoutingKey: q.DeadLetter.RoutingKey}
}

func (q queueDoc) retry() *contract.RetryPolicy {
	if q.Retry == nil {
		return nil
	}
	return &contract.RetryPolicy{
		Mode:              contract.RetryMode(q.Retry.Mode),
		MaxRetries:        q.Retry.MaxRetries,
		InitialDelayMs:    q.Retry.InitialDelayMs,
		MaxDelayMs:        q.Retry.MaxDelayMs,
		BackoffMultiplier: q.Retry.BackoffMultiplier,
		Jitter:            q.Retry.Jitter,
		DeliveryLimit:     q.Retry.DeliveryLimit,
	}
}
