// Package topology declares a contract's exchanges, queues and bindings
// against a broker channel. Declarations are idempotent (the AMQP
// declare/bind operations themselves are idempotent) and run in a fixed,
// dependency-respecting order: exchanges, then queues, then queue bindings,
// then exchange bindings. Declarations within a phase run concurrently;
// failures are aggregated into a single TopologyError per phase.
package topology

import (
	"context"
	"fmt"
	"sync"

	driver "github.com/rabbitmq/amqp091-go"
	"go.bryk.io/contractq/contract"
)

// Phase identifies one of the four ordered declaration stages.
type Phase string

// Recognized phases, in synthesis order.
const (
	PhaseExchanges      Phase = "exchanges"
	PhaseQueues         Phase = "queues"
	PhaseQueueBindings   Phase = "queue-bindings"
	PhaseExchangeBindings Phase = "exchange-bindings"
)

// Declarer is the subset of *amqp091.Channel the synthesizer needs. Declared
// as an interface so tests can exercise the synthesizer without a live
// broker connection.
type Declarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args driver.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args driver.Table) (driver.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args driver.Table) error
	ExchangeBind(destination, key, source string, noWait bool, args driver.Table) error
}

// TopologyError aggregates every failure observed while declaring the
// entities of a single phase.
type TopologyError struct {
	Phase  Phase
	Causes []error
}

func (e *TopologyError) Error() string {
	return fmt.Sprintf("topology: %d error(s) in phase %q: %v", len(e.Causes), e.Phase, e.Causes)
}

// Unwrap exposes the first cause so errors.Is/As can reach it.
func (e *TopologyError) Unwrap() error {
	if len(e.Causes) == 0 {
		return nil
	}
	return e.Causes[0]
}

// Synthesize declares every exchange, queue and binding in c against ch, in
// phase order. Within a phase declarations run concurrently; ctx
// cancellation stops further phases from starting but does not abort
// in-flight declarations (the underlying driver call has no context
// parameter).
func Synthesize(ctx context.Context, ch Declarer, c *contract.Contract) error {
	exchanges := make([]contract.Exchange, 0, len(c.Exchanges))
	for _, ex := range c.Exchanges {
		exchanges = append(exchanges, ex)
	}
	if err := runPhase(PhaseExchanges, len(exchanges), func(i int) error {
		return declareExchange(ch, exchanges[i])
	}); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	queues := make([]contract.Queue, 0, len(c.Queues))
	for _, q := range c.Queues {
		queues = append(queues, q)
	}
	if err := runPhase(PhaseQueues, len(queues), func(i int) error {
		return declareQueue(ch, queues[i])
	}); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	queueBindings, exchangeBindings := splitBindings(c)
	if err := runPhase(PhaseQueueBindings, len(queueBindings), func(i int) error {
		return declareQueueBinding(ch, queueBindings[i])
	}); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if err := runPhase(PhaseExchangeBindings, len(exchangeBindings), func(i int) error {
		return declareExchangeBinding(ch, exchangeBindings[i])
	}); err != nil {
		return err
	}
	return nil
}

// runPhase invokes declare(i) for i in [0,n) concurrently and aggregates any
// non-nil errors into a single *TopologyError.
func runPhase(phase Phase, n int, declare func(i int) error) error {
	if n == 0 {
		return nil
	}
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		causes []error
	)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			if err := declare(i); err != nil {
				mu.Lock()
				causes = append(causes, err)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if len(causes) > 0 {
		return &TopologyError{Phase: phase, Causes: causes}
	}
	return nil
}

func declareExchange(ch Declarer, ex contract.Exchange) error {
	return ch.ExchangeDeclare(ex.Name, string(ex.Kind), ex.Durable, ex.AutoDelete, ex.Internal, false, toTable(ex.Arguments))
}

func declareQueue(ch Declarer, q contract.Queue) error {
	_, err := ch.QueueDeclare(q.Name, q.Durable, q.AutoDelete, q.Exclusive, false, toTable(q.DeclareArguments()))
	return err
}

func declareQueueBinding(ch Declarer, b contract.Binding) error {
	keys := b.RoutingKey
	if keys == "" {
		return ch.QueueBind(b.Queue, "", b.Exchange, false, toTable(b.Arguments))
	}
	return ch.QueueBind(b.Queue, keys, b.Exchange, false, toTable(b.Arguments))
}

func declareExchangeBinding(ch Declarer, b contract.Binding) error {
	return ch.ExchangeBind(b.Destination, b.RoutingKey, b.Source, false, toTable(b.Arguments))
}

func toTable(m map[string]interface{}) driver.Table {
	if m == nil {
		return nil
	}
	return driver.Table(m)
}

// splitBindings partitions a contract's bindings map into queue- and
// exchange-kind slices, preserving no particular order (declarations within
// a phase are concurrent and order-independent).
func splitBindings(c *contract.Contract) (queueBindings, exchangeBindings []contract.Binding) {
	for _, b := range c.Bindings {
		if b.Kind == contract.QueueBinding {
			queueBindings = append(queueBindings, b)
		} else {
			exchangeBindings = append(exchangeBindings, b)
		}
	}
	return
}
