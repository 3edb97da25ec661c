package topology_test

import (
	"context"
	"sync"
	"testing"

	driver "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bryk.io/contractq/contract"
	"go.bryk.io/contractq/topology"
)

type fakeDeclarer struct {
	mu          sync.Mutex
	exchanges   []string
	queues      []string
	queueBinds  []string
	exchangeBinds []string
	failExchange string
}

func (f *fakeDeclarer) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args driver.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name == f.failExchange {
		return assertErr
	}
	f.exchanges = append(f.exchanges, name)
	return nil
}

func (f *fakeDeclarer) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args driver.Table) (driver.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues = append(f.queues, name)
	return driver.Queue{Name: name}, nil
}

func (f *fakeDeclarer) QueueBind(name, key, exchange string, noWait bool, args driver.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queueBinds = append(f.queueBinds, name+"|"+exchange+"|"+key)
	return nil
}

func (f *fakeDeclarer) ExchangeBind(destination, key, source string, noWait bool, args driver.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchangeBinds = append(f.exchangeBinds, source+"|"+destination+"|"+key)
	return nil
}

var assertErr = context.DeadlineExceeded

func TestSynthesize_DeclaresContractEntities(t *testing.T) {
	orders := contract.DefineExchange("orders", contract.Topic, contract.ExchangeOptions{Durable: true})
	bundle := contract.DefineTTLBackoffQueue("order-processing", contract.TTLBackoffQueueOptions{
		DeadLetter: contract.DeadLetter{Exchange: "orders-dlx"},
		Durable:    true,
	})
	msg := contract.DefineMessage(nil, contract.MessageOptions{Summary: "sample"})
	pub := contract.DefineEventPublisher(orders, msg, contract.EventPublisherOptions{RoutingKey: "order.created"})
	consumerBundle, err := contract.DefineEventConsumer(pub, bundle.Main, msg, contract.EventConsumerOptions{})
	require.NoError(t, err)

	c, err := contract.DefineContract(contract.ContractInput{
		Publishers: map[string]contract.PublisherEntry{"orderCreated": {Publisher: pub}},
		Consumers: map[string]contract.ConsumerEntry{
			"processOrder": {Consumer: consumerBundle.Consumer, QueueBinding: consumerBundle.QueueBinding},
		},
		TTLBackoffQueues: map[string]contract.TTLBackoffQueueBundle{"order-processing": bundle},
	})
	require.NoError(t, err)

	fd := &fakeDeclarer{}
	err = topology.Synthesize(context.Background(), fd, c)
	require.NoError(t, err)

	assert.Contains(t, fd.exchanges, "orders")
	assert.Contains(t, fd.queues, "order-processing")
	assert.Contains(t, fd.queues, "order-processing-wait")
	assert.NotEmpty(t, fd.queueBinds)
}

func TestSynthesize_AggregatesPhaseErrors(t *testing.T) {
	a := contract.DefineExchange("a", contract.Fanout, contract.ExchangeOptions{})
	b := contract.DefineExchange("b", contract.Fanout, contract.ExchangeOptions{})
	c, err := contract.DefineContract(contract.ContractInput{
		Exchanges: map[string]contract.Exchange{"a": a, "b": b},
	})
	require.NoError(t, err)

	fd := &fakeDeclarer{failExchange: "a"}
	err = topology.Synthesize(context.Background(), fd, c)
	require.Error(t, err)
	var topErr *topology.TopologyError
	require.ErrorAs(t, err, &topErr)
	assert.Equal(t, topology.PhaseExchanges, topErr.Phase)
	assert.Len(t, topErr.Causes, 1)
}
