package contract_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bryk.io/contractq/contract"
	"go.bryk.io/contractq/validator"
)

func sampleMessage() contract.MessageSchema {
	return contract.DefineMessage(validator.Noop, contract.MessageOptions{Summary: "sample"})
}

// Scenario A building blocks: topic exchange, ttl-backoff queue, event
// publisher/consumer pair.
func TestDefineContract_EventPubSub(t *testing.T) {
	orders := contract.DefineExchange("orders", contract.Topic, contract.ExchangeOptions{Durable: true})
	bundle := contract.DefineTTLBackoffQueue("order-processing", contract.TTLBackoffQueueOptions{
		DeadLetter: contract.DeadLetter{Exchange: "orders-dlx"},
		Durable:    true,
	})
	msg := sampleMessage()
	pub := contract.DefineEventPublisher(orders, msg, contract.EventPublisherOptions{RoutingKey: "order.created"})

	consumerBundle, err := contract.DefineEventConsumer(pub, bundle.Main, msg, contract.EventConsumerOptions{})
	require.NoError(t, err)

	c, err := contract.DefineContract(contract.ContractInput{
		Publishers: map[string]contract.PublisherEntry{
			"orderCreated": {Publisher: pub},
		},
		Consumers: map[string]contract.ConsumerEntry{
			"processOrder": {
				Consumer:     consumerBundle.Consumer,
				QueueBinding: consumerBundle.QueueBinding,
			},
		},
		TTLBackoffQueues: map[string]contract.TTLBackoffQueueBundle{
			"order-processing": bundle,
		},
	})
	require.NoError(t, err)

	assert.Contains(t, c.Exchanges, "orders")
	assert.Contains(t, c.Exchanges, "orders-dlx")
	assert.Equal(t, contract.Direct, c.Exchanges["orders-dlx"].Kind)
	assert.Contains(t, c.Queues, "order-processing")
	assert.Contains(t, c.Queues, "order-processing-wait")
	assert.Contains(t, c.Bindings, "processOrderBinding")
	assert.Contains(t, c.Bindings, "order-processingWaitBinding")
	assert.Contains(t, c.Bindings, "order-processingRetryBinding")

	wb := c.Bindings["order-processingWaitBinding"]
	assert.Equal(t, "order-processing-wait", wb.Queue)
	assert.Equal(t, "orders-dlx", wb.Exchange)
	assert.Equal(t, "order-processing-wait", wb.RoutingKey)

	rb := c.Bindings["order-processingRetryBinding"]
	assert.Equal(t, "order-processing", rb.Queue)
	assert.Equal(t, "orders-dlx", rb.Exchange)
	assert.Equal(t, "order-processing", rb.RoutingKey)
}

func TestDefineContract_RejectsWildcardPublisherRoutingKey(t *testing.T) {
	orders := contract.DefineExchange("orders", contract.Topic, contract.ExchangeOptions{})
	msg := sampleMessage()
	pub := contract.DefineEventPublisher(orders, msg, contract.EventPublisherOptions{RoutingKey: "order.*"})

	_, err := contract.DefineContract(contract.ContractInput{
		Publishers: map[string]contract.PublisherEntry{"orderCreated": {Publisher: pub}},
	})
	require.Error(t, err)
	ve, ok := contract.AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, contract.KindWildcardRoutingKey, ve.Kind)
}

func TestDefineContract_QuorumNativeRequiresDeliveryLimit(t *testing.T) {
	q := contract.Queue{
		Name: "q",
		Type: contract.Quorum,
		Retry: &contract.RetryPolicy{
			Mode: contract.RetryQuorumNative,
		},
	}
	_, err := contract.DefineContract(contract.ContractInput{
		Queues: map[string]contract.Queue{"q": q},
	})
	require.Error(t, err)
	ve, ok := contract.AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, contract.KindMissingDeliveryLimit, ve.Kind)
}

// Scenario F — bridging.
func TestDefineContract_Bridging(t *testing.T) {
	remote := contract.DefineExchange("orders", contract.Topic, contract.ExchangeOptions{Durable: true})
	localX := contract.DefineExchange("localX", contract.Topic, contract.ExchangeOptions{Durable: true})
	localQueue := contract.DefineQuorumQueue("localQueue", contract.QuorumQueueOptions{DeliveryLimit: 3, Durable: true})
	msg := sampleMessage()

	remoteOrderEvent := contract.DefineEventPublisher(remote, msg, contract.EventPublisherOptions{RoutingKey: "order.created"})
	bundle, err := contract.DefineEventConsumer(remoteOrderEvent, localQueue, msg, contract.EventConsumerOptions{
		BridgeExchange: &localX,
	})
	require.NoError(t, err)
	require.NotNil(t, bundle.ExchangeBinding)

	c, err := contract.DefineContract(contract.ContractInput{
		Publishers: map[string]contract.PublisherEntry{"remoteOrderEvent": {Publisher: remoteOrderEvent}},
		Consumers: map[string]contract.ConsumerEntry{
			"localConsumer": {
				Consumer:        bundle.Consumer,
				QueueBinding:    bundle.QueueBinding,
				ExchangeBinding: bundle.ExchangeBinding,
			},
		},
		// The bridge exchange itself isn't reachable through a publisher or
		// consumer's own exchange field (those name "orders"); it must be
		// declared explicitly, same as any other extra resource.
		Exchanges: map[string]contract.Exchange{"localX": localX},
	})
	require.NoError(t, err)

	assert.Contains(t, c.Exchanges, "orders")
	assert.Contains(t, c.Exchanges, "localX")
	assert.Contains(t, c.Queues, "localQueue")

	qb := c.Bindings["localConsumerBinding"]
	assert.Equal(t, "localX", qb.Exchange)
	assert.Equal(t, "order.created", qb.RoutingKey)

	eb := c.Bindings["localConsumerExchangeBinding"]
	assert.Equal(t, "orders", eb.Source)
	assert.Equal(t, "localX", eb.Destination)
	assert.Equal(t, "order.created", eb.RoutingKey)
}

func TestDefineContract_IncompatibleBridgeKind(t *testing.T) {
	remote := contract.DefineExchange("orders", contract.Fanout, contract.ExchangeOptions{})
	localX := contract.DefineExchange("localX", contract.Topic, contract.ExchangeOptions{})
	localQueue := contract.DefineQueue("localQueue", contract.QueueOptions{})
	msg := sampleMessage()

	pub := contract.DefineEventPublisher(remote, msg, contract.EventPublisherOptions{})
	_, err := contract.DefineEventConsumer(pub, localQueue, msg, contract.EventConsumerOptions{
		BridgeExchange: &localX,
	})
	require.Error(t, err)
	ve, ok := contract.AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, contract.KindIncompatibleBridge, ve.Kind)
}

// Scenario: command (1-of-N) consumer/publisher pair, plain.
func TestDefineContract_CommandConsumerPublisher(t *testing.T) {
	jobs := contract.DefineExchange("jobs", contract.Direct, contract.ExchangeOptions{Durable: true})
	queue := contract.DefineQuorumQueue("jobs-worker", contract.QuorumQueueOptions{DeliveryLimit: 5, Durable: true})
	msg := sampleMessage()

	cmd := contract.DefineCommandConsumer(queue, jobs, msg, contract.CommandOptions{RoutingKey: "job.run"})

	pubAny, err := contract.DefineCommandPublisher(cmd, contract.CommandPublisherOptions{})
	require.NoError(t, err)
	pub, ok := pubAny.(contract.Publisher)
	require.True(t, ok)

	c, err := contract.DefineContract(contract.ContractInput{
		Publishers: map[string]contract.PublisherEntry{"runJob": {Publisher: pub}},
		Consumers: map[string]contract.ConsumerEntry{
			"jobWorker": {Consumer: cmd.Consumer, QueueBinding: cmd.Binding},
		},
	})
	require.NoError(t, err)

	assert.Contains(t, c.Exchanges, "jobs")
	assert.Contains(t, c.Queues, "jobs-worker")
	assert.Contains(t, c.Publishers, "runJob")
	assert.Contains(t, c.Consumers, "jobWorker")

	qb := c.Bindings["jobWorkerBinding"]
	assert.Equal(t, "jobs-worker", qb.Queue)
	assert.Equal(t, "jobs", qb.Exchange)
	assert.Equal(t, "job.run", qb.RoutingKey)
}

// Scenario: command consumer/publisher pair, bridged through a local
// exchange, mirroring TestDefineContract_Bridging's event-bridging shape.
func TestDefineContract_CommandPublisher_Bridged(t *testing.T) {
	jobs := contract.DefineExchange("jobs", contract.Direct, contract.ExchangeOptions{Durable: true})
	localX := contract.DefineExchange("localJobs", contract.Direct, contract.ExchangeOptions{Durable: true})
	queue := contract.DefineQuorumQueue("jobs-worker", contract.QuorumQueueOptions{DeliveryLimit: 5, Durable: true})
	msg := sampleMessage()

	cmd := contract.DefineCommandConsumer(queue, jobs, msg, contract.CommandOptions{RoutingKey: "job.run"})

	bridgedAny, err := contract.DefineCommandPublisher(cmd, contract.CommandPublisherOptions{BridgeExchange: &localX})
	require.NoError(t, err)
	bridged, ok := bridgedAny.(contract.BridgedPublisherBundle)
	require.True(t, ok)

	c, err := contract.DefineContract(contract.ContractInput{
		Publishers: map[string]contract.PublisherEntry{
			"runJob": {Publisher: bridged.Publisher, ExchangeBinding: &bridged.ExchangeBinding},
		},
		Consumers: map[string]contract.ConsumerEntry{
			"jobWorker": {Consumer: cmd.Consumer, QueueBinding: cmd.Binding},
		},
		// The command exchange itself is only ever named inside the consumer's
		// queue binding and the exchange-binding destination in this bridged
		// shape, never as a publisher's own exchange — it must be declared
		// explicitly, same as the event-bridging scenario's bridge exchange.
		Exchanges: map[string]contract.Exchange{"jobs": jobs},
	})
	require.NoError(t, err)

	assert.Contains(t, c.Exchanges, "jobs")
	assert.Contains(t, c.Exchanges, "localJobs")

	eb := c.Bindings["runJobExchangeBinding"]
	assert.Equal(t, "localJobs", eb.Source)
	assert.Equal(t, "jobs", eb.Destination)
	assert.Equal(t, "job.run", eb.RoutingKey)
}

func TestDefineCommandPublisher_IncompatibleBridgeKind(t *testing.T) {
	jobs := contract.DefineExchange("jobs", contract.Fanout, contract.ExchangeOptions{})
	localX := contract.DefineExchange("localJobs", contract.Topic, contract.ExchangeOptions{})
	queue := contract.DefineQueue("jobs-worker", contract.QueueOptions{})
	msg := sampleMessage()

	cmd := contract.DefineCommandConsumer(queue, jobs, msg, contract.CommandOptions{})
	_, err := contract.DefineCommandPublisher(cmd, contract.CommandPublisherOptions{BridgeExchange: &localX})
	require.Error(t, err)
	ve, ok := contract.AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, contract.KindIncompatibleBridge, ve.Kind)
}

func TestQueue_DeclareArguments(t *testing.T) {
	q := contract.DefineQuorumQueue("q", contract.QuorumQueueOptions{
		DeadLetter:    &contract.DeadLetter{Exchange: "q-dlx"},
		DeliveryLimit: 3,
	})
	args := q.DeclareArguments()
	assert.Equal(t, "quorum", args["x-queue-type"])
	assert.Equal(t, 3, args["x-delivery-limit"])
	assert.Equal(t, "q-dlx", args["x-dead-letter-exchange"])
}

func TestMergeContracts_LaterOverridesEarlier(t *testing.T) {
	ex1 := contract.DefineExchange("x", contract.Fanout, contract.ExchangeOptions{Durable: false})
	ex2 := contract.DefineExchange("x", contract.Fanout, contract.ExchangeOptions{Durable: true})
	c1, err := contract.DefineContract(contract.ContractInput{Exchanges: map[string]contract.Exchange{"x": ex1}})
	require.NoError(t, err)
	c2, err := contract.DefineContract(contract.ContractInput{Exchanges: map[string]contract.Exchange{"x": ex2}})
	require.NoError(t, err)

	merged, err := contract.MergeContracts(c1, c2)
	require.NoError(t, err)
	assert.True(t, merged.Exchanges["x"].Durable)
}
