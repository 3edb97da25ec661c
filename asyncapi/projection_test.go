package asyncapi_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bryk.io/contractq/asyncapi"
	"go.bryk.io/contractq/contract"
	"go.bryk.io/contractq/validator"
	"gopkg.in/yaml.v3"
)

func TestProject_EmitsChannelsAndOperations(t *testing.T) {
	orders := contract.DefineExchange("orders", contract.Topic, contract.ExchangeOptions{Durable: true})
	q := contract.DefineQuorumQueue("order-processing", contract.QuorumQueueOptions{DeliveryLimit: 3, Durable: true})
	msg := contract.DefineMessage(validator.Noop, contract.MessageOptions{Summary: "order created"})
	pub := contract.DefineEventPublisher(orders, msg, contract.EventPublisherOptions{RoutingKey: "order.created"})

	c, err := contract.DefineContract(contract.ContractInput{
		Publishers: map[string]contract.PublisherEntry{"orderCreated": {Publisher: pub}},
		Consumers: map[string]contract.ConsumerEntry{
			"processOrder": {
				Consumer: contract.DefineConsumer(q, msg),
				QueueBinding: contract.Binding{
					Kind: contract.QueueBinding, Queue: q.Name, Exchange: orders.Name, RoutingKey: "order.created",
				},
			},
		},
	})
	require.NoError(t, err)

	doc, err := asyncapi.Project(c, "contractq-sample", "1.0.0", asyncapi.NoopConverter{})
	require.NoError(t, err)

	assert.Equal(t, "3.0.0", doc.AsyncAPI)
	assert.Contains(t, doc.Channels, "orders")
	assert.Contains(t, doc.Channels, "order-processing")
	assert.Equal(t, "routingKey", doc.Channels["orders"].Bindings.AMQP.Is)
	assert.Equal(t, "queue", doc.Channels["order-processing"].Bindings.AMQP.Is)
	assert.Contains(t, doc.Components.Messages, "orderCreatedMessage")
	assert.Contains(t, doc.Components.Messages, "processOrderMessage")
	assert.Equal(t, "send", doc.Operations["orderCreated"].Action)
	assert.Equal(t, "receive", doc.Operations["processOrder"].Action)

	out, err := yaml.Marshal(doc)
	require.NoError(t, err)
	assert.Contains(t, string(out), "asyncapi: 3.0.0")
}
