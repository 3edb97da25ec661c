package worker_test

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"testing"

	driver "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bryk.io/contractq/contract"
	"go.bryk.io/contractq/validator"
	"go.bryk.io/contractq/worker"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeWorkerChannel struct {
	fakeAckable
	consumeQueue string
	consumeTag   string
	deliveries   chan driver.Delivery
	cancelled    []string
	qosCalls     int
}

func (f *fakeWorkerChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args driver.Table) (<-chan driver.Delivery, error) {
	f.consumeQueue = queue
	f.consumeTag = consumer
	return f.deliveries, nil
}

func (f *fakeWorkerChannel) Cancel(consumer string, noWait bool) error {
	f.cancelled = append(f.cancelled, consumer)
	return nil
}

func (f *fakeWorkerChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	f.qosCalls++
	return nil
}

func buildConsumerContract(t *testing.T, payloadValidator validator.Validator) *contract.Contract {
	t.Helper()
	q := contract.DefineQuorumQueue("orders-q", contract.QuorumQueueOptions{DeliveryLimit: 5})
	msg := contract.DefineMessage(payloadValidator, contract.MessageOptions{Summary: "order"})
	c, err := contract.DefineContract(contract.ContractInput{
		Consumers: map[string]contract.ConsumerEntry{
			"processOrder": {
				Consumer: contract.DefineConsumer(q, msg),
				QueueBinding: contract.Binding{
					Kind: contract.QueueBinding, Queue: q.Name, Exchange: "orders", RoutingKey: "order.created",
				},
			},
		},
		Exchanges: map[string]contract.Exchange{
			"orders": contract.DefineExchange("orders", contract.Topic, contract.ExchangeOptions{Durable: true}),
		},
	})
	require.NoError(t, err)
	return c
}

func TestWorker_New_MissingHandlerIsError(t *testing.T) {
	c := buildConsumerContract(t, validator.Noop)
	fc := &fakeWorkerChannel{deliveries: make(chan driver.Delivery)}
	_, err := worker.New(c, func() worker.Channel { return fc }, map[string]worker.Registration{}, worker.Options{})
	require.Error(t, err)
}

func TestWorker_Start_DispatchesAndAcksOnSuccess(t *testing.T) {
	c := buildConsumerContract(t, validator.Noop)
	fc := &fakeWorkerChannel{deliveries: make(chan driver.Delivery, 1)}

	received := make(chan map[string]any, 1)
	handlers := map[string]worker.Registration{
		"processOrder": {Handler: func(ctx context.Context, payload any, headers map[string]any, raw driver.Delivery) error {
			received <- payload.(map[string]any)
			return nil
		}},
	}
	w, err := worker.New(c, func() worker.Channel { return fc }, handlers, worker.Options{})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	body, _ := json.Marshal(map[string]any{"orderId": "O1"})
	fc.deliveries <- driver.Delivery{DeliveryTag: 1, Body: body, ContentType: "application/json"}
	close(fc.deliveries)

	payload := <-received
	assert.Equal(t, "O1", payload["orderId"])
	require.NoError(t, w.Close())
	assert.Equal(t, []uint64{1}, fc.acked)
}

func TestWorker_HandleDelivery_DecompressesGzip(t *testing.T) {
	c := buildConsumerContract(t, validator.Noop)
	fc := &fakeWorkerChannel{deliveries: make(chan driver.Delivery, 1)}

	received := make(chan map[string]any, 1)
	handlers := map[string]worker.Registration{
		"processOrder": {Handler: func(ctx context.Context, payload any, headers map[string]any, raw driver.Delivery) error {
			received <- payload.(map[string]any)
			return nil
		}},
	}
	w, err := worker.New(c, func() worker.Channel { return fc }, handlers, worker.Options{})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	raw, _ := json.Marshal(map[string]any{"orderId": "O2"})
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, _ = gw.Write(raw)
	_ = gw.Close()

	fc.deliveries <- driver.Delivery{DeliveryTag: 2, Body: buf.Bytes(), ContentEncoding: "gzip"}
	close(fc.deliveries)

	payload := <-received
	assert.Equal(t, "O2", payload["orderId"])
	require.NoError(t, w.Close())
}

func TestWorker_HandleDelivery_InvalidJSONIsNacked(t *testing.T) {
	c := buildConsumerContract(t, validator.Noop)
	fc := &fakeWorkerChannel{deliveries: make(chan driver.Delivery, 1)}

	handlers := map[string]worker.Registration{
		"processOrder": {Handler: func(ctx context.Context, payload any, headers map[string]any, raw driver.Delivery) error {
			t.Fatal("handler should not be invoked for invalid JSON")
			return nil
		}},
	}
	w, err := worker.New(c, func() worker.Channel { return fc }, handlers, worker.Options{})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	fc.deliveries <- driver.Delivery{DeliveryTag: 3, Body: []byte("not json")}
	close(fc.deliveries)
	require.NoError(t, w.Close())
	assert.Equal(t, []uint64{3}, fc.nackedNoRequeue)
}
