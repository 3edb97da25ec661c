package worker_test

import (
	"context"
	"errors"
	"testing"

	driver "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bryk.io/contractq/contract"
	"go.bryk.io/contractq/worker"
)

type fakeAckable struct {
	acked, nackedRequeue, nackedNoRequeue []uint64
	published                             []driver.Publishing
	publishErr                            error
}

func (f *fakeAckable) Ack(tag uint64, multiple bool) error {
	f.acked = append(f.acked, tag)
	return nil
}

func (f *fakeAckable) Nack(tag uint64, multiple, requeue bool) error {
	if requeue {
		f.nackedRequeue = append(f.nackedRequeue, tag)
	} else {
		f.nackedNoRequeue = append(f.nackedNoRequeue, tag)
	}
	return nil
}

func (f *fakeAckable) PublishWithContext(_ context.Context, exchange, key string, mandatory, immediate bool, msg driver.Publishing) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, msg)
	return nil
}

func ttlBackoffQueue() contract.Queue {
	return contract.DefineQueue("q", contract.QueueOptions{
		DeadLetter: &contract.DeadLetter{Exchange: "q-dlx"},
		Retry: &contract.RetryPolicy{
			Mode:              contract.RetryTTLBackoff,
			MaxRetries:        3,
			InitialDelayMs:    1000,
			MaxDelayMs:        30000,
			BackoffMultiplier: 2,
			Jitter:            false,
		},
	})
}

func TestRetryEngine_NonRetryableGoesToDLQ(t *testing.T) {
	fa := &fakeAckable{}
	e := worker.NewRetryEngine(func() worker.Ackable { return fa }, nil, nil)
	q := ttlBackoffQueue()

	err := e.HandleError(context.Background(), worker.NonRetryable(errors.New("boom")), driver.Delivery{DeliveryTag: 1}, "c", q)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, fa.nackedNoRequeue)
}

func TestRetryEngine_TTLBackoffRepublishesAndAcks(t *testing.T) {
	fa := &fakeAckable{}
	e := worker.NewRetryEngine(func() worker.Ackable { return fa }, nil, nil)
	q := ttlBackoffQueue()

	d := driver.Delivery{DeliveryTag: 1, Headers: driver.Table{}}
	err := e.HandleError(context.Background(), errors.New("boom"), d, "c", q)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, fa.acked)
	require.Len(t, fa.published, 1)
	assert.Equal(t, 1, fa.published[0].Headers["x-retry-count"])
}

func TestRetryEngine_TTLBackoffExhaustedSendsToDLQ(t *testing.T) {
	fa := &fakeAckable{}
	e := worker.NewRetryEngine(func() worker.Ackable { return fa }, nil, nil)
	q := ttlBackoffQueue()

	d := driver.Delivery{DeliveryTag: 1, Headers: driver.Table{"x-retry-count": 3}}
	err := e.HandleError(context.Background(), errors.New("boom"), d, "c", q)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, fa.nackedNoRequeue)
}

func TestRetryEngine_QuorumNativeNacksWithRequeue(t *testing.T) {
	fa := &fakeAckable{}
	e := worker.NewRetryEngine(func() worker.Ackable { return fa }, nil, nil)
	q := contract.DefineQuorumQueue("q", contract.QuorumQueueOptions{DeliveryLimit: 5})

	d := driver.Delivery{DeliveryTag: 1, Headers: driver.Table{"x-delivery-count": 4}}
	err := e.HandleError(context.Background(), errors.New("boom"), d, "c", q)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, fa.nackedRequeue)
}

func TestRetryEngine_PublishFailureFallsBackToRequeue(t *testing.T) {
	fa := &fakeAckable{publishErr: errors.New("buffer full")}
	e := worker.NewRetryEngine(func() worker.Ackable { return fa }, nil, nil)
	q := ttlBackoffQueue()

	d := driver.Delivery{DeliveryTag: 1, Headers: driver.Table{}}
	err := e.HandleError(context.Background(), errors.New("boom"), d, "c", q)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, fa.nackedRequeue)
}
