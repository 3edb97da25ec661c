package publish_test

import (
	"context"
	"encoding/json"
	"testing"

	driver "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bryk.io/contractq/contract"
	"go.bryk.io/contractq/publish"
	"go.bryk.io/contractq/validator"
)

type fakeChannel struct {
	lastExchange, lastKey string
	lastMsg               driver.Publishing
	rejectErr             error
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, mandatory, immediate bool, msg driver.Publishing) error {
	if f.rejectErr != nil {
		return f.rejectErr
	}
	f.lastExchange, f.lastKey, f.lastMsg = exchange, key, msg
	return nil
}

func buildContract(t *testing.T, payloadValidator validator.Validator) *contract.Contract {
	t.Helper()
	orders := contract.DefineExchange("orders", contract.Topic, contract.ExchangeOptions{Durable: true})
	msg := contract.DefineMessage(payloadValidator, contract.MessageOptions{Summary: "order created"})
	pub := contract.DefineEventPublisher(orders, msg, contract.EventPublisherOptions{RoutingKey: "order.created"})
	c, err := contract.DefineContract(contract.ContractInput{
		Publishers: map[string]contract.PublisherEntry{"orderCreated": {Publisher: pub}},
	})
	require.NoError(t, err)
	return c
}

func TestPublish_Success(t *testing.T) {
	c := buildContract(t, validator.Noop)
	fc := &fakeChannel{}
	p := publish.New(c, func() publish.Channel { return fc }, nil, nil, nil)

	err := p.Publish(context.Background(), "orderCreated", map[string]any{"orderId": "O1"}, publish.Options{})
	require.NoError(t, err)
	assert.Equal(t, "orders", fc.lastExchange)
	assert.Equal(t, "order.created", fc.lastKey)
	assert.Equal(t, "application/json", fc.lastMsg.ContentType)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(fc.lastMsg.Body, &decoded))
	assert.Equal(t, "O1", decoded["orderId"])
}

func TestPublish_ValidationFailureNotSent(t *testing.T) {
	rejecting := validator.Func(func(any) (validator.Issues, error) {
		return validator.Issues{{Field: "orderId", Message: "required"}}, nil
	})
	c := buildContract(t, rejecting)
	fc := &fakeChannel{}
	p := publish.New(c, func() publish.Channel { return fc }, nil, nil, nil)

	err := p.Publish(context.Background(), "orderCreated", map[string]any{}, publish.Options{})
	require.Error(t, err)
	var ve *publish.MessageValidationError
	require.ErrorAs(t, err, &ve)
	assert.Empty(t, fc.lastExchange)
}

func TestPublish_UnknownPublisher(t *testing.T) {
	c := buildContract(t, validator.Noop)
	fc := &fakeChannel{}
	p := publish.New(c, func() publish.Channel { return fc }, nil, nil, nil)

	err := p.Publish(context.Background(), "missing", nil, publish.Options{})
	require.Error(t, err)
	var te *publish.TechnicalError
	require.ErrorAs(t, err, &te)
}

func TestPublish_CompressesWhenRequested(t *testing.T) {
	c := buildContract(t, validator.Noop)
	fc := &fakeChannel{}
	p := publish.New(c, func() publish.Channel { return fc }, nil, nil, nil)

	err := p.Publish(context.Background(), "orderCreated", map[string]any{"orderId": "O1"}, publish.Options{Compression: publish.Gzip})
	require.NoError(t, err)
	assert.Equal(t, "gzip", fc.lastMsg.ContentEncoding)

	raw, err := publish.Decompress(publish.Gzip, fc.lastMsg.Body)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "O1", decoded["orderId"])
}

func TestPublish_ChannelRejectionIsTechnicalError(t *testing.T) {
	c := buildContract(t, validator.Noop)
	fc := &fakeChannel{rejectErr: assertDeadline}
	p := publish.New(c, func() publish.Channel { return fc }, nil, nil, nil)

	err := p.Publish(context.Background(), "orderCreated", map[string]any{"orderId": "O1"}, publish.Options{})
	require.Error(t, err)
	var te *publish.TechnicalError
	require.ErrorAs(t, err, &te)
}

var assertDeadline = context.DeadlineExceeded
