package broker_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.bryk.io/contractq/broker"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestManager_ReleaseUnknownAddrIsNoop(t *testing.T) {
	m := broker.NewManager()
	assert.NoError(t, m.Release("amqp://unused"))
}
