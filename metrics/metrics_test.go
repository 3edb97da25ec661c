package metrics_test

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bryk.io/contractq/metrics"
	"go.bryk.io/contractq/prometheus"
)

func TestCollectors_RegisterAndObserve(t *testing.T) {
	op, err := prometheus.NewOperator(nil)
	require.NoError(t, err)

	cols := metrics.NewCollectors("contractq")
	cols.MustRegister(op.Registry())

	cols.ObservePublish("orders", "order.created", metrics.Success, 0.01)
	cols.ObserveConsume("order-processing", metrics.Success, 0.02)
	cols.ObserveRetry("order-processing", "ttl-backoff")
	cols.ObserveDeadLetter("order-processing", "retries-exhausted")

	families, err := op.GatherMetrics()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["contractq_publish_total"])
	assert.True(t, names["contractq_consume_total"])
	assert.True(t, names["contractq_retry_total"])
	assert.True(t, names["contractq_retry_dead_letter_total"])

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	op.MetricsHandler().ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "contractq_publish_total")
}
