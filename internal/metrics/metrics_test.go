package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsCounters(t *testing.T) {
	m := MustNew(prometheus.NewRegistry())

	m.ObserveWebhook("AppStore", "renewed", "ok")
	m.ObserveWebhook("AppStore", "renewed", "ok")
	m.ObserveSweep("ok", 3, time.Second)
	m.OrderCreated("GooglePay")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.webhooks.WithLabelValues("AppStore", "renewed", "ok")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.sweepExpired))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ordersCreated.WithLabelValues("GooglePay")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveWebhook("AppStore", "renewed", "ok")
	m.PersistenceRetry()
	m.ObserveSweep("ok", 1, time.Second)
}
