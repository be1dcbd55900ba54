package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	webhooks           *prometheus.CounterVec
	persistenceRetries prometheus.Counter
	sweepRuns          *prometheus.CounterVec
	sweepExpired       prometheus.Counter
	sweepDuration      prometheus.Histogram
	ordersCreated      *prometheus.CounterVec
}

var (
	defaultOnce sync.Once
	shared      *Metrics
)

// Default returns the metrics registered with the global registry.
func Default() *Metrics {
	defaultOnce.Do(func() {
		shared = MustNew(prometheus.DefaultRegisterer)
	})
	return shared
}

// MustNew registers a fresh set of collectors on reg.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "subscription",
			Name:      "webhook_events_total",
			Help:      "Platform notifications processed, by platform, event type and outcome.",
		}, []string{"platform", "event", "outcome"}),
		persistenceRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "subscription",
			Name:      "persistence_retries_total",
			Help:      "Transactions retried after lock contention.",
		}),
		sweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "subscription",
			Name:      "sweep_runs_total",
			Help:      "Expiry sweeper runs by result.",
		}, []string{"result"}),
		sweepExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "subscription",
			Name:      "sweep_expired_total",
			Help:      "Subscriptions expired by the sweeper.",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "subscription",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of expiry sweeper runs.",
			Buckets:   prometheus.DefBuckets,
		}),
		ordersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "subscription",
			Name:      "orders_created_total",
			Help:      "Orders written to the ledger by platform.",
		}, []string{"platform"}),
	}
	reg.MustRegister(m.webhooks, m.persistenceRetries, m.sweepRuns, m.sweepExpired, m.sweepDuration, m.ordersCreated)
	return m
}

// ObserveWebhook counts one processed notification.
func (m *Metrics) ObserveWebhook(platform, event, outcome string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(platform, event, outcome).Inc()
}

func (m *Metrics) PersistenceRetry() {
	if m == nil {
		return
	}
	m.persistenceRetries.Inc()
}

func (m *Metrics) OrderCreated(platform string) {
	if m == nil {
		return
	}
	m.ordersCreated.WithLabelValues(platform).Inc()
}

// ObserveSweep records a sweeper run.
func (m *Metrics) ObserveSweep(result string, expired int, took time.Duration) {
	if m == nil {
		return
	}
	m.sweepRuns.WithLabelValues(result).Inc()
	m.sweepExpired.Add(float64(expired))
	m.sweepDuration.Observe(took.Seconds())
}
