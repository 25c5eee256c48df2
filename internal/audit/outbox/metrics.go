package outbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the outbox relay.
type Metrics struct {
	Published    *prometheus.CounterVec
	Failures     prometheus.Counter
	BatchSize    prometheus.Histogram
	BreakerState prometheus.Gauge
}

// NewMetrics registers relay metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Published: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "steward_audit_outbox_published_total",
			Help: "Total number of audit entries relayed to Kafka, by category",
		}, []string{"category"}),
		Failures: factory.NewCounter(prometheus.CounterOpts{
			Name: "steward_audit_outbox_failures_total",
			Help: "Total number of failed relay batches",
		}),
		BatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "steward_audit_outbox_batch_size",
			Help:    "Number of outbox rows relayed per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),
		BreakerState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "steward_audit_outbox_breaker_state",
			Help: "Relay circuit breaker state (0=closed/healthy, 1=open/paused)",
		}),
	}
}

func (m *Metrics) incPublished(category string) {
	if m != nil {
		m.Published.WithLabelValues(category).Inc()
	}
}

func (m *Metrics) incFailures() {
	if m != nil {
		m.Failures.Inc()
	}
}

func (m *Metrics) observeBatch(n int) {
	if m != nil {
		m.BatchSize.Observe(float64(n))
	}
}

func (m *Metrics) setBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.BreakerState.Set(1)
	} else {
		m.BreakerState.Set(0)
	}
}
