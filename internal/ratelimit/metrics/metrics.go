package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Rejections  prometheus.Counter
	StoreErrors prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Rejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "steward_ratelimit_rejections_total",
			Help: "Total number of mutations refused by the per-principal rate limit",
		}),
		StoreErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "steward_ratelimit_store_errors_total",
			Help: "Total number of rate limit checks that failed open because the bucket store errored",
		}),
	}
}

func (m *Metrics) IncrementRejections() {
	if m == nil {
		return
	}
	m.Rejections.Inc()
}

func (m *Metrics) IncrementStoreErrors() {
	if m == nil {
		return
	}
	m.StoreErrors.Inc()
}
