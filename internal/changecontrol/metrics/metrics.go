package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for change control.
// Tracks mutations, refused operations, lost audit writes and operation latency.
type Metrics struct {
	Mutations         *prometheus.CounterVec
	GuardViolations   *prometheus.CounterVec
	ValidationErrors  *prometheus.CounterVec
	AuditFailures     *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
}

// New creates a new Metrics instance registered with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Mutations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "steward_record_mutations_total",
			Help: "Total number of committed record mutations",
		}, []string{"entity_type", "action"}),
		GuardViolations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "steward_guard_violations_total",
			Help: "Total number of operations refused by a role, self-approval, domain or tenant guard",
		}, []string{"action"}),
		ValidationErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "steward_validation_errors_total",
			Help: "Total number of writes refused for missing required fields",
		}, []string{"entity_type"}),
		AuditFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "steward_audit_write_failures_total",
			Help: "Total number of audit entries lost after the record write succeeded",
		}, []string{"action"}),
		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "steward_changecontrol_operation_duration_seconds",
			Help:    "Duration of change-control operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
	}
}

// IncrementMutation records a committed mutation.
func (m *Metrics) IncrementMutation(entityType, action string) {
	if m != nil {
		m.Mutations.WithLabelValues(entityType, action).Inc()
	}
}

// IncrementGuardViolation records a refused operation.
func (m *Metrics) IncrementGuardViolation(action string) {
	if m != nil {
		m.GuardViolations.WithLabelValues(action).Inc()
	}
}

// IncrementValidationError records a write refused by validation.
func (m *Metrics) IncrementValidationError(entityType string) {
	if m != nil {
		m.ValidationErrors.WithLabelValues(entityType).Inc()
	}
}

// IncrementAuditFailure records an audit entry that could not be written.
func (m *Metrics) IncrementAuditFailure(action string) {
	if m != nil {
		m.AuditFailures.WithLabelValues(action).Inc()
	}
}

// ObserveOperation records the duration of an operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveOperation(operation string, start time.Time) {
	if m != nil {
		m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}
