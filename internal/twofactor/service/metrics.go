package service

import (
	"time"

	"github.com/aussiebroadwan/twofactor/internal/twofactor/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeSuccess = "success"
	outcomeError   = "error"
)

// Metrics counts lifecycle outcomes. A nil *Metrics records nothing.
type Metrics struct {
	operations        *prometheus.CounterVec
	duration          *prometheus.HistogramVec
	recoveryCodesUsed prometheus.Counter
	pendingPurged     prometheus.Counter
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "twofactor_operations_total",
				Help: "Lifecycle operations by outcome (success, a failure reason, or error)",
			},
			[]string{"operation", "outcome"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "twofactor_operation_duration_seconds",
				Help:    "Duration of lifecycle operations",
				Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 3},
			},
			[]string{"operation"},
		),
		recoveryCodesUsed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "twofactor_recovery_codes_used_total",
				Help: "Recovery codes consumed",
			},
		),
		pendingPurged: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "twofactor_pending_setups_purged_total",
				Help: "Expired pending setups removed by housekeeping",
			},
		),
	}
}

func (m *Metrics) observe(operation string, start time.Time, success bool, reason domain.Reason, err error) {
	if m == nil {
		return
	}

	outcome := outcomeSuccess
	switch {
	case err != nil:
		outcome = outcomeError
	case !success:
		outcome = string(reason)
	}

	m.duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	m.operations.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) recoveryCodeUsed() {
	if m == nil {
		return
	}
	m.recoveryCodesUsed.Inc()
}

func (m *Metrics) purged(n int64) {
	if m == nil {
		return
	}
	m.pendingPurged.Add(float64(n))
}
