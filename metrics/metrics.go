// Package metrics exposes ceremony progress as Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the ceremony collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	stage            prometheus.Gauge
	claims           *prometheus.CounterVec
	creationFailures prometheus.Counter
	deviceViolations prometheus.Counter
}

// NewMetrics registers the ceremony collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		stage: factory.NewGauge(prometheus.GaugeOpts{
			Subsystem: "ceremony",
			Name:      "stage",
			Help:      "Current ceremony stage (0=SetupTrustees .. 4=Ready)",
		}),
		claims: factory.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "ceremony",
			Name:      "claims_total",
			Help:      "Participants whose device was written and claimed",
		}, []string{"cohort"}),
		creationFailures: factory.NewCounter(prometheus.CounterOpts{
			Subsystem: "ceremony",
			Name:      "creation_failures_total",
			Help:      "Failed calls to the ceremony creation service",
		}),
		deviceViolations: factory.NewCounter(prometheus.CounterOpts{
			Subsystem: "ceremony",
			Name:      "device_violations_total",
			Help:      "Device events rejected as out of sequence",
		}),
	}
}

func (m *Metrics) SetStage(stage int) {
	if m == nil {
		return
	}
	m.stage.Set(float64(stage))
}

func (m *Metrics) IncClaims(cohort string) {
	if m == nil {
		return
	}
	m.claims.WithLabelValues(cohort).Inc()
}

func (m *Metrics) IncCreationFailures() {
	if m == nil {
		return
	}
	m.creationFailures.Inc()
}

func (m *Metrics) IncDeviceViolations() {
	if m == nil {
		return
	}
	m.deviceViolations.Inc()
}
