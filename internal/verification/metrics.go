package verification

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric outcome labels.
const (
	outcomeSkipped     = "skipped"
	outcomeSubmitted   = "submitted"
	outcomeVerified    = "verified"
	outcomeUnconfirmed = "unconfirmed"
	outcomeChainFailed = "chain_failed"
	outcomeDiverged    = "diverged"
	outcomeSuccess     = "success"
)

// VerificationMetrics groups the counters this package maintains.
type VerificationMetrics struct {
	attempts *prometheus.CounterVec
	issuance *prometheus.CounterVec
	inflight prometheus.Gauge
}

var (
	metricsOnce     sync.Once
	metricsRegistry *VerificationMetrics
)

// Metrics returns the lazily registered metrics.
func Metrics() *VerificationMetrics {
	metricsOnce.Do(func() {
		metricsRegistry = &VerificationMetrics{
			attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "invoicechain",
				Name:      "verification_attempts_total",
				Help:      "Verification attempts segmented by terminal outcome.",
			}, []string{"outcome"}),
			issuance: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "invoicechain",
				Name:      "issuance_total",
				Help:      "Issuance requests segmented by outcome.",
			}, []string{"outcome"}),
			inflight: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "invoicechain",
				Name:      "processing_inflight",
				Help:      "Invoices with an operation in flight.",
			}),
		}
		prometheus.MustRegister(
			metricsRegistry.attempts,
			metricsRegistry.issuance,
			metricsRegistry.inflight,
		)
	})
	return metricsRegistry
}

// Attempts exposes the attempts counter.
func (m *VerificationMetrics) Attempts() *prometheus.CounterVec {
	return m.attempts
}

// Issuance exposes the issuance counter.
func (m *VerificationMetrics) Issuance() *prometheus.CounterVec {
	return m.issuance
}

func (m *VerificationMetrics) recordAttempt(outcome string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(outcome).Inc()
}

func (m *VerificationMetrics) recordIssuance(outcome string) {
	if m == nil {
		return
	}
	m.issuance.WithLabelValues(outcome).Inc()
}

func (m *VerificationMetrics) setInflight(n int) {
	if m == nil {
		return
	}
	m.inflight.Set(float64(n))
}

// settlementLabel names the attempts counter label for a settled result.
func settlementLabel(r Result) string {
	switch r {
	case ResultVerified:
		return outcomeVerified
	case ResultUnconfirmed:
		return outcomeUnconfirmed
	case ResultChainFailed:
		return outcomeChainFailed
	default:
		return outcomeDiverged
	}
}
