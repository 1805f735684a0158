package observability

import (
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	escrowMetricsOnce sync.Once
	escrowRegistry    *EscrowMetricsRegistry
)

// ModuleMetrics returns the lazily-initialised module metrics registry used to
// record RPC module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vaultix",
				Subsystem: "module",
				Name:      "requests_total",
				Help:      "Total JSON-RPC module requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vaultix",
				Subsystem: "module",
				Name:      "errors_total",
				Help:      "Total JSON-RPC module errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "vaultix",
				Subsystem: "module",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC module handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vaultix",
				Subsystem: "module",
				Name:      "throttles_total",
				Help:      "Count of module requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a module request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit".
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// EscrowMetricsRegistry tracks escrow engine operations and fund movements.
type EscrowMetricsRegistry struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	disbursed  *prometheus.CounterVec
	auditFails *prometheus.CounterVec
	paused     prometheus.Gauge
}

// EscrowMetrics returns the singleton escrow metrics registry.
func EscrowMetrics() *EscrowMetricsRegistry {
	escrowMetricsOnce.Do(func() {
		escrowRegistry = &EscrowMetricsRegistry{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vaultix",
				Subsystem: "escrow",
				Name:      "operations_total",
				Help:      "Count of escrow engine operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "vaultix",
				Subsystem: "escrow",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for escrow engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			disbursed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vaultix",
				Subsystem: "escrow",
				Name:      "disbursed_total",
				Help:      "Base units moved out of custody segmented by token and destination kind.",
			}, []string{"token", "kind"}),
			auditFails: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vaultix",
				Subsystem: "escrow",
				Name:      "audit_findings_total",
				Help:      "Count of audit findings segmented by check.",
			}, []string{"check"}),
			paused: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "vaultix",
				Subsystem: "escrow",
				Name:      "paused",
				Help:      "Reports 1 when the escrow contract is paused.",
			}),
		}
		prometheus.MustRegister(
			escrowRegistry.operations,
			escrowRegistry.latency,
			escrowRegistry.disbursed,
			escrowRegistry.auditFails,
			escrowRegistry.paused,
		)
	})
	return escrowRegistry
}

// Observe records the outcome of an escrow operation. Failed operations are
// labelled with outcome, typically "rejected" for domain errors and "error"
// for storage faults.
func (m *EscrowMetricsRegistry) Observe(operation string, err error, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	if err == nil {
		outcome = "success"
	} else if strings.TrimSpace(outcome) == "" {
		outcome = "error"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordDisbursement adds amount to the disbursed counter. Amounts beyond
// float64 precision are approximated.
func (m *EscrowMetricsRegistry) RecordDisbursement(token, kind string, amount *big.Int) {
	if m == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	normalized := strings.TrimSpace(strings.ToUpper(token))
	if normalized == "" {
		normalized = "UNKNOWN"
	}
	value, _ := new(big.Float).SetInt(amount).Float64()
	m.disbursed.WithLabelValues(normalized, kind).Add(value)
}

// RecordAuditFinding increments the audit findings counter for check.
func (m *EscrowMetricsRegistry) RecordAuditFinding(check string) {
	if m == nil {
		return
	}
	m.auditFails.WithLabelValues(check).Inc()
}

// SetPaused mirrors the contract pause switch.
func (m *EscrowMetricsRegistry) SetPaused(paused bool) {
	if m == nil {
		return
	}
	if paused {
		m.paused.Set(1)
		return
	}
	m.paused.Set(0)
}
