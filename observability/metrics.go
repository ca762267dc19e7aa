package observability

import (
	"fmt"
	"math"
	"math/big"
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

	dealMetricsOnce sync.Once
	dealRegistry    *DealMetrics
)

// ModuleMetrics returns the lazily-initialised module metrics registry used to
// record RPC module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dealchain",
				Subsystem: "module",
				Name:      "requests_total",
				Help:      "Total JSON-RPC module requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dealchain",
				Subsystem: "module",
				Name:      "errors_total",
				Help:      "Total JSON-RPC module errors segmented by module, method and error code.",
			}, []string{"module", "method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "dealchain",
				Subsystem: "module",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC module handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dealchain",
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

// Observe records the outcome of a module request. code is the JSON-RPC error
// code returned to the caller, or zero on success.
func (m *moduleMetrics) Observe(module, method string, code int, duration time.Duration) {
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
	if code != 0 {
		outcome = "error"
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", code)).Inc()
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit" so dashboards
// and alerts remain consistent.
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

// DealMetrics tracks deal lifecycle activity and escrow movements.
type DealMetrics struct {
	transitions *prometheus.CounterVec
	funds       *prometheus.CounterVec
	deposits    *prometheus.CounterVec
	entities    *prometheus.CounterVec
}

// Deals returns the singleton deal metrics registry.
func Deals() *DealMetrics {
	dealMetricsOnce.Do(func() {
		dealRegistry = &DealMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dealchain",
				Subsystem: "deal",
				Name:      "transitions_total",
				Help:      "Count of completed deal transitions segmented by operation and resulting status.",
			}, []string{"op", "status"}),
			funds: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dealchain",
				Subsystem: "deal",
				Name:      "funds_moved_total",
				Help:      "Sum of escrow movements segmented by kind (escrow, refund, penalty, fees).",
			}, []string{"kind"}),
			deposits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dealchain",
				Subsystem: "entity",
				Name:      "deposit_changes_total",
				Help:      "Count of entity deposit changes segmented by direction.",
			}, []string{"direction"}),
			entities: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dealchain",
				Subsystem: "entity",
				Name:      "registered_total",
				Help:      "Count of registered entities segmented by kind.",
			}, []string{"kind"}),
		}
		prometheus.MustRegister(
			dealRegistry.transitions,
			dealRegistry.funds,
			dealRegistry.deposits,
			dealRegistry.entities,
		)
	})
	return dealRegistry
}

// RecordTransition increments the transition counter.
func (m *DealMetrics) RecordTransition(op, status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(op, status).Inc()
}

// RecordFunds adds a fund movement of the given kind.
func (m *DealMetrics) RecordFunds(kind string, amount *big.Int) {
	if m == nil {
		return
	}
	m.funds.WithLabelValues(kind).Add(bigToFloat(amount))
}

// RecordDeposit counts a deposit change; negative deltas are withdrawals.
func (m *DealMetrics) RecordDeposit(delta *big.Int) {
	if m == nil || delta == nil {
		return
	}
	direction := "add"
	if delta.Sign() < 0 {
		direction = "withdraw"
	}
	m.deposits.WithLabelValues(direction).Inc()
}

// RecordEntity counts a registration of the given kind.
func (m *DealMetrics) RecordEntity(kind string) {
	if m == nil {
		return
	}
	m.entities.WithLabelValues(kind).Inc()
}

func bigToFloat(value *big.Int) float64 {
	if value == nil || value.Sign() <= 0 {
		return 0
	}
	f, _ := new(big.Float).SetInt(value).Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return math.MaxFloat64
	}
	return f
}
