package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CartMetrics records the observability counters required around the
// reservation saga: leaked reservations, failed upstream calls, and lazy
// cart-line evictions.
type CartMetrics struct {
	reservationLeaks *prometheus.CounterVec
	upstreamFailures *prometheus.CounterVec
	lineEvictions    *prometheus.CounterVec
	stockOpDuration  *prometheus.HistogramVec
}

// NewCartMetrics registers the cart metrics on the provided registerer.
// A nil registerer yields a no-op instance, which keeps tests and tools
// that do not care about metrics free of registration plumbing.
func NewCartMetrics(reg prometheus.Registerer) *CartMetrics {
	if reg == nil {
		return &CartMetrics{}
	}
	reservationLeaks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_reservation_leaks_total",
		Help: "Reservations whose compensating release failed and need reconciliation.",
	}, []string{"operation"})
	upstreamFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_upstream_failures_total",
		Help: "Failed RPCs to the catalog or offer services.",
	}, []string{"upstream", "operation"})
	lineEvictions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_line_evictions_total",
		Help: "Cart lines evicted during read-time re-validation.",
	}, []string{"reason"})
	stockOpDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stock_op_duration_seconds",
		Help:    "Duration of reserve/release calls against the stock ledger.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	reg.MustRegister(reservationLeaks, upstreamFailures, lineEvictions, stockOpDuration)
	return &CartMetrics{
		reservationLeaks: reservationLeaks,
		upstreamFailures: upstreamFailures,
		lineEvictions:    lineEvictions,
		stockOpDuration:  stockOpDuration,
	}
}

// IncReservationLeak counts a leaked reservation for the named operation.
func (c *CartMetrics) IncReservationLeak(operation string) {
	if c == nil || c.reservationLeaks == nil {
		return
	}
	c.reservationLeaks.WithLabelValues(normalizeLabel(operation)).Inc()
}

// IncUpstreamFailure counts a failed remote call.
func (c *CartMetrics) IncUpstreamFailure(upstream, operation string) {
	if c == nil || c.upstreamFailures == nil {
		return
	}
	c.upstreamFailures.WithLabelValues(normalizeLabel(upstream), normalizeLabel(operation)).Inc()
}

// IncLineEviction counts a lazily evicted cart line.
func (c *CartMetrics) IncLineEviction(reason string) {
	if c == nil || c.lineEvictions == nil {
		return
	}
	c.lineEvictions.WithLabelValues(normalizeLabel(reason)).Inc()
}

// ObserveStockOp records the duration of a reserve/release call.
func (c *CartMetrics) ObserveStockOp(operation string, duration time.Duration) {
	if c == nil || c.stockOpDuration == nil {
		return
	}
	c.stockOpDuration.WithLabelValues(normalizeLabel(operation)).Observe(duration.Seconds())
}

// LedgerMetrics records stock-ledger observability: duplicates suppressed
// by idempotency keys and operations applied without dedup because the
// idempotency store was unreachable.
type LedgerMetrics struct {
	duplicatesSuppressed *prometheus.CounterVec
	dedupDegradations    *prometheus.CounterVec
}

// NewLedgerMetrics registers the ledger metrics on the provided
// registerer. A nil registerer yields a no-op instance.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	duplicatesSuppressed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_duplicate_ops_total",
		Help: "Reserve/release calls suppressed by an already-claimed idempotency key.",
	}, []string{"operation"})
	dedupDegradations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_dedup_degradations_total",
		Help: "Stock operations applied without de-duplication because the idempotency store was unavailable.",
	}, []string{"operation"})
	reg.MustRegister(duplicatesSuppressed, dedupDegradations)
	return &LedgerMetrics{
		duplicatesSuppressed: duplicatesSuppressed,
		dedupDegradations:    dedupDegradations,
	}
}

// IncDuplicateSuppressed counts a reserve/release no-op on a claimed key.
func (l *LedgerMetrics) IncDuplicateSuppressed(operation string) {
	if l == nil || l.duplicatesSuppressed == nil {
		return
	}
	l.duplicatesSuppressed.WithLabelValues(normalizeLabel(operation)).Inc()
}

// IncDedupDegradation counts an operation applied while the idempotency
// store was down.
func (l *LedgerMetrics) IncDedupDegradation(operation string) {
	if l == nil || l.dedupDegradations == nil {
		return
	}
	l.dedupDegradations.WithLabelValues(normalizeLabel(operation)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
