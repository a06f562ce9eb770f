// Package metrics provides vault-specific metrics collection.
// It wraps Prometheus collectors to provide telemetry for deposits,
// withdrawal sagas, rejected calls and pool totals.
package metrics

import (
	"math/big"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/sharevault/internal/types"
	"github.com/roach88/sharevault/internal/vault"
)

// Collector implements host.Observer on a private Prometheus registry.
type Collector struct {
	registry *prometheus.Registry

	// Deposit metrics
	depositsTotal  *prometheus.CounterVec
	depositedTotal prometheus.Counter
	refundedTotal  prometheus.Counter

	// Withdrawal metrics
	withdrawalsCommitted prometheus.Counter
	withdrawalsResolved  *prometheus.CounterVec
	withdrawalLatency    *prometheus.HistogramVec
	withdrawalsInFlight  prometheus.Gauge
	sagaRetries          *prometheus.CounterVec

	// Call metrics
	rejectedTotal *prometheus.CounterVec

	// Pool metrics
	totalAssets prometheus.Gauge
	totalSupply prometheus.Gauge
}

// NewCollector creates a collector. An empty namespace defaults to
// "sharevault".
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "sharevault"
	}

	c := &Collector{registry: prometheus.NewRegistry()}

	c.depositsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deposit",
			Name:      "total",
			Help:      "Total number of deposit notifications by result code",
		},
		[]string{"result"},
	)

	c.depositedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deposit",
			Name:      "assets_used_total",
			Help:      "Total assets accepted into the vault",
		},
	)

	c.refundedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deposit",
			Name:      "assets_refunded_total",
			Help:      "Total assets handed back to depositors as unused",
		},
	)

	c.withdrawalsCommitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "withdrawal",
			Name:      "committed_total",
			Help:      "Total number of withdrawals that burned shares",
		},
	)

	c.withdrawalsResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "withdrawal",
			Name:      "resolved_total",
			Help:      "Total number of resolved withdrawals by final status",
		},
		[]string{"status"},
	)

	c.withdrawalLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "withdrawal",
			Name:      "duration_seconds",
			Help:      "Time from share burn to saga resolution",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
		[]string{"status"},
	)

	c.withdrawalsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "withdrawal",
			Name:      "in_flight",
			Help:      "Withdrawals committed but not yet resolved",
		},
	)

	c.sagaRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "withdrawal",
			Name:      "retries_total",
			Help:      "Repeated saga attempts by leg",
		},
		[]string{"leg"},
	)

	c.rejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "call",
			Name:      "rejected_total",
			Help:      "Total number of calls refused by the vault",
		},
		[]string{"call", "code"},
	)

	c.totalAssets = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "total_assets",
			Help:      "Accounted assets held by the vault",
		},
	)

	c.totalSupply = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "total_supply",
			Help:      "Outstanding vault shares",
		},
	)

	c.registry.MustRegister(
		c.depositsTotal,
		c.depositedTotal,
		c.refundedTotal,
		c.withdrawalsCommitted,
		c.withdrawalsResolved,
		c.withdrawalLatency,
		c.withdrawalsInFlight,
		c.sagaRetries,
		c.rejectedTotal,
		c.totalAssets,
		c.totalSupply,
	)

	return c
}

// Registry returns the Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Deposit records a deposit notification.
func (c *Collector) Deposit(used, unused types.U128, code vault.ErrorCode) {
	result := "ok"
	if code != "" {
		result = string(code)
	}
	c.depositsTotal.WithLabelValues(result).Inc()
	c.depositedTotal.Add(toFloat(used))
	c.refundedTotal.Add(toFloat(unused))
}

// WithdrawalCommitted records a share burn.
func (c *Collector) WithdrawalCommitted(types.U128) {
	c.withdrawalsCommitted.Inc()
	c.withdrawalsInFlight.Inc()
}

// WithdrawalResolved records a saga reaching a terminal status.
func (c *Collector) WithdrawalResolved(status vault.SagaStatus, elapsed time.Duration) {
	c.withdrawalsResolved.WithLabelValues(string(status)).Inc()
	c.withdrawalLatency.WithLabelValues(string(status)).Observe(elapsed.Seconds())
	c.withdrawalsInFlight.Dec()
}

// Retried records a repeated transfer or resolution attempt.
func (c *Collector) Retried(leg string) {
	c.sagaRetries.WithLabelValues(leg).Inc()
}

// Rejected records a call refused by the vault.
func (c *Collector) Rejected(call string, code vault.ErrorCode) {
	c.rejectedTotal.WithLabelValues(call, string(code)).Inc()
}

// Pool records the vault totals.
func (c *Collector) Pool(totalAssets, totalSupply types.U128) {
	c.totalAssets.Set(toFloat(totalAssets))
	c.totalSupply.Set(toFloat(totalSupply))
}

// toFloat converts a 128-bit amount for export. Precision above 2^53 is
// lost, which is acceptable for dashboards.
func toFloat(v types.U128) float64 {
	f, _ := new(big.Float).SetInt(v.Uint128().Big()).Float64()
	return f
}
