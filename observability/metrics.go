package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"autorepay/core/events"

	"github.com/prometheus/client_golang/prometheus"
)

type apiMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	apiMetricsOnce sync.Once
	apiRegistry    *apiMetrics

	engineMetricsOnce sync.Once
	engineRegistry    *EngineMetrics
)

// API returns the lazily-initialised HTTP API metrics registry.
func API() *apiMetrics {
	apiMetricsOnce.Do(func() {
		apiRegistry = &apiMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "autorepay",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route, method, and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "autorepay",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by route, method, and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "autorepay",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "autorepay",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected by throttling.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			apiRegistry.requests,
			apiRegistry.errors,
			apiRegistry.latency,
			apiRegistry.throttles,
		)
	})
	return apiRegistry
}

// Observe records the outcome of a request. The status code should be the
// HTTP status that was ultimately written to the response writer.
func (m *apiMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(route, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit".
func (m *apiMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

// EngineMetrics tracks position engine activity. Amounts are exported in
// whole units (18-decimal values divided by 1e18).
type EngineMetrics struct {
	deposits      prometheus.Counter
	withdrawals   prometheus.Counter
	depositVolume prometheus.Counter
	feesSkimmed   prometheus.Counter
	feesRouted    prometheus.Counter
	feesPending   prometheus.Gauge
	yieldApplied  *prometheus.CounterVec
	sweeps        *prometheus.CounterVec
	sweepDuration prometheus.Histogram
	sweepAccounts prometheus.Gauge
	lastSweep     prometheus.Gauge
}

// Engine returns the singleton engine metrics registry.
func Engine() *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineRegistry = &EngineMetrics{
			deposits: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "autorepay", Subsystem: "positions", Name: "deposits_total",
				Help: "Committed deposits.",
			}),
			withdrawals: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "autorepay", Subsystem: "positions", Name: "withdrawals_total",
				Help: "Committed withdrawals.",
			}),
			depositVolume: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "autorepay", Subsystem: "positions", Name: "deposit_net_units_total",
				Help: "Net collateral credited by deposits, in whole units.",
			}),
			feesSkimmed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "autorepay", Subsystem: "fees", Name: "skimmed_units_total",
				Help: "Fees skimmed from deposits, in whole units.",
			}),
			feesRouted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "autorepay", Subsystem: "fees", Name: "routed_units_total",
				Help: "Fees delivered to the fee sink, in whole units.",
			}),
			feesPending: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "autorepay", Subsystem: "fees", Name: "pending_units",
				Help: "Fees skimmed but not yet delivered, in whole units.",
			}),
			yieldApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "autorepay", Subsystem: "accrual", Name: "debt_repaid_usd_total",
				Help: "Debt repaid by accrued yield, in USD, by trigger.",
			}, []string{"source"}),
			sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "autorepay", Subsystem: "sweep", Name: "runs_total",
				Help: "Sweep attempts segmented by outcome.",
			}, []string{"outcome"}),
			sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "autorepay", Subsystem: "sweep", Name: "duration_seconds",
				Help:    "Duration of sweep attempts.",
				Buckets: prometheus.DefBuckets,
			}),
			sweepAccounts: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "autorepay", Subsystem: "sweep", Name: "accounts",
				Help: "Registered accounts covered by the last committed sweep.",
			}),
			lastSweep: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "autorepay", Subsystem: "sweep", Name: "last_timestamp_seconds",
				Help: "Unix timestamp of the last committed sweep.",
			}),
		}
		prometheus.MustRegister(
			engineRegistry.deposits,
			engineRegistry.withdrawals,
			engineRegistry.depositVolume,
			engineRegistry.feesSkimmed,
			engineRegistry.feesRouted,
			engineRegistry.feesPending,
			engineRegistry.yieldApplied,
			engineRegistry.sweeps,
			engineRegistry.sweepDuration,
			engineRegistry.sweepAccounts,
			engineRegistry.lastSweep,
		)
	})
	return engineRegistry
}

// Emit satisfies events.Emitter so the registry can sit in an emitter fan-out.
func (m *EngineMetrics) Emit(ev events.Event) {
	if m == nil || ev == nil {
		return
	}
	switch e := ev.(type) {
	case events.Deposit:
		m.deposits.Inc()
		m.depositVolume.Add(unitsToFloat(e.Amount))
		m.feesSkimmed.Add(unitsToFloat(e.Fee))
	case events.Withdraw:
		m.withdrawals.Inc()
	case events.YieldApplied:
		m.yieldApplied.WithLabelValues(labelSource(e.Source)).Add(unitsToFloat(e.Applied))
	case events.Sweep:
		m.sweepAccounts.Set(float64(e.Accounts))
		m.lastSweep.Set(float64(e.Timestamp))
	case events.FeeRouted:
		m.feesRouted.Add(unitsToFloat(e.Amount))
		m.feesPending.Set(unitsToFloat(e.Pending))
	}
}

// ObserveSweep records one sweep attempt. outcome should be "committed",
// "skipped" or "error".
func (m *EngineMetrics) ObserveSweep(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.sweeps.WithLabelValues(outcome).Inc()
	m.sweepDuration.Observe(duration.Seconds())
}

// SetPendingFees publishes the pending fee total.
func (m *EngineMetrics) SetPendingFees(pending *big.Int) {
	if m == nil {
		return
	}
	m.feesPending.Set(unitsToFloat(pending))
}

func labelSource(source string) string {
	trimmed := strings.TrimSpace(source)
	if trimmed == "" {
		return "unknown"
	}
	return strings.ToLower(trimmed)
}

var unitScale = new(big.Float).SetInt(big.NewInt(1_000_000_000_000_000_000))

func unitsToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	scaled := new(big.Float).Quo(new(big.Float).SetInt(value), unitScale)
	floatVal, acc := scaled.Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
