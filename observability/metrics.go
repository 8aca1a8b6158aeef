package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"shieldlend/core/events"
	"shieldlend/core/types"
)

type rpcMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

type protocolMetrics struct {
	deposits     prometheus.Counter
	withdrawals  *prometheus.CounterVec
	loansOpened  prometheus.Counter
	loansRepaid  prometheus.Counter
	liquidations prometheus.Counter
	badDebt      *prometheus.CounterVec
}

var (
	rpcMetricsOnce sync.Once
	rpcRegistry    *rpcMetrics

	protocolMetricsOnce sync.Once
	protocolRegistry    *protocolMetrics
)

// RPCMetrics returns the lazily-initialised registry used to record JSON-RPC
// handler activity.
func RPCMetrics() *rpcMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &rpcMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "shieldlend",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "shieldlend",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by method and code.",
			}, []string{"method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "shieldlend",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
		}
		prometheus.MustRegister(rpcRegistry.requests, rpcRegistry.errors, rpcRegistry.latency)
	})
	return rpcRegistry
}

// Observe records the outcome of an RPC call. A zero code marks success.
func (m *rpcMetrics) Observe(method string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if code != 0 {
		outcome = "error"
		m.errors.WithLabelValues(method, fmt.Sprintf("%d", code)).Inc()
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// ProtocolMetrics returns the lazily-initialised registry tracking protocol
// lifecycle events.
func ProtocolMetrics() *protocolMetrics {
	protocolMetricsOnce.Do(func() {
		protocolRegistry = &protocolMetrics{
			deposits: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "shieldlend",
				Subsystem: "vault",
				Name:      "deposits_total",
				Help:      "Total collateral deposits accepted.",
			}),
			withdrawals: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "shieldlend",
				Subsystem: "vault",
				Name:      "withdrawals_total",
				Help:      "Total collateral withdrawals segmented by seizure.",
			}, []string{"seized"}),
			loansOpened: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "shieldlend",
				Subsystem: "lending",
				Name:      "loans_opened_total",
				Help:      "Total loans issued.",
			}),
			loansRepaid: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "shieldlend",
				Subsystem: "lending",
				Name:      "loans_repaid_total",
				Help:      "Total loans repaid.",
			}),
			liquidations: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "shieldlend",
				Subsystem: "lending",
				Name:      "liquidations_total",
				Help:      "Total loans closed by liquidation.",
			}),
			badDebt: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "shieldlend",
				Subsystem: "lending",
				Name:      "bad_debt_total",
				Help:      "Liquidation shortfall occurrences segmented by reserve coverage.",
			}, []string{"covered"}),
		}
		prometheus.MustRegister(
			protocolRegistry.deposits,
			protocolRegistry.withdrawals,
			protocolRegistry.loansOpened,
			protocolRegistry.loansRepaid,
			protocolRegistry.liquidations,
			protocolRegistry.badDebt,
		)
	})
	return protocolRegistry
}

// Record maps a protocol event onto its counter. Events without a counter are
// ignored.
func (m *protocolMetrics) Record(evt *types.Event) {
	if m == nil || evt == nil {
		return
	}
	switch evt.Type {
	case events.TypeVaultDeposited:
		m.deposits.Inc()
	case events.TypeVaultWithdrawn:
		seized := evt.Attributes["seized"]
		if seized == "" {
			seized = "false"
		}
		m.withdrawals.WithLabelValues(seized).Inc()
	case events.TypeLoanOpened:
		m.loansOpened.Inc()
	case events.TypeLoanRepaid:
		m.loansRepaid.Inc()
	case events.TypeLoanLiquidated:
		m.liquidations.Inc()
	case events.TypeBadDebt:
		covered := evt.Attributes["covered"]
		if covered == "" {
			covered = "false"
		}
		m.badDebt.WithLabelValues(covered).Inc()
	}
}
