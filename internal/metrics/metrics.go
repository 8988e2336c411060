// Package metrics exposes the daemon's Prometheus collectors, following the
// observability package's lazy-singleton-per-subsystem pattern: one
// sync.Once-guarded registry struct with CounterVec/HistogramVec/GaugeVec
// fields, registered once with the default registerer.
package metrics

import (
	"math/big"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Engine bundles every collector the trove engine records against. Callers
// that have not wired a real registry may use a nil *Engine: every method
// below is a nil-safe no-op, matching observability's moduleMetrics.Observe
// convention.
type Engine struct {
	trovesOpened      prometheus.Counter
	trovesClosed      *prometheus.CounterVec
	debtIssued        prometheus.Counter
	debtRepaid        prometheus.Counter
	liquidations      *prometheus.CounterVec
	redemptions       prometheus.Counter
	redeemedAmount    prometheus.Counter
	feesDistributed   *prometheus.CounterVec
	sortedListSize    prometheus.Gauge
	totalCollateral   *prometheus.GaugeVec
	totalDebt         prometheus.Gauge
	oracleStaleReads  *prometheus.CounterVec
	operationLatency  *prometheus.HistogramVec
}

var (
	once     sync.Once
	registry *Engine
)

// Default returns the process-wide metrics registry, creating and
// registering its collectors with prometheus on first use.
func Default() *Engine {
	once.Do(func() {
		registry = &Engine{
			trovesOpened: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "ironvault",
				Subsystem: "troves",
				Name:      "opened_total",
				Help:      "Total number of troves opened.",
			}),
			trovesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ironvault",
				Subsystem: "troves",
				Name:      "closed_total",
				Help:      "Total number of troves closed, segmented by reason.",
			}, []string{"reason"}),
			debtIssued: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "ironvault",
				Subsystem: "debt",
				Name:      "issued_total",
				Help:      "Cumulative stablecoin debt issued via Open and Borrow, in 18-decimal units.",
			}),
			debtRepaid: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "ironvault",
				Subsystem: "debt",
				Name:      "repaid_total",
				Help:      "Cumulative stablecoin debt repaid via Repay, in 18-decimal units.",
			}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ironvault",
				Subsystem: "liquidations",
				Name:      "total",
				Help:      "Count of liquidated troves segmented by outcome (absorbed, redistributed, skipped).",
			}, []string{"outcome"}),
			redemptions: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "ironvault",
				Subsystem: "redemptions",
				Name:      "total",
				Help:      "Total number of completed redemption calls.",
			}),
			redeemedAmount: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "ironvault",
				Subsystem: "redemptions",
				Name:      "net_amount_total",
				Help:      "Cumulative net stablecoin amount redeemed, in 18-decimal units.",
			}),
			feesDistributed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ironvault",
				Subsystem: "fees",
				Name:      "distributed_total",
				Help:      "Cumulative protocol fees distributed, segmented by destination.",
			}, []string{"destination"}),
			sortedListSize: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "ironvault",
				Subsystem: "troves",
				Name:      "open_count",
				Help:      "Current number of open troves tracked by SortedTroves.",
			}),
			totalCollateral: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "ironvault",
				Subsystem: "system",
				Name:      "total_collateral",
				Help:      "System-wide collateral balance per denom, in native units.",
			}, []string{"denom"}),
			totalDebt: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "ironvault",
				Subsystem: "system",
				Name:      "total_debt",
				Help:      "System-wide outstanding stablecoin debt, in 18-decimal units.",
			}),
			oracleStaleReads: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ironvault",
				Subsystem: "oracle",
				Name:      "rejected_reads_total",
				Help:      "Count of price reads rejected for staleness or low confidence, segmented by denom.",
			}, []string{"denom", "reason"}),
			operationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "ironvault",
				Subsystem: "api",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for trove engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation", "outcome"}),
		}
		prometheus.MustRegister(
			registry.trovesOpened,
			registry.trovesClosed,
			registry.debtIssued,
			registry.debtRepaid,
			registry.liquidations,
			registry.redemptions,
			registry.redeemedAmount,
			registry.feesDistributed,
			registry.sortedListSize,
			registry.totalCollateral,
			registry.totalDebt,
			registry.oracleStaleReads,
			registry.operationLatency,
		)
	})
	return registry
}

// RecordTroveOpened increments the opened-trove counter and the debt-issued
// counter by amount.
func (e *Engine) RecordTroveOpened(debtIssued *big.Int) {
	if e == nil {
		return
	}
	e.trovesOpened.Inc()
	e.debtIssued.Add(bigToFloat(debtIssued))
}

// RecordTroveClosed increments the closed-trove counter for reason, one of
// "manual", "redeemed", "liquidated-absorbed", or "liquidated-redistributed".
func (e *Engine) RecordTroveClosed(reason string) {
	if e == nil {
		return
	}
	e.trovesClosed.WithLabelValues(reason).Inc()
}

// RecordDebtChange records net debt issuance (positive) or repayment
// (negative) from Borrow/Repay calls.
func (e *Engine) RecordDebtChange(delta *big.Int) {
	if e == nil || delta == nil {
		return
	}
	switch delta.Sign() {
	case 1:
		e.debtIssued.Add(bigToFloat(delta))
	case -1:
		e.debtRepaid.Add(bigToFloat(new(big.Int).Neg(delta)))
	}
}

// RecordLiquidation increments the liquidation counter for the given
// outcome: "absorbed", "redistributed", or "skipped".
func (e *Engine) RecordLiquidation(outcome string) {
	if e == nil {
		return
	}
	e.liquidations.WithLabelValues(outcome).Inc()
}

// RecordRedemption records one completed redemption of netAmount.
func (e *Engine) RecordRedemption(netAmount *big.Int) {
	if e == nil {
		return
	}
	e.redemptions.Inc()
	e.redeemedAmount.Add(bigToFloat(netAmount))
}

// RecordFeeDistributed records a fee payment to destination, one of
// "stability-pool" or "fee-address".
func (e *Engine) RecordFeeDistributed(destination string, amount *big.Int) {
	if e == nil {
		return
	}
	e.feesDistributed.WithLabelValues(destination).Add(bigToFloat(amount))
}

// SetSortedListSize updates the open-trove gauge.
func (e *Engine) SetSortedListSize(size int) {
	if e == nil {
		return
	}
	e.sortedListSize.Set(float64(size))
}

// SetSystemTotals updates the system-wide collateral and debt gauges.
func (e *Engine) SetSystemTotals(collateral map[string]*big.Int, debt *big.Int) {
	if e == nil {
		return
	}
	for denom, amount := range collateral {
		e.totalCollateral.WithLabelValues(denom).Set(bigToFloat(amount))
	}
	e.totalDebt.Set(bigToFloat(debt))
}

// RecordOracleRejection increments the stale/low-confidence price rejection
// counter for denom.
func (e *Engine) RecordOracleRejection(denom, reason string) {
	if e == nil {
		return
	}
	e.oracleStaleReads.WithLabelValues(denom, reason).Inc()
}

// ObserveOperation records the latency and outcome ("ok" or "error") of a
// named trove engine operation.
func (e *Engine) ObserveOperation(operation, outcome string, d time.Duration) {
	if e == nil {
		return
	}
	e.operationLatency.WithLabelValues(operation, outcome).Observe(d.Seconds())
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(value).Float64()
	return f
}
