// Package metrics wires real Prometheus collectors for the settlement
// engine, price oracle, and indexer — replacing the teacher's
// pkg/observability facade (a hand-rolled, non-Prometheus stub) with the
// library its own go.mod already depends on.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collectors groups every metric this service exposes.
type Collectors struct {
	PayoutsInitiated prometheus.Counter
	PayoutFailures   prometheus.Counter
	OracleFetchLatency prometheus.Histogram
	IndexerCycleDuration prometheus.Histogram
	ConfirmReceiptTotal  *prometheus.CounterVec
}

// New registers and returns the collector set against reg.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		PayoutsInitiated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sswap",
			Subsystem: "settlement",
			Name:      "payouts_initiated_total",
			Help:      "Number of payout transfers successfully initiated.",
		}),
		PayoutFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sswap",
			Subsystem: "settlement",
			Name:      "payout_failures_total",
			Help:      "Number of payout transfers that failed after chain receipt.",
		}),
		OracleFetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sswap",
			Subsystem: "priceoracle",
			Name:      "fetch_duration_seconds",
			Help:      "Latency of upstream price oracle fetches.",
			Buckets:   prometheus.DefBuckets,
		}),
		IndexerCycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sswap",
			Subsystem: "indexer",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one chain indexer polling cycle.",
			Buckets:   prometheus.DefBuckets,
		}),
		ConfirmReceiptTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sswap",
			Subsystem: "settlement",
			Name:      "confirm_receipt_total",
			Help:      "ConfirmReceipt calls by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		c.PayoutsInitiated,
		c.PayoutFailures,
		c.OracleFetchLatency,
		c.IndexerCycleDuration,
		c.ConfirmReceiptTotal,
	)
	return c
}
