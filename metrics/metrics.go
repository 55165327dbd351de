// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TradesExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloutcast_trades_executed_total",
			Help: "Total number of accepted trades",
		},
		[]string{"side"},
	)

	TradesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloutcast_trades_rejected_total",
			Help: "Total number of rejected trades",
		},
		[]string{"reason"}, // invalid_state, invalid_input, invalid_amount, insufficient_balance, internal
	)

	TradeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cloutcast_trade_duration_seconds",
			Help:    "Duration of trade application under the market lock",
			Buckets: prometheus.DefBuckets,
		},
	)

	VotesCast = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cloutcast_votes_cast_total",
			Help: "Total number of resolution votes recorded",
		},
	)

	MarketsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloutcast_markets_resolved_total",
			Help: "Total number of markets resolved",
		},
		[]string{"method"}, // community, arbitrated
	)

	MarketsDisputed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cloutcast_markets_disputed_total",
			Help: "Total number of markets escalated to arbitration",
		},
	)

	PayoutsDistributed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cloutcast_payouts_distributed_total",
			Help: "Total coin volume paid out to winners",
		},
	)
)
