// Package metrics exposes the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RPCRequests counts dispatched JSON-RPC calls by method and outcome.
	RPCRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "apex",
		Subsystem: "rpc",
		Name:      "requests_total",
		Help:      "JSON-RPC requests by method and outcome.",
	}, []string{"method", "outcome"})

	// NegotiationsStarted counts engines created.
	NegotiationsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "apex",
		Subsystem: "negotiation",
		Name:      "started_total",
		Help:      "Negotiation engines created.",
	})

	// NegotiationsFinished counts terminal negotiations by final state.
	NegotiationsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "apex",
		Subsystem: "negotiation",
		Name:      "finished_total",
		Help:      "Negotiations reaching a terminal state.",
	}, []string{"state"})

	// EstimatesIssued counts estimates handed to buyers.
	EstimatesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "apex",
		Subsystem: "estimate",
		Name:      "issued_total",
		Help:      "Task estimates issued.",
	})

	// HandlerDuration observes task handler execution time.
	HandlerDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "apex",
		Subsystem: "handler",
		Name:      "duration_seconds",
		Help:      "Task handler execution time.",
		Buckets:   prometheus.DefBuckets,
	})

	// TransfersSubmitted counts wallet transfers by result.
	TransfersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "apex",
		Subsystem: "wallet",
		Name:      "transfers_total",
		Help:      "Token transfers submitted by result.",
	}, []string{"result"})
)
