package proxy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	outcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_proxy_outcomes_total",
		Help: "Proxied requests by outcome (forwarded, timeout, unreachable, error).",
	}, []string{"outcome"})
	forwardSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatrelay_proxy_forward_seconds",
		Help:    "Latency of successful backend forwards.",
		Buckets: prometheus.DefBuckets,
	})
)
