package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_transport_reconnects_total",
		Help: "Push stream reconnect attempts scheduled after a transport error.",
	})
	degradesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_transport_degrades_total",
		Help: "Transitions from push delivery to interval polling.",
	})
)
