package journal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	appendsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_journal_appends_total",
		Help: "Events journaled to the local database.",
	})
	sweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_journal_swept_total",
		Help: "Journaled events removed by retention sweeps.",
	})
)
