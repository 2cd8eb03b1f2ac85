package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	wsSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "msgwindow",
		Subsystem: "gateway",
		Name:      "sessions_active",
		Help:      "Number of currently connected WebSocket sessions.",
	})

	wsEnvelopesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "msgwindow",
		Subsystem: "gateway",
		Name:      "envelopes_total",
		Help:      "Inbound envelopes handled, by type.",
	}, []string{"type"})

	wsErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "msgwindow",
		Subsystem: "gateway",
		Name:      "errors_total",
		Help:      "Error envelopes sent to clients, by code.",
	}, []string{"code"})

	wsBroadcastDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "msgwindow",
		Subsystem: "gateway",
		Name:      "broadcast_dropped_total",
		Help:      "Broadcast envelopes dropped because a member queue was full.",
	})

	historyPageSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "msgwindow",
		Subsystem: "gateway",
		Name:      "history_page_edges",
		Help:      "Edges returned per history page, by direction.",
		Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 200},
	}, []string{"direction"})

	notifyFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "msgwindow",
		Subsystem: "gateway",
		Name:      "notify_failures_total",
		Help:      "Change notifications that could not be published.",
	})
)
