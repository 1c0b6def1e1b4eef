package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	connectionsAccepted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "husk",
			Subsystem: "network",
			Name:      "connections_accepted_total",
			Help:      "Connections accepted per published channel.",
		},
		[]string{"channel"},
	)
	connectionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "husk",
			Subsystem: "network",
			Name:      "connections_active",
			Help:      "Currently open connections per published channel.",
		},
		[]string{"channel"},
	)
	callsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "husk",
			Subsystem: "rpc",
			Name:      "calls_started_total",
			Help:      "Outbound calls issued.",
		},
	)
	callsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "husk",
			Subsystem: "rpc",
			Name:      "calls_completed_total",
			Help:      "Outbound calls resolved, by outcome.",
		},
		[]string{"outcome"},
	)
	callsPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "husk",
			Subsystem: "rpc",
			Name:      "calls_pending",
			Help:      "Outbound calls awaiting a response.",
		},
	)
	staleResponses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "husk",
			Subsystem: "rpc",
			Name:      "stale_responses_total",
			Help:      "Responses dropped because no call was waiting.",
		},
	)
	framesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "husk",
			Subsystem: "rpc",
			Name:      "frames_total",
			Help:      "Wire frames processed, by kind.",
		},
		[]string{"kind"},
	)
	containerStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "husk",
			Subsystem: "container",
			Name:      "starts_total",
			Help:      "Container start requests, by outcome.",
		},
		[]string{"outcome"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			connectionsAccepted, connectionsActive,
			callsStarted, callsCompleted, callsPending,
			staleResponses, framesProcessed, containerStarts,
		)
	})
}

func RecordConnectionOpened(channel string) {
	RegisterMetrics()
	connectionsAccepted.WithLabelValues(channel).Inc()
	connectionsActive.WithLabelValues(channel).Inc()
}

func RecordConnectionClosed(channel string) {
	RegisterMetrics()
	connectionsActive.WithLabelValues(channel).Dec()
}

func RecordCallStarted() {
	RegisterMetrics()
	callsStarted.Inc()
	callsPending.Inc()
}

func RecordCallCompleted(failed bool) {
	RegisterMetrics()
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	callsCompleted.WithLabelValues(outcome).Inc()
	callsPending.Dec()
}

func RecordStaleResponse() {
	RegisterMetrics()
	staleResponses.Inc()
}

func RecordFrame(kind string) {
	RegisterMetrics()
	framesProcessed.WithLabelValues(kind).Inc()
}

func RecordContainerStart(failed bool) {
	RegisterMetrics()
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	containerStarts.WithLabelValues(outcome).Inc()
}
