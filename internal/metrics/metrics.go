// Package metrics provides Prometheus instrumentation for the messenger
// relay. It exposes gauges for connection and presence counts, counters for
// envelope throughput, and a histogram for persistence latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "messenger_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// OnlineIdentities tracks the number of identities bound to a live connection.
	OnlineIdentities = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "messenger_online_identities",
		Help: "Current number of identities registered as online",
	})

	// EnvelopesTotal counts inbound envelopes processed, labeled by kind.
	// Malformed envelopes are counted under kind "invalid".
	EnvelopesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "messenger_envelopes_total",
		Help: "Total number of inbound envelopes processed",
	}, []string{"kind"})

	// ForwardsTotal counts envelope forwards, labeled by outcome:
	// "delivered", "bridged", "offline", or "failed".
	ForwardsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "messenger_forwards_total",
		Help: "Total number of envelope forwards to peers",
	}, []string{"outcome"})

	// PersistLatency records message persistence latency in seconds.
	PersistLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "messenger_persist_latency_seconds",
		Help:    "Message persistence latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		OnlineIdentities,
		EnvelopesTotal,
		ForwardsTotal,
		PersistLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
