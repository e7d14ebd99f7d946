// Package metrics exposes Prometheus collectors for the search and playback paths.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Search outcomes.
const (
	SearchOK         = "ok"
	SearchRejected   = "rejected"
	SearchFailed     = "failed"
	SearchSuperseded = "superseded"
)

var (
	searchRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kittunes",
		Name:      "search_requests_total",
		Help:      "Song lookups by outcome.",
	}, []string{"outcome"})

	searchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kittunes",
		Name:      "search_duration_seconds",
		Help:      "Song lookup latency.",
		Buckets:   prometheus.DefBuckets,
	})

	connectorState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "kittunes",
		Name:      "playback_connector_state",
		Help:      "Playback connector state (0 unbound, 1 binding, 2 bound).",
	})

	connectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "kittunes",
		Name:      "connected_clients",
		Help:      "Connected socket.io clients.",
	})
)

// ObserveSearch records one finished lookup.
func ObserveSearch(outcome string, d time.Duration) {
	searchRequests.WithLabelValues(outcome).Inc()
	searchDuration.Observe(d.Seconds())
}

// SetConnectorState records the playback connector state.
func SetConnectorState(state int) {
	connectorState.Set(float64(state))
}

// ClientConnected counts a new socket.io client.
func ClientConnected() {
	connectedClients.Inc()
}

// ClientDisconnected counts a socket.io client going away.
func ClientDisconnected() {
	connectedClients.Dec()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
