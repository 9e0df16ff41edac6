// Package metrics exposes Prometheus collectors for the server and its
// upstream Steam traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gameshelf"

var (
	// Registry holds gameshelf's collectors; the default registry is left alone.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "Current number of in-flight HTTP requests.",
	})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests handled.",
	}, []string{"method", "route", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~40s
	}, []string{"method", "route"})

	upstreamRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "upstream",
		Name:      "requests_total",
		Help:      "Requests sent to Steam, by response code.",
	}, []string{"code", "method"})

	upstreamDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "upstream",
		Name:      "request_duration_seconds",
		Help:      "Latency of requests sent to Steam.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	}, []string{"code", "method"})

	libraryFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "library",
		Name:      "fetches_total",
		Help:      "Library fetches by outcome and cache source.",
	}, []string{"outcome", "cache"})

	libraryGames = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "library",
		Name:      "games",
		Help:      "Number of games in fetched libraries.",
		Buckets:   []float64{0, 10, 50, 100, 250, 500, 1000, 2500},
	})
)

func init() {
	Registry.MustRegister(
		httpInFlight, httpRequests, httpDuration,
		upstreamRequests, upstreamDuration,
		libraryFetches, libraryGames,
	)
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// UpstreamTransport instruments requests to Steam. A nil next uses http.DefaultTransport.
func UpstreamTransport(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return promhttp.InstrumentRoundTripperCounter(upstreamRequests,
		promhttp.InstrumentRoundTripperDuration(upstreamDuration, next))
}

// ObserveRequest records one handled HTTP request. route is the mux pattern,
// never the raw path, to keep label cardinality bounded.
func ObserveRequest(method, route string, status int, d time.Duration) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// InFlight adjusts the in-flight request gauge by delta.
func InFlight(delta float64) {
	httpInFlight.Add(delta)
}

// ObserveLibrary records a library fetch. cache is "miss", "memory" or "disk".
func ObserveLibrary(outcome, cache string, games int) {
	libraryFetches.WithLabelValues(outcome, cache).Inc()
	if outcome == "ok" && cache == "miss" {
		libraryGames.Observe(float64(games))
	}
}
