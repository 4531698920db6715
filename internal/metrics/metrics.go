package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Intent outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeTransport = "transport_error"
	OutcomeInvalid   = "invalid"
	OutcomeDropped   = "dropped"
)

// CartMetrics tracks cart intents across all stores. A nil *CartMetrics is
// valid and records nothing.
type CartMetrics struct {
	Intents      *prometheus.CounterVec
	Resync       prometheus.Histogram
	ActiveStores prometheus.Gauge
}

func NewCartMetrics(reg prometheus.Registerer) *CartMetrics {
	intents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefront",
		Subsystem: "cart",
		Name:      "intents_total",
		Help:      "Cart intents dispatched, by intent and outcome.",
	}, []string{"intent", "outcome"})
	resync := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "storefront",
		Subsystem: "cart",
		Name:      "resync_duration_seconds",
		Help:      "Time spent fetching the full cart after a mutation.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})
	active := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "storefront",
		Subsystem: "cart",
		Name:      "active_stores",
		Help:      "Per-session cart stores currently held in memory.",
	})

	reg.MustRegister(intents, resync, active)
	return &CartMetrics{Intents: intents, Resync: resync, ActiveStores: active}
}

func (m *CartMetrics) ObserveIntent(intent, outcome string) {
	if m == nil {
		return
	}
	m.Intents.WithLabelValues(intent, outcome).Inc()
}

func (m *CartMetrics) ObserveResync(d time.Duration) {
	if m == nil {
		return
	}
	m.Resync.Observe(d.Seconds())
}

func (m *CartMetrics) SetActiveStores(n int) {
	if m == nil {
		return
	}
	m.ActiveStores.Set(float64(n))
}

// HTTPMetrics tracks requests served by the storefront API.
type HTTPMetrics struct {
	Requests *prometheus.CounterVec
	Latency  *prometheus.HistogramVec
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefront",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"route", "method", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "storefront",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	reg.MustRegister(requests, latency)
	return &HTTPMetrics{Requests: requests, Latency: latency}
}

func (m *HTTPMetrics) Observe(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.Latency.WithLabelValues(route).Observe(d.Seconds())
}

// Handler exposes everything gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
