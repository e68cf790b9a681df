package main

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "book_ratings"

// Metrics groups the prometheus collectors of the service.
type Metrics struct {
	registry        *prometheus.Registry
	httpInFlight    prometheus.Gauge
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	ratings         *prometheus.CounterVec
	imagesIngested  *prometheus.CounterVec
	imagesReclaimed *prometheus.CounterVec
}

// NewMetrics registers all collectors on the given registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		httpInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "path", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"method", "path"}),
		ratings: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ratings",
			Name:      "submitted_total",
			Help:      "Rating submissions by outcome.",
		}, []string{"result"}),
		imagesIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "images",
			Name:      "ingested_total",
			Help:      "Image uploads by outcome.",
		}, []string{"result"}),
		imagesReclaimed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "images",
			Name:      "reclaimed_total",
			Help:      "Orphaned image removals by outcome.",
		}, []string{"result"}),
	}
}

// NewRegistry provides a registry holding the go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return reg
}

// Handler exposes the registered metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observeRating(err error) {
	if m == nil {
		return
	}
	m.ratings.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) observeIngest(err error) {
	if m == nil {
		return
	}
	m.imagesIngested.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) observeReclaim(err error) {
	if m == nil {
		return
	}
	m.imagesReclaimed.WithLabelValues(outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// canonicalPath replaces the variable segments of a request path so
// that metrics labels stay bounded.
func canonicalPath(path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		switch {
		case strings.Contains(s, ":"):
			segments[i] = ":id"
		case strings.HasSuffix(s, canonicalImageExt):
			segments[i] = ":name"
		}
	}
	return strings.Join(segments, "/")
}
