// Package metrics holds the prometheus collectors shared by the servers, the
// store client and the compositor.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registry every collector below is registered with.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	StoreRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "annotator",
		Subsystem: "store_client",
		Name:      "requests_total",
		Help:      "Backend requests issued by the annotation store client.",
	}, []string{"op", "outcome"})

	StoreRequestDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "annotator",
		Subsystem: "store_client",
		Name:      "request_duration_seconds",
		Help:      "Latency of backend requests issued by the store client.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})

	AnnotationsCreated = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "annotator",
		Name:      "annotations_created_total",
		Help:      "Annotations persisted by the backend, by judgment kind.",
	}, []string{"type", "violation_type"})

	PolicyRejections = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "annotator",
		Name:      "policy_rejections_total",
		Help:      "Annotation create requests rejected by the admission policy.",
	})

	PlansRendered = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "annotator",
		Subsystem: "compositor",
		Name:      "plans_rendered_total",
		Help:      "Message render plans built.",
	})

	OverlappingSegments = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "annotator",
		Subsystem: "compositor",
		Name:      "overlapping_segments_total",
		Help:      "Highlight segments covered by more than one mark.",
	})

	WebsocketConnections = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "annotator",
		Name:      "websocket_connections",
		Help:      "Open change-notification websocket connections.",
	})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the registry in the prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Outcome labels a finished store-client request.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
