// Package metrics exposes Prometheus instrumentation for the matching
// pipeline and HTTP surface.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector registered by the service. A single instance
// is created at startup and shared through constructor injection.
type Metrics struct {
	registry *prometheus.Registry

	SuggestionsCreated  *prometheus.CounterVec
	SuggestionOutcomes  *prometheus.CounterVec
	GenerationRuns      *prometheus.CounterVec
	GenerationDuration  prometheus.Histogram
	ScorePairs          prometheus.Counter
	BlocksCreated       *prometheus.CounterVec
	ReportsFiled        *prometheus.CounterVec
	AnomaliesDetected   *prometheus.CounterVec
	RateLimitRejections *prometheus.CounterVec
	HTTPRequests        *prometheus.CounterVec
	HTTPDuration        *prometheus.HistogramVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		SuggestionsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "matching_suggestions_created_total",
			Help: "Suggestions created, by kind and variant.",
		}, []string{"kind", "variant"}),
		SuggestionOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "matching_suggestion_outcomes_total",
			Help: "Terminal and intermediate suggestion transitions, by status.",
		}, []string{"status"}),
		GenerationRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "matching_generation_runs_total",
			Help: "Candidate generation runs, by result.",
		}, []string{"result"}),
		GenerationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "matching_generation_duration_seconds",
			Help:    "Wall time of a candidate generation run.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		ScorePairs: factory.NewCounter(prometheus.CounterOpts{
			Name: "matching_scored_pairs_total",
			Help: "Candidate pairs scored across all runs.",
		}),
		BlocksCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "moderation_blocks_total",
			Help: "Blocklist entries created, by source.",
		}, []string{"source"}),
		ReportsFiled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "moderation_reports_total",
			Help: "Reports filed, by category.",
		}, []string{"category"}),
		AnomaliesDetected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "analytics_anomalies_total",
			Help: "Anomalies raised by scans, by type and severity.",
		}, []string{"type", "severity"}),
		RateLimitRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_rejections_total",
			Help: "Requests rejected by the per-user rate limiter, by action.",
		}, []string{"action"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests served, by route and status class.",
		}, []string{"route", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency, by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Handler returns the scrape endpoint for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
