// Package metrics registers the engine's Prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	llmRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pathwise_llm_requests_total",
		Help: "LLM requests by provider, purpose and outcome",
	}, []string{"provider", "purpose", "outcome"})

	llmRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pathwise_llm_request_duration_seconds",
		Help:    "Latency of LLM requests",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"provider"})

	llmCostTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pathwise_llm_cost_usd_total",
		Help: "Estimated LLM spend in USD",
	}, []string{"provider"})

	analysisFallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pathwise_analysis_fallbacks_total",
		Help: "Content analyses served by the rule-based analyzer, by reason",
	}, []string{"reason"})

	unlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pathwise_unlocks_total",
		Help: "Content items unlocked by progress updates",
	})

	progressConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pathwise_progress_conflicts_total",
		Help: "Progress writes retried after a version conflict",
	})

	gapsDetectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pathwise_gaps_detected_total",
		Help: "Knowledge gaps emitted by the gap analyzer",
	}, []string{"subject_area"})

	recommendationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pathwise_recommendations_generated_total",
		Help: "Recommendations written by the ranker",
	})

	roadmapsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pathwise_roadmaps_total",
		Help: "Roadmap generate calls by result",
	}, []string{"result"})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pathwise_http_requests_total",
		Help: "HTTP requests by method, route and status",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pathwise_http_request_duration_seconds",
		Help:    "Latency of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)

// Roadmap results.
const (
	RoadmapGenerated = "generated"
	RoadmapReused    = "reused"
	RoadmapExhausted = "exhausted"
)

// ObserveLLMRequest records one LLM call.
func ObserveLLMRequest(provider, purpose string, ok bool, latency time.Duration, costUSD float64) {
	outcome := "success"
	if !ok {
		outcome = "error"
	}
	llmRequestsTotal.WithLabelValues(provider, purpose, outcome).Inc()
	llmRequestDuration.WithLabelValues(provider).Observe(latency.Seconds())
	if costUSD > 0 {
		llmCostTotal.WithLabelValues(provider).Add(costUSD)
	}
}

// AnalysisFallback counts a content analysis served by the fallback.
func AnalysisFallback(reason string) {
	analysisFallbacksTotal.WithLabelValues(reason).Inc()
}

// Unlocked counts newly unlocked content items.
func Unlocked(n int) {
	if n > 0 {
		unlocksTotal.Add(float64(n))
	}
}

// ProgressConflict counts one version-conflict retry.
func ProgressConflict() {
	progressConflictsTotal.Inc()
}

// GapsDetected counts emitted gaps.
func GapsDetected(subjectArea string, n int) {
	if n > 0 {
		gapsDetectedTotal.WithLabelValues(subjectArea).Add(float64(n))
	}
}

// RecommendationsGenerated counts written recommendations.
func RecommendationsGenerated(n int) {
	if n > 0 {
		recommendationsTotal.Add(float64(n))
	}
}

// RoadmapResult counts one roadmap generate call.
func RoadmapResult(result string) {
	roadmapsTotal.WithLabelValues(result).Inc()
}

// ObserveHTTP records one served HTTP request.
func ObserveHTTP(method, route string, status int, latency time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(route).Observe(latency.Seconds())
}
