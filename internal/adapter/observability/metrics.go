package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
		},
		[]string{"route", "method"},
	)

	AIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_requests_total",
			Help: "Total number of provider calls by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)
	AIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_request_duration_seconds",
			Help:    "Provider call duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider"},
	)
	AIPromptTokens = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_prompt_tokens",
			Help:    "Prompt size in tokens per provider call",
			Buckets: prometheus.ExponentialBuckets(256, 2, 8),
		},
		[]string{"provider"},
	)

	AnalysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyses_total",
			Help: "Total number of completed analyses by provenance",
		},
		[]string{"provenance"},
	)
	AnalysisRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analysis_retries_total",
			Help: "Retries scheduled after a failed provider attempt",
		},
		[]string{"outcome"},
	)
	AnalysisParseStageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analysis_parse_stage_total",
			Help: "Parser stage that recovered a provider response",
		},
		[]string{"stage"},
	)
	AnalysesInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "analyses_in_flight",
			Help: "Number of analyses currently running",
		},
	)
	OverallScoreHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "analysis_overall_score",
			Help:    "Distribution of overall_score ([0,100])",
			Buckets: prometheus.LinearBuckets(10, 10, 10),
		},
	)
	QueueRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_records_total",
			Help: "Queued analysis requests handled by the worker, by status",
		},
		[]string{"status"},
	)
	AnalysisDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "analysis_duration_seconds",
			Help:    "End-to-end analysis duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"provenance"},
	)
)

var registerOnce sync.Once

// InitMetrics registers all collectors with the default registry. Safe to call more than once.
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			AIRequestsTotal,
			AIRequestDuration,
			AIPromptTokens,
			AnalysesTotal,
			AnalysisRetriesTotal,
			AnalysisParseStageTotal,
			AnalysesInFlight,
			OverallScoreHistogram,
			QueueRecordsTotal,
			AnalysisDuration,
		)
	})
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(dur)
	})
}

// ObserveProviderCall records one provider call.
func ObserveProviderCall(provider, outcome string, dur time.Duration) {
	AIRequestsTotal.WithLabelValues(provider, outcome).Inc()
	AIRequestDuration.WithLabelValues(provider).Observe(dur.Seconds())
}

// ObservePromptTokens records the token size of a prompt sent to a provider.
func ObservePromptTokens(provider string, tokens int) {
	if tokens > 0 {
		AIPromptTokens.WithLabelValues(provider).Observe(float64(tokens))
	}
}

// ObserveRetry records a scheduled retry after an attempt with the given outcome.
func ObserveRetry(outcome string) {
	AnalysisRetriesTotal.WithLabelValues(outcome).Inc()
}

// ObserveParseStage records the parser stage that produced a structured response.
func ObserveParseStage(stage string) {
	AnalysisParseStageTotal.WithLabelValues(stage).Inc()
}

func StartAnalysis() { AnalysesInFlight.Inc() }

// CompleteAnalysis records a finalized analysis.
func CompleteAnalysis(provenance string, overallScore float64, dur time.Duration) {
	AnalysesInFlight.Dec()
	AnalysesTotal.WithLabelValues(provenance).Inc()
	AnalysisDuration.WithLabelValues(provenance).Observe(dur.Seconds())
	if overallScore >= 0 && overallScore <= 100 {
		OverallScoreHistogram.Observe(overallScore)
	}
}

// ObserveQueueRecord records one queued request handled by the worker.
func ObserveQueueRecord(status string) {
	QueueRecordsTotal.WithLabelValues(status).Inc()
}
