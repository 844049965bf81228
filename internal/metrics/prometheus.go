package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the scraping pipeline and ranking engine.

var (
	// Upstream HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "youthrank_http_requests_total",
			Help: "Total number of upstream HTTP requests",
		},
		[]string{"endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "youthrank_http_request_duration_seconds",
			Help:    "Duration of upstream HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	HTTPRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "youthrank_http_retries_total",
			Help: "Total number of upstream request retries",
		},
		[]string{"reason"},
	)

	// Scrape metrics
	TeamsScraped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "youthrank_teams_scraped_total",
			Help: "Total number of roster teams scraped",
		},
		[]string{"division"},
	)

	TeamHistoryOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "youthrank_team_history_outcomes_total",
			Help: "Stage 2 per-team outcomes",
		},
		[]string{"division", "outcome"},
	)

	MatchRowsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "youthrank_match_rows_emitted_total",
			Help: "Total number of gold match rows emitted",
		},
		[]string{"division"},
	)

	// Matcher metrics
	MatcherResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "youthrank_matcher_resolutions_total",
			Help: "Opponent resolutions by matcher tier",
		},
		[]string{"tier"},
	)

	// Profile cache metrics
	ProfileCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "youthrank_profile_cache_hits_total",
			Help: "Total number of profile cache hits",
		},
	)

	ProfileCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "youthrank_profile_cache_misses_total",
			Help: "Total number of profile cache misses",
		},
	)

	ProfileCacheInvalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "youthrank_profile_cache_invalidations_total",
			Help: "Profile cache entries invalidated by upstream 404s",
		},
	)

	// Ranking metrics
	RankingRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "youthrank_ranking_runs_total",
			Help: "Ranking engine runs by convergence outcome",
		},
		[]string{"division", "outcome"},
	)

	RankingIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "youthrank_ranking_sos_iterations",
			Help:    "Iterations used by the strength-of-schedule solver",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		},
	)

	RankingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "youthrank_ranking_duration_seconds",
			Help:    "Duration of ranking runs in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"division"},
	)

	// Pipeline metrics
	PipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "youthrank_pipeline_runs_total",
			Help: "Full pipeline runs by outcome",
		},
		[]string{"division", "outcome"},
	)

	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "youthrank_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)

// RecordHTTPRequest records an upstream request metric.
func RecordHTTPRequest(endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(endpoint).Observe(duration)
}

// RecordRetry records a retried request by reason.
func RecordRetry(reason string) {
	HTTPRetriesTotal.WithLabelValues(reason).Inc()
}

// RecordResolution records a matcher resolution by tier.
func RecordResolution(tier string) {
	MatcherResolutions.WithLabelValues(tier).Inc()
}

// RecordRankingRun records a ranking run outcome and its iteration count.
func RecordRankingRun(division string, converged bool, iterations int, duration float64) {
	outcome := "converged"
	if !converged {
		outcome = "iteration_cap"
	}
	RankingRunsTotal.WithLabelValues(division, outcome).Inc()
	RankingIterations.Observe(float64(iterations))
	RankingDuration.WithLabelValues(division).Observe(duration)
}

// RecordError records an error by component.
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
