// Package metrics provides Prometheus instrumentation for the DraftGuard engine.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "draftguard",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "draftguard",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// FlagWritesTotal counts flag aggregate writes by result.
	FlagWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "draftguard",
			Name:      "flag_writes_total",
			Help:      "Total flag aggregate writes by result (ok, conflict_exhausted, error).",
		},
		[]string{"result"},
	)

	// FlagWriteConflicts counts optimistic-lock conflicts, including retried ones.
	FlagWriteConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "draftguard",
			Name:      "flag_write_conflicts_total",
			Help:      "Optimistic-lock conflicts observed while writing flag aggregates.",
		},
	)

	// FlagWriteDuration observes end-to-end flag write latency including retries.
	FlagWriteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "draftguard",
			Name:      "flag_write_duration_seconds",
			Help:      "Flag write duration in seconds, retries included.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5},
		},
	)

	// DraftsAnalyzedTotal counts post-draft analyses by result.
	DraftsAnalyzedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "draftguard",
			Name:      "drafts_analyzed_total",
			Help:      "Total post-draft analyses by result (ok, skipped, error).",
		},
		[]string{"result"},
	)

	// PairAnalysisFailures counts per-pair scoring failures inside otherwise
	// successful draft analyses.
	PairAnalysisFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "draftguard",
			Name:      "pair_analysis_failures_total",
			Help:      "Per-pair scoring failures that were skipped, not fatal.",
		},
	)

	// AnalysisDuration observes full-draft analysis duration.
	AnalysisDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "draftguard",
			Name:      "draft_analysis_duration_seconds",
			Help:      "Post-draft analysis duration in seconds.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	// AggregationRunsTotal counts cross-draft aggregation runs by result.
	AggregationRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "draftguard",
			Name:      "aggregation_runs_total",
			Help:      "Total cross-draft aggregation runs by result (ok, error).",
		},
		[]string{"result"},
	)

	// AggregationPairFailures counts per-pair persistence failures within a run.
	AggregationPairFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "draftguard",
			Name:      "aggregation_pair_failures_total",
			Help:      "Pairs that failed within an aggregation run and were skipped.",
		},
	)

	// AggregationDuration observes full aggregation run duration.
	AggregationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "draftguard",
			Name:      "aggregation_run_duration_seconds",
			Help:      "Cross-draft aggregation run duration in seconds.",
			Buckets:   []float64{.1, .5, 1, 5, 15, 60, 300, 900},
		},
	)

	// ADPRefreshTotal counts ADP board refreshes by result.
	ADPRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "draftguard",
			Name:      "adp_refresh_total",
			Help:      "ADP board refresh attempts by result (ok, error, stale_served).",
		},
		[]string{"result"},
	)

	// DispatchQueueDepth tracks the completion dispatcher's queue depth.
	DispatchQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "draftguard", Name: "dispatch_queue_depth",
		Help: "Draft-completion events waiting for analysis.",
	})

	// DispatchDroppedTotal counts completion events dropped on a full queue.
	DispatchDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "draftguard", Name: "dispatch_dropped_total",
		Help: "Draft-completion events dropped because the queue was full.",
	})

	// AdminActionsTotal counts recorded admin actions by decision.
	AdminActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "draftguard",
			Name:      "admin_actions_total",
			Help:      "Admin review actions recorded, by decision.",
		},
		[]string{"action"},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "draftguard", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "draftguard", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "draftguard", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "draftguard", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "draftguard", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "draftguard", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		FlagWritesTotal,
		FlagWriteConflicts,
		FlagWriteDuration,
		DraftsAnalyzedTotal,
		PairAnalysisFailures,
		AnalysisDuration,
		AggregationRunsTotal,
		AggregationPairFailures,
		AggregationDuration,
		ADPRefreshTotal,
		DispatchQueueDepth,
		DispatchDroppedTotal,
		AdminActionsTotal,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
