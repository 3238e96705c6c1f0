package metrics

import (
	"database/sql"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "billtrends_"

	ResultOK    = "ok"
	ResultError = "error"
)

var (
	registerOnce sync.Once

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec

	uploadsTotal *prometheus.CounterVec
	rateLimited  *prometheus.CounterVec

	extractionAttempts *prometheus.CounterVec

	analysisTotal   *prometheus.CounterVec
	analysisLatency *prometheus.HistogramVec
	queueDepth      prometheus.Gauge

	sweptUploads prometheus.Counter
)

// Init registers the service metrics and the DB-backed gauges. Safe to call more than once.
func Init(db *sql.DB, logger *slog.Logger) {
	registerOnce.Do(func() {
		httpRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "http_requests_total",
				Help: "Total HTTP requests by route pattern and status code",
			},
			[]string{"route", "status"},
		)
		httpLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		)
		uploadsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "uploads_total",
				Help: "Total bill uploads by kind and result",
			},
			[]string{"kind", "result"},
		)
		rateLimited = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rate_limited_total",
				Help: "Requests rejected by the rate limiter by scope",
			},
			[]string{"scope"},
		)
		extractionAttempts = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "extraction_attempts_total",
				Help: "Extraction attempts by method and result",
			},
			[]string{"attempt", "result"},
		)
		analysisTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "analyses_total",
				Help: "Finished analyses by final status",
			},
			[]string{"status"},
		)
		analysisLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "analysis_duration_seconds",
				Help:    "Analysis wall time in seconds",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
			},
			[]string{"status"},
		)
		queueDepth = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "analysis_queue_depth",
				Help: "Analyses waiting for a worker",
			},
		)
		sweptUploads = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "uploads_swept_total",
				Help: "Raw uploads deleted by the TTL sweeper",
			},
		)

		prometheus.MustRegister(
			httpRequests,
			httpLatency,
			uploadsTotal,
			rateLimited,
			extractionAttempts,
			analysisTotal,
			analysisLatency,
			queueDepth,
			sweptUploads,
		)
		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

func registerDBMetrics(db *sql.DB, logger *slog.Logger) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "analyses_pending",
			Help: "Analyses not yet picked up or still running",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM analyses WHERE status IN ('pending', 'running')")
		},
	))
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "db_open_connections",
			Help: "Open database connections",
		},
		func() float64 {
			return float64(db.Stats().OpenConnections)
		},
	))
}

func queryCount(db *sql.DB, logger *slog.Logger, query string) float64 {
	var count int64
	if err := db.QueryRow(query).Scan(&count); err != nil {
		if logger != nil {
			logger.Warn("metrics query failed", "error", err)
		}
		return 0
	}
	return float64(max(count, 0))
}

// ObserveHTTP records one served request. route is the chi pattern, not the raw path.
func ObserveHTTP(route string, status int, duration time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	if httpRequests != nil {
		httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	}
	if httpLatency != nil {
		httpLatency.WithLabelValues(route).Observe(duration.Seconds())
	}
}

// IncUpload counts an upload attempt.
func IncUpload(kind, result string) {
	if uploadsTotal != nil {
		uploadsTotal.WithLabelValues(kind, result).Inc()
	}
}

// IncRateLimited counts a rejected request.
func IncRateLimited(scope string) {
	if rateLimited != nil {
		rateLimited.WithLabelValues(scope).Inc()
	}
}

// IncExtractionAttempt counts one step of the extraction chain.
func IncExtractionAttempt(attempt string, ok bool) {
	result := ResultOK
	if !ok {
		result = ResultError
	}
	if extractionAttempts != nil {
		extractionAttempts.WithLabelValues(attempt, result).Inc()
	}
}

// ObserveAnalysis records a finished analysis by its terminal status.
func ObserveAnalysis(status string, duration time.Duration) {
	if analysisTotal != nil {
		analysisTotal.WithLabelValues(status).Inc()
	}
	if analysisLatency != nil {
		analysisLatency.WithLabelValues(status).Observe(duration.Seconds())
	}
}

// SetQueueDepth reports how many analyses are buffered.
func SetQueueDepth(n int) {
	if queueDepth != nil {
		queueDepth.Set(float64(n))
	}
}

// AddSwept counts uploads removed by the sweeper.
func AddSwept(n int) {
	if n > 0 && sweptUploads != nil {
		sweptUploads.Add(float64(n))
	}
}
