package monitoring

import (
	"database/sql"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trendlab/internal/strategy/optimizer"
)

const namespace = "trendlab"

// Metrics holds all Prometheus metrics. It registers on its own registry so
// several instances can coexist in one process (tests, embedded servers).
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight *prometheus.GaugeVec
	apiErrorsTotal       *prometheus.CounterVec
	activeConnections    prometheus.Gauge

	trialsTotal     *prometheus.CounterVec
	trialDuration   *prometheus.HistogramVec
	bestObjective   *prometheus.GaugeVec
	marginFailures  *prometheus.CounterVec
	backtestRuns    *prometheus.CounterVec
	backtestSeconds prometheus.Histogram

	dbOnce sync.Once
}

// NewMetrics creates the metric set on reg. A nil reg gets a fresh registry
// with the Go and process collectors attached.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	m := &Metrics{
		registry: reg,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
			[]string{"method", "endpoint"},
		),
		apiErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_errors_total",
				Help:      "Total number of API errors",
			},
			[]string{"endpoint", "error_type"},
		),
		activeConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "websocket_connections_active",
				Help:      "Number of active WebSocket connections",
			},
		),
		trialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "study_trials_total",
				Help:      "Finished optimisation trials by state and feasibility",
			},
			[]string{"study", "state", "feasible", "reason"},
		),
		trialDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "study_trial_duration_seconds",
				Help:      "Wall time of one trial evaluation",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"study"},
		),
		bestObjective: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "study_best_objective",
				Help:      "Best feasible objective seen so far",
			},
			[]string{"study", "metric"},
		),
		marginFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "study_margin_failures_total",
				Help:      "Trials rejected because an order failed the margin check",
			},
			[]string{"study"},
		),
		backtestRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backtest_runs_total",
				Help:      "Backtest runs by outcome",
			},
			[]string{"status"},
		),
		backtestSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "backtest_duration_seconds",
				Help:      "Wall time of one backtest run",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
	}

	reg.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.httpRequestsInFlight,
		m.apiErrorsTotal,
		m.activeConnections,
		m.trialsTotal,
		m.trialDuration,
		m.bestObjective,
		m.marginFailures,
		m.backtestRuns,
		m.backtestSeconds,
	)

	return m
}

// Registry returns the registry the metrics live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterDB exposes connection pool statistics for db. Only the first call
// registers; the collector name is fixed.
func (m *Metrics) RegisterDB(db *sql.DB, name string) {
	m.dbOnce.Do(func() {
		m.registry.MustRegister(collectors.NewDBStatsCollector(db, name))
	})
}

// MetricsMiddleware creates a Prometheus metrics middleware
func (m *Metrics) MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched" // 避免未知路径撑爆标签基数
		}

		m.httpRequestsInFlight.WithLabelValues(c.Request.Method, path).Inc()
		defer m.httpRequestsInFlight.WithLabelValues(c.Request.Method, path).Dec()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		m.httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)

		if c.Writer.Status() >= 400 {
			errorType := "client_error"
			if c.Writer.Status() >= 500 {
				errorType = "server_error"
			}
			m.apiErrorsTotal.WithLabelValues(path, errorType).Inc()
		}
	}
}

// Handler returns the scrape handler for the metrics registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		Registry:          m.registry,
		EnableOpenMetrics: true,
	})
}

// OnTrial implements optimizer.Listener.
func (m *Metrics) OnTrial(study optimizer.StudyInfo, trial optimizer.Trial, best *optimizer.Trial) {
	m.trialsTotal.WithLabelValues(study.Name, string(trial.State), strconv.FormatBool(trial.Feasible), trial.Reason).Inc()
	if d := trial.Duration(); d > 0 {
		m.trialDuration.WithLabelValues(study.Name).Observe(d.Seconds())
	}
	if trial.Reason == optimizer.ReasonMarginFailure {
		m.marginFailures.WithLabelValues(study.Name).Inc()
	}
	if best != nil {
		m.bestObjective.WithLabelValues(study.Name, string(study.Metric)).Set(best.Objective)
	}
}

// ObserveBacktest records one backtest run.
func (m *Metrics) ObserveBacktest(elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.backtestRuns.WithLabelValues(status).Inc()
	m.backtestSeconds.Observe(elapsed.Seconds())
}

// SetActiveConnections sets the number of active WebSocket connections
func (m *Metrics) SetActiveConnections(count float64) {
	m.activeConnections.Set(count)
}
