package internal

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so several pipelines (and tests) can live
// in one process. All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal        *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	extractAttempts  *prometheus.CounterVec
	rowsLoaded       prometheus.Counter
	driftedFields    *prometheus.CounterVec
	lastSuccess      prometheus.Gauge
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	notificationsOut *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lol_pipeline_runs_total",
			Help: "Pipeline runs by mode and terminal status.",
		}, []string{"mode", "status"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lol_pipeline_stage_duration_seconds",
			Help:    "Duration of each pipeline stage.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"stage"}),
		extractAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lol_pipeline_extract_attempts_total",
			Help: "Leaderboard fetch attempts by outcome.",
		}, []string{"outcome"}),
		rowsLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lol_pipeline_rows_loaded_total",
			Help: "Rows written to the store.",
		}),
		driftedFields: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lol_pipeline_schema_drift_total",
			Help: "Mapped fields missing from the source payload.",
		}, []string{"field"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lol_pipeline_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		notificationsOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lol_pipeline_notifications_total",
			Help: "Notifications sent by severity and result.",
		}, []string{"severity", "result"}),
	}

	m.registry.MustRegister(
		m.runsTotal,
		m.stageDuration,
		m.extractAttempts,
		m.rowsLoaded,
		m.driftedFields,
		m.lastSuccess,
		m.httpRequests,
		m.httpDuration,
		m.notificationsOut,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RunFinished(mode RunMode, state State, finished time.Time) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(string(mode), string(state)).Inc()
	if state == StateSucceeded {
		m.lastSuccess.Set(float64(finished.Unix()))
	}
}

func (m *Metrics) StageDuration(stage State, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(string(stage)).Observe(d.Seconds())
}

func (m *Metrics) ExtractAttempt(outcome string) {
	if m == nil {
		return
	}
	m.extractAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RowsLoaded(n int) {
	if m == nil {
		return
	}
	m.rowsLoaded.Add(float64(n))
}

func (m *Metrics) FieldDrifted(field string) {
	if m == nil {
		return
	}
	m.driftedFields.WithLabelValues(field).Inc()
}

func (m *Metrics) NotificationSent(severity Severity, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.notificationsOut.WithLabelValues(string(severity), result).Inc()
}

func (m *Metrics) RecordRequest(route string, duration time.Duration, statusCode int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(statusCode)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(duration.Seconds())
}
