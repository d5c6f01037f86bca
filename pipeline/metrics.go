package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics bundles Prometheus collectors for synchronization runs.
type Metrics struct {
	Registry       *prometheus.Registry
	FetchesTotal   *prometheus.CounterVec
	FetchDuration  prometheus.Histogram
	RetriesTotal   *prometheus.CounterVec
	RowsTotal      *prometheus.CounterVec
	PeriodsTotal   *prometheus.CounterVec
	ErrorsTotal    *prometheus.CounterVec
	DatasetRecords prometheus.Gauge
	LastSuccess    prometheus.Gauge
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	fetches := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chartsync_fetches_total",
			Help: "Total period fetches by result status.",
		},
		[]string{"status"},
	)
	fetchDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chartsync_fetch_duration_seconds",
			Help:    "Latency of one period fetch including retries.",
			Buckets: prometheus.DefBuckets,
		},
	)
	retries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chartsync_retries_total",
			Help: "Total retry attempts by reason.",
		},
		[]string{"reason"},
	)
	rows := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chartsync_rows_total",
			Help: "Total normalized rows by result.",
		},
		[]string{"result"},
	)
	periods := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chartsync_periods_total",
			Help: "Total planned periods by outcome.",
		},
		[]string{"outcome"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chartsync_errors_total",
			Help: "Total number of errors by type.",
		},
		[]string{"error_type"},
	)
	datasetRecords := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chartsync_dataset_records",
			Help: "Number of records in the dataset after the last run.",
		},
	)
	lastSuccess := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chartsync_last_success_timestamp_seconds",
			Help: "Unix time of the last run that ended up to date or saved.",
		},
	)

	registry.MustRegister(fetches, fetchDuration, retries, rows, periods, errorsTotal, datasetRecords, lastSuccess)

	return &Metrics{
		Registry:       registry,
		FetchesTotal:   fetches,
		FetchDuration:  fetchDuration,
		RetriesTotal:   retries,
		RowsTotal:      rows,
		PeriodsTotal:   periods,
		ErrorsTotal:    errorsTotal,
		DatasetRecords: datasetRecords,
		LastSuccess:    lastSuccess,
	}
}

// IncFetch counts one finished fetch.
func (m *Metrics) IncFetch(status string) {
	if m == nil {
		return
	}
	m.FetchesTotal.WithLabelValues(status).Inc()
}

// ObserveDuration records a fetch duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.Observe(d.Seconds())
}

// IncRetries increments the retries counter for a reason label.
func (m *Metrics) IncRetries(reason string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(reason).Inc()
}

// AddRows adds n rows under a result label.
func (m *Metrics) AddRows(result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RowsTotal.WithLabelValues(result).Add(float64(n))
}

// IncPeriod counts one period under an outcome label.
func (m *Metrics) IncPeriod(outcome string) {
	if m == nil {
		return
	}
	m.PeriodsTotal.WithLabelValues(outcome).Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// SetDatasetSize records the dataset size.
func (m *Metrics) SetDatasetSize(n int) {
	if m == nil {
		return
	}
	m.DatasetRecords.Set(float64(n))
}

// MarkSuccess records the time of a successful run.
func (m *Metrics) MarkSuccess(t time.Time) {
	if m == nil {
		return
	}
	m.LastSuccess.Set(float64(t.Unix()))
}

// Push sends the registry to a Prometheus Pushgateway, grouped by source.
func (m *Metrics) Push(ctx context.Context, gatewayURL, source string) error {
	if m == nil || gatewayURL == "" {
		return nil
	}
	err := push.New(gatewayURL, "chartsync").
		Gatherer(m.Registry).
		Grouping("source", source).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
