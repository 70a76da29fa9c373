package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector collects and exposes metrics
type Collector struct {
	registry     *prometheus.Registry
	recordsTotal *prometheus.CounterVec
	bytesTotal   prometheus.Counter
	jobRunning   prometheus.Gauge
	duration     prometheus.Histogram
}

// New creates a new metrics collector with its own registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		recordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "migrate_records_total",
				Help: "Total number of records processed",
			},
			[]string{"status"},
		),
		bytesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "migrate_bytes_total",
				Help: "Total bytes migrated",
			},
		),
		jobRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "migrate_job_running",
				Help: "Whether a migration job is currently running",
			},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "migrate_record_duration_seconds",
				Help:    "Time taken to migrate one record",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	// Register metrics
	c.registry.MustRegister(c.recordsTotal)
	c.registry.MustRegister(c.bytesTotal)
	c.registry.MustRegister(c.jobRunning)
	c.registry.MustRegister(c.duration)

	return c
}

// IncSuccess increments the successful record counter
func (c *Collector) IncSuccess() {
	c.recordsTotal.WithLabelValues("success").Inc()
}

// IncFailed increments the failed record counter
func (c *Collector) IncFailed() {
	c.recordsTotal.WithLabelValues("failed").Inc()
}

// IncSkipped increments the skipped record counter
func (c *Collector) IncSkipped() {
	c.recordsTotal.WithLabelValues("skipped").Inc()
}

// AddBytes adds to total bytes migrated
func (c *Collector) AddBytes(bytes int64) {
	c.bytesTotal.Add(float64(bytes))
}

// SetJobRunning flags whether a job is in flight
func (c *Collector) SetJobRunning(running bool) {
	if running {
		c.jobRunning.Set(1)
	} else {
		c.jobRunning.Set(0)
	}
}

// ObserveDuration observes per-record migration duration
func (c *Collector) ObserveDuration(duration time.Duration) {
	c.duration.Observe(duration.Seconds())
}

// Handler returns the HTTP handler exposing this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
