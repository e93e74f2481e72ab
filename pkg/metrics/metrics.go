// Package metrics exposes Prometheus instrumentation for elabmate.
//
// A Collector owns every elabmate metric and registers them on the
// Registerer it is built with, so tests and embedding programs never share
// global state:
//
//	reg := prometheus.NewRegistry()
//	collector := metrics.NewCollector(reg)
//
//	client, err := elab.New(cfg, elab.WithMetrics(collector))
//
// # Metrics
//
//   - elabmate_api_requests_total{method,route,code}: requests sent to eLabFTW
//   - elabmate_api_request_duration_seconds{method,route}: request latency
//   - elabmate_uploads_total{outcome}: upserts by outcome (created, replaced, unchanged)
//   - elabmate_snapshots_total{status}: bridge snapshot attempts (ok, error)
//   - elabmate_active_acquisitions: acquisitions currently bound to an experiment
//
// A nil *Collector is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric name.
const Namespace = "elabmate"

// Collector records API, upload and acquisition metrics.
type Collector struct {
	requests           *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	uploads            *prometheus.CounterVec
	snapshots          *prometheus.CounterVec
	activeAcquisitions prometheus.Gauge
}

// NewCollector creates the elabmate metrics and registers them on reg.
// A nil reg leaves the metrics unregistered.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "api_requests_total",
				Help:      "Total number of requests sent to the eLabFTW API",
			},
			[]string{"method", "route", "code"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "api_request_duration_seconds",
				Help:      "eLabFTW API request latency in seconds",
				Buckets: []float64{
					0.01, // 10ms - cached reads
					0.05,
					0.1,
					0.5,
					1,  // uploads of a few MB
					5,
					30, // default request timeout
				},
			},
			[]string{"method", "route"},
		),
		uploads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "uploads_total",
				Help:      "File upserts by outcome",
			},
			[]string{"outcome"},
		),
		snapshots: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "snapshots_total",
				Help:      "Acquisition snapshots saved to eLabFTW",
			},
			[]string{"status"},
		),
		activeAcquisitions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "active_acquisitions",
				Help:      "Acquisitions currently bound to an experiment",
			},
		),
	}
}

// ObserveRequest records one API exchange. code is 0 when no response arrived.
func (c *Collector) ObserveRequest(method, route string, code int, duration time.Duration) {
	if c == nil {
		return
	}
	status := "error"
	if code > 0 {
		status = strconv.Itoa(code)
	}
	c.requests.WithLabelValues(method, route, status).Inc()
	c.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveUpload records the outcome of a file upsert.
func (c *Collector) ObserveUpload(outcome string) {
	if c == nil {
		return
	}
	c.uploads.WithLabelValues(outcome).Inc()
}

// ObserveSnapshot records a snapshot attempt.
func (c *Collector) ObserveSnapshot(err error) {
	if c == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.snapshots.WithLabelValues(status).Inc()
}

// AcquisitionStarted increments the active acquisition gauge.
func (c *Collector) AcquisitionStarted() {
	if c == nil {
		return
	}
	c.activeAcquisitions.Inc()
}

// AcquisitionEnded decrements the active acquisition gauge.
func (c *Collector) AcquisitionEnded() {
	if c == nil {
		return
	}
	c.activeAcquisitions.Dec()
}

// Timer provides a simple timing mechanism for measuring operation durations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed duration since creation. It may be called repeatedly.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
