// Package metrics exposes Prometheus collectors for a harvest run.
package metrics

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/report-harvester/internal/harvest"
)

// Recorder implements harvest.Observer on a private registry so that each run
// (and each test) starts from zero.
type Recorder struct {
	registry      *prometheus.Registry
	outcomes      *prometheus.CounterVec
	stages        *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	activeWorkers prometheus.Gauge
	downloads     *prometheus.CounterVec
	throttle      *prometheus.HistogramVec
}

// NewRecorder registers the harvester collectors on a fresh registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_records_total",
				Help: "Total number of records processed, labeled by outcome.",
			},
			[]string{"outcome"},
		),
		stages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_stage_attempts_total",
				Help: "Acquisition stage attempts, labeled by stage and result.",
			},
			[]string{"stage", "result"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_stage_duration_seconds",
				Help:    "Histogram of acquisition stage latencies, labeled by stage.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"stage"},
		),
		activeWorkers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_active_workers",
				Help: "Number of workers currently processing a record.",
			},
		),
		downloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_direct_bytes_total",
				Help: "Bytes written by the direct stage, labeled by site.",
			},
			[]string{"site"},
		),
		throttle: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		),
	}
	r.registry.MustRegister(r.outcomes, r.stages, r.stageDuration, r.activeWorkers, r.downloads, r.throttle)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveStage implements harvest.Observer.
func (r *Recorder) ObserveStage(stage harvest.Stage, ok bool, took time.Duration) {
	result := "failed"
	if ok {
		result = "ok"
	}
	r.stages.WithLabelValues(string(stage), result).Inc()
	r.stageDuration.WithLabelValues(string(stage)).Observe(took.Seconds())
}

// ObserveOutcome implements harvest.Observer.
func (r *Recorder) ObserveOutcome(outcome harvest.Outcome) {
	r.outcomes.WithLabelValues(string(outcome)).Inc()
}

// WorkerStarted implements harvest.Observer.
func (r *Recorder) WorkerStarted() {
	r.activeWorkers.Inc()
}

// WorkerFinished implements harvest.Observer.
func (r *Recorder) WorkerFinished() {
	r.activeWorkers.Dec()
}

// ObserveDownload adds bytes fetched from rawURL to the per-site counter.
func (r *Recorder) ObserveDownload(rawURL string, bytes int64) {
	if bytes <= 0 {
		return
	}
	r.downloads.WithLabelValues(SanitizeSite(rawURL)).Add(float64(bytes))
}

// ObserveThrottle records a per-host rate limit wait.
func (r *Recorder) ObserveThrottle(host string, waited time.Duration) {
	r.throttle.WithLabelValues(host).Observe(waited.Seconds())
}

// WriteTextfile dumps the registry in the node_exporter textfile format.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
