package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Frame pipeline counters
	FramesReceived  atomic.Uint64
	FramesAccepted  atomic.Uint64
	FramesThrottled atomic.Uint64
	FramesStale     atomic.Uint64
	DecodeErrors    atomic.Uint64

	// Extractor counters
	ExtractionTimeouts atomic.Uint64
	ExtractionNoFace   atomic.Uint64

	// Session bookkeeping
	ActiveSessions  atomic.Uint64
	SessionsCreated atomic.Uint64
	SessionsEvicted atomic.Uint64

	// Publishing
	SnapshotsPublished atomic.Uint64
	PublishRetries     atomic.Uint64
	PublishFailures    atomic.Uint64
	PublishDropped     atomic.Uint64
	PublishQueueUsage  atomic.Uint64 // Percentage (0-100)

	// Latency tracking
	FrameLatencyMs   atomic.Uint64 // Average end-to-end frame latency in ms
	ExtractLatencyMs atomic.Uint64 // Average extractor latency in ms

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	gauges := []struct {
		name string
		help string
		load func() uint64
	}{
		{"focus_frames_received_total", "Total frames received on the ingest endpoint", m.FramesReceived.Load},
		{"focus_frames_accepted_total", "Total frames accepted into a session", m.FramesAccepted.Load},
		{"focus_frames_throttled_total", "Total frames rejected by the rate limiter", m.FramesThrottled.Load},
		{"focus_frames_stale_total", "Total frames skipped for accounting due to timestamp regression", m.FramesStale.Load},
		{"focus_decode_errors_total", "Total frames rejected by the decoder", m.DecodeErrors.Load},
		{"focus_extraction_timeouts_total", "Total extractor calls that exceeded their deadline", m.ExtractionTimeouts.Load},
		{"focus_extraction_no_face_total", "Total frames classified with no face detected", m.ExtractionNoFace.Load},
		{"focus_active_sessions", "Number of active focus sessions", m.ActiveSessions.Load},
		{"focus_sessions_created_total", "Total focus sessions created", m.SessionsCreated.Load},
		{"focus_sessions_evicted_total", "Total focus sessions evicted after idle timeout", m.SessionsEvicted.Load},
		{"focus_snapshots_published_total", "Total snapshots delivered to the persistence endpoint", m.SnapshotsPublished.Load},
		{"focus_publish_retries_total", "Total transient publish failures retried", m.PublishRetries.Load},
		{"focus_publish_failures_total", "Total snapshots dropped after retry exhaustion", m.PublishFailures.Load},
		{"focus_publish_dropped_total", "Total snapshots dropped on a full publish queue", m.PublishDropped.Load},
		{"focus_publish_queue_usage_percent", "Publish queue usage percentage", m.PublishQueueUsage.Load},
		{"focus_frame_latency_ms", "Average end-to-end frame latency in milliseconds", m.FrameLatencyMs.Load},
		{"focus_extract_latency_ms", "Average extractor latency in milliseconds", m.ExtractLatencyMs.Load},
	}

	for _, g := range gauges {
		load := g.load
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			func() float64 { return float64(load()) },
		))
	}
}

// UpdateFrameLatency updates the average end-to-end frame latency
func (m *Metrics) UpdateFrameLatency(start time.Time) {
	m.FrameLatencyMs.Store(uint64(time.Since(start).Milliseconds()))
}

// UpdateExtractLatency updates the average extractor latency
func (m *Metrics) UpdateExtractLatency(duration time.Duration) {
	m.ExtractLatencyMs.Store(uint64(duration.Milliseconds()))
}

// UpdateQueueUsage updates the publish queue usage percentage
func (m *Metrics) UpdateQueueUsage(used, capacity int) {
	if capacity > 0 {
		m.PublishQueueUsage.Store(uint64(used * 100 / capacity))
	}
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
