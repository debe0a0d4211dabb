package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Coordinator metrics
	ServersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rss_coordinator_servers_total",
			Help: "Number of live shuffle servers in the registry",
		},
	)

	AppsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rss_coordinator_apps_total",
			Help: "Number of applications with an active heartbeat",
		},
	)

	AssignmentsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rss_coordinator_assignments_total",
			Help: "Total number of shuffle assignments served",
		},
	)

	AccessDeniedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rss_coordinator_access_denied_total",
			Help: "Total number of denied accessCluster calls by checker",
		},
		[]string{"checker"},
	)

	// Shuffle server metrics
	UsedMemoryBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rss_server_used_memory_bytes",
			Help: "Bytes currently held in the in-memory buffer pool",
		},
	)

	ReceivedBlocksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rss_server_received_blocks_total",
			Help: "Total number of shuffle blocks accepted",
		},
	)

	ReceivedBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rss_server_received_bytes_total",
			Help: "Total bytes of shuffle data accepted",
		},
	)

	FlushEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rss_server_flush_events_total",
			Help: "Total number of flush events by storage tier and result",
		},
		[]string{"tier", "result"},
	)

	FlushQueueSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rss_server_flush_queue_size",
			Help: "Flush events queued but not yet written",
		},
	)

	FlushDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rss_server_flush_duration_seconds",
			Help:    "Flush event write duration in seconds by storage tier",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tier"},
	)

	RegisteredShufflesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rss_server_registered_shuffles_total",
			Help: "Number of registered shuffles",
		},
	)

	NoBufferTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rss_server_no_buffer_total",
			Help: "Total number of sends rejected for lack of buffer space",
		},
	)

	// Client metrics
	SendRoundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rss_client_send_rounds_total",
			Help: "Total number of write rounds by round and result",
		},
		[]string{"round", "result"},
	)

	SendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rss_client_send_duration_seconds",
			Help:    "Duration of one sendShuffleData fan-out in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(ServersTotal)
	prometheus.MustRegister(AppsTotal)
	prometheus.MustRegister(AssignmentsTotal)
	prometheus.MustRegister(AccessDeniedTotal)
	prometheus.MustRegister(UsedMemoryBytes)
	prometheus.MustRegister(ReceivedBlocksTotal)
	prometheus.MustRegister(ReceivedBytesTotal)
	prometheus.MustRegister(FlushEventsTotal)
	prometheus.MustRegister(FlushQueueSize)
	prometheus.MustRegister(FlushDuration)
	prometheus.MustRegister(RegisteredShufflesTotal)
	prometheus.MustRegister(NoBufferTotal)
	prometheus.MustRegister(SendRoundsTotal)
	prometheus.MustRegister(SendDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}
