// internal/metrics/collector.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	connectionsOpened = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docstress_connections_opened_total",
			Help: "Total number of sessions whose handshake succeeded",
		},
	)

	connectionsFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docstress_connections_failed_total",
			Help: "Total number of failed session handshakes",
		},
	)

	connectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "docstress_connections_active",
			Help: "Number of open sessions",
		},
	)

	handshakeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docstress_handshake_duration_seconds",
			Help:    "Session handshake duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Frame metrics
	framesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docstress_frames_sent_total",
			Help: "Total number of application frames sent",
		},
	)

	framesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docstress_frames_received_total",
			Help: "Total number of application frames received",
		},
	)

	receiveTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docstress_receive_timeouts_total",
			Help: "Total number of receives that timed out waiting for a prefix",
		},
	)

	// Replay metrics
	replayRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docstress_replay_records_total",
			Help: "Trace records dispatched by direction",
		},
		[]string{"direction"},
	)

	replayDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docstress_replay_dropped_total",
			Help: "Trace records dropped by reason",
		},
		[]string{"reason"},
	)

	// Benchmark metrics
	sampleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docstress_sample_duration_seconds",
			Help:    "Benchmark sample durations by kind",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		},
		[]string{"kind"},
	)

	workersRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "docstress_workers_running",
			Help: "Number of workers currently running",
		},
	)

	workerResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docstress_worker_results_total",
			Help: "Finished workers by outcome",
		},
		[]string{"outcome"},
	)
)

// Collector records load-generation metrics.
type Collector struct {
	startTime time.Time
}

// NewCollector creates a metrics collector
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
	}
}

// RecordHandshake records the outcome of a session handshake.
func (c *Collector) RecordHandshake(d time.Duration, err error) {
	if c == nil {
		return
	}
	handshakeDuration.Observe(d.Seconds())
	if err != nil {
		connectionsFailed.Inc()
		return
	}
	connectionsOpened.Inc()
	connectionsActive.Inc()
}

// RecordClose records a session being torn down.
func (c *Collector) RecordClose() {
	if c == nil {
		return
	}
	connectionsActive.Dec()
}

// RecordSend records an application frame written.
func (c *Collector) RecordSend() {
	if c == nil {
		return
	}
	framesSent.Inc()
}

// RecordReceive records an application frame read.
func (c *Collector) RecordReceive() {
	if c == nil {
		return
	}
	framesReceived.Inc()
}

// RecordReceiveTimeout records a receive giving up.
func (c *Collector) RecordReceiveTimeout() {
	if c == nil {
		return
	}
	receiveTimeouts.Inc()
}

// RecordRecord records a trace record dispatched.
func (c *Collector) RecordRecord(direction string) {
	if c == nil {
		return
	}
	replayRecords.WithLabelValues(direction).Inc()
}

// RecordDrop records a trace record dropped.
func (c *Collector) RecordDrop(reason string) {
	if c == nil {
		return
	}
	replayDropped.WithLabelValues(reason).Inc()
}

// RecordSample records a benchmark sample.
func (c *Collector) RecordSample(kind string, d time.Duration) {
	if c == nil {
		return
	}
	sampleDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// WorkerStarted marks a worker as running.
func (c *Collector) WorkerStarted() {
	if c == nil {
		return
	}
	workersRunning.Inc()
}

// WorkerFinished marks a worker as done.
func (c *Collector) WorkerFinished(ok bool) {
	if c == nil {
		return
	}
	workersRunning.Dec()
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	workerResults.WithLabelValues(outcome).Inc()
}

// Uptime returns the uptime duration
func (c *Collector) Uptime() time.Duration {
	return time.Since(c.startTime)
}
