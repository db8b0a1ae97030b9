package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the audio stream bridge.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Pipeline metrics
	BytesPulled     prometheus.Counter
	BytesPushed     prometheus.Counter
	BufferOccupancy prometheus.Gauge
	Overflows       *prometheus.CounterVec
	Restarts        prometheus.Counter
	ReadinessWaits  prometheus.Counter
	WaitDuration    prometheus.Histogram

	// Datagram metrics
	FramesLate      prometheus.Counter
	FramesEarly     prometheus.Counter
	FramesLost      prometheus.Counter
	FramesMalformed prometheus.Counter
	SplitDatagrams  prometheus.Counter
	RefusedSends    prometheus.Counter

	// Stream metrics
	StreamBytesDropped prometheus.Counter
	Reconnects         prometheus.Counter
	Accepts            prometheus.Counter
	ConnectionsDropped prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all Prometheus metrics and registers them with reg.
// A nil reg registers with the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		// Pipeline metrics
		BytesPulled: f.NewCounter(prometheus.CounterOpts{
			Name: "audiostream_bytes_pulled_total",
			Help: "Total number of bytes pulled from the source",
		}),
		BytesPushed: f.NewCounter(prometheus.CounterOpts{
			Name: "audiostream_bytes_pushed_total",
			Help: "Total number of bytes consumed by the sink",
		}),
		BufferOccupancy: f.NewGauge(prometheus.GaugeOpts{
			Name: "audiostream_buffer_bytes",
			Help: "Current number of bytes queued between source and sink",
		}),
		Overflows: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audiostream_buffer_overflows_total",
			Help: "Total number of buffer overflows by handling policy",
		}, []string{"policy"}),
		Restarts: f.NewCounter(prometheus.CounterOpts{
			Name: "audiostream_restarts_total",
			Help: "Total number of source and sink restarts",
		}),
		ReadinessWaits: f.NewCounter(prometheus.CounterOpts{
			Name: "audiostream_readiness_waits_total",
			Help: "Total number of waits on device readiness",
		}),
		WaitDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "audiostream_readiness_wait_seconds",
			Help:    "Time spent waiting for device readiness",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		}),

		// Datagram metrics
		FramesLate: f.NewCounter(prometheus.CounterOpts{
			Name: "audiostream_frames_late_total",
			Help: "Total number of datagrams that arrived with a counter below the expected one",
		}),
		FramesEarly: f.NewCounter(prometheus.CounterOpts{
			Name: "audiostream_frames_early_total",
			Help: "Total number of datagrams that arrived with a counter above the expected one",
		}),
		FramesLost: f.NewCounter(prometheus.CounterOpts{
			Name: "audiostream_frames_lost_total",
			Help: "Total number of datagrams skipped over by early arrivals",
		}),
		FramesMalformed: f.NewCounter(prometheus.CounterOpts{
			Name: "audiostream_frames_malformed_total",
			Help: "Total number of datagrams too short to carry a counter",
		}),
		SplitDatagrams: f.NewCounter(prometheus.CounterOpts{
			Name: "audiostream_split_datagrams_total",
			Help: "Total number of sends that filled a datagram to its size limit",
		}),
		RefusedSends: f.NewCounter(prometheus.CounterOpts{
			Name: "audiostream_refused_sends_total",
			Help: "Total number of datagrams refused by the peer",
		}),

		// Stream metrics
		StreamBytesDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "audiostream_stream_bytes_dropped_total",
			Help: "Total number of bytes discarded because the stream peer was unreachable",
		}),
		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "audiostream_reconnect_attempts_total",
			Help: "Total number of outbound stream connection attempts",
		}),
		Accepts: f.NewCounter(prometheus.CounterOpts{
			Name: "audiostream_accepted_connections_total",
			Help: "Total number of inbound stream connections accepted",
		}),
		ConnectionsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "audiostream_dropped_connections_total",
			Help: "Total number of inbound stream connections dropped",
		}),

		// HTTP API metrics
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audiostream_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "audiostream_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audiostream_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordPulled adds n bytes to the pulled counter
func (m *Metrics) RecordPulled(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesPulled.Add(float64(n))
}

// RecordPushed adds n bytes to the pushed counter
func (m *Metrics) RecordPushed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesPushed.Add(float64(n))
}

// SetBufferOccupancy sets the current buffer length
func (m *Metrics) SetBufferOccupancy(n int) {
	if m == nil {
		return
	}
	m.BufferOccupancy.Set(float64(n))
}

// RecordOverflow increments the overflow counter for policy
func (m *Metrics) RecordOverflow(policy string) {
	if m == nil {
		return
	}
	m.Overflows.WithLabelValues(policy).Inc()
}

// RecordRestart increments the restarts counter
func (m *Metrics) RecordRestart() {
	if m == nil {
		return
	}
	m.Restarts.Inc()
}

// RecordWait records one readiness wait
func (m *Metrics) RecordWait(durationSeconds float64) {
	if m == nil {
		return
	}
	m.ReadinessWaits.Inc()
	m.WaitDuration.Observe(durationSeconds)
}

// RecordLate records a datagram that arrived behind the expected counter
func (m *Metrics) RecordLate() {
	if m == nil {
		return
	}
	m.FramesLate.Inc()
}

// RecordEarly records a datagram that skipped lost datagrams
func (m *Metrics) RecordEarly(lost uint64) {
	if m == nil {
		return
	}
	m.FramesEarly.Inc()
	m.FramesLost.Add(float64(lost))
}

// RecordMalformed records a datagram that was too short to parse
func (m *Metrics) RecordMalformed() {
	if m == nil {
		return
	}
	m.FramesMalformed.Inc()
}

// RecordSplit records a send that filled a whole datagram
func (m *Metrics) RecordSplit() {
	if m == nil {
		return
	}
	m.SplitDatagrams.Inc()
}

// RecordRefused records a datagram the peer refused
func (m *Metrics) RecordRefused() {
	if m == nil {
		return
	}
	m.RefusedSends.Inc()
}

// RecordStreamDrop adds n discarded stream bytes
func (m *Metrics) RecordStreamDrop(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.StreamBytesDropped.Add(float64(n))
}

// RecordReconnect increments the reconnect attempts counter
func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}

// RecordAccept increments the accepted connections counter
func (m *Metrics) RecordAccept() {
	if m == nil {
		return
	}
	m.Accepts.Inc()
}

// RecordConnectionDropped increments the dropped connections counter
func (m *Metrics) RecordConnectionDropped() {
	if m == nil {
		return
	}
	m.ConnectionsDropped.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
