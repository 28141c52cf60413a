package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the bridge
type Metrics struct {
	// Capture metrics
	BatchesCaptured prometheus.Counter
	WordsCaptured   prometheus.Counter
	BytesAppended   prometheus.Counter
	BatchesDropped  prometheus.Counter
	ErrorsLatched   prometheus.Counter
	ErrorLatched    prometheus.Gauge

	// Ring buffer metrics
	OverflowEvents  prometheus.Counter
	OverflowDropped prometheus.Counter
	RingUsed        prometheus.Gauge
	RingFill        prometheus.Gauge

	// Drain metrics
	DrainPasses    prometheus.Counter
	BytesForwarded prometheus.Counter
	PassSize       prometheus.Histogram
	SinkBusyWaits  prometheus.Counter
	SinkStalls     prometheus.Counter
	Draining       prometheus.Gauge
	SinkQueued     prometheus.Gauge

	// Network capture metrics
	PacketsReceived prometheus.Counter
	ParseErrors     prometheus.Counter
	BatchesLost     prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
// A nil reg registers with the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		BatchesCaptured: f.NewCounter(prometheus.CounterOpts{
			Name: "i2s_batches_captured_total",
			Help: "Total number of receive batches copied into the ring buffer",
		}),
		WordsCaptured: f.NewCounter(prometheus.CounterOpts{
			Name: "i2s_words_captured_total",
			Help: "Total number of 32-bit sample words captured",
		}),
		BytesAppended: f.NewCounter(prometheus.CounterOpts{
			Name: "i2s_ring_bytes_appended_total",
			Help: "Total number of wire-order bytes appended to the ring buffer",
		}),
		BatchesDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "i2s_batches_dropped_total",
			Help: "Total number of receive batches discarded",
		}),
		ErrorsLatched: f.NewCounter(prometheus.CounterOpts{
			Name: "i2s_errors_latched_total",
			Help: "Total number of times the capture error flag was raised",
		}),
		ErrorLatched: f.NewGauge(prometheus.GaugeOpts{
			Name: "i2s_error_latched",
			Help: "1 while the capture error flag is set",
		}),

		OverflowEvents: f.NewCounter(prometheus.CounterOpts{
			Name: "i2s_ring_overflows_total",
			Help: "Total number of appends that did not fit in free space",
		}),
		OverflowDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "i2s_ring_overflow_dropped_bytes_total",
			Help: "Total number of unread bytes discarded to make room",
		}),
		RingUsed: f.NewGauge(prometheus.GaugeOpts{
			Name: "i2s_ring_used_bytes",
			Help: "Current number of unread bytes in the ring buffer",
		}),
		RingFill: f.NewGauge(prometheus.GaugeOpts{
			Name: "i2s_ring_fill_ratio",
			Help: "Current ring buffer fill level between 0 and 1",
		}),

		DrainPasses: f.NewCounter(prometheus.CounterOpts{
			Name: "i2s_drain_passes_total",
			Help: "Total number of non-empty drain passes",
		}),
		BytesForwarded: f.NewCounter(prometheus.CounterOpts{
			Name: "i2s_drain_bytes_forwarded_total",
			Help: "Total number of bytes handed to the sink",
		}),
		PassSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "i2s_drain_pass_bytes",
			Help:    "Bytes forwarded per drain pass",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1B to 512B
		}),
		SinkBusyWaits: f.NewCounter(prometheus.CounterOpts{
			Name: "i2s_sink_busy_waits_total",
			Help: "Total number of waits on a busy sink",
		}),
		SinkStalls: f.NewCounter(prometheus.CounterOpts{
			Name: "i2s_sink_stalls_total",
			Help: "Total number of passes ended by the sink timeout",
		}),
		Draining: f.NewGauge(prometheus.GaugeOpts{
			Name: "i2s_drain_draining",
			Help: "1 while the drain loop is in the DRAINING state",
		}),
		SinkQueued: f.NewGauge(prometheus.GaugeOpts{
			Name: "i2s_sink_queued_bytes",
			Help: "Current number of bytes waiting in the transmit FIFO",
		}),

		PacketsReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "i2s_udp_packets_received_total",
			Help: "Total number of UDP datagrams received",
		}),
		ParseErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "i2s_udp_parse_errors_total",
			Help: "Total number of UDP datagrams that failed to parse",
		}),
		BatchesLost: f.NewCounter(prometheus.CounterOpts{
			Name: "i2s_udp_batches_lost_total",
			Help: "Total number of batches missing from the UDP sequence",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "i2s_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "i2s_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "i2s_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordBatch records a batch copied into the ring buffer
func (m *Metrics) RecordBatch(words, bytes int) {
	m.BatchesCaptured.Inc()
	m.WordsCaptured.Add(float64(words))
	m.BytesAppended.Add(float64(bytes))
}

// RecordBatchDropped increments the dropped batches counter
func (m *Metrics) RecordBatchDropped() {
	m.BatchesDropped.Inc()
}

// RecordOverflow records an overflow event and the unread bytes it discarded
func (m *Metrics) RecordOverflow(droppedBytes int) {
	m.OverflowEvents.Inc()
	m.OverflowDropped.Add(float64(droppedBytes))
}

// RecordErrorLatched records a raised error flag
func (m *Metrics) RecordErrorLatched() {
	m.ErrorsLatched.Inc()
	m.ErrorLatched.Set(1)
}

// SetErrorLatched mirrors the current error flag
func (m *Metrics) SetErrorLatched(latched bool) {
	m.ErrorLatched.Set(boolToFloat(latched))
}

// RecordPass records a non-empty drain pass
func (m *Metrics) RecordPass(forwarded int) {
	m.DrainPasses.Inc()
	m.BytesForwarded.Add(float64(forwarded))
	m.PassSize.Observe(float64(forwarded))
}

// RecordSinkBusy increments the busy-wait counter
func (m *Metrics) RecordSinkBusy() {
	m.SinkBusyWaits.Inc()
}

// RecordSinkStall increments the sink stall counter
func (m *Metrics) RecordSinkStall() {
	m.SinkStalls.Inc()
}

// SetRing sets the ring occupancy gauges
func (m *Metrics) SetRing(used, capacity int) {
	m.RingUsed.Set(float64(used))
	if capacity > 0 {
		m.RingFill.Set(float64(used) / float64(capacity))
	}
}

// SetDraining sets the drain state gauge
func (m *Metrics) SetDraining(draining bool) {
	m.Draining.Set(boolToFloat(draining))
}

// SetSinkQueued sets the transmit FIFO occupancy
func (m *Metrics) SetSinkQueued(n int) {
	m.SinkQueued.Set(float64(n))
}

// AddUDP adds deltas of the network source counters
func (m *Metrics) AddUDP(received, parseErrors, lost uint64) {
	m.PacketsReceived.Add(float64(received))
	m.ParseErrors.Add(float64(parseErrors))
	m.BatchesLost.Add(float64(lost))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
