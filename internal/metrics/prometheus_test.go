package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCaptureMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordBatch(32, 128)
	m.RecordBatch(32, 128)
	m.RecordBatchDropped()
	m.RecordOverflow(12)
	m.RecordErrorLatched()

	tests := []struct {
		name   string
		metric prometheus.Collector
		want   float64
	}{
		{"batches", m.BatchesCaptured, 2},
		{"words", m.WordsCaptured, 64},
		{"bytes", m.BytesAppended, 256},
		{"dropped batches", m.BatchesDropped, 1},
		{"overflows", m.OverflowEvents, 1},
		{"overflow bytes", m.OverflowDropped, 12},
		{"latches", m.ErrorsLatched, 1},
		{"latched gauge", m.ErrorLatched, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := testutil.ToFloat64(tt.metric); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}

	m.SetErrorLatched(false)
	if got := testutil.ToFloat64(m.ErrorLatched); got != 0 {
		t.Errorf("Expected cleared flag gauge 0, got %v", got)
	}
}

func TestDrainMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordPass(128)
	m.RecordPass(40)
	m.RecordSinkBusy()
	m.RecordSinkStall()
	m.SetDraining(true)
	m.SetSinkQueued(17)
	m.SetRing(2048, 8192)

	if got := testutil.ToFloat64(m.DrainPasses); got != 2 {
		t.Errorf("Expected 2 passes, got %v", got)
	}
	if got := testutil.ToFloat64(m.BytesForwarded); got != 168 {
		t.Errorf("Expected 168 bytes forwarded, got %v", got)
	}
	if got := testutil.ToFloat64(m.SinkBusyWaits); got != 1 {
		t.Errorf("Expected 1 busy wait, got %v", got)
	}
	if got := testutil.ToFloat64(m.SinkStalls); got != 1 {
		t.Errorf("Expected 1 stall, got %v", got)
	}
	if got := testutil.ToFloat64(m.Draining); got != 1 {
		t.Errorf("Expected draining gauge 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.SinkQueued); got != 17 {
		t.Errorf("Expected 17 queued bytes, got %v", got)
	}
	if got := testutil.ToFloat64(m.RingFill); got != 0.25 {
		t.Errorf("Expected fill ratio 0.25, got %v", got)
	}
	if n := testutil.CollectAndCount(m.PassSize); n != 1 {
		t.Errorf("Expected 1 pass size histogram, got %d", n)
	}
}

func TestHTTPMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordHTTPRequest("GET", "/stats", "200", 0.01)
	m.RecordHTTPRequest("GET", "/stats", "200", 0.02)
	m.RecordHTTPError("POST", "/capture/reset", "client_error")

	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/stats", "200")); got != 2 {
		t.Errorf("Expected 2 requests, got %v", got)
	}
	if got := testutil.ToFloat64(m.HTTPErrors.WithLabelValues("POST", "/capture/reset", "client_error")); got != 1 {
		t.Errorf("Expected 1 error, got %v", got)
	}
}

func TestSeparateRegistries(t *testing.T) {
	// Registering twice on fresh registries must not panic
	a := NewMetrics(prometheus.NewRegistry())
	b := NewMetrics(prometheus.NewRegistry())
	a.AddUDP(5, 1, 2)

	if got := testutil.ToFloat64(a.PacketsReceived); got != 5 {
		t.Errorf("Expected 5 packets, got %v", got)
	}
	if got := testutil.ToFloat64(a.BatchesLost); got != 2 {
		t.Errorf("Expected 2 lost batches, got %v", got)
	}
	if got := testutil.ToFloat64(b.PacketsReceived); got != 0 {
		t.Errorf("Expected independent counters, got %v", got)
	}
}
