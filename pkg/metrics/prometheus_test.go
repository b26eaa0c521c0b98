package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("counter Write() error: %v", err)
	}
	if m.Counter == nil {
		t.Fatal("expected counter metric to have Counter field")
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("gauge Write() error: %v", err)
	}
	if m.Gauge == nil {
		t.Fatal("expected gauge metric to have Gauge field")
	}
	return m.GetGauge().GetValue()
}

func histogramCount(t *testing.T, o prometheus.Observer) uint64 {
	t.Helper()
	metric, ok := o.(prometheus.Metric)
	if !ok {
		t.Fatalf("observer %T does not implement prometheus.Metric", o)
	}
	var m dto.Metric
	if err := metric.Write(&m); err != nil {
		t.Fatalf("histogram Write() error: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}

func TestPrometheus_RecordCompression(t *testing.T) {
	p := NewPrometheus(WithRegistry(prometheus.NewRegistry()))

	p.RecordCompression(ProtocolWS, 1000, 200)
	p.RecordCompression(ProtocolWS, 100, 150) // expansion saves nothing
	p.RecordCompression(ProtocolHTTP, 50000, 5000)

	if got := counterValue(t, p.bytesSaved.WithLabelValues(ProtocolWS)); got != 800 {
		t.Errorf("bytes_saved_total{ws}=%v, want 800", got)
	}
	if got := counterValue(t, p.bytesSaved.WithLabelValues(ProtocolHTTP)); got != 45000 {
		t.Errorf("bytes_saved_total{http}=%v, want 45000", got)
	}
	if got := counterValue(t, p.bytesOriginal.WithLabelValues(ProtocolWS)); got != 1100 {
		t.Errorf("bytes_original_total{ws}=%v, want 1100", got)
	}
	if got := counterValue(t, p.bytesCompressed.WithLabelValues(ProtocolWS)); got != 350 {
		t.Errorf("bytes_compressed_total{ws}=%v, want 350", got)
	}
	if got := gaugeValue(t, p.ratio.WithLabelValues(ProtocolHTTP)); got != 0.1 {
		t.Errorf("compression_ratio{http}=%v, want 0.1", got)
	}
	if got := histogramCount(t, p.frameSize.WithLabelValues(ProtocolWS)); got != 2 {
		t.Errorf("frame_size_bytes{ws} count=%d, want 2", got)
	}
}

func TestPrometheus_Events(t *testing.T) {
	p := NewPrometheus(WithRegistry(prometheus.NewRegistry()))

	p.RecordPoisonFrame(ProtocolWS)
	p.RecordPoisonFrame(ProtocolWS)
	p.RecordDropped(ProtocolWS, ReasonClosed, 2)
	p.RecordDropped(ProtocolWS, ReasonClosed, 0)
	p.RecordFallback(ProtocolHTTP)
	p.RecordSwap(2)
	p.RecordSwap(3)
	p.RecordBroadcastFailure()
	p.SetConnections(4)
	p.SetChannels(1)

	if got := counterValue(t, p.poisonFrames.WithLabelValues(ProtocolWS)); got != 2 {
		t.Errorf("poison_frames_total=%v, want 2", got)
	}
	if got := counterValue(t, p.dropped.WithLabelValues(ProtocolWS, ReasonClosed)); got != 2 {
		t.Errorf("messages_dropped_total=%v, want 2", got)
	}
	if got := counterValue(t, p.fallbacks.WithLabelValues(ProtocolHTTP)); got != 1 {
		t.Errorf("encode_fallbacks_total=%v, want 1", got)
	}
	if got := counterValue(t, p.swaps); got != 2 {
		t.Errorf("dictionary_swaps_total=%v, want 2", got)
	}
	if got := gaugeValue(t, p.dictVersion); got != 3 {
		t.Errorf("dictionary_version=%v, want 3", got)
	}
	if got := counterValue(t, p.broadcastFails); got != 1 {
		t.Errorf("broadcast_failures_total=%v, want 1", got)
	}
	if got := gaugeValue(t, p.connections); got != 4 {
		t.Errorf("connections=%v, want 4", got)
	}
	if got := gaugeValue(t, p.channels); got != 1 {
		t.Errorf("channels=%v, want 1", got)
	}
}

func TestPrometheus_NamespaceAndHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(
		WithRegistry(reg),
		WithNamespace("gw"),
		WithConstLabels(prometheus.Labels{"instance": "test"}),
	)
	p.RecordCompression(ProtocolHTTP, 10, 5)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Result().Body)

	want := `gw_bytes_saved_total{instance="test",protocol="http"} 5`
	if !strings.Contains(string(body), want) {
		t.Fatalf("metrics output missing %q:\n%s", want, body)
	}
}

func TestOrNop(t *testing.T) {
	if _, ok := OrNop(nil).(Nop); !ok {
		t.Fatal("OrNop(nil) should return Nop")
	}
	p := NewPrometheus(WithRegistry(prometheus.NewRegistry()))
	if OrNop(p) != Sink(p) {
		t.Fatal("OrNop(p) should return p")
	}
}
