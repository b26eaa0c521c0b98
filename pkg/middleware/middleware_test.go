package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	traceID     = "4bf92f3577b34da6a3ce929d0e0e4736"
	traceparent = "00-" + traceID + "-00f067aa0ba902b7-01"
)

func TestOpenTelemetry_ContinuesIncomingTrace(t *testing.T) {
	var got trace.SpanContext
	r := chi.NewRouter()
	r.Use(OpenTelemetry(WithPropagator(propagation.TraceContext{})))
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		got = trace.SpanContextFromContext(r.Context())
	})

	req := httptest.NewRequest("GET", "/items/42", nil)
	req.Header.Set("traceparent", traceparent)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	if got.TraceID().String() != traceID {
		t.Fatalf("TraceID=%s, want %s", got.TraceID(), traceID)
	}
}

func TestOpenTelemetry_Filter(t *testing.T) {
	var got trace.SpanContext
	mw := OpenTelemetry(
		WithPropagator(propagation.TraceContext{}),
		WithFilter(func(r *http.Request) bool { return r.URL.Path != "/healthz" }),
	)
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = trace.SpanContextFromContext(r.Context())
	}))

	req := httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set("traceparent", traceparent)
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got.IsValid() {
		t.Fatal("filtered request should not carry a span context")
	}
}

func TestOpenTelemetry_PreservesStatus(t *testing.T) {
	h := OpenTelemetry()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want 500", rec.Code)
	}
}

func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metrics
				}
			}
			return m
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return nil
}

func TestPrometheus_CountsByRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := chi.NewRouter()
	r.Use(Prometheus(WithRegistry(reg)))
	r.Get("/dictionary/{version}", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "version") == "9" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("dict"))
	})

	for _, path := range []string{"/dictionary/1", "/dictionary/2", "/dictionary/9"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", path, nil))
	}

	ok := findMetric(t, reg, "ghostwatch_http_requests_total",
		map[string]string{"route": "/dictionary/{version}", "status": "200"})
	if got := ok.GetCounter().GetValue(); got != 2 {
		t.Errorf("requests_total{200}=%v, want 2", got)
	}
	notFound := findMetric(t, reg, "ghostwatch_http_requests_total",
		map[string]string{"route": "/dictionary/{version}", "status": "404"})
	if got := notFound.GetCounter().GetValue(); got != 1 {
		t.Errorf("requests_total{404}=%v, want 1", got)
	}
	dur := findMetric(t, reg, "ghostwatch_http_request_duration_seconds",
		map[string]string{"route": "/dictionary/{version}"})
	if got := dur.GetHistogram().GetSampleCount(); got != 3 {
		t.Errorf("duration count=%d, want 3", got)
	}
	bytesOut := findMetric(t, reg, "ghostwatch_http_response_bytes_total",
		map[string]string{"route": "/dictionary/{version}"})
	if got := bytesOut.GetCounter().GetValue(); got < 8 {
		t.Errorf("response_bytes_total=%v, want at least 8", got)
	}
}

func TestPrometheus_Namespace(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := Prometheus(WithRegistry(reg), WithNamespace("gw"), WithSubsystem("api"),
		WithConstLabels(prometheus.Labels{"instance": "test"}))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/x", nil))

	m := findMetric(t, reg, "gw_api_requests_total", map[string]string{"route": "unmatched", "instance": "test"})
	if got := m.GetCounter().GetValue(); got != 1 {
		t.Fatalf("requests_total=%v, want 1", got)
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(Logger(logger))
	r.Get("/ok", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("hi")) })
	r.Get("/fail", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/ok", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/fail", nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d log lines, want 2:\n%s", len(lines), buf.String())
	}
	for _, want := range []string{"level=DEBUG", "path=/ok", "status=200", "bytes=2", "component=http", "request_id="} {
		if !strings.Contains(lines[0], want) {
			t.Errorf("line %q missing %q", lines[0], want)
		}
	}
	for _, want := range []string{"level=WARN", "status=502"} {
		if !strings.Contains(lines[1], want) {
			t.Errorf("line %q missing %q", lines[1], want)
		}
	}
}
