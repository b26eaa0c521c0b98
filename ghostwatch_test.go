package ghostwatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vango-dev/ghostwatch/pkg/dictionary"
	"github.com/vango-dev/ghostwatch/pkg/protocol"
)

const sampleDict = `{"timestamp":1700000000000,"data":"XXXXXXXXXXXXXXXX","schema":"telemetry_v1"}`

func TestOpenAndRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.dict")
	if err := os.WriteFile(path, []byte(sampleDict), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.Gatherer = prometheus.NewRegistry()
	srv, err := Open(context.Background(), path, cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if srv.Store().Version() != 1 {
		t.Fatalf("Version() = %d, want 1", srv.Store().Version())
	}

	body := `{"timestamp":1,"data":"` + strings.Repeat("X", 50*1024) + `","schema":"telemetry_v1"}`
	srv.HandleFunc("/api/data", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, body)
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Hub().Shutdown()
		ts.Close()
	})

	hc, err := NewHTTPClient(srv.Store().Current)
	if err != nil {
		t.Fatalf("NewHTTPClient() error = %v", err)
	}
	resp, err := hc.Get(ts.URL + "/api/data")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer resp.Body.Close()
	got, _ := io.ReadAll(resp.Body)
	if string(got) != body {
		t.Fatalf("body length = %d, want %d", len(got), len(body))
	}
	if v := resp.Header.Get(protocol.HeaderDictVersion); v != "1" {
		t.Errorf("%s = %q, want 1", protocol.HeaderDictVersion, v)
	}
}

func TestOpenMissing(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "none.dict"), nil)
	if !errors.Is(err, dictionary.ErrDictionaryMissing) {
		t.Fatalf("Open() error = %v, want ErrDictionaryMissing", err)
	}
}

func TestMiddlewarePassthrough(t *testing.T) {
	d, err := dictionary.New(1, []byte(sampleDict), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	mw, err := Middleware(NewStore(d), 0, nil)
	if err != nil {
		t.Fatalf("Middleware() error = %v", err)
	}

	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "small")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if rec.Body.String() != "small" || rec.Header().Get("Content-Encoding") != "" {
		t.Fatalf("response = %q (%q), want uncompressed passthrough", rec.Body.String(), rec.Header().Get("Content-Encoding"))
	}
}
