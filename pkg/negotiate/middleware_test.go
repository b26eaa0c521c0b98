package negotiate

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vango-dev/ghostwatch/pkg/codec"
	"github.com/vango-dev/ghostwatch/pkg/dictionary"
	"github.com/vango-dev/ghostwatch/pkg/protocol"
)

const telemetry = `{"schema":"telemetry_v1","data":"`

func newStore(t *testing.T) *dictionary.Store {
	t.Helper()
	d, err := dictionary.New(1, []byte(strings.Repeat(telemetry+`XXXXXXXX"}`, 16)), time.Now())
	if err != nil {
		t.Fatalf("dictionary.New: %v", err)
	}
	return dictionary.NewStore(d)
}

func newMiddleware(t *testing.T, opts Options) *Middleware {
	t.Helper()
	m, err := New(opts)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return m
}

func bodyHandler(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	})
}

func largeBody() string {
	return telemetry + strings.Repeat("X", 50000) + `"}`
}

func TestMiddleware_SmallBodyPassesThrough(t *testing.T) {
	m := newMiddleware(t, Options{Store: newStore(t)})
	body := strings.Repeat("a", 80)

	req := httptest.NewRequest(http.MethodGet, "/api/data", nil)
	req.Header.Set("Accept-Encoding", "zstd-dict, zstd, gzip")
	req.Header.Set(protocol.HeaderDictVersion, "1")
	rec := httptest.NewRecorder()
	m.Handler(bodyHandler(body)).ServeHTTP(rec, req)

	if ce := rec.Header().Get("Content-Encoding"); ce != "" {
		t.Fatalf("Content-Encoding = %q, want none for 80-byte body", ce)
	}
	if rec.Body.String() != body {
		t.Fatalf("body changed: %q", rec.Body.String())
	}
}

func TestMiddleware_LargeBodyUsesDictionary(t *testing.T) {
	store := newStore(t)
	m := newMiddleware(t, Options{Store: store})
	body := largeBody()

	req := httptest.NewRequest(http.MethodGet, "/api/data", nil)
	req.Header.Set("Accept-Encoding", "zstd-dict, zstd, gzip")
	req.Header.Set(protocol.HeaderDictVersion, "1")
	rec := httptest.NewRecorder()
	m.Handler(bodyHandler(body)).ServeHTTP(rec, req)

	if ce := rec.Header().Get("Content-Encoding"); ce != protocol.EncodingZstdDict {
		t.Fatalf("Content-Encoding = %q, want %q", ce, protocol.EncodingZstdDict)
	}
	if v := rec.Header().Get(protocol.HeaderDictVersion); v != "1" {
		t.Fatalf("%s = %q, want 1", protocol.HeaderDictVersion, v)
	}
	if vary := rec.Header().Values("Vary"); strings.Join(vary, ", ") != "Accept-Encoding, X-Dict-Version" {
		t.Fatalf("Vary = %v", vary)
	}
	if rec.Body.Len() >= len(body) {
		t.Fatalf("compressed body %d bytes, want < %d", rec.Body.Len(), len(body))
	}
	if cl := rec.Header().Get("Content-Length"); cl == "" {
		t.Fatal("Content-Length not set")
	}

	got, err := codec.New().Decompress(rec.Body.Bytes(), store.Current())
	if err != nil {
		t.Fatalf("Decompress() error: %v", err)
	}
	if string(got) != body {
		t.Fatal("decompressed body differs from original")
	}
}

func TestMiddleware_EncodingFallbacks(t *testing.T) {
	tests := []struct {
		name     string
		accept   string
		version  string
		wantCE   string
		wantDict string
	}{
		{"unknown_version_falls_back_to_zstd", "zstd-dict, zstd, gzip", "9", "zstd", ""},
		{"no_version_header", "zstd-dict, zstd", "", "zstd", ""},
		{"gzip_only", "gzip", "1", "gzip", ""},
		{"dict_refused_by_quality", "zstd-dict;q=0, gzip", "1", "gzip", ""},
		{"identity", "identity", "1", "", ""},
		{"no_header", "", "", "", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := newMiddleware(t, Options{Store: newStore(t)})
			req := httptest.NewRequest(http.MethodGet, "/api/data", nil)
			if tc.accept != "" {
				req.Header.Set("Accept-Encoding", tc.accept)
			}
			if tc.version != "" {
				req.Header.Set(protocol.HeaderDictVersion, tc.version)
			}
			rec := httptest.NewRecorder()
			m.Handler(bodyHandler(largeBody())).ServeHTTP(rec, req)

			if ce := rec.Header().Get("Content-Encoding"); ce != tc.wantCE {
				t.Fatalf("Content-Encoding = %q, want %q", ce, tc.wantCE)
			}
			if v := rec.Header().Get(protocol.HeaderDictVersion); v != tc.wantDict {
				t.Fatalf("%s = %q, want %q", protocol.HeaderDictVersion, v, tc.wantDict)
			}
		})
	}
}

func TestMiddleware_SkipsUncompressibleResponses(t *testing.T) {
	store := newStore(t)
	tests := []struct {
		name    string
		method  string
		handler http.Handler
	}{
		{"head", http.MethodHead, bodyHandler(largeBody())},
		{"not_modified", http.MethodGet, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotModified)
		})},
		{"already_encoded", http.MethodGet, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Encoding", "br")
			_, _ = io.WriteString(w, largeBody())
		})},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := newMiddleware(t, Options{Store: store})
			req := httptest.NewRequest(tc.method, "/", nil)
			req.Header.Set("Accept-Encoding", "zstd-dict, zstd, gzip")
			req.Header.Set(protocol.HeaderDictVersion, "1")
			rec := httptest.NewRecorder()
			m.Handler(tc.handler).ServeHTTP(rec, req)

			if ce := rec.Header().Get("Content-Encoding"); ce != "" && ce != "br" {
				t.Fatalf("Content-Encoding = %q, want untouched", ce)
			}
		})
	}
}

type failingCompressor struct{}

func (failingCompressor) Compress([]byte, *dictionary.Dictionary) ([]byte, error) {
	return nil, &codec.EncodeError{Version: 1, Err: errors.New("boom")}
}

func TestMiddleware_EncodeErrorSendsUncompressed(t *testing.T) {
	m := newMiddleware(t, Options{Store: newStore(t), Codec: failingCompressor{}})
	body := largeBody()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Encoding", "zstd-dict")
	req.Header.Set(protocol.HeaderDictVersion, "1")
	rec := httptest.NewRecorder()
	m.Handler(bodyHandler(body)).ServeHTTP(rec, req)

	if ce := rec.Header().Get("Content-Encoding"); ce != "" {
		t.Fatalf("Content-Encoding = %q, want none after encode failure", ce)
	}
	if rec.Body.String() != body {
		t.Fatal("body lost after encode failure")
	}
}

func TestMiddleware_FlushStreamsUncompressed(t *testing.T) {
	m := newMiddleware(t, Options{Store: newStore(t)})
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "event: one\n\n")
		w.(http.Flusher).Flush()
		_, _ = io.WriteString(w, strings.Repeat("x", 4096))
	})

	req := httptest.NewRequest(http.MethodGet, "/stream", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	m.Handler(h).ServeHTTP(rec, req)

	if ce := rec.Header().Get("Content-Encoding"); ce != "" {
		t.Fatalf("Content-Encoding = %q, want none when streaming", ce)
	}
	if rec.Body.Len() != len("event: one\n\n")+4096 {
		t.Fatalf("streamed body length = %d", rec.Body.Len())
	}
}

func TestDecide(t *testing.T) {
	store := newStore(t)
	tests := []struct {
		accept  string
		version string
		want    Mode
	}{
		{"zstd-dict", "1", ModeDictionary},
		{"ZSTD-DICT;q=0.5", "1", ModeDictionary},
		{"zstd-dict", "0", ModePassthrough},
		{"zstd-dict", "abc", ModePassthrough},
		{"zstd-dict, gzip", "2", ModeGzip},
		{"zstd", "1", ModeZstd},
		{"*", "", ModeGzip},
		{"br", "", ModePassthrough},
	}
	for _, tc := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Accept-Encoding", tc.accept)
		if tc.version != "" {
			req.Header.Set(protocol.HeaderDictVersion, tc.version)
		}
		if got := Decide(req, store).Mode; got != tc.want {
			t.Errorf("Decide(%q, %q) = %v, want %v", tc.accept, tc.version, got, tc.want)
		}
	}
}
