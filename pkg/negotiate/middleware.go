package negotiate

import (
	"bytes"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/klauspost/compress/zstd"
	"github.com/vango-dev/ghostwatch/pkg/codec"
	"github.com/vango-dev/ghostwatch/pkg/metrics"
	"github.com/vango-dev/ghostwatch/pkg/protocol"
)

// DefaultMinSize is the smallest body worth compressing.
const DefaultMinSize = 1024

// Options configures the middleware.
type Options struct {
	// Store resolves declared dictionary versions. Required.
	Store Lookuper

	// MinSize is the smallest body that is compressed (default 1024).
	MinSize int

	// Codec compresses with a dictionary (default codec.New()).
	Codec codec.Compressor

	// Generic compresses without a dictionary (default zstd.SpeedDefault).
	Generic *codec.Generic

	Logger  *slog.Logger
	Metrics metrics.Sink
}

// Middleware compresses response bodies according to the request's
// capability headers.
type Middleware struct {
	opts    Options
	logger  *slog.Logger
	metrics metrics.Sink
}

// New creates the middleware.
func New(opts Options) (*Middleware, error) {
	if opts.MinSize <= 0 {
		opts.MinSize = DefaultMinSize
	}
	if opts.Codec == nil {
		opts.Codec = codec.New()
	}
	if opts.Generic == nil {
		g, err := codec.NewGeneric(zstd.SpeedDefault)
		if err != nil {
			return nil, err
		}
		opts.Generic = g
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{
		opts:    opts,
		logger:  logger.With("component", "negotiate"),
		metrics: metrics.OrNop(opts.Metrics),
	}, nil
}

// Handler wraps next. It has the func(http.Handler) http.Handler shape
// expected by chi's Use.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		bw := &bufferedWriter{ResponseWriter: w}
		next.ServeHTTP(bw, r)
		m.finish(bw, r)
	})
}

func (m *Middleware) finish(bw *bufferedWriter, r *http.Request) {
	if bw.streaming {
		return
	}
	w := bw.ResponseWriter
	status := bw.status
	if status == 0 {
		status = http.StatusOK
	}
	body := bw.buf.Bytes()

	h := w.Header()
	h.Add("Vary", "Accept-Encoding")
	h.Add("Vary", protocol.HeaderDictVersion)

	if !compressible(status, h, len(body), m.opts.MinSize) {
		w.WriteHeader(status)
		_, _ = w.Write(body)
		return
	}

	d := Decide(r, m.opts.Store)
	if d.Mode == ModePassthrough {
		w.WriteHeader(status)
		_, _ = w.Write(body)
		return
	}

	var out []byte
	var err error
	if d.Mode == ModeDictionary {
		out, err = m.opts.Codec.Compress(body, d.Dict)
	} else {
		out, err = m.opts.Generic.Encode(d.Mode.String(), body)
	}
	if err != nil {
		m.logger.Warn("response compression failed, sending uncompressed",
			"path", r.URL.Path, "encoding", d.Mode.String(), "error", err)
		m.metrics.RecordFallback(metrics.ProtocolHTTP)
		w.WriteHeader(status)
		_, _ = w.Write(body)
		return
	}
	if len(out) >= len(body) {
		w.WriteHeader(status)
		_, _ = w.Write(body)
		return
	}

	h.Set("Content-Encoding", d.Mode.String())
	if d.Mode == ModeDictionary {
		h.Set(protocol.HeaderDictVersion, strconv.FormatUint(uint64(d.Dict.Version()), 10))
	}
	h.Set("Content-Length", strconv.Itoa(len(out)))
	w.WriteHeader(status)
	_, _ = w.Write(out)

	m.metrics.RecordCompression(metrics.ProtocolHTTP, len(body), len(out))
}

// compressible reports whether a response may be compressed at all.
func compressible(status int, h http.Header, size, minSize int) bool {
	switch {
	case status < 200, status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	case h.Get("Content-Encoding") != "":
		return false
	case size < minSize:
		return false
	}
	return true
}

// bufferedWriter holds the response until the handler returns so the body
// size is known before choosing an encoding. A handler that flushes opts out
// and streams uncompressed.
type bufferedWriter struct {
	http.ResponseWriter
	buf         bytes.Buffer
	status      int
	streaming   bool
	wroteHeader bool
}

func (w *bufferedWriter) WriteHeader(code int) {
	if w.streaming {
		if !w.wroteHeader {
			w.wroteHeader = true
			w.ResponseWriter.WriteHeader(code)
		}
		return
	}
	if w.status == 0 {
		w.status = code
	}
}

func (w *bufferedWriter) Write(p []byte) (int, error) {
	if w.streaming {
		return w.ResponseWriter.Write(p)
	}
	return w.buf.Write(p)
}

// Flush switches to streaming: buffered bytes are written as-is.
func (w *bufferedWriter) Flush() {
	if !w.streaming {
		w.streaming = true
		status := w.status
		if status == 0 {
			status = http.StatusOK
		}
		w.wroteHeader = true
		w.ResponseWriter.WriteHeader(status)
		_, _ = w.ResponseWriter.Write(w.buf.Bytes())
		w.buf.Reset()
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap supports http.ResponseController.
func (w *bufferedWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
