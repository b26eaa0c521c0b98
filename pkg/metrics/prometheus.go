package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config configures the Prometheus sink.
type Config struct {
	// Namespace is the metrics namespace (default: "ghostwatch").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for compressed frame sizes.
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures the Prometheus sink.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		if namespace != "" {
			c.Namespace = namespace
		}
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the frame size histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "ghostwatch",
		Buckets:   []float64{64, 256, 1024, 4096, 16384, 65536, 262144}, // 64B to 256KB
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Prometheus is a Sink backed by client_golang collectors.
type Prometheus struct {
	bytesSaved      *prometheus.CounterVec
	bytesOriginal   *prometheus.CounterVec
	bytesCompressed *prometheus.CounterVec
	ratio           *prometheus.GaugeVec
	frameSize       *prometheus.HistogramVec
	poisonFrames    *prometheus.CounterVec
	dropped         *prometheus.CounterVec
	fallbacks       *prometheus.CounterVec
	dictVersion     prometheus.Gauge
	swaps           prometheus.Counter
	broadcastFails  prometheus.Counter
	connections     prometheus.Gauge
	channels        prometheus.Gauge
}

var _ Sink = (*Prometheus)(nil)

// NewPrometheus registers the GhostWatch collectors and returns a Sink.
// It panics if the collectors are already registered with the registry.
func NewPrometheus(opts ...Option) *Prometheus {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		}, labels)
	}

	return &Prometheus{
		bytesSaved:      counterVec("bytes_saved_total", "Bytes saved by compression", "protocol"),
		bytesOriginal:   counterVec("bytes_original_total", "Uncompressed bytes handed to the compressor", "protocol"),
		bytesCompressed: counterVec("bytes_compressed_total", "Bytes written after compression", "protocol"),
		poisonFrames:    counterVec("poison_frames_total", "Frames dropped because they failed to decode", "protocol"),
		dropped:         counterVec("messages_dropped_total", "Messages discarded before delivery", "protocol", "reason"),
		fallbacks:       counterVec("encode_fallbacks_total", "Payloads sent uncompressed after an encode failure", "protocol"),

		ratio: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "compression_ratio",
			Help:        "Compressed/original size of the most recent payload",
			ConstLabels: config.ConstLabels,
		}, []string{"protocol"}),

		frameSize: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "frame_size_bytes",
			Help:        "Compressed payload size in bytes",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"protocol"}),

		dictVersion: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "dictionary_version",
			Help:        "Version of the active compression dictionary",
			ConstLabels: config.ConstLabels,
		}),

		swaps: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "dictionary_swaps_total",
			Help:        "Total number of dictionary hot-swaps",
			ConstLabels: config.ConstLabels,
		}),

		broadcastFails: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "broadcast_failures_total",
			Help:        "Dictionary announcements that could not be delivered to a peer",
			ConstLabels: config.ConstLabels,
		}),

		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connections",
			Help:        "Number of open WebSocket connections",
			ConstLabels: config.ConstLabels,
		}),

		channels: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "channels",
			Help:        "Number of live channels",
			ConstLabels: config.ConstLabels,
		}),
	}
}

// RecordCompression implements Sink.
func (p *Prometheus) RecordCompression(proto string, original, compressed int) {
	p.bytesOriginal.WithLabelValues(proto).Add(float64(original))
	p.bytesCompressed.WithLabelValues(proto).Add(float64(compressed))
	if saved := original - compressed; saved > 0 {
		p.bytesSaved.WithLabelValues(proto).Add(float64(saved))
	}
	if original > 0 {
		p.ratio.WithLabelValues(proto).Set(float64(compressed) / float64(original))
	}
	p.frameSize.WithLabelValues(proto).Observe(float64(compressed))
}

// RecordPoisonFrame implements Sink.
func (p *Prometheus) RecordPoisonFrame(proto string) {
	p.poisonFrames.WithLabelValues(proto).Inc()
}

// RecordDropped implements Sink.
func (p *Prometheus) RecordDropped(proto, reason string, n int) {
	if n <= 0 {
		return
	}
	p.dropped.WithLabelValues(proto, reason).Add(float64(n))
}

// RecordFallback implements Sink.
func (p *Prometheus) RecordFallback(proto string) {
	p.fallbacks.WithLabelValues(proto).Inc()
}

// RecordSwap implements Sink.
func (p *Prometheus) RecordSwap(version uint32) {
	p.swaps.Inc()
	p.dictVersion.Set(float64(version))
}

// SetVersion sets the dictionary version gauge without counting a swap.
func (p *Prometheus) SetVersion(version uint32) {
	p.dictVersion.Set(float64(version))
}

// RecordBroadcastFailure implements Sink.
func (p *Prometheus) RecordBroadcastFailure() {
	p.broadcastFails.Inc()
}

// SetConnections implements Sink.
func (p *Prometheus) SetConnections(n int) {
	p.connections.Set(float64(n))
}

// SetChannels implements Sink.
func (p *Prometheus) SetChannels(n int) {
	p.channels.Set(float64(n))
}

// Handler returns the exposition handler for g. A nil g serves the default
// gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
