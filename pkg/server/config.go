package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/vango-dev/ghostwatch/pkg/batch"
	"github.com/vango-dev/ghostwatch/pkg/metrics"
	"github.com/vango-dev/ghostwatch/pkg/negotiate"
	"github.com/vango-dev/ghostwatch/pkg/protocol"
)

// DefaultChannel is joined by WebSocket clients that do not name a channel.
const DefaultChannel = "main_room"

// Config holds configuration for the HTTP/WebSocket server.
type Config struct {
	// Address is the address to listen on (e.g., ":8080" or "localhost:3000").
	// Default: ":8080".
	Address string

	// HTTP server timeouts

	// ReadHeaderTimeout bounds reading request headers.
	// Default: 10 seconds.
	ReadHeaderTimeout time.Duration

	// IdleTimeout is the keep-alive idle timeout for HTTP connections.
	// Default: 120 seconds.
	IdleTimeout time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Default: 30 seconds.
	ShutdownTimeout time.Duration

	// WebSocket

	// ReadBufferSize is the WebSocket read buffer size.
	// Default: 4096.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size.
	// Default: 4096.
	WriteBufferSize int

	// CheckOrigin is called to validate the request origin.
	// Default: SameOriginCheck.
	CheckOrigin func(r *http.Request) bool

	// ReadTimeout is the maximum time without any message or pong from a peer.
	// Default: 60 seconds.
	ReadTimeout time.Duration

	// WriteTimeout bounds each frame write, including announcements.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// HeartbeatInterval is the time between pings. It must be shorter than
	// ReadTimeout. Default: 30 seconds.
	HeartbeatInterval time.Duration

	// MaxMessageSize is the maximum size of an incoming WebSocket message.
	// Default: 64KB.
	MaxMessageSize int64

	// Protocol

	// Framing selects tagged or out-of-band data frames.
	// Default: protocol.FramingTagged.
	Framing protocol.Framing

	// DefaultChannel is the channel joined when ?channel= is absent.
	// Default: "main_room".
	DefaultChannel string

	// Batch configures every channel's batch queue.
	Batch batch.Options

	// Compression

	// MinCompressSize is the smallest HTTP body that is compressed.
	// Default: negotiate.DefaultMinSize.
	MinCompressSize int

	// CompressionLevel is the zstd level for frames and HTTP bodies.
	// Default: zstd.SpeedDefault.
	CompressionLevel zstd.EncoderLevel

	// Admin

	// AdminToken enables PUT /admin/dictionary for bearers of this token.
	// Empty disables the route.
	AdminToken string

	// Observability

	// Logger is the base logger. Default: slog.Default().
	Logger *slog.Logger

	// Metrics receives compression events. Default: metrics.Nop.
	Metrics metrics.Sink

	// Registerer, when set, receives HTTP request metrics.
	Registerer prometheus.Registerer

	// Gatherer is served on GET /metrics.
	// Default: prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	// Hooks

	// OnMessage handles text messages and decoded batch elements received
	// from clients. Default: publish to the sender's channel.
	OnMessage MessageHandler
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Address:           ":8080",
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		CheckOrigin:       SameOriginCheck,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		MaxMessageSize:    64 * 1024, // 64KB
		Framing:           protocol.FramingTagged,
		DefaultChannel:    DefaultChannel,
		Batch: batch.Options{
			FlushInterval: batch.DefaultFlushInterval,
			SizeThreshold: batch.DefaultSizeThreshold,
			MaxPending:    batch.DefaultMaxPending,
		},
		MinCompressSize:  negotiate.DefaultMinSize,
		CompressionLevel: zstd.SpeedDefault,
	}
}

// SameOriginCheck validates that the WebSocket request origin matches the host.
func SameOriginCheck(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Non-browser clients send no Origin.
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if r.Host == "" {
		return false
	}
	return originURL.Host == r.Host
}

// Clone returns a copy of the Config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// WithAddress sets the server address and returns the config for chaining.
func (c *Config) WithAddress(addr string) *Config {
	c.Address = addr
	return c
}

// WithFraming sets the data frame layout and returns the config for chaining.
func (c *Config) WithFraming(f protocol.Framing) *Config {
	c.Framing = f
	return c
}

// WithAdminToken sets the admin bearer token and returns the config for chaining.
func (c *Config) WithAdminToken(token string) *Config {
	c.AdminToken = token
	return c
}

// WithLogger sets the logger and returns the config for chaining.
func (c *Config) WithLogger(logger *slog.Logger) *Config {
	c.Logger = logger
	return c
}

// WithMetrics sets the metrics sink and returns the config for chaining.
func (c *Config) WithMetrics(m metrics.Sink) *Config {
	c.Metrics = m
	return c
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.WriteTimeout <= 0:
		return fmt.Errorf("%w: write timeout must be positive", ErrInvalidConfig)
	case c.ReadTimeout <= 0:
		return fmt.Errorf("%w: read timeout must be positive", ErrInvalidConfig)
	case c.HeartbeatInterval <= 0 || c.HeartbeatInterval >= c.ReadTimeout:
		return fmt.Errorf("%w: heartbeat interval %s must be positive and below read timeout %s",
			ErrInvalidConfig, c.HeartbeatInterval, c.ReadTimeout)
	case c.MaxMessageSize <= 0:
		return fmt.Errorf("%w: max message size must be positive", ErrInvalidConfig)
	case c.MinCompressSize < 0:
		return fmt.Errorf("%w: min compress size must not be negative", ErrInvalidConfig)
	case c.Framing != protocol.FramingTagged && c.Framing != protocol.FramingOutOfBand:
		return fmt.Errorf("%w: unknown framing %d", ErrInvalidConfig, c.Framing)
	}
	return nil
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	if c.DefaultChannel == "" {
		c.DefaultChannel = d.DefaultChannel
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = d.CheckOrigin
	}
	if c.CompressionLevel == 0 {
		c.CompressionLevel = d.CompressionLevel
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	c.Metrics = metrics.OrNop(c.Metrics)
	if c.Gatherer == nil {
		c.Gatherer = prometheus.DefaultGatherer
	}
	if c.OnMessage == nil {
		c.OnMessage = PublishToChannel
	}
}
