package config

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/klauspost/compress/zstd"
	"github.com/vango-dev/ghostwatch/internal/errors"
	"github.com/vango-dev/ghostwatch/pkg/codec"
	"github.com/vango-dev/ghostwatch/pkg/protocol"
)

const (
	// JSONFileName is the JSON configuration file name.
	JSONFileName = "ghostwatch.json"

	// TOMLFileName is the TOML configuration file name.
	TOMLFileName = "ghostwatch.toml"

	// DefaultAddr is the default listen address.
	DefaultAddr = ":8080"

	// DefaultChannel is joined by clients that name no channel.
	DefaultChannel = "main_room"

	// DefaultDictionaryPath is read at startup when no source is configured.
	DefaultDictionaryPath = "data.dict"
)

// Config is the ghostwatch.json / ghostwatch.toml configuration.
type Config struct {
	// Addr is the listen address.
	Addr string `json:"addr,omitempty" toml:"addr,omitempty"`

	// Dictionary configures where the compression dictionary comes from.
	Dictionary DictionaryConfig `json:"dictionary" toml:"dictionary"`

	// Batch configures per-channel batching.
	Batch BatchConfig `json:"batch" toml:"batch"`

	// Compression configures levels and thresholds.
	Compression CompressionConfig `json:"compression" toml:"compression"`

	// WebSocket configures the stream endpoint.
	WebSocket WebSocketConfig `json:"websocket" toml:"websocket"`

	// Admin configures the dictionary upload route.
	Admin AdminConfig `json:"admin" toml:"admin"`

	// Log configures logging.
	Log LogConfig `json:"log" toml:"log"`

	// Metrics configures the Prometheus exporter.
	Metrics MetricsConfig `json:"metrics" toml:"metrics"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// DictionaryConfig selects the dictionary source.
type DictionaryConfig struct {
	// Path is a local dictionary file.
	Path string `json:"path,omitempty" toml:"path,omitempty"`

	// S3 loads the dictionary from an object instead of Path.
	S3 S3Config `json:"s3,omitempty" toml:"s3,omitempty"`

	// ReloadInterval polls the source and hot-swaps on change (e.g. "30s").
	// Empty disables polling.
	ReloadInterval string `json:"reloadInterval,omitempty" toml:"reload_interval,omitempty"`

	// Retain is the number of previous versions kept for late frames.
	Retain int `json:"retain,omitempty" toml:"retain,omitempty"`
}

// S3Config locates a dictionary object.
type S3Config struct {
	Bucket   string `json:"bucket,omitempty" toml:"bucket,omitempty"`
	Key      string `json:"key,omitempty" toml:"key,omitempty"`
	Region   string `json:"region,omitempty" toml:"region,omitempty"`
	Endpoint string `json:"endpoint,omitempty" toml:"endpoint,omitempty"`
}

// Enabled reports whether an S3 source is configured.
func (s S3Config) Enabled() bool {
	return s.Bucket != "" && s.Key != ""
}

// BatchConfig configures batch queues.
type BatchConfig struct {
	// FlushInterval is the maximum time between flushes (default "100ms").
	FlushInterval string `json:"flushInterval,omitempty" toml:"flush_interval,omitempty"`

	// Size flushes early once this many messages are pending (default 64).
	Size int `json:"size,omitempty" toml:"size,omitempty"`

	// MaxPending bounds each queue (default 1024).
	MaxPending int `json:"maxPending,omitempty" toml:"max_pending,omitempty"`
}

// CompressionConfig configures compression.
type CompressionConfig struct {
	// Level is fastest, default, better or best.
	Level string `json:"level,omitempty" toml:"level,omitempty"`

	// MinSize is the smallest HTTP body that is compressed (default 1024).
	MinSize int `json:"minSize,omitempty" toml:"min_size,omitempty"`
}

// WebSocketConfig configures the stream endpoint.
type WebSocketConfig struct {
	// Framing is "tagged" (default) or "out-of-band".
	Framing string `json:"framing,omitempty" toml:"framing,omitempty"`

	// DefaultChannel is joined when ?channel= is absent.
	DefaultChannel string `json:"defaultChannel,omitempty" toml:"default_channel,omitempty"`

	Heartbeat      string `json:"heartbeat,omitempty" toml:"heartbeat,omitempty"`
	ReadTimeout    string `json:"readTimeout,omitempty" toml:"read_timeout,omitempty"`
	WriteTimeout   string `json:"writeTimeout,omitempty" toml:"write_timeout,omitempty"`
	MaxMessageSize int64  `json:"maxMessageSize,omitempty" toml:"max_message_size,omitempty"`

	// AllowedOrigins disables the same-origin check when it contains "*".
	AllowedOrigins []string `json:"allowedOrigins,omitempty" toml:"allowed_origins,omitempty"`
}

// AdminConfig configures the admin route.
type AdminConfig struct {
	// Token enables PUT /admin/dictionary. Prefer GHOSTWATCH_ADMIN_TOKEN.
	Token string `json:"token,omitempty" toml:"token,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `json:"level,omitempty" toml:"level,omitempty"`

	// Format is text, json or logfmt.
	Format string `json:"format,omitempty" toml:"format,omitempty"`
}

// MetricsConfig configures the Prometheus exporter.
type MetricsConfig struct {
	Namespace string `json:"namespace,omitempty" toml:"namespace,omitempty"`
}

// New creates a new Config with default values.
func New() *Config {
	return &Config{
		Addr: DefaultAddr,
		Dictionary: DictionaryConfig{
			Path:   DefaultDictionaryPath,
			Retain: 2,
		},
		Batch: BatchConfig{
			FlushInterval: "100ms",
			Size:          64,
			MaxPending:    1024,
		},
		Compression: CompressionConfig{
			Level:   "default",
			MinSize: 1024,
		},
		WebSocket: WebSocketConfig{
			Framing:        protocol.FramingTagged.String(),
			DefaultChannel: DefaultChannel,
			Heartbeat:      "30s",
			ReadTimeout:    "60s",
			WriteTimeout:   "10s",
			MaxMessageSize: 64 * 1024,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Namespace: "ghostwatch",
		},
	}
}

// Load reads ghostwatch.json, or ghostwatch.toml, from dir.
func Load(dir string) (*Config, error) {
	for _, name := range []string{JSONFileName, TOMLFileName} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}
	return nil, errors.New("E110").
		WithDetail("No " + JSONFileName + " or " + TOMLFileName + " found in " + dir).
		WithSuggestion("Run 'ghostwatch init' to write a default " + JSONFileName)
}

// LoadFile reads configuration from path. Files ending in .toml are TOML,
// everything else is JSON.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New("E110").Wrap(err)
	}

	cfg := New()
	if isTOML(path) {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			e := errors.New("E111").Wrap(err)
			var perr toml.ParseError
			if stderrors.As(err, &perr) {
				e.WithLocation(path, perr.Position.Line, 0)
			}
			return nil, e.WithSuggestion("Check that " + filepath.Base(path) + " is valid TOML")
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			e := errors.New("E111").Wrap(err)
			var serr *json.SyntaxError
			if stderrors.As(err, &serr) {
				line, col := position(data, serr.Offset)
				e.WithLocation(path, line, col)
			}
			return nil, e.WithSuggestion("Check that " + filepath.Base(path) + " is valid JSON")
		}
	}

	cfg.configPath = path
	cfg.applyDefaults()

	return cfg, nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// position converts a byte offset into a 1-based line and column.
func position(data []byte, offset int64) (int, int) {
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	before := data[:offset]
	line := bytes.Count(before, []byte("\n")) + 1
	col := int(offset) - bytes.LastIndexByte(before, '\n')
	return line, col
}

// SaveTo writes the configuration to path in the format its extension
// selects.
func (c *Config) SaveTo(path string) error {
	var buf bytes.Buffer
	if isTOML(path) {
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return errors.New("E110").Wrap(err)
		}
	} else {
		data, err := json.MarshalIndent(c, "", "  ")
		if err != nil {
			return errors.New("E110").Wrap(err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return errors.New("E110").Wrap(err)
	}

	c.configPath = path
	return nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// Dir returns the directory containing the config file.
func (c *Config) Dir() string {
	if c.configPath == "" {
		return ""
	}
	return filepath.Dir(c.configPath)
}

// DictionaryPath resolves Dictionary.Path against the config directory.
func (c *Config) DictionaryPath() string {
	if c.Dictionary.Path == "" || filepath.IsAbs(c.Dictionary.Path) {
		return c.Dictionary.Path
	}
	return filepath.Join(c.Dir(), c.Dictionary.Path)
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	d := New()
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.Dictionary.Path == "" && !c.Dictionary.S3.Enabled() {
		c.Dictionary.Path = d.Dictionary.Path
	}
	if c.Batch.FlushInterval == "" {
		c.Batch.FlushInterval = d.Batch.FlushInterval
	}
	if c.Compression.Level == "" {
		c.Compression.Level = d.Compression.Level
	}
	if c.WebSocket.Framing == "" {
		c.WebSocket.Framing = d.WebSocket.Framing
	}
	if c.WebSocket.DefaultChannel == "" {
		c.WebSocket.DefaultChannel = d.WebSocket.DefaultChannel
	}
	if c.WebSocket.Heartbeat == "" {
		c.WebSocket.Heartbeat = d.WebSocket.Heartbeat
	}
	if c.WebSocket.ReadTimeout == "" {
		c.WebSocket.ReadTimeout = d.WebSocket.ReadTimeout
	}
	if c.WebSocket.WriteTimeout == "" {
		c.WebSocket.WriteTimeout = d.WebSocket.WriteTimeout
	}
	if c.WebSocket.MaxMessageSize == 0 {
		c.WebSocket.MaxMessageSize = d.WebSocket.MaxMessageSize
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = d.Metrics.Namespace
	}
}

// ApplyEnv overrides settings from environment variables read with getenv.
// An invalid number is reported as a coded error.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("PORT"); v != "" {
		c.Addr = ":" + v
	}
	if v := getenv("GHOSTWATCH_ADDR"); v != "" {
		c.Addr = v
	}
	if v := getenv("GHOSTWATCH_DICT_PATH"); v != "" {
		c.Dictionary.Path = v
	}
	if v := getenv("GHOSTWATCH_FLUSH_INTERVAL"); v != "" {
		c.Batch.FlushInterval = v
	}
	if v := getenv("GHOSTWATCH_ADMIN_TOKEN"); v != "" {
		c.Admin.Token = v
	}
	if v := getenv("GHOSTWATCH_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}

	ints := []struct {
		name string
		dst  *int
		code string
	}{
		{"GHOSTWATCH_BATCH_SIZE", &c.Batch.Size, "E123"},
		{"GHOSTWATCH_MIN_COMPRESS_SIZE", &c.Compression.MinSize, "E124"},
	}
	for _, e := range ints {
		v := getenv(e.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.New(e.code).
				WithDetail(e.name + " must be an integer, got " + strconv.Quote(v)).
				Wrap(err)
		}
		*e.dst = n
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	durations := []struct {
		field    string
		value    string
		optional bool
	}{
		{"batch.flushInterval", c.Batch.FlushInterval, false},
		{"dictionary.reloadInterval", c.Dictionary.ReloadInterval, true},
		{"websocket.heartbeat", c.WebSocket.Heartbeat, false},
		{"websocket.readTimeout", c.WebSocket.ReadTimeout, false},
		{"websocket.writeTimeout", c.WebSocket.WriteTimeout, false},
	}
	for _, d := range durations {
		if d.value == "" && d.optional {
			continue
		}
		if v, err := time.ParseDuration(d.value); err != nil || v <= 0 {
			return errors.New("E120").
				WithDetail(d.field + " must be a positive duration, got " + strconv.Quote(d.value))
		}
	}

	if _, err := protocol.ParseFraming(c.WebSocket.Framing); err != nil {
		return errors.New("E121").Wrap(err)
	}
	if _, err := codec.ParseLevel(c.Compression.Level); err != nil {
		return errors.New("E122").Wrap(err)
	}
	if c.Batch.Size < 0 || c.Batch.MaxPending < 0 {
		return errors.New("E123")
	}
	if c.Compression.MinSize < 0 || c.WebSocket.MaxMessageSize < 0 || c.Dictionary.Retain < 0 {
		return errors.New("E124")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("E125").WithDetail("unknown log level " + strconv.Quote(c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json", "logfmt":
	default:
		return errors.New("E125").WithDetail("unknown log format " + strconv.Quote(c.Log.Format))
	}
	return nil
}

// Parsed accessors; they assume Validate succeeded.

func (c *Config) FlushInterval() time.Duration  { return mustDuration(c.Batch.FlushInterval) }
func (c *Config) ReloadInterval() time.Duration { return mustDuration(c.Dictionary.ReloadInterval) }
func (c *Config) Heartbeat() time.Duration      { return mustDuration(c.WebSocket.Heartbeat) }
func (c *Config) ReadTimeout() time.Duration    { return mustDuration(c.WebSocket.ReadTimeout) }
func (c *Config) WriteTimeout() time.Duration   { return mustDuration(c.WebSocket.WriteTimeout) }

// Framing returns the parsed framing.
func (c *Config) Framing() protocol.Framing {
	f, _ := protocol.ParseFraming(c.WebSocket.Framing)
	return f
}

// Level returns the parsed compression level.
func (c *Config) Level() zstd.EncoderLevel {
	l, err := codec.ParseLevel(c.Compression.Level)
	if err != nil {
		return zstd.SpeedDefault
	}
	return l
}

func mustDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// Exists checks if a config file exists in the given directory.
func Exists(dir string) bool {
	for _, name := range []string{JSONFileName, TOMLFileName} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}
