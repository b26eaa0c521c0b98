package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/vango-dev/ghostwatch/internal/config"
	"github.com/vango-dev/ghostwatch/internal/errors"
	"github.com/vango-dev/ghostwatch/pkg/batch"
	"github.com/vango-dev/ghostwatch/pkg/dictionary"
	"github.com/vango-dev/ghostwatch/pkg/hotswap"
	"github.com/vango-dev/ghostwatch/pkg/metrics"
	"github.com/vango-dev/ghostwatch/pkg/server"
)

// demoInterval matches the telemetry cadence of the bundled demo.
const demoInterval = 500 * time.Millisecond

type serveOptions struct {
	configDir  string
	addr       string
	dictPath   string
	framing    string
	adminToken string
	logLevel   string
	demo       bool
}

func serveCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the compression server",
		Long: `Run the HTTP and WebSocket server.

Settings come from ghostwatch.json or ghostwatch.toml in --config,
then GHOSTWATCH_* environment variables, then flags.

Endpoints:
  GET  /ws                    real-time stream (?channel=name)
  GET  /dictionary            current dictionary
  GET  /dictionary/{version}  a specific dictionary version
  PUT  /admin/dictionary      hot-swap (requires an admin token)
  GET  /metrics               Prometheus metrics
  GET  /healthz               health check

Examples:
  ghostwatch serve --dict data.dict
  ghostwatch serve --demo
  GHOSTWATCH_ADMIN_TOKEN=secret ghostwatch serve --framing out-of-band`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configDir, "config", "c", ".", "Directory holding ghostwatch.json or ghostwatch.toml")
	cmd.Flags().StringVarP(&opts.addr, "addr", "a", "", "Listen address (default from config)")
	cmd.Flags().StringVar(&opts.dictPath, "dict", "", "Dictionary file (default from config)")
	cmd.Flags().StringVar(&opts.framing, "framing", "", "Data framing: tagged or out-of-band")
	cmd.Flags().StringVar(&opts.adminToken, "admin-token", "", "Enable PUT /admin/dictionary with this bearer token")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	cmd.Flags().BoolVar(&opts.demo, "demo", false, "Publish demo telemetry and serve /api/data")

	return cmd
}

// loadConfig reads the config file in dir when present and applies the
// environment and flag overrides.
func loadConfig(opts serveOptions, getenv func(string) string) (*config.Config, error) {
	cfg := config.New()
	if config.Exists(opts.configDir) {
		loaded, err := config.Load(opts.configDir)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(getenv); err != nil {
		return nil, err
	}

	if opts.addr != "" {
		cfg.Addr = opts.addr
	}
	if opts.dictPath != "" {
		cfg.Dictionary.Path = opts.dictPath
		cfg.Dictionary.S3 = config.S3Config{}
	}
	if opts.framing != "" {
		cfg.WebSocket.Framing = opts.framing
	}
	if opts.adminToken != "" {
		cfg.Admin.Token = opts.adminToken
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServe(ctx context.Context, opts serveOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg, err := loadConfig(opts, os.Getenv)
	if err != nil {
		return err
	}

	logger, err := newLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	src := dictionarySource(cfg)
	initial, err := dictionary.LoadInitial(ctx, src, 1)
	if err != nil {
		return dictionaryError(err, src)
	}
	store := dictionary.NewStore(initial, dictionary.WithRetain(cfg.Dictionary.Retain))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewPrometheus(
		metrics.WithRegistry(reg),
		metrics.WithNamespace(cfg.Metrics.Namespace),
	)
	m.SetVersion(initial.Version())

	srv, err := server.New(serverConfig(cfg, logger, m, reg), store)
	if err != nil {
		return errors.New("E140").Wrap(err)
	}

	if opts.demo {
		srv.HandleFunc("/api/data", handleDemoData)
		go runDemo(ctx, srv, cfg.WebSocket.DefaultChannel, demoInterval)
	}

	if interval := cfg.ReloadInterval(); interval > 0 {
		w := hotswap.NewWatcher(src, srv.Coordinator(), interval, logger)
		go func() {
			if err := w.Run(ctx); err != nil && !stderrors.Is(err, context.Canceled) {
				logger.Error("dictionary watcher stopped", "error", err)
			}
		}()
	}

	logger.Info("dictionary loaded",
		"source", src,
		"version", initial.Version(),
		"size", initial.Len(),
		"digest", initial.Digest())

	if err := srv.Run(ctx); err != nil {
		return errors.New("E140").Wrap(err)
	}
	return nil
}

// serverConfig maps file settings onto the server.
func serverConfig(cfg *config.Config, logger *slog.Logger, m metrics.Sink, reg *prometheus.Registry) *server.Config {
	sc := server.DefaultConfig()
	sc.Address = cfg.Addr
	sc.Framing = cfg.Framing()
	sc.DefaultChannel = cfg.WebSocket.DefaultChannel
	sc.ReadTimeout = cfg.ReadTimeout()
	sc.WriteTimeout = cfg.WriteTimeout()
	sc.HeartbeatInterval = cfg.Heartbeat()
	sc.MaxMessageSize = cfg.WebSocket.MaxMessageSize
	sc.Batch = batch.Options{
		FlushInterval: cfg.FlushInterval(),
		SizeThreshold: cfg.Batch.Size,
		MaxPending:    cfg.Batch.MaxPending,
	}
	sc.MinCompressSize = cfg.Compression.MinSize
	sc.CompressionLevel = cfg.Level()
	sc.AdminToken = cfg.Admin.Token
	sc.Logger = logger
	sc.Metrics = m
	sc.Registerer = reg
	sc.Gatherer = reg

	if slices.Contains(cfg.WebSocket.AllowedOrigins, "*") {
		sc.CheckOrigin = func(*http.Request) bool { return true }
	}
	return sc
}

// dictionarySource selects S3 when a bucket and key are configured, and the
// local file otherwise.
func dictionarySource(cfg *config.Config) dictionary.Source {
	if s := cfg.Dictionary.S3; s.Enabled() {
		return dictionary.S3Source{
			Client: newS3Client(s),
			Bucket: s.Bucket,
			Key:    s.Key,
		}
	}
	return dictionary.FileSource{Path: cfg.DictionaryPath()}
}

func newS3Client(c config.S3Config) *s3.Client {
	opts := s3.Options{
		Region:      c.Region,
		Credentials: envCredentials(os.Getenv),
	}
	if opts.Region == "" {
		opts.Region = os.Getenv("AWS_REGION")
	}
	if c.Endpoint != "" {
		opts.BaseEndpoint = aws.String(c.Endpoint)
		opts.UsePathStyle = true
	}
	return s3.New(opts)
}

// envCredentials reads static keys from the standard AWS variables. It
// returns nil when none are set so requests go out unsigned.
func envCredentials(getenv func(string) string) aws.CredentialsProvider {
	id, secret := getenv("AWS_ACCESS_KEY_ID"), getenv("AWS_SECRET_ACCESS_KEY")
	if id == "" || secret == "" {
		return nil
	}
	creds := aws.Credentials{
		AccessKeyID:     id,
		SecretAccessKey: secret,
		SessionToken:    getenv("AWS_SESSION_TOKEN"),
		Source:          "Environment",
	}
	return aws.NewCredentialsCache(aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		return creds, nil
	}))
}

// dictionaryError maps a startup load failure to a coded error.
func dictionaryError(err error, src dictionary.Source) error {
	switch {
	case stderrors.Is(err, dictionary.ErrDictionaryMissing):
		return errors.New("E100").Wrap(err)
	case stderrors.Is(err, dictionary.ErrEmpty), strings.Contains(err.Error(), "exceeds"):
		return errors.New("E102").Wrap(err)
	default:
		e := errors.New("E101").Wrap(err)
		if s, ok := src.(fmt.Stringer); ok {
			e.WithDetail("Could not read " + s.String())
		}
		return e
	}
}

type telemetry struct {
	Metric string  `json:"metric"`
	Value  float64 `json:"value"`
	Time   int64   `json:"time"`
}

// runDemo publishes a cpu_usage sample to channel every interval.
func runDemo(ctx context.Context, srv *server.Server, channel string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			msg := telemetry{Metric: "cpu_usage", Value: rand.Float64() * 100, Time: now.UnixMilli()}
			if err := srv.Publish(channel, msg); err != nil && !stderrors.Is(err, server.ErrNoChannel) {
				slog.Warn("demo publish failed", "channel", channel, "error", err)
			}
		}
	}
}

// handleDemoData serves a 50KB compressible JSON document.
func handleDemoData(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Timestamp int64  `json:"timestamp"`
		Data      string `json:"data"`
		Schema    string `json:"schema"`
	}{
		Timestamp: time.Now().UnixMilli(),
		Data:      strings.Repeat("X", 50*1024),
		Schema:    "telemetry_v1",
	})
}
