package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/vango-dev/ghostwatch/pkg/codec"
	"github.com/vango-dev/ghostwatch/pkg/dictionary"
	"github.com/vango-dev/ghostwatch/pkg/hotswap"
	"github.com/vango-dev/ghostwatch/pkg/metrics"
	"github.com/vango-dev/ghostwatch/pkg/middleware"
	"github.com/vango-dev/ghostwatch/pkg/negotiate"
)

// Server serves the dictionary endpoints, the WebSocket stream and any
// application routes mounted with Handle.
type Server struct {
	config    *Config
	store     *dictionary.Store
	codec     *codec.Codec
	generic   *codec.Generic
	hub       *Hub
	coord     *hotswap.Coordinator
	negotiate *negotiate.Middleware
	router    chi.Router
	upgrader  websocket.Upgrader
	logger    *slog.Logger

	httpServer *http.Server
}

// New creates a server around store. The config is copied; nil selects
// DefaultConfig.
func New(config *Config, store *dictionary.Store) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	config = config.Clone()
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger := config.Logger.With("component", "server")
	cdc := codec.New(codec.WithLevel(config.CompressionLevel))
	generic, err := codec.NewGeneric(config.CompressionLevel)
	if err != nil {
		return nil, err
	}

	hub := NewHub(store, cdc, config.Framing, config.Batch, config.Logger, config.Metrics)
	coord := hotswap.NewCoordinator(store, hub,
		hotswap.WithLogger(config.Logger),
		hotswap.WithMetrics(config.Metrics),
	)
	neg, err := negotiate.New(negotiate.Options{
		Store:   store,
		MinSize: config.MinCompressSize,
		Codec:   cdc,
		Generic: generic,
		Logger:  config.Logger,
		Metrics: config.Metrics,
	})
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:    config,
		store:     store,
		codec:     cdc,
		generic:   generic,
		hub:       hub,
		coord:     coord,
		negotiate: neg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		logger: logger,
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.OpenTelemetry())
	if s.config.Registerer != nil {
		r.Use(middleware.Prometheus(middleware.WithRegistry(s.config.Registerer)))
	}
	r.Use(middleware.Logger(s.config.Logger))

	r.Get("/dictionary", s.handleDictionary)
	r.Get("/dictionary/{version}", s.handleDictionaryVersion)
	if s.config.AdminToken != "" {
		r.Put("/admin/dictionary", s.handleAdminSwap)
	}
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(s.config.Gatherer))
	r.Get("/ws", s.handleWebSocket)
	return r
}

// Handle mounts an application handler. Its responses go through
// compression negotiation.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.router.Handle(pattern, s.negotiate.Handler(h))
}

// HandleFunc mounts an application handler function.
func (s *Server) HandleFunc(pattern string, fn http.HandlerFunc) {
	s.Handle(pattern, fn)
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the chi router.
func (s *Server) Router() chi.Router {
	return s.router
}

// Hub returns the channel registry.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Coordinator returns the hot-swap coordinator.
func (s *Server) Coordinator() *hotswap.Coordinator {
	return s.coord
}

// Store returns the dictionary store.
func (s *Server) Store() *dictionary.Store {
	return s.store
}

// Config returns the server configuration.
func (s *Server) Config() *Config {
	return s.config
}

// Publish enqueues msg on a channel. See Hub.Publish.
func (s *Server) Publish(channel string, msg any) error {
	return s.hub.Publish(channel, msg)
}

// Run listens on the configured address until ctx is cancelled, SIGINT or
// SIGTERM arrives, or the listener fails, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
		IdleTimeout:       s.config.IdleTimeout,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			"address", ln.Addr().String(),
			"dictionary_version", s.store.Version(),
			"framing", s.config.Framing.String())
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-shutdown:
		s.logger.Info("shutting down...")
	case <-ctx.Done():
		s.logger.Info("shutting down...", "reason", context.Cause(ctx))
	}
	return s.Shutdown(context.Background())
}

// Shutdown closes every connection, then shuts the HTTP server down.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	s.hub.Shutdown()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.logger.Info("server shutdown complete")
	return nil
}
