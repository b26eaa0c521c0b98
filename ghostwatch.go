// Package ghostwatch provides the public API for GhostWatch dictionary
// compression.
//
// This is the recommended import for embedding the server or client:
//
//	import "github.com/vango-dev/ghostwatch"
//
// Usage:
//
//	srv, err := ghostwatch.Open(ctx, "data.dict", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	srv.HandleFunc("/api/data", dataHandler)
//	go srv.Publish(ghostwatch.DefaultChannel, event)
//	log.Fatal(srv.Run(ctx))
package ghostwatch

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/vango-dev/ghostwatch/pkg/client"
	"github.com/vango-dev/ghostwatch/pkg/dictionary"
	"github.com/vango-dev/ghostwatch/pkg/negotiate"
	"github.com/vango-dev/ghostwatch/pkg/protocol"
	"github.com/vango-dev/ghostwatch/pkg/server"
)

// =============================================================================
// Dictionaries
// =============================================================================

// Dictionary is an immutable, versioned compression dictionary.
type Dictionary = dictionary.Dictionary

// Store holds the current dictionary and recently retired versions.
type Store = dictionary.Store

// Source loads dictionary content from a file, S3 or elsewhere.
type Source = dictionary.Source

// NewStore creates a store whose current dictionary is initial.
var NewStore = dictionary.NewStore

// =============================================================================
// Server (re-export from pkg/server)
// =============================================================================

// Server serves compressed streams, dictionaries and the admin route.
type Server = server.Server

// Config configures a Server.
type Config = server.Config

// DefaultConfig returns a Config with default values.
var DefaultConfig = server.DefaultConfig

// DefaultChannel is joined by clients that name no channel.
const DefaultChannel = server.DefaultChannel

// Framing selects how data frames carry the dictionary version.
type Framing = protocol.Framing

const (
	FramingTagged    = protocol.FramingTagged
	FramingOutOfBand = protocol.FramingOutOfBand
)

// NewServer creates a server around an existing store.
func NewServer(cfg *Config, store *Store) (*Server, error) {
	return server.New(cfg, store)
}

// Open loads the dictionary file at path as version 1 and returns a server
// for it. A nil cfg uses DefaultConfig.
func Open(ctx context.Context, path string, cfg *Config) (*Server, error) {
	return OpenSource(ctx, dictionary.FileSource{Path: path}, cfg)
}

// OpenSource is Open for any Source.
func OpenSource(ctx context.Context, src Source, cfg *Config) (*Server, error) {
	initial, err := dictionary.LoadInitial(ctx, src, 1)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return server.New(cfg, dictionary.NewStore(initial))
}

// Middleware returns HTTP middleware that compresses responses with the
// store's dictionaries for clients that advertise them. Bodies smaller than
// minSize (0 means the default) pass through.
func Middleware(store *Store, minSize int, logger *slog.Logger) (func(http.Handler) http.Handler, error) {
	m, err := negotiate.New(negotiate.Options{Store: store, MinSize: minSize, Logger: logger})
	if err != nil {
		return nil, err
	}
	return m.Handler, nil
}

// =============================================================================
// Client (re-export from pkg/client)
// =============================================================================

// Client is a streaming client that follows dictionary updates.
type Client = client.Client

// ClientConfig configures Dial.
type ClientConfig = client.Config

// Message is one decoded application message.
type Message = client.Message

// Dial connects to a server's stream endpoint.
func Dial(ctx context.Context, cfg ClientConfig, handler func(Message)) (*Client, error) {
	return client.Dial(ctx, cfg, handler)
}

// NewHTTPClient returns an http.Client that advertises the dictionary held()
// returns and decodes dictionary-compressed responses.
func NewHTTPClient(held func() *Dictionary) (*http.Client, error) {
	t, err := negotiate.NewTransport(http.DefaultTransport, held)
	if err != nil {
		return nil, err
	}
	return &http.Client{Transport: t}, nil
}
