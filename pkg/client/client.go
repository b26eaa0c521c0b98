package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-dev/ghostwatch/pkg/codec"
	"github.com/vango-dev/ghostwatch/pkg/dictionary"
	"github.com/vango-dev/ghostwatch/pkg/hotswap"
	"github.com/vango-dev/ghostwatch/pkg/metrics"
	"github.com/vango-dev/ghostwatch/pkg/protocol"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("client: closed")

// Config configures a client.
type Config struct {
	// URL is the WebSocket endpoint, e.g. "ws://localhost:8080/ws".
	URL string

	// Channel is joined via ?channel=. Empty selects the server default.
	Channel string

	// BaseURL is used to fetch dictionaries. Default: URL with an http(s)
	// scheme and no path.
	BaseURL string

	// Framing must match the server. Default: protocol.FramingTagged.
	Framing protocol.Framing

	// Fetcher overrides the HTTP dictionary fetcher.
	Fetcher hotswap.Fetcher

	HTTPClient *http.Client
	Dialer     *websocket.Dialer

	// Tracker configures buffering and backoff while fetching.
	Tracker hotswap.TrackerOptions

	// InboundBuffer is the number of frames queued between the reader and
	// the decoder. Default: 64.
	InboundBuffer int

	// WriteTimeout bounds Send. Default: 10 seconds.
	WriteTimeout time.Duration

	Logger  *slog.Logger
	Metrics metrics.Sink
}

// Message is one application message received from the server.
type Message struct {
	Data []byte

	// Batched is set for elements of a decoded data frame and unset for
	// plain text frames.
	Batched bool

	// Version is the dictionary the batch was decoded with, 0 if it was
	// sent uncompressed.
	Version uint32
}

// Handler receives messages in order on the client's decode goroutine.
type Handler func(Message)

// Stats is a point-in-time view of a client.
type Stats struct {
	Version   uint32 // current dictionary version
	Delivered uint64
	Poison    uint64
}

type inbound struct {
	messageType int
	data        []byte
}

// Client is the receiving half of the compression protocol over one
// WebSocket connection.
//
// A reader goroutine feeds frames to a decode goroutine, which owns the
// hot-swap tracker and calls the handler. Undecodable frames are counted
// and dropped, never delivered.
type Client struct {
	config  Config
	ws      *websocket.Conn
	tracker *hotswap.Tracker
	codec   *codec.Codec
	handler Handler
	logger  *slog.Logger
	metrics metrics.Sink

	inbound chan inbound
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	writeMu sync.Mutex

	version   atomic.Uint32
	delivered atomic.Uint64
	poison    atomic.Uint64

	errMu sync.Mutex
	err   error
}

// Dial connects to the server and starts fetching the current dictionary.
func Dial(ctx context.Context, config Config, handler Handler) (*Client, error) {
	if handler == nil {
		return nil, errors.New("client: nil handler")
	}
	target, err := url.Parse(config.URL)
	if err != nil {
		return nil, fmt.Errorf("client: parse url: %w", err)
	}
	if config.Channel != "" {
		q := target.Query()
		q.Set("channel", config.Channel)
		target.RawQuery = q.Encode()
	}
	if config.BaseURL == "" {
		config.BaseURL = baseURL(target)
	}
	if config.InboundBuffer <= 0 {
		config.InboundBuffer = 64
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	config.Metrics = metrics.OrNop(config.Metrics)
	if config.Fetcher == nil {
		config.Fetcher = &HTTPFetcher{BaseURL: config.BaseURL, Client: config.HTTPClient}
	}
	dialer := config.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	ws, _, err := dialer.DialContext(ctx, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", target, err)
	}

	opts := config.Tracker
	opts.Logger = config.Logger
	opts.Metrics = config.Metrics

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		config:  config,
		ws:      ws,
		tracker: hotswap.NewTracker(config.Fetcher, opts),
		codec:   codec.New(),
		handler: handler,
		logger:  config.Logger.With("component", "client"),
		metrics: config.Metrics,
		inbound: make(chan inbound, config.InboundBuffer),
		ctx:     runCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go c.readLoop()
	go c.run()
	return c, nil
}

func baseURL(u *url.URL) string {
	scheme := "http"
	if u.Scheme == "wss" || u.Scheme == "https" {
		scheme = "https"
	}
	return (&url.URL{Scheme: scheme, Host: u.Host}).String()
}

// Send writes v as a JSON text message.
func (c *Client) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("client: marshal: %w", err)
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Version returns the current dictionary version, 0 before the first fetch.
func (c *Client) Version() uint32 {
	return c.version.Load()
}

// Stats returns delivery counters.
func (c *Client) Stats() Stats {
	return Stats{
		Version:   c.version.Load(),
		Delivered: c.delivered.Load(),
		Poison:    c.poison.Load(),
	}
}

// Done is closed once the client has stopped.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that stopped the client, if any.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Close closes the connection and waits for the decode goroutine to exit.
func (c *Client) Close() error {
	c.cancel()
	c.writeMu.Lock()
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := c.ws.Close()
	<-c.done
	return err
}

func (c *Client) readLoop() {
	defer close(c.inbound)
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				c.setErr(err)
			}
			return
		}
		select {
		case c.inbound <- inbound{messageType: mt, data: data}:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

// run owns the tracker.
func (c *Client) run() {
	defer close(c.done)
	defer c.cancel()

	c.tracker.Start(c.ctx)
	for {
		select {
		case <-c.ctx.Done():
			return
		case r := <-c.tracker.Results():
			decisions := c.tracker.Resolve(c.ctx, r)
			c.version.Store(c.tracker.Version())
			for _, d := range decisions {
				c.handleDecision(d)
			}
		case in, ok := <-c.inbound:
			if !ok {
				return
			}
			c.handleInbound(in)
		}
	}
}

func (c *Client) handleInbound(in inbound) {
	f, err := c.config.Framing.Classify(in.messageType, in.data)
	if err != nil {
		if errors.Is(err, protocol.ErrShortFrame) {
			c.drop(0, err)
			return
		}
		c.logger.Debug("ignored frame", "error", err)
		return
	}

	switch f.Kind {
	case protocol.KindControl:
		c.tracker.OnControl(c.ctx, f.Version)
	case protocol.KindText:
		c.deliver(Message{Data: f.Payload})
	case protocol.KindData:
		d := c.tracker.Route(c.ctx, hotswap.Frame{
			Version:   f.Version,
			OutOfBand: c.config.Framing == protocol.FramingOutOfBand,
			Payload:   f.Payload,
		})
		c.handleDecision(d)
	}
}

func (c *Client) handleDecision(d hotswap.Decision) {
	switch d.Action {
	case hotswap.ActionBuffered:
	case hotswap.ActionPoison:
		c.drop(d.Frame.Version, dictionary.ErrDictionaryMissing)
	case hotswap.ActionRaw:
		c.deliverBatch(d.Frame.Payload, 0)
	case hotswap.ActionDecode:
		raw, dict, err := c.decode(d)
		if err != nil {
			c.drop(d.Frame.Version, err)
			return
		}
		c.deliverBatch(raw, dict.Version())
	}
}

// decode decompresses with the routed dictionary. An out-of-band frame
// carries no version, so on failure the other held dictionaries are tried.
func (c *Client) decode(d hotswap.Decision) ([]byte, *dictionary.Dictionary, error) {
	raw, err := c.codec.Decompress(d.Frame.Payload, d.Dict)
	if err == nil || c.config.Framing != protocol.FramingOutOfBand {
		return raw, d.Dict, err
	}
	for _, alt := range c.tracker.Candidates() {
		if alt == d.Dict {
			continue
		}
		if out, altErr := c.codec.Decompress(d.Frame.Payload, alt); altErr == nil {
			return out, alt, nil
		}
	}
	return nil, nil, err
}

func (c *Client) deliverBatch(raw []byte, version uint32) {
	var msgs []json.RawMessage
	if err := json.Unmarshal(raw, &msgs); err != nil {
		c.drop(version, err)
		return
	}
	for _, m := range msgs {
		c.deliver(Message{Data: m, Batched: true, Version: version})
	}
}

func (c *Client) deliver(m Message) {
	c.delivered.Add(1)
	c.handler(m)
}

func (c *Client) drop(version uint32, err error) {
	c.poison.Add(1)
	c.metrics.RecordPoisonFrame(metrics.ProtocolWS)
	c.logger.Warn("dropped undecodable frame", "version", version, "error", err)
}
