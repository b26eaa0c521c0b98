package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/vango-dev/ghostwatch/pkg/codec"
	"github.com/vango-dev/ghostwatch/pkg/dictionary"
	"github.com/vango-dev/ghostwatch/pkg/metrics"
	"github.com/vango-dev/ghostwatch/pkg/protocol"
)

// MessageHandler receives application messages from a client: text frames
// verbatim and each element of a decoded data frame.
type MessageHandler func(c *Conn, data []byte)

// PublishToChannel is the default MessageHandler. It publishes the message
// to the sender's channel, as raw JSON when it is valid JSON and as a
// string otherwise.
func PublishToChannel(c *Conn, data []byte) {
	var msg any = string(data)
	if json.Valid(data) {
		msg = json.RawMessage(data)
	}
	if err := c.hub.Publish(c.ChannelID(), msg); err != nil {
		c.logger.Debug("publish failed", "error", err)
	}
}

// Conn is one WebSocket client.
//
// Writes are serialized by writeMu. The connection remembers the highest
// dictionary version it has announced and writes the announcement before
// the first data frame keyed to a newer version.
type Conn struct {
	id      string
	ws      *websocket.Conn
	hub     *Hub
	channel *Channel // set by Hub.Join

	store     *dictionary.Store
	dec       codec.Decompressor
	framing   protocol.Framing
	onMessage MessageHandler

	readTimeout  time.Duration
	writeTimeout time.Duration
	heartbeat    time.Duration

	logger  *slog.Logger
	metrics metrics.Sink

	writeMu   sync.Mutex
	announced uint32
	closed    bool

	closeOnce sync.Once
	done      chan struct{}
}

func newConn(ws *websocket.Conn, h *Hub, dec codec.Decompressor, cfg *Config) *Conn {
	id := uuid.NewString()
	return &Conn{
		id:           id,
		ws:           ws,
		hub:          h,
		store:        h.store,
		dec:          dec,
		framing:      cfg.Framing,
		onMessage:    cfg.OnMessage,
		readTimeout:  cfg.ReadTimeout,
		writeTimeout: cfg.WriteTimeout,
		heartbeat:    cfg.HeartbeatInterval,
		logger:       cfg.Logger.With("component", "ws", "conn", id),
		metrics:      metrics.OrNop(cfg.Metrics),
		done:         make(chan struct{}),
	}
}

// ID returns the connection id.
func (c *Conn) ID() string {
	return c.id
}

// ChannelID returns the id of the channel the connection joined.
func (c *Conn) ChannelID() string {
	if c.channel == nil {
		return ""
	}
	return c.channel.id
}

// Announced returns the highest dictionary version announced to the peer.
func (c *Conn) Announced() uint32 {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.announced
}

// Done is closed when the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Announce writes the control frame for version unless the peer already
// knows it or a newer one.
func (c *Conn) Announce(ctx context.Context, version uint32) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if version <= c.announced {
		return nil
	}
	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return c.writeControlLocked(version, deadline)
}

func (c *Conn) writeControlLocked(version uint32, deadline time.Time) error {
	if c.closed {
		return ErrConnClosed
	}
	c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(websocket.TextMessage, protocol.DictUpdate(version).Encode()); err != nil {
		return &ConnError{ConnID: c.id, Op: "announce", Err: err}
	}
	c.announced = version
	return nil
}

// writeData writes one encoded data frame compressed under version (0 for
// an uncompressed batch).
func (c *Conn) writeData(version uint32, messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(c.writeTimeout)
	if version > c.announced {
		if err := c.writeControlLocked(version, deadline); err != nil {
			return err
		}
	}
	if c.closed {
		return ErrConnClosed
	}
	c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(messageType, data); err != nil {
		return &ConnError{ConnID: c.id, Op: "write", Err: err}
	}
	return nil
}

// Close leaves the channel and closes the socket. It is safe to call more
// than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.hub.Leave(c)

		c.writeMu.Lock()
		c.closed = true
		c.writeMu.Unlock()

		if c.ws != nil {
			c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(time.Second))
			c.ws.Close()
		}
		c.logger.Debug("connection closed")
	})
}

// readLoop reads frames until the peer goes away.
func (c *Conn) readLoop() {
	defer c.Close()

	c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))
		return nil
	})

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("read failed", "error", err)
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))
		c.handle(messageType, data)
	}
}

func (c *Conn) handle(messageType int, data []byte) {
	f, err := c.framing.Classify(messageType, data)
	if err != nil {
		if errors.Is(err, protocol.ErrShortFrame) {
			c.poison(0, err)
			return
		}
		c.logger.Debug("ignored frame", "error", err)
		return
	}

	switch f.Kind {
	case protocol.KindControl:
		// The server owns the version counter.
		c.logger.Debug("ignored client control frame", "version", f.Version)
	case protocol.KindText:
		c.onMessage(c, f.Payload)
	case protocol.KindData:
		c.handleData(f)
	}
}

func (c *Conn) handleData(f protocol.Frame) {
	version := f.Version
	if c.framing == protocol.FramingOutOfBand {
		version = c.store.Version()
	}

	raw := f.Payload
	if version != 0 {
		dict, ok := c.store.Lookup(version)
		if !ok {
			c.poison(version, dictionary.ErrDictionaryMissing)
			return
		}
		out, err := c.dec.Decompress(f.Payload, dict)
		if err != nil {
			c.poison(version, err)
			return
		}
		raw = out
	}

	var msgs []json.RawMessage
	if err := json.Unmarshal(raw, &msgs); err != nil {
		c.poison(version, err)
		return
	}
	for _, m := range msgs {
		c.onMessage(c, m)
	}
}

func (c *Conn) poison(version uint32, err error) {
	c.metrics.RecordPoisonFrame(metrics.ProtocolWS)
	c.logger.Warn("dropped undecodable frame", "version", version, "error", err)
}

// pingLoop sends heartbeats until the connection closes.
func (c *Conn) pingLoop() {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
				c.logger.Debug("ping failed", "error", err)
				c.Close()
				return
			}
		}
	}
}
