package server

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/vango-dev/ghostwatch/pkg/batch"
	"github.com/vango-dev/ghostwatch/pkg/codec"
	"github.com/vango-dev/ghostwatch/pkg/dictionary"
	"github.com/vango-dev/ghostwatch/pkg/hotswap"
	"github.com/vango-dev/ghostwatch/pkg/metrics"
	"github.com/vango-dev/ghostwatch/pkg/protocol"
)

var _ hotswap.Broadcaster = (*Hub)(nil)

// Hub is the registry of channels and connections.
//
// A channel exists while it has members: the first Join creates it with its
// batch queue and the last Leave removes it and stops the queue before
// returning.
type Hub struct {
	store     *dictionary.Store
	comp      codec.Compressor
	framing   protocol.Framing
	batchOpts batch.Options
	logger    *slog.Logger
	metrics   metrics.Sink

	mu       sync.RWMutex
	channels map[string]*Channel
	conns    map[*Conn]struct{}
	closed   bool
}

// NewHub creates an empty hub. Channel queues compress with comp under the
// store's current dictionary.
func NewHub(store *dictionary.Store, comp codec.Compressor, framing protocol.Framing, opts batch.Options, logger *slog.Logger, m metrics.Sink) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	m = metrics.OrNop(m)
	opts.Logger = logger
	opts.Metrics = m
	return &Hub{
		store:     store,
		comp:      comp,
		framing:   framing,
		batchOpts: opts,
		logger:    logger.With("component", "hub"),
		metrics:   m,
		channels:  make(map[string]*Channel),
		conns:     make(map[*Conn]struct{}),
	}
}

// Join adds c to the channel id, creating the channel if needed.
func (h *Hub) Join(c *Conn, id string) (*Channel, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	ch, ok := h.channels[id]
	if !ok {
		ch = newChannel(id, h)
		ch.queue = batch.New(id, h.store, h.comp, ch, h.batchOpts)
		h.channels[id] = ch
		h.logger.Debug("channel created", "channel", id)
	}
	ch.add(c)
	c.channel = ch
	h.conns[c] = struct{}{}
	conns, channels := len(h.conns), len(h.channels)
	h.mu.Unlock()

	h.metrics.SetConnections(conns)
	h.metrics.SetChannels(channels)
	return ch, nil
}

// Leave removes c from its channel. Removing the last member destroys the
// channel; its queue is closed before Leave returns.
func (h *Hub) Leave(c *Conn) {
	h.mu.Lock()
	if _, ok := h.conns[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, c)

	var dead *Channel
	if ch := c.channel; ch != nil {
		if ch.remove(c) == 0 && h.channels[ch.id] == ch {
			delete(h.channels, ch.id)
			dead = ch
		}
	}
	conns, channels := len(h.conns), len(h.channels)
	h.mu.Unlock()

	if dead != nil {
		dead.queue.Close()
		h.logger.Debug("channel destroyed", "channel", dead.id)
	}
	h.metrics.SetConnections(conns)
	h.metrics.SetChannels(channels)
}

// Channel returns the channel with the given id.
func (h *Hub) Channel(id string) (*Channel, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ch, ok := h.channels[id]
	return ch, ok
}

// Channels returns the ids of all live channels, sorted.
func (h *Hub) Channels() []string {
	h.mu.RLock()
	ids := make([]string, 0, len(h.channels))
	for id := range h.channels {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Conns returns the number of connections.
func (h *Hub) Conns() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Publish enqueues msg on the channel's batch queue.
func (h *Hub) Publish(id string, msg any) error {
	ch, ok := h.Channel(id)
	if !ok {
		return ErrNoChannel
	}
	return ch.queue.Enqueue(msg)
}

// Announce writes the dict_update control frame for version to every
// connection concurrently. Connections that cannot be written are closed.
// It returns the number of failures.
func (h *Hub) Announce(ctx context.Context, version uint32) int {
	conns := h.snapshot()

	var (
		wg     sync.WaitGroup
		failed atomic.Int32
	)
	for _, c := range conns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Announce(ctx, version); err != nil {
				failed.Add(1)
				h.logger.Warn("announce failed", "conn", c.ID(), "version", version, "error", err)
				go c.Close()
			}
		}()
	}
	wg.Wait()

	n := int(failed.Load())
	h.logger.Info("dictionary announced", "version", version, "peers", len(conns), "failed", n)
	return n
}

// Shutdown closes every connection and refuses new joins.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	for _, c := range h.snapshot() {
		c.Close()
	}
}

func (h *Hub) snapshot() []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	return conns
}
