package server

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/vango-dev/ghostwatch/pkg/batch"
	"github.com/vango-dev/ghostwatch/pkg/metrics"
	"github.com/vango-dev/ghostwatch/pkg/protocol"
)

var _ batch.Sink = (*Channel)(nil)

// Channel is a named group of connections sharing one batch queue.
type Channel struct {
	id    string
	hub   *Hub
	queue *batch.Queue

	mu      sync.RWMutex
	members map[*Conn]struct{}
}

func newChannel(id string, h *Hub) *Channel {
	return &Channel{
		id:      id,
		hub:     h,
		members: make(map[*Conn]struct{}),
	}
}

// ID returns the channel id.
func (ch *Channel) ID() string {
	return ch.id
}

// Members returns the number of connections in the channel.
func (ch *Channel) Members() int {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return len(ch.members)
}

// Stats returns the batch queue counters.
func (ch *Channel) Stats() batch.Stats {
	return ch.queue.Stats()
}

// Ready reports whether the channel has anyone to send to.
func (ch *Channel) Ready() bool {
	return ch.Members() > 0
}

// Send writes the batch to every member concurrently. A member whose write
// fails is closed; the others still receive the frame.
func (ch *Channel) Send(b batch.Batch) error {
	members := ch.snapshot()
	if len(members) == 0 {
		return ErrNoChannel
	}

	messageType, data := encodeBatch(ch.hub.framing, b)

	var (
		wg     sync.WaitGroup
		failed atomic.Int32
	)
	for _, c := range members {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.writeData(b.Version, messageType, data); err != nil {
				failed.Add(1)
				ch.hub.metrics.RecordDropped(metrics.ProtocolWS, metrics.ReasonWriteFailed, b.Messages)
				c.logger.Debug("batch write failed", "error", err)
				// Close leaves the channel, which may close this queue;
				// it cannot run on the flush goroutine.
				go c.Close()
			}
		}()
	}
	wg.Wait()

	if n := int(failed.Load()); n == len(members) {
		return fmt.Errorf("server: channel %s: all %d members failed", ch.id, n)
	}
	return nil
}

// encodeBatch returns the WebSocket message for a batch. An uncompressed
// batch goes out as version 0 under tagged framing and as text under
// out-of-band framing.
func encodeBatch(f protocol.Framing, b batch.Batch) (int, []byte) {
	if !b.Compressed && f == protocol.FramingOutOfBand {
		return websocket.TextMessage, b.Payload
	}
	return websocket.BinaryMessage, f.EncodeData(b.Version, b.Payload)
}

func (ch *Channel) add(c *Conn) {
	ch.mu.Lock()
	ch.members[c] = struct{}{}
	ch.mu.Unlock()
}

func (ch *Channel) remove(c *Conn) int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	delete(ch.members, c)
	return len(ch.members)
}

func (ch *Channel) snapshot() []*Conn {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	out := make([]*Conn, 0, len(ch.members))
	for c := range ch.members {
		out = append(out, c)
	}
	return out
}
