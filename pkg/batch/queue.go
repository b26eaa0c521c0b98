package batch

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-dev/ghostwatch/pkg/codec"
	"github.com/vango-dev/ghostwatch/pkg/dictionary"
	"github.com/vango-dev/ghostwatch/pkg/metrics"
)

// Defaults.
const (
	DefaultFlushInterval = 100 * time.Millisecond
	DefaultSizeThreshold = 64
	DefaultMaxPending    = 1024
)

// ErrClosed is returned by Enqueue and Flush after Close.
var ErrClosed = errors.New("batch: queue closed")

// Batch is one flushed data frame.
type Batch struct {
	// Version is the dictionary version the payload was compressed with,
	// or 0 when Compressed is false.
	Version uint32

	// Payload is the compressed JSON array, or the raw JSON array after an
	// encode failure.
	Payload []byte

	Compressed bool

	// Messages is the number of messages in the batch.
	Messages int

	// Original is the size of the uncompressed JSON array.
	Original int
}

// Sink receives flushed batches, normally a channel fanning out to its members.
type Sink interface {
	// Ready reports whether the sink can accept a frame now. A queue never
	// flushes into a sink that is not ready.
	Ready() bool

	// Send delivers one batch.
	Send(b Batch) error
}

// Snapshotter yields the dictionary to compress a batch with.
type Snapshotter interface {
	Current() *dictionary.Dictionary
}

// Options configures a Queue. Zero values select the defaults.
type Options struct {
	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration

	// SizeThreshold flushes early once this many messages are pending.
	// Negative disables size-triggered flushes.
	SizeThreshold int

	// MaxPending bounds the queue; beyond it the oldest message is dropped.
	// Negative disables the bound.
	MaxPending int

	Logger  *slog.Logger
	Metrics metrics.Sink
}

// Stats is a point-in-time view of a queue.
type Stats struct {
	Pending   int
	Frames    uint64 // batches sent
	Messages  uint64 // messages sent
	Dropped   uint64
	Fallbacks uint64
	LastFlush time.Time
}

// Queue accumulates outbound messages for one channel and flushes them as a
// single compressed frame on a timer or when the size threshold is reached.
//
// Messages are kept in FIFO order. A flush takes and clears the whole
// pending sequence, so every message is sent at most once.
type Queue struct {
	id    string
	store Snapshotter
	comp  codec.Compressor
	sink  Sink
	opts  Options

	logger  *slog.Logger
	metrics metrics.Sink

	mu      sync.Mutex
	pending []json.RawMessage
	closed  bool
	stats   Stats

	// flushMu serializes flushes; Close takes it to wait out an in-flight one.
	flushMu sync.Mutex

	kick    chan struct{}
	done    chan struct{}
	stopped chan struct{}
}

// New creates a queue and starts its flush loop.
func New(id string, store Snapshotter, comp codec.Compressor, sink Sink, opts Options) *Queue {
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.SizeThreshold == 0 {
		opts.SizeThreshold = DefaultSizeThreshold
	}
	if opts.MaxPending == 0 {
		opts.MaxPending = DefaultMaxPending
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	q := &Queue{
		id:      id,
		store:   store,
		comp:    comp,
		sink:    sink,
		opts:    opts,
		logger:  logger.With("component", "batch", "channel", id),
		metrics: metrics.OrNop(opts.Metrics),
		kick:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go q.run()
	return q
}

// ID returns the channel id the queue serves.
func (q *Queue) ID() string {
	return q.id
}

// Enqueue marshals msg to JSON and appends it. A message that cannot be
// marshaled is rejected and nothing is queued.
func (q *Queue) Enqueue(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("batch: marshal message: %w", err)
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if q.opts.MaxPending > 0 && len(q.pending) >= q.opts.MaxPending {
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.stats.Dropped++
		q.metrics.RecordDropped(metrics.ProtocolWS, metrics.ReasonQueueFull, 1)
	}
	q.pending = append(q.pending, data)
	full := q.opts.SizeThreshold > 0 && len(q.pending) >= q.opts.SizeThreshold
	q.mu.Unlock()

	if full {
		select {
		case q.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

// Flush sends all pending messages now. It is a no-op when nothing is
// pending or the sink is not ready; in the latter case messages stay queued.
func (q *Queue) Flush() error {
	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if len(q.pending) == 0 || !q.sink.Ready() {
		q.mu.Unlock()
		return nil
	}
	msgs := q.pending
	q.pending = nil
	q.mu.Unlock()

	b, err := q.encode(msgs)
	if err != nil {
		// json.RawMessage values were validated by Enqueue.
		return err
	}
	sendErr := q.sink.Send(b)

	q.mu.Lock()
	q.stats.Frames++
	q.stats.Messages += uint64(len(msgs))
	q.stats.LastFlush = time.Now()
	if !b.Compressed {
		q.stats.Fallbacks++
	}
	q.mu.Unlock()

	if sendErr != nil {
		q.logger.Warn("batch send failed", "messages", len(msgs), "error", sendErr)
		return sendErr
	}
	return nil
}

// encode builds the JSON array and compresses it with the current
// dictionary. A compression failure yields the uncompressed batch.
func (q *Queue) encode(msgs []json.RawMessage) (Batch, error) {
	raw, err := json.Marshal(msgs)
	if err != nil {
		return Batch{}, fmt.Errorf("batch: encode: %w", err)
	}

	dict := q.store.Current()
	compressed, err := q.comp.Compress(raw, dict)
	if err != nil {
		q.logger.Warn("compression failed, sending uncompressed batch",
			"version", dict.Version(), "error", err)
		q.metrics.RecordFallback(metrics.ProtocolWS)
		return Batch{Payload: raw, Messages: len(msgs), Original: len(raw)}, nil
	}

	q.metrics.RecordCompression(metrics.ProtocolWS, len(raw), len(compressed))
	return Batch{
		Version:    dict.Version(),
		Payload:    compressed,
		Compressed: true,
		Messages:   len(msgs),
		Original:   len(raw),
	}, nil
}

// Len returns the number of pending messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Pending = len(q.pending)
	return s
}

// Close stops the flush loop and discards pending messages. When Close
// returns the loop goroutine has exited and no flush is running.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	discarded := len(q.pending)
	q.pending = nil
	q.stats.Dropped += uint64(discarded)
	q.mu.Unlock()

	close(q.done)
	<-q.stopped

	// Wait out a Flush started by another goroutine.
	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	if discarded > 0 {
		q.metrics.RecordDropped(metrics.ProtocolWS, metrics.ReasonClosed, discarded)
		q.logger.Debug("queue closed with pending messages", "discarded", discarded)
	}
}

func (q *Queue) run() {
	defer close(q.stopped)

	timer := time.NewTimer(q.opts.FlushInterval)
	defer timer.Stop()

	for {
		select {
		case <-q.done:
			return
		case <-timer.C:
		case <-q.kick:
		}

		if err := q.Flush(); err != nil && !errors.Is(err, ErrClosed) {
			q.logger.Debug("flush failed", "error", err)
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(q.opts.FlushInterval)
	}
}
