package batch

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vango-dev/ghostwatch/pkg/codec"
	"github.com/vango-dev/ghostwatch/pkg/dictionary"
)

type fakeSink struct {
	mu      sync.Mutex
	batches []Batch
	ready   atomic.Bool
	sent    chan struct{}
}

func newFakeSink() *fakeSink {
	s := &fakeSink{sent: make(chan struct{}, 64)}
	s.ready.Store(true)
	return s
}

func (s *fakeSink) Ready() bool { return s.ready.Load() }

func (s *fakeSink) Send(b Batch) error {
	s.mu.Lock()
	s.batches = append(s.batches, b)
	s.mu.Unlock()
	select {
	case s.sent <- struct{}{}:
	default:
	}
	return nil
}

func (s *fakeSink) Batches() []Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Batch(nil), s.batches...)
}

type failingCompressor struct{}

func (failingCompressor) Compress([]byte, *dictionary.Dictionary) ([]byte, error) {
	return nil, &codec.EncodeError{Version: 1, Err: errors.New("boom")}
}

func newStore(t *testing.T) *dictionary.Store {
	t.Helper()
	d, err := dictionary.New(1, []byte(strings.Repeat(`{"metric":"cpu_usage","value":}`, 8)), time.Now())
	if err != nil {
		t.Fatalf("dictionary.New: %v", err)
	}
	return dictionary.NewStore(d)
}

// manual returns options that keep the loop from flushing during a test.
func manual() Options {
	return Options{FlushInterval: time.Hour, SizeThreshold: -1}
}

func decodeBatch(t *testing.T, c *codec.Codec, store *dictionary.Store, b Batch) []string {
	t.Helper()
	raw := b.Payload
	if b.Compressed {
		d, ok := store.Lookup(b.Version)
		if !ok {
			t.Fatalf("dictionary v%d not found", b.Version)
		}
		var err error
		raw, err = c.Decompress(b.Payload, d)
		if err != nil {
			t.Fatalf("Decompress() error: %v", err)
		}
	}
	var msgs []string
	if err := json.Unmarshal(raw, &msgs); err != nil {
		t.Fatalf("batch is not a JSON array of strings: %v (%s)", err, raw)
	}
	return msgs
}

func TestQueue_FlushSendsOneFrameInOrder(t *testing.T) {
	store := newStore(t)
	c := codec.New()
	sink := newFakeSink()
	q := New("room", store, c, sink, manual())
	defer q.Close()

	for _, m := range []string{"A", "B", "C"} {
		if err := q.Enqueue(m); err != nil {
			t.Fatalf("Enqueue(%q) error: %v", m, err)
		}
	}
	if err := q.Flush(); err != nil {
		t.Fatalf("Flush() error: %v", err)
	}

	batches := sink.Batches()
	if len(batches) != 1 {
		t.Fatalf("Flush() produced %d frames, want 1", len(batches))
	}
	b := batches[0]
	if !b.Compressed || b.Version != 1 || b.Messages != 3 {
		t.Fatalf("batch = %+v, want compressed v1 with 3 messages", b)
	}
	got := decodeBatch(t, c, store, b)
	if strings.Join(got, ",") != "A,B,C" {
		t.Fatalf("decoded batch = %v, want [A B C]", got)
	}
	if q.Len() != 0 {
		t.Fatalf("Len() = %d after flush, want 0", q.Len())
	}
}

func TestQueue_EmptyFlushSendsNothing(t *testing.T) {
	sink := newFakeSink()
	q := New("room", newStore(t), codec.New(), sink, manual())
	defer q.Close()

	if err := q.Flush(); err != nil {
		t.Fatalf("Flush() error: %v", err)
	}
	if n := len(sink.Batches()); n != 0 {
		t.Fatalf("empty Flush() produced %d frames, want 0", n)
	}
}

func TestQueue_SinkNotReadyKeepsMessages(t *testing.T) {
	sink := newFakeSink()
	sink.ready.Store(false)
	q := New("room", newStore(t), codec.New(), sink, manual())
	defer q.Close()

	_ = q.Enqueue("A")
	_ = q.Enqueue("B")
	if err := q.Flush(); err != nil {
		t.Fatalf("Flush() error: %v", err)
	}
	if n := len(sink.Batches()); n != 0 {
		t.Fatalf("Flush() into unready sink produced %d frames, want 0", n)
	}
	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2 retained", q.Len())
	}

	sink.ready.Store(true)
	if err := q.Flush(); err != nil {
		t.Fatalf("Flush() error: %v", err)
	}
	if n := len(sink.Batches()); n != 1 {
		t.Fatalf("Flush() after ready produced %d frames, want 1", n)
	}
}

func TestQueue_IntervalFlush(t *testing.T) {
	sink := newFakeSink()
	q := New("room", newStore(t), codec.New(), sink, Options{FlushInterval: 10 * time.Millisecond, SizeThreshold: -1})
	defer q.Close()

	_ = q.Enqueue("tick")
	select {
	case <-sink.sent:
	case <-time.After(2 * time.Second):
		t.Fatal("interval flush did not happen")
	}
}

func TestQueue_SizeThresholdFlush(t *testing.T) {
	sink := newFakeSink()
	q := New("room", newStore(t), codec.New(), sink, Options{FlushInterval: time.Hour, SizeThreshold: 3})
	defer q.Close()

	for _, m := range []string{"A", "B", "C"} {
		_ = q.Enqueue(m)
	}
	select {
	case <-sink.sent:
	case <-time.After(2 * time.Second):
		t.Fatal("size-triggered flush did not happen")
	}
	if b := sink.Batches()[0]; b.Messages != 3 {
		t.Fatalf("batch has %d messages, want 3", b.Messages)
	}
}

func TestQueue_MaxPendingDropsOldest(t *testing.T) {
	store := newStore(t)
	c := codec.New()
	sink := newFakeSink()
	opts := manual()
	opts.MaxPending = 2
	q := New("room", store, c, sink, opts)
	defer q.Close()

	for _, m := range []string{"A", "B", "C"} {
		_ = q.Enqueue(m)
	}
	if s := q.Stats(); s.Dropped != 1 || s.Pending != 2 {
		t.Fatalf("Stats() = %+v, want Dropped=1 Pending=2", s)
	}
	_ = q.Flush()
	got := decodeBatch(t, c, store, sink.Batches()[0])
	if strings.Join(got, ",") != "B,C" {
		t.Fatalf("decoded batch = %v, want [B C]", got)
	}
}

func TestQueue_EncodeErrorFallsBackUncompressed(t *testing.T) {
	store := newStore(t)
	sink := newFakeSink()
	q := New("room", store, failingCompressor{}, sink, manual())
	defer q.Close()

	_ = q.Enqueue("A")
	_ = q.Enqueue("B")
	if err := q.Flush(); err != nil {
		t.Fatalf("Flush() error: %v", err)
	}

	b := sink.Batches()[0]
	if b.Compressed || b.Version != 0 {
		t.Fatalf("batch = %+v, want uncompressed with version 0", b)
	}
	if string(b.Payload) != `["A","B"]` {
		t.Fatalf("fallback payload = %s, want [\"A\",\"B\"]", b.Payload)
	}
	if s := q.Stats(); s.Fallbacks != 1 {
		t.Fatalf("Stats().Fallbacks = %d, want 1", s.Fallbacks)
	}
}

func TestQueue_EnqueueRejectsUnmarshalable(t *testing.T) {
	q := New("room", newStore(t), codec.New(), newFakeSink(), manual())
	defer q.Close()

	if err := q.Enqueue(make(chan int)); err == nil {
		t.Fatal("Enqueue(chan) should fail")
	}
	if q.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", q.Len())
	}
}

func TestQueue_CloseDiscardsPendingAndStopsLoop(t *testing.T) {
	sink := newFakeSink()
	q := New("room", newStore(t), codec.New(), sink, Options{FlushInterval: 20 * time.Millisecond, SizeThreshold: -1})

	// Keep the loop from flushing until Close has begun.
	sink.ready.Store(false)
	_ = q.Enqueue("A")
	_ = q.Enqueue("B")

	q.Close()
	sink.ready.Store(true)

	select {
	case <-q.stopped:
	default:
		t.Fatal("flush loop still running after Close")
	}
	time.Sleep(60 * time.Millisecond)
	if n := len(sink.Batches()); n != 0 {
		t.Fatalf("%d frames sent after Close, want 0", n)
	}
	if s := q.Stats(); s.Dropped != 2 || s.Pending != 0 {
		t.Fatalf("Stats() = %+v, want Dropped=2 Pending=0", s)
	}
	if err := q.Enqueue("C"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Enqueue after Close error = %v, want ErrClosed", err)
	}
	if err := q.Flush(); !errors.Is(err, ErrClosed) {
		t.Fatalf("Flush after Close error = %v, want ErrClosed", err)
	}

	q.Close() // idempotent
}

func TestQueue_SwapUsesNewDictionary(t *testing.T) {
	store := newStore(t)
	c := codec.New()
	sink := newFakeSink()
	q := New("room", store, c, sink, manual())
	defer q.Close()

	_ = q.Enqueue("before")
	_ = q.Flush()

	v2, err := dictionary.New(2, []byte(strings.Repeat(`{"metric":"mem_usage"}`, 8)), time.Now())
	if err != nil {
		t.Fatalf("dictionary.New: %v", err)
	}
	if _, err := store.Swap(v2); err != nil {
		t.Fatalf("Swap() error: %v", err)
	}

	_ = q.Enqueue("after")
	_ = q.Flush()

	batches := sink.Batches()
	if batches[0].Version != 1 || batches[1].Version != 2 {
		t.Fatalf("versions = %d, %d; want 1, 2", batches[0].Version, batches[1].Version)
	}
	// The pre-swap frame stays decodable by a peer still on v1.
	if got := decodeBatch(t, c, store, batches[0]); got[0] != "before" {
		t.Fatalf("pre-swap frame decoded to %v", got)
	}
	if got := decodeBatch(t, c, store, batches[1]); got[0] != "after" {
		t.Fatalf("post-swap frame decoded to %v", got)
	}
}
