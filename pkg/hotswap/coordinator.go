package hotswap

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-dev/ghostwatch/pkg/dictionary"
	"github.com/vango-dev/ghostwatch/pkg/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/vango-dev/ghostwatch/pkg/hotswap"

// Broadcaster announces a dictionary version to connected peers.
type Broadcaster interface {
	// Announce writes the dict_update control frame for version to every
	// peer. It is best effort: a peer that cannot be written is skipped.
	// It returns the number of peers that failed.
	Announce(ctx context.Context, version uint32) int
}

// Coordinator performs server-side hot-swaps: stage the new dictionary,
// announce it, then make it current.
type Coordinator struct {
	store   *dictionary.Store
	bc      Broadcaster
	logger  *slog.Logger
	metrics metrics.Sink
	tracer  trace.Tracer

	// mu serializes swaps so version numbers are assigned once.
	mu sync.Mutex
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m metrics.Sink) CoordinatorOption {
	return func(c *Coordinator) {
		c.metrics = metrics.OrNop(m)
	}
}

// WithTracer overrides the tracer resolved from the global provider.
func WithTracer(t trace.Tracer) CoordinatorOption {
	return func(c *Coordinator) {
		if t != nil {
			c.tracer = t
		}
	}
}

// NewCoordinator creates a Coordinator. bc may be nil when there are no peers.
func NewCoordinator(store *dictionary.Store, bc Broadcaster, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:   store,
		bc:      bc,
		logger:  slog.Default(),
		metrics: metrics.Nop{},
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "hotswap")
	return c
}

// Store returns the dictionary store the coordinator swaps.
func (c *Coordinator) Store() *dictionary.Store {
	return c.store
}

// Swap activates next. A stale version is rejected with
// *dictionary.StaleVersionError and the current dictionary stays active.
func (c *Coordinator) Swap(ctx context.Context, next *dictionary.Dictionary) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.swapLocked(ctx, next)
}

// SwapBytes builds the next version from data and activates it.
func (c *Coordinator) SwapBytes(ctx context.Context, data []byte) (*dictionary.Dictionary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, err := dictionary.New(c.store.NextVersion(), data, time.Now())
	if err != nil {
		return nil, err
	}
	if err := c.swapLocked(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

func (c *Coordinator) swapLocked(ctx context.Context, next *dictionary.Dictionary) error {
	ctx, span := c.tracer.Start(ctx, "ghostwatch.dictionary.swap",
		trace.WithAttributes(
			attribute.Int64("ghostwatch.dict.version", int64(next.Version())),
			attribute.Int64("ghostwatch.dict.current", int64(c.store.Version())),
			attribute.Int("ghostwatch.dict.size", next.Len()),
		),
	)
	defer span.End()

	// Stage first so peers told about the version can fetch it right away.
	if err := c.store.Stage(next); err != nil {
		var stale *dictionary.StaleVersionError
		if errors.As(err, &stale) {
			c.logger.Warn("rejected stale dictionary",
				"attempted", stale.Attempted, "current", stale.Current)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	failed := 0
	if c.bc != nil {
		failed = c.bc.Announce(ctx, next.Version())
	}
	for i := 0; i < failed; i++ {
		c.metrics.RecordBroadcastFailure()
	}
	span.SetAttributes(attribute.Int("ghostwatch.broadcast.failed", failed))

	prev, err := c.store.Swap(next)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	c.metrics.RecordSwap(next.Version())
	span.SetStatus(codes.Ok, "")
	c.logger.Info("dictionary swapped",
		"from", prev,
		"to", next.Version(),
		"size", next.Len(),
		"digest", next.Digest(),
		"broadcast_failures", failed,
	)
	return nil
}
