package hotswap

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vango-dev/ghostwatch/pkg/dictionary"
)

// Watcher polls a dictionary source and hot-swaps when its content changes.
type Watcher struct {
	src      dictionary.Source
	coord    *Coordinator
	interval time.Duration
	logger   *slog.Logger

	// digest of the source content last seen
	digest string
}

// NewWatcher creates a watcher. The current dictionary is assumed to hold
// the source's present content.
func NewWatcher(src dictionary.Source, coord *Coordinator, interval time.Duration, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		src:      src,
		coord:    coord,
		interval: interval,
		logger:   logger.With("component", "watcher", "source", src),
		digest:   coord.Store().Current().Digest(),
	}
}

// Check loads the source once and swaps if the content changed.
func (w *Watcher) Check(ctx context.Context) (*dictionary.Dictionary, error) {
	data, err := w.src.Load(ctx)
	if err != nil {
		return nil, err
	}
	digest := dictionary.Digest(data)
	if digest == w.digest {
		return nil, nil
	}

	next, err := w.coord.SwapBytes(ctx, data)
	if err != nil {
		return nil, err
	}
	w.digest = digest
	return next, nil
}

// Run polls until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			next, err := w.Check(ctx)
			switch {
			case err != nil && !errors.Is(err, context.Canceled):
				w.logger.Warn("dictionary reload failed", "error", err)
			case next != nil:
				w.logger.Info("dictionary reloaded", "version", next.Version())
			}
		}
	}
}
