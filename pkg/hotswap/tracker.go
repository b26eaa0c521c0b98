package hotswap

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vango-dev/ghostwatch/pkg/dictionary"
	"github.com/vango-dev/ghostwatch/pkg/metrics"
)

// Defaults for TrackerOptions.
const (
	DefaultReplayLimit = 256
	DefaultHeld        = 2
)

// State is the client-side dictionary state.
type State uint8

const (
	StateUninitialized State = iota
	StateFetching
	StateReady
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateFetching:
		return "Fetching"
	case StateReady:
		return "Ready"
	default:
		return "Unknown"
	}
}

// Fetcher retrieves a dictionary. Version 0 asks for the current one.
type Fetcher interface {
	Fetch(ctx context.Context, version uint32) (*dictionary.Dictionary, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, version uint32) (*dictionary.Dictionary, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, version uint32) (*dictionary.Dictionary, error) {
	return f(ctx, version)
}

// FetchResult is the outcome of a fetch started by the tracker.
type FetchResult struct {
	Requested uint32
	Dict      *dictionary.Dictionary
	Err       error
}

// Frame is an inbound data frame awaiting a dictionary.
type Frame struct {
	// Version is the frame's tagged version; 0 with OutOfBand unset marks an
	// uncompressed batch.
	Version uint32

	// OutOfBand frames carry no version; the tracker assigns the most
	// recently announced one.
	OutOfBand bool

	Payload []byte
}

// Action tells the owner what to do with a routed frame.
type Action uint8

const (
	ActionDecode   Action = iota // decompress Payload with Dict
	ActionRaw                    // Payload is an uncompressed batch
	ActionBuffered               // held until the dictionary arrives
	ActionPoison                 // undecodable, drop it
)

// String returns the string representation of the action.
func (a Action) String() string {
	switch a {
	case ActionDecode:
		return "Decode"
	case ActionRaw:
		return "Raw"
	case ActionBuffered:
		return "Buffered"
	case ActionPoison:
		return "Poison"
	default:
		return "Unknown"
	}
}

// Decision is the routing outcome for one frame.
type Decision struct {
	Frame  Frame
	Dict   *dictionary.Dictionary
	Action Action
}

// TrackerOptions configures a Tracker.
type TrackerOptions struct {
	// ReplayLimit bounds frames buffered while fetching.
	ReplayLimit int

	// Held is the number of previous dictionaries kept for late frames.
	Held int

	Backoff Backoff
	Logger  *slog.Logger
	Metrics metrics.Sink
}

// Tracker is the client half of the hot-swap protocol.
//
// It is an actor-owned state machine: every method must be called from the
// single goroutine that owns the connection. Fetches run on their own
// goroutines and report back through Results; the owner passes each result
// to Resolve.
type Tracker struct {
	fetcher Fetcher
	opts    TrackerOptions
	logger  *slog.Logger
	metrics metrics.Sink

	state   State
	current *dictionary.Dictionary
	held    []*dictionary.Dictionary // previous versions, oldest first

	announced uint32 // highest version seen in a control frame
	want      uint32 // highest announced version known to be needed
	inflight  bool
	target    uint32 // version requested by the in-flight fetch

	// refresh asks the next fetch for the current dictionary because a frame
	// carried a version that was never announced.
	refresh bool
	// strict is set while replaying after a fetch of the current dictionary;
	// unannounced frames still unresolved then are dropped.
	strict bool

	buffer  []Frame
	dropped uint64

	failures    int
	lastFailure time.Time

	results chan FetchResult
}

// NewTracker creates a tracker in StateUninitialized.
func NewTracker(f Fetcher, opts TrackerOptions) *Tracker {
	if opts.ReplayLimit <= 0 {
		opts.ReplayLimit = DefaultReplayLimit
	}
	if opts.Held <= 0 {
		opts.Held = DefaultHeld
	}
	if opts.Backoff == (Backoff{}) {
		opts.Backoff = DefaultBackoff
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		fetcher: f,
		opts:    opts,
		logger:  logger.With("component", "tracker"),
		metrics: metrics.OrNop(opts.Metrics),
		results: make(chan FetchResult, 1),
	}
}

// Results delivers fetch outcomes to the owner.
func (t *Tracker) Results() <-chan FetchResult {
	return t.results
}

// State returns the current state.
func (t *Tracker) State() State {
	return t.state
}

// Current returns the current dictionary, or nil before the first fetch.
func (t *Tracker) Current() *dictionary.Dictionary {
	return t.current
}

// Version returns the current dictionary version, or 0.
func (t *Tracker) Version() uint32 {
	if t.current == nil {
		return 0
	}
	return t.current.Version()
}

// Announced returns the highest version announced by the server.
func (t *Tracker) Announced() uint32 {
	return t.announced
}

// Dropped returns the number of buffered frames dropped on overflow.
func (t *Tracker) Dropped() uint64 {
	return t.dropped
}

// Pending returns the number of buffered frames.
func (t *Tracker) Pending() int {
	return len(t.buffer)
}

// Candidates returns the dictionaries to try for an out-of-band frame that
// failed to decode, newest first.
func (t *Tracker) Candidates() []*dictionary.Dictionary {
	out := make([]*dictionary.Dictionary, 0, len(t.held)+1)
	if t.current != nil {
		out = append(out, t.current)
	}
	for i := len(t.held) - 1; i >= 0; i-- {
		out = append(out, t.held[i])
	}
	return out
}

// Start fetches the current dictionary.
func (t *Tracker) Start(ctx context.Context) {
	if t.state != StateUninitialized || t.inflight {
		return
	}
	t.fetch(ctx, 0)
}

// OnControl handles a dict_update announcement. Versions at or below the
// local one, or already being fetched, are ignored.
func (t *Tracker) OnControl(ctx context.Context, version uint32) {
	if version > t.announced {
		t.announced = version
	}
	if version <= t.Version() {
		return
	}
	if t.inflight && version <= t.target {
		return
	}
	if version > t.want {
		t.want = version
	}
	t.ensureFetch(ctx)
}

// Route decides how to handle a data frame.
func (t *Tracker) Route(ctx context.Context, f Frame) Decision {
	if f.OutOfBand {
		v := t.announced
		if v < t.Version() {
			v = t.Version()
		}
		if v == 0 {
			// Nothing announced or fetched yet.
			t.push(f)
			t.ensureFetch(ctx)
			return Decision{Frame: f, Action: ActionBuffered}
		}
		f.Version = v
		f.OutOfBand = false
	}

	if f.Version == 0 {
		return Decision{Frame: f, Action: ActionRaw}
	}
	if d := t.lookup(f.Version); d != nil {
		return Decision{Frame: f, Dict: d, Action: ActionDecode}
	}
	if t.current != nil && f.Version < t.current.Version() {
		return Decision{Frame: f, Action: ActionPoison}
	}

	if f.Version > t.announced {
		// The server announces every version before using it, so this tag
		// is corrupt or ahead of us. Ask for the current dictionary once
		// and never chase the tag itself.
		if t.strict {
			return Decision{Frame: f, Action: ActionPoison}
		}
		t.refresh = true
	} else if f.Version > t.want {
		t.want = f.Version
	}
	t.push(f)
	t.ensureFetch(ctx)
	return Decision{Frame: f, Action: ActionBuffered}
}

// Resolve applies a fetch result and returns the buffered frames that can
// now be handled, in arrival order.
func (t *Tracker) Resolve(ctx context.Context, r FetchResult) []Decision {
	t.inflight = false
	t.target = 0

	err := r.Err
	if err == nil && r.Requested > 0 && r.Dict.Version() < r.Requested {
		err = &FetchError{Version: r.Requested, Err: ErrStaleDictionary}
	}
	if err != nil {
		t.failures++
		t.lastFailure = time.Now()
		if t.current == nil {
			t.state = StateUninitialized
		} else {
			t.state = StateReady
		}
		t.logger.Warn("dictionary fetch failed",
			"requested", r.Requested,
			"attempt", t.failures,
			"error", err,
		)
		if t.hasWork() {
			t.fetch(ctx, t.want)
		}
		return nil
	}

	t.failures = 0
	if r.Requested == 0 {
		t.refresh = false
	}
	t.install(r.Dict)
	t.state = StateReady
	if t.hasWork() {
		t.fetch(ctx, t.want)
	}

	t.strict = r.Requested == 0
	defer func() { t.strict = false }()
	return t.replay(ctx)
}

// install makes d current if it is newer, holding the previous one.
func (t *Tracker) install(d *dictionary.Dictionary) {
	if t.current != nil && d.Version() <= t.current.Version() {
		return
	}
	if t.current != nil {
		t.held = append(t.held, t.current)
		if over := len(t.held) - t.opts.Held; over > 0 {
			clear(t.held[:over])
			t.held = t.held[over:]
		}
	}
	prev := t.Version()
	t.current = d
	t.logger.Info("dictionary ready", "from", prev, "to", d.Version(), "size", d.Len())
}

// replay routes buffered frames again. Once a frame must keep waiting, it
// and every later frame stay buffered so arrival order is preserved.
func (t *Tracker) replay(ctx context.Context) []Decision {
	if len(t.buffer) == 0 {
		return nil
	}
	frames := t.buffer
	t.buffer = nil

	out := make([]Decision, 0, len(frames))
	for i, f := range frames {
		d := t.Route(ctx, f)
		if d.Action == ActionBuffered {
			// Route appended f; keep the rest behind it.
			t.buffer = append(t.buffer, frames[i+1:]...)
			break
		}
		out = append(out, d)
	}
	return out
}

func (t *Tracker) lookup(version uint32) *dictionary.Dictionary {
	if t.current != nil && t.current.Version() == version {
		return t.current
	}
	for _, d := range t.held {
		if d.Version() == version {
			return d
		}
	}
	return nil
}

func (t *Tracker) push(f Frame) {
	if len(t.buffer) >= t.opts.ReplayLimit {
		t.buffer[0] = Frame{}
		t.buffer = t.buffer[1:]
		t.dropped++
		t.metrics.RecordDropped(metrics.ProtocolWS, metrics.ReasonReplayFull, 1)
	}
	t.buffer = append(t.buffer, f)
}

// hasWork reports whether a dictionary is still needed.
func (t *Tracker) hasWork() bool {
	return t.current == nil || t.refresh || t.want > t.current.Version()
}

func (t *Tracker) ensureFetch(ctx context.Context) {
	if t.inflight || !t.hasWork() {
		return
	}
	t.fetch(ctx, t.want)
}

// fetch starts one fetch, delayed by backoff after failures.
func (t *Tracker) fetch(ctx context.Context, version uint32) {
	if t.refresh || (t.current != nil && version <= t.current.Version()) {
		version = 0
	}
	t.inflight = true
	t.target = version
	t.state = StateFetching

	var delay time.Duration
	if t.failures > 0 {
		delay = t.opts.Backoff.Delay(t.failures) - time.Since(t.lastFailure)
	}

	go func() {
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return
			}
		}
		d, err := t.fetcher.Fetch(ctx, version)
		if err == nil && d == nil {
			err = dictionary.ErrDictionaryMissing
		}
		var fe *FetchError
		if err != nil && !errors.As(err, &fe) {
			err = &FetchError{Version: version, Err: err}
		}
		select {
		case t.results <- FetchResult{Requested: version, Dict: d, Err: err}:
		case <-ctx.Done():
		}
	}()
}
