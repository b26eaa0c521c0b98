package dictionary

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// DefaultRetain is the number of previous versions kept for lookups.
const DefaultRetain = 2

// StaleVersionError is returned when a swap or stage targets a version that is
// not newer than the current one.
type StaleVersionError struct {
	Current   uint32
	Attempted uint32
}

// Error implements the error interface.
func (e *StaleVersionError) Error() string {
	return fmt.Sprintf("dictionary: stale version %d (current %d)", e.Attempted, e.Current)
}

// Store owns the current dictionary.
//
// Readers go through a single atomic pointer and never block. Writers (Stage,
// Swap) are serialized by mu, which also guards the staged and retained
// bookkeeping used by Lookup.
type Store struct {
	current atomic.Pointer[Dictionary]

	mu       sync.Mutex
	staged   *Dictionary
	retained []*Dictionary // oldest first
	retain   int
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithRetain sets how many previous versions are kept after a swap.
func WithRetain(n int) StoreOption {
	return func(s *Store) {
		if n >= 0 {
			s.retain = n
		}
	}
}

// NewStore creates a store whose current dictionary is initial.
func NewStore(initial *Dictionary, opts ...StoreOption) *Store {
	if initial == nil {
		panic("dictionary: NewStore requires an initial dictionary")
	}
	s := &Store{retain: DefaultRetain}
	for _, opt := range opts {
		opt(s)
	}
	s.current.Store(initial)
	return s
}

// Current returns the current dictionary. It never blocks and never returns nil.
func (s *Store) Current() *Dictionary {
	return s.current.Load()
}

// Version returns the current dictionary version.
func (s *Store) Version() uint32 {
	return s.current.Load().version
}

// Stage registers next as the upcoming version so it can be looked up (and
// fetched by peers) before it becomes current.
func (s *Store) Stage(next *Dictionary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current.Load()
	if next.version <= cur.version {
		return &StaleVersionError{Current: cur.version, Attempted: next.version}
	}
	if s.staged != nil && s.staged != next && next.version <= s.staged.version {
		return &StaleVersionError{Current: s.staged.version, Attempted: next.version}
	}
	s.staged = next
	return nil
}

// Swap makes next the current dictionary and returns the previous version.
// Concurrent Current calls observe either the old or the new dictionary.
func (s *Store) Swap(next *Dictionary) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.current.Load()
	if next.version <= prev.version {
		return prev.version, &StaleVersionError{Current: prev.version, Attempted: next.version}
	}

	s.current.Store(next)

	if s.staged != nil && s.staged.version <= next.version {
		s.staged = nil
	}
	if s.retain > 0 {
		s.retained = append(s.retained, prev)
		if over := len(s.retained) - s.retain; over > 0 {
			clear(s.retained[:over])
			s.retained = s.retained[over:]
		}
	}

	return prev.version, nil
}

// Lookup returns the dictionary with the given version if it is current,
// staged, or still retained.
func (s *Store) Lookup(version uint32) (*Dictionary, bool) {
	if cur := s.current.Load(); cur.version == version {
		return cur, true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.staged != nil && s.staged.version == version {
		return s.staged, true
	}
	for _, d := range s.retained {
		if d.version == version {
			return d, true
		}
	}
	return nil, false
}

// Staged returns the staged dictionary, if any.
func (s *Store) Staged() (*Dictionary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.staged, s.staged != nil
}

// NextVersion returns the version a new dictionary should carry.
func (s *Store) NextVersion() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := s.current.Load().version
	if s.staged != nil && s.staged.version > v {
		v = s.staged.version
	}
	return v + 1
}
