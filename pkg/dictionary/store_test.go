package dictionary

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func mustNew(t testing.TB, version uint32, content string) *Dictionary {
	t.Helper()
	d, err := New(version, []byte(content), time.Now())
	if err != nil {
		t.Fatalf("New(%d) error: %v", version, err)
	}
	return d
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(0, []byte("x"), time.Now()); !errors.Is(err, ErrInvalidVersion) {
		t.Fatalf("New(0) error=%v, want ErrInvalidVersion", err)
	}
	if _, err := New(1, nil, time.Now()); !errors.Is(err, ErrEmpty) {
		t.Fatalf("New(empty) error=%v, want ErrEmpty", err)
	}
}

func TestNew_CopiesContent(t *testing.T) {
	data := []byte("hello dictionary")
	d, err := New(1, data, time.Now())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	data[0] = 'X'
	if got := string(d.Bytes()); got != "hello dictionary" {
		t.Fatalf("Bytes()=%q, want original content", got)
	}
	if d.Digest() != Digest([]byte("hello dictionary")) {
		t.Fatal("Digest() does not match content digest")
	}
	if len(d.Digest()) != 64 {
		t.Fatalf("Digest() length=%d, want 64 hex chars", len(d.Digest()))
	}
}

func TestStore_SwapReplacesCurrent(t *testing.T) {
	s := NewStore(mustNew(t, 1, "one"))

	prev, err := s.Swap(mustNew(t, 2, "two"))
	if err != nil {
		t.Fatalf("Swap() error: %v", err)
	}
	if prev != 1 {
		t.Fatalf("Swap() prev=%d, want 1", prev)
	}
	if got := s.Current().Version(); got != 2 {
		t.Fatalf("Current().Version()=%d, want 2", got)
	}
}

func TestStore_SwapRejectsStale(t *testing.T) {
	s := NewStore(mustNew(t, 3, "three"))

	for _, v := range []uint32{1, 3} {
		_, err := s.Swap(mustNew(t, v, "old"))
		var stale *StaleVersionError
		if !errors.As(err, &stale) {
			t.Fatalf("Swap(v%d) error=%v, want *StaleVersionError", v, err)
		}
		if stale.Current != 3 || stale.Attempted != v {
			t.Fatalf("StaleVersionError=%+v", stale)
		}
	}
	if got := s.Current().Version(); got != 3 {
		t.Fatalf("Current().Version()=%d after stale swaps, want 3", got)
	}
}

func TestStore_StageAndLookup(t *testing.T) {
	s := NewStore(mustNew(t, 1, "one"))
	next := mustNew(t, 2, "two")

	if err := s.Stage(next); err != nil {
		t.Fatalf("Stage() error: %v", err)
	}
	if got := s.Current().Version(); got != 1 {
		t.Fatalf("Stage() changed current to v%d", got)
	}
	if d, ok := s.Lookup(2); !ok || d != next {
		t.Fatal("Lookup(2) did not find staged dictionary")
	}
	if got := s.NextVersion(); got != 3 {
		t.Fatalf("NextVersion()=%d with v2 staged, want 3", got)
	}

	if _, err := s.Swap(next); err != nil {
		t.Fatalf("Swap() error: %v", err)
	}
	if _, ok := s.Staged(); ok {
		t.Fatal("staged dictionary still present after Swap")
	}
	if _, ok := s.Lookup(1); !ok {
		t.Fatal("Lookup(1) should find retained previous version")
	}
}

func TestStore_StageRejectsStale(t *testing.T) {
	s := NewStore(mustNew(t, 2, "two"))
	var stale *StaleVersionError
	if err := s.Stage(mustNew(t, 2, "again")); !errors.As(err, &stale) {
		t.Fatalf("Stage(v2) error=%v, want *StaleVersionError", err)
	}
}

func TestStore_RetainsBoundedHistory(t *testing.T) {
	s := NewStore(mustNew(t, 1, "v1"), WithRetain(2))
	for v := uint32(2); v <= 5; v++ {
		if _, err := s.Swap(mustNew(t, v, "content")); err != nil {
			t.Fatalf("Swap(v%d) error: %v", v, err)
		}
	}

	for _, tc := range []struct {
		version uint32
		want    bool
	}{
		{1, false},
		{2, false},
		{3, true},
		{4, true},
		{5, true},
	} {
		if _, ok := s.Lookup(tc.version); ok != tc.want {
			t.Errorf("Lookup(%d)=%v, want %v", tc.version, ok, tc.want)
		}
	}
}

func TestStore_ConcurrentReadersSeeWholeDictionaries(t *testing.T) {
	s := NewStore(mustNew(t, 1, "v1"))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			last := uint32(0)
			for {
				select {
				case <-stop:
					return
				default:
				}
				d := s.Current()
				if d == nil || d.Len() == 0 {
					t.Error("Current() returned an incomplete dictionary")
					return
				}
				if d.Version() < last {
					t.Errorf("version went backwards: %d after %d", d.Version(), last)
					return
				}
				last = d.Version()
			}
		}()
	}

	for v := uint32(2); v <= 200; v++ {
		if _, err := s.Swap(mustNew(t, v, "content")); err != nil {
			t.Fatalf("Swap(v%d) error: %v", v, err)
		}
	}
	close(stop)
	wg.Wait()
}

func TestStore_StageRejectsCompetingVersion(t *testing.T) {
	s := NewStore(mustNew(t, 1, "one"))
	first := mustNew(t, 2, "two")
	if err := s.Stage(first); err != nil {
		t.Fatalf("Stage(v2) error=%v", err)
	}
	if err := s.Stage(first); err != nil {
		t.Fatalf("re-Stage(same v2) error=%v, want nil", err)
	}
	var stale *StaleVersionError
	if err := s.Stage(mustNew(t, 2, "other two")); !errors.As(err, &stale) {
		t.Fatalf("Stage(competing v2) error=%v, want *StaleVersionError", err)
	}
}
