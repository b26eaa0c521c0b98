package hotswap

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vango-dev/ghostwatch/pkg/dictionary"
)

func TestWatcher_SwapsOnContentChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ghostwatch.dict")
	if err := os.WriteFile(path, []byte("first"), 0o644); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	src := dictionary.FileSource{Path: path}

	initial, err := dictionary.LoadInitial(ctx, src, 1)
	if err != nil {
		t.Fatalf("LoadInitial() error: %v", err)
	}
	store := dictionary.NewStore(initial)
	w := NewWatcher(src, NewCoordinator(store, nil), time.Hour, nil)

	next, err := w.Check(ctx)
	if err != nil || next != nil {
		t.Fatalf("Check() unchanged = %v, %v; want nil, nil", next, err)
	}

	if err := os.WriteFile(path, []byte("second"), 0o644); err != nil {
		t.Fatal(err)
	}
	next, err = w.Check(ctx)
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	if next == nil || next.Version() != 2 || store.Version() != 2 {
		t.Fatalf("Check() after change = %v (store v%d), want v2", next, store.Version())
	}

	if next, _ := w.Check(ctx); next != nil {
		t.Fatalf("Check() repeated = %v, want nil", next)
	}
}

func TestWatcher_RunStopsWithContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ghostwatch.dict")
	if err := os.WriteFile(path, []byte("first"), 0o644); err != nil {
		t.Fatal(err)
	}
	store := dictionary.NewStore(mustDict(t, 1, "first"))
	w := NewWatcher(dictionary.FileSource{Path: path}, NewCoordinator(store, nil), 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	if err := os.WriteFile(path, []byte("changed"), 0o644); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for store.Version() != 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if store.Version() != 2 {
		t.Fatalf("store version = %d, want 2", store.Version())
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
