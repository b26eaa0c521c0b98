package hotswap

import (
	"testing"
	"time"
)

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Max: 30 * time.Second}

	tests := []struct {
		attempt int
		full    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{9, 25600 * time.Millisecond},
		{10, 30 * time.Second},
		{50, 30 * time.Second},
	}
	for _, tc := range tests {
		for i := 0; i < 20; i++ {
			got := b.Delay(tc.attempt)
			if got < tc.full/2 || got > tc.full {
				t.Fatalf("Delay(%d) = %v, want within [%v, %v]", tc.attempt, got, tc.full/2, tc.full)
			}
		}
	}

	if got := b.Delay(0); got != 0 {
		t.Errorf("Delay(0) = %v, want 0", got)
	}
}
