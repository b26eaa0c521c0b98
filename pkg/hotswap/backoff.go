package hotswap

import (
	"math/rand/v2"
	"time"
)

// Backoff computes retry delays: Base doubled per failed attempt, capped at
// Max, with the upper half randomized.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff is used when TrackerOptions.Backoff is zero.
var DefaultBackoff = Backoff{Base: 100 * time.Millisecond, Max: 30 * time.Second}

// Delay returns the wait before retry number attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt <= 0 || b.Base <= 0 {
		return 0
	}
	d := b.Base
	for i := 1; i < attempt && d < b.Max; i++ {
		d *= 2
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	half := d / 2
	if half <= 0 {
		return d
	}
	return half + rand.N(half+1)
}
