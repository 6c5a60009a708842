package client

import (
	"math"
	"math/rand"
	"time"

	"github.com/fieldops/fieldlink/internal/config"
)

// Backoff computes reconnect delays. It is a pure function of the attempt
// number; the supervisor owns the timer.
type Backoff struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter float64 // fraction of the exponential value, e.g. 0.25 for ±25%

	// rand returns a value in [0, 1). Nil uses math/rand.
	rand func() float64
}

// NewBackoff builds a Backoff from configuration.
func NewBackoff(cfg config.Backoff) Backoff {
	return Backoff{Base: cfg.Base, Cap: cfg.Cap, Jitter: cfg.Jitter}
}

// NextDelay returns min(base*2^attempt, cap) perturbed by ±Jitter of the
// exponential value and clamped to (0, cap].
func (b Backoff) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	// Exponential: base * 2^attempt, capped. Large attempts go straight to
	// the cap rather than overflowing.
	exp := float64(b.Cap)
	if attempt < 62 {
		exp = math.Min(float64(b.Base)*math.Pow(2, float64(attempt)), float64(b.Cap))
	}

	// Add jitter: ±Jitter
	r := rand.Float64
	if b.rand != nil {
		r = b.rand
	}
	j := exp * b.Jitter * (2*r() - 1)

	d := time.Duration(exp + j)
	if d > b.Cap {
		d = b.Cap
	}
	if d <= 0 {
		d = time.Millisecond
	}
	return d
}
