package relay

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes reconnect delays: min(Base*2^attempt, Max), perturbed
// uniformly by ±Jitter of itself and rounded to the millisecond.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64

	// Rand returns a value in [0, 1). Nil uses math/rand/v2.
	Rand func() float64
}

// Delay returns the wait before reconnect attempt number attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// Cap the exponent so the float never overflows; 2^62 ns already
	// dwarfs any sane Max.
	exp := math.Min(float64(attempt), 62)
	delay := math.Min(float64(b.Base)*math.Pow(2, exp), float64(b.Max))

	r := rand.Float64
	if b.Rand != nil {
		r = b.Rand
	}
	delay += (r()*2 - 1) * b.Jitter * delay

	d := time.Duration(math.Round(delay / float64(time.Millisecond))) * time.Millisecond
	if d < 0 {
		return 0
	}
	return d
}
