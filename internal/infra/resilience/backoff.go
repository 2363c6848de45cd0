// Package resilience holds the retry/backoff policy and the provider
// circuit breaker shared by the worker pool and the edge request gateway.
package resilience

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes exponential retry delays with an optional jitter
// fraction. Delay(n) = Base * 2^(n-1), capped at Ceiling, plus a random
// extra of up to JitterFrac of the capped value. Stateless, safe for
// concurrent use.
type Backoff struct {
	Base       time.Duration
	Ceiling    time.Duration
	JitterFrac float64
}

// DefaultBackoff matches the pipeline-wide policy: 1s base, 10s hard
// ceiling, up to 10% jitter.
func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Ceiling: 10 * time.Second, JitterFrac: 0.1}
}

// Delay returns how long to wait before retry attempt n (1-indexed).
// Attempt 1 is the first retry after the initial failure.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(b.Base) * math.Pow(2, float64(attempt-1))
	if b.Ceiling > 0 && d > float64(b.Ceiling) {
		d = float64(b.Ceiling)
	}
	if b.JitterFrac > 0 {
		d += rand.Float64() * b.JitterFrac * d
	}
	return time.Duration(d)
}
