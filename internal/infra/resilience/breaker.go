package resilience

import (
	"context"
	"sync"
	"time"

	"ai-chat-pipeline/internal/domain"
)

type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Breaker guards calls to the completion provider. Closed until Threshold
// consecutive failures, then open: calls are rejected with ErrCircuitOpen
// until Cooldown elapses, after which a single trial call (half-open) either
// closes the breaker again or re-opens it.
type Breaker struct {
	mu          sync.Mutex
	threshold   int
	cooldown    time.Duration
	state       BreakerState
	consecutive int
	openedAt    time.Time
	trialing    bool
	now         func() time.Time

	onStateChange func(from, to BreakerState)
}

func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// OnStateChange registers a hook invoked (under the lock) on transitions.
func (b *Breaker) OnStateChange(fn func(from, to BreakerState)) { b.onStateChange = fn }

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Do executes fn under the breaker policy.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if !b.allow() {
		return domain.ErrCircuitOpen
	}
	err := fn(ctx)
	b.record(err == nil)
	return err
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().Sub(b.openedAt) >= b.cooldown {
			b.transition(BreakerHalfOpen)
			b.trialing = true
			return true
		}
		return false
	case BreakerHalfOpen:
		// One trial call at a time.
		if b.trialing {
			return false
		}
		b.trialing = true
		return true
	}
	return false
}

func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if success {
		b.consecutive = 0
		b.trialing = false
		if b.state != BreakerClosed {
			b.transition(BreakerClosed)
		}
		return
	}
	b.trialing = false
	if b.state == BreakerHalfOpen {
		b.openedAt = b.now()
		b.transition(BreakerOpen)
		return
	}
	b.consecutive++
	if b.consecutive >= b.threshold && b.state == BreakerClosed {
		b.openedAt = b.now()
		b.transition(BreakerOpen)
	}
}

func (b *Breaker) transition(to BreakerState) {
	from := b.state
	b.state = to
	if b.onStateChange != nil && from != to {
		b.onStateChange(from, to)
	}
}
