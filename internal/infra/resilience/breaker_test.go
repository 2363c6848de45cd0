//go:build !integration

package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"ai-chat-pipeline/internal/domain"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker(3, time.Minute)
	boom := errors.New("provider 503")

	for i := 0; i < 3; i++ {
		_ = b.Do(context.Background(), func(ctx context.Context) error { return boom })
	}
	if b.State() != BreakerOpen {
		t.Fatalf("expected open after 3 consecutive failures, got %s", b.State())
	}

	err := b.Do(context.Background(), func(ctx context.Context) error { return nil })
	if !errors.Is(err, domain.ErrCircuitOpen) {
		t.Fatalf("open breaker must reject immediately, got %v", err)
	}
}

func TestBreakerSuccessResetsCounter(t *testing.T) {
	b := NewBreaker(3, time.Minute)
	boom := errors.New("boom")

	_ = b.Do(context.Background(), func(ctx context.Context) error { return boom })
	_ = b.Do(context.Background(), func(ctx context.Context) error { return boom })
	_ = b.Do(context.Background(), func(ctx context.Context) error { return nil })
	_ = b.Do(context.Background(), func(ctx context.Context) error { return boom })
	_ = b.Do(context.Background(), func(ctx context.Context) error { return boom })

	if b.State() != BreakerClosed {
		t.Fatalf("a success must reset the consecutive counter; state = %s", b.State())
	}
}

func TestBreakerHalfOpenTrial(t *testing.T) {
	b := NewBreaker(1, time.Minute)
	clock := time.Now()
	b.now = func() time.Time { return clock }

	_ = b.Do(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	if b.State() != BreakerOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	// Before cooldown: rejected.
	if err := b.Do(context.Background(), func(ctx context.Context) error { return nil }); !errors.Is(err, domain.ErrCircuitOpen) {
		t.Fatalf("expected rejection before cooldown, got %v", err)
	}

	// After cooldown: one trial allowed; success closes.
	clock = clock.Add(2 * time.Minute)
	if err := b.Do(context.Background(), func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("trial call should run, got %v", err)
	}
	if b.State() != BreakerClosed {
		t.Fatalf("successful trial must close the breaker, got %s", b.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(1, time.Minute)
	clock := time.Now()
	b.now = func() time.Time { return clock }

	_ = b.Do(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	clock = clock.Add(2 * time.Minute)
	_ = b.Do(context.Background(), func(ctx context.Context) error { return errors.New("still down") })

	if b.State() != BreakerOpen {
		t.Fatalf("failed trial must re-open, got %s", b.State())
	}
	if err := b.Do(context.Background(), func(ctx context.Context) error { return nil }); !errors.Is(err, domain.ErrCircuitOpen) {
		t.Fatalf("expected rejection after re-open, got %v", err)
	}
}
