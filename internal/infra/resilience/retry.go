package resilience

import (
	"context"
	"time"

	"ai-chat-pipeline/internal/domain"
)

// Do runs op up to maxRetries+1 times, sleeping per the backoff between
// attempts. Only errors classified retryable by the taxonomy (provider,
// internal) are retried; validation/not-found/auth failures return
// immediately. The last error is returned when attempts are exhausted.
func Do(ctx context.Context, maxRetries int, b Backoff, op func(ctx context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if !domain.Retryable(err) || attempt >= maxRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.Delay(attempt + 1)):
		}
	}
}
