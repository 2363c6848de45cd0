package ai

import (
	"context"

	"ai-chat-pipeline/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.CompletionAdapter = (*limitedCompletion)(nil)

// limitedCompletion bounds concurrent provider calls with a semaphore.
// Streams hold their slot until the provider stops emitting.
type limitedCompletion struct {
	inner adapter.CompletionAdapter
	sem   chan struct{}
}

func NewLimitedCompletion(inner adapter.CompletionAdapter, maxConcurrent int) adapter.CompletionAdapter {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedCompletion{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedCompletion) Name() string { return l.inner.Name() }

func (l *limitedCompletion) Chat(ctx context.Context, model string, messages []adapter.Message) (string, adapter.Usage, error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return "", adapter.Usage{}, ctx.Err()
	}
	defer func() { <-l.sem }()
	return l.inner.Chat(ctx, model, messages)
}

func (l *limitedCompletion) StreamChat(ctx context.Context, model string, messages []adapter.Message) (<-chan string, <-chan error) {
	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		select {
		case l.sem <- struct{}{}:
		case <-ctx.Done():
			errs <- ctx.Err()
			return
		}
		defer func() { <-l.sem }()

		innerChunks, innerErrs := l.inner.StreamChat(ctx, model, messages)
		for c := range innerChunks {
			chunks <- c
		}
		if err := <-innerErrs; err != nil {
			errs <- err
		}
	}()

	return chunks, errs
}

func (l *limitedCompletion) CountTokens(ctx context.Context, model string, messages []adapter.Message) (int, error) {
	return l.inner.CountTokens(ctx, model, messages)
}
