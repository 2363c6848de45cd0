package ai

import (
	"context"
	"strings"

	"ai-chat-pipeline/internal/domain"
	"ai-chat-pipeline/internal/domain/ports/adapter"
)

var _ adapter.CompletionAdapter = (*MultiAdapter)(nil)

// MultiAdapter routes each call to a provider adapter keyed by model name.
// Each provider adapter is responsible for its own default model.
type MultiAdapter struct {
	defaultProvider string // e.g., "openai" or "gemini"
	byProvider      map[string]adapter.CompletionAdapter
	modelToProvider map[string]string // model -> provider ("openai" | "gemini")
}

func NewMultiAdapter(
	defaultProvider string,
	byProvider map[string]adapter.CompletionAdapter,
	modelToProvider map[string]string,
) *MultiAdapter {
	return &MultiAdapter{
		defaultProvider: strings.ToLower(defaultProvider),
		byProvider:      byProvider,
		modelToProvider: modelToProvider,
	}
}

func (m *MultiAdapter) Name() string { return "multi" }

func (m *MultiAdapter) resolveProvider(model string) string {
	if p := m.modelToProvider[model]; p != "" {
		return strings.ToLower(p)
	}
	l := strings.ToLower(model)
	switch {
	case strings.HasPrefix(l, "gemini"):
		return "gemini"
	case strings.HasPrefix(l, "gpt"), strings.HasPrefix(l, "o1"), strings.HasPrefix(l, "o3"):
		return "openai"
	default:
		return m.defaultProvider
	}
}

func (m *MultiAdapter) pick(model string) adapter.CompletionAdapter {
	prov := m.resolveProvider(model)
	if a := m.byProvider[prov]; a != nil {
		return a
	}
	// last resort: first available
	for _, a := range m.byProvider {
		if a != nil {
			return a
		}
	}
	return nil
}

func (m *MultiAdapter) Chat(ctx context.Context, model string, messages []adapter.Message) (string, adapter.Usage, error) {
	a := m.pick(model)
	if a == nil {
		return "", adapter.Usage{}, domain.E(domain.KindProvider, "no completion provider configured")
	}
	return a.Chat(ctx, model, messages)
}

func (m *MultiAdapter) StreamChat(ctx context.Context, model string, messages []adapter.Message) (<-chan string, <-chan error) {
	a := m.pick(model)
	if a == nil {
		chunks := make(chan string)
		errs := make(chan error, 1)
		errs <- domain.E(domain.KindProvider, "no completion provider configured")
		close(chunks)
		close(errs)
		return chunks, errs
	}
	return a.StreamChat(ctx, model, messages)
}

func (m *MultiAdapter) CountTokens(ctx context.Context, model string, messages []adapter.Message) (int, error) {
	a := m.pick(model)
	if a == nil {
		return EstimateTokens(messages), nil
	}
	return a.CountTokens(ctx, model, messages)
}
