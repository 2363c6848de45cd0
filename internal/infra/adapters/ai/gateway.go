package ai

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ai-chat-pipeline/internal/domain"
	"ai-chat-pipeline/internal/domain/ports/adapter"
	"ai-chat-pipeline/internal/infra/metrics"
	"ai-chat-pipeline/internal/infra/resilience"
)

// StreamResult is the outcome of one gateway completion.
type StreamResult struct {
	FullText   string
	Usage      adapter.Usage
	Model      string
	Fallback   bool
	DurationMs int64
}

// Gateway fronts the completion provider for the rest of the pipeline. It
// accumulates the streamed chunks into the full text, feeds them to the
// caller's onChunk hook as they arrive, and guards the provider with a
// circuit breaker. When the circuit is open the canned fallback text is
// served as a simulated stream instead of failing the job; transient
// provider errors propagate so the retry policy can act on them.
type Gateway struct {
	inner           adapter.CompletionAdapter
	breaker         *resilience.Breaker
	fallbackMessage string
	defaultModel    string
	log             *zerolog.Logger
}

func NewGateway(inner adapter.CompletionAdapter, breaker *resilience.Breaker, fallbackMessage, defaultModel string, log *zerolog.Logger) *Gateway {
	breaker.OnStateChange(func(from, to resilience.BreakerState) {
		metrics.SetBreakerState(int(to))
		log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("provider breaker state change")
	})
	return &Gateway{
		inner:           inner,
		breaker:         breaker,
		fallbackMessage: fallbackMessage,
		defaultModel:    defaultModel,
		log:             log,
	}
}

// Complete runs one streamed completion. onChunk may be nil; when set it is
// called synchronously with each content chunk in arrival order.
func (g *Gateway) Complete(ctx context.Context, model string, messages []adapter.Message, onChunk func(string)) (StreamResult, error) {
	if model == "" {
		model = g.defaultModel
	}
	start := time.Now()

	var full strings.Builder
	err := g.breaker.Do(ctx, func(ctx context.Context) error {
		full.Reset()
		chunks, errs := g.inner.StreamChat(ctx, model, messages)
		for c := range chunks {
			full.WriteString(c)
			metrics.IncStreamChunk(g.inner.Name(), model)
			if onChunk != nil {
				onChunk(c)
			}
		}
		return <-errs
	})
	elapsed := time.Since(start).Milliseconds()

	if errors.Is(err, domain.ErrCircuitOpen) {
		return g.serveFallback(model, messages, onChunk, start), nil
	}
	if err != nil {
		metrics.ObserveChatUsage(g.inner.Name(), model, 0, 0, 0, elapsed, false)
		return StreamResult{Model: model, DurationMs: elapsed}, err
	}

	text := full.String()
	usage := g.usageFor(ctx, model, messages, text)
	metrics.ObserveChatUsage(g.inner.Name(), model, usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens, elapsed, true)
	return StreamResult{
		FullText:   text,
		Usage:      usage,
		Model:      model,
		DurationMs: elapsed,
	}, nil
}

// usageFor derives usage for a streamed completion. Streams carry no usage
// frame, so the prompt side comes from the tokenizer and the completion side
// from the length heuristic.
func (g *Gateway) usageFor(ctx context.Context, model string, messages []adapter.Message, completion string) adapter.Usage {
	prompt, err := g.inner.CountTokens(ctx, model, messages)
	if err != nil {
		prompt = EstimateTokens(messages)
	}
	out := EstimateTextTokens(completion)
	return adapter.Usage{
		PromptTokens:     prompt,
		CompletionTokens: out,
		TotalTokens:      prompt + out,
		Estimated:        true,
	}
}

func (g *Gateway) serveFallback(model string, messages []adapter.Message, onChunk func(string), start time.Time) StreamResult {
	metrics.IncFallback(model)
	g.log.Warn().Str("model", model).Msg("circuit open, serving fallback completion")

	if onChunk != nil {
		for _, c := range fallbackChunks(g.fallbackMessage) {
			onChunk(c)
		}
	}
	out := EstimateTextTokens(g.fallbackMessage)
	prompt := EstimateTokens(messages)
	return StreamResult{
		FullText: g.fallbackMessage,
		Usage: adapter.Usage{
			PromptTokens:     prompt,
			CompletionTokens: out,
			TotalTokens:      prompt + out,
			Estimated:        true,
		},
		Model:      model,
		Fallback:   true,
		DurationMs: time.Since(start).Milliseconds(),
	}
}

// fallbackChunks splits the canned text into word groups so callers see the
// same chunked delivery a live stream would produce.
func fallbackChunks(text string) []string {
	words := strings.Fields(text)
	const group = 3
	var out []string
	for i := 0; i < len(words); i += group {
		end := i + group
		if end > len(words) {
			end = len(words)
		}
		chunk := strings.Join(words[i:end], " ")
		if end < len(words) {
			chunk += " "
		}
		out = append(out, chunk)
	}
	return out
}
