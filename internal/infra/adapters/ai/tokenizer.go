package ai

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"ai-chat-pipeline/internal/domain/ports/adapter"
)

// Tokenizer counts prompt tokens locally with tiktoken encodings. Models
// without a known encoding fall back to the chars/4 estimate.
type Tokenizer struct {
	mu    sync.Mutex
	cache map[string]*tiktoken.Tiktoken
}

func NewTokenizer() *Tokenizer {
	return &Tokenizer{cache: make(map[string]*tiktoken.Tiktoken)}
}

func (t *Tokenizer) encodingFor(model string) *tiktoken.Tiktoken {
	t.mu.Lock()
	defer t.mu.Unlock()
	if enc, ok := t.cache[model]; ok {
		return enc
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil
		}
	}
	t.cache[model] = enc
	return enc
}

// Count returns the token total for the messages. Each message carries a
// small fixed framing overhead on top of its content tokens.
func (t *Tokenizer) Count(model string, messages []adapter.Message) (int, error) {
	enc := t.encodingFor(model)
	if enc == nil {
		return EstimateTokens(messages), nil
	}
	total := 0
	for _, m := range messages {
		total += 4 // role and frame markers
		total += len(enc.Encode(m.Content, nil, nil))
	}
	return total, nil
}

// EstimateTokens is the chars/4 heuristic used when no encoding is
// available or when a provider reports no usage.
func EstimateTokens(messages []adapter.Message) int {
	chars := 0
	for _, m := range messages {
		chars += len(m.Content)
	}
	n := chars / 4
	if n < 1 && chars > 0 {
		n = 1
	}
	return n
}

// EstimateTextTokens applies the same heuristic to a single text.
func EstimateTextTokens(text string) int {
	n := len(text) / 4
	if n < 1 && len(text) > 0 {
		n = 1
	}
	return n
}
