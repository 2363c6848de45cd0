package adapter

import "context"

// Message represents a chat message in provider-neutral form.
type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// Usage for a single completion call. Estimated is set when the numbers
// were derived from character length (fallback path) rather than reported
// by the provider; estimated tokens are never billed.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Estimated        bool
}

// CompletionAdapter is the port for LLM chat completion providers.
type CompletionAdapter interface {
	Name() string

	// Chat returns the full assistant text plus usage in one shot.
	Chat(ctx context.Context, model string, messages []Message) (string, Usage, error)

	// StreamChat emits assistant content incrementally. Chunks are
	// re-emitted as they arrive from the provider; the chunk channel is
	// closed when the stream ends. At most one error is sent before both
	// channels close.
	StreamChat(ctx context.Context, model string, messages []Message) (<-chan string, <-chan error)

	// CountTokens returns prompt tokens for the messages (best-effort when
	// the provider has no exact counter).
	CountTokens(ctx context.Context, model string, messages []Message) (int, error)
}
