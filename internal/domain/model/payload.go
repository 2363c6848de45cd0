package model

import (
	"encoding/json"
	"fmt"
)

// Known job types. The queue itself is generic; payloads are decoded at the
// boundary into one concrete struct per type rather than passed around as
// untyped blobs.
const (
	JobTypeChatCompletion = "chat_completion"
)

// ChatCompletionPayload is the payload for JobTypeChatCompletion.
type ChatCompletionPayload struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	FieldID   string `json:"field_id,omitempty"`
	Model     string `json:"model,omitempty"`
}

func (p ChatCompletionPayload) Encode() (json.RawMessage, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// DecodePayload decodes a raw queue payload according to the job type.
// Unknown job types are an error: no component may execute a payload it
// cannot type.
func DecodePayload(jobType string, raw json.RawMessage) (any, error) {
	switch jobType {
	case JobTypeChatCompletion:
		var p ChatCompletionPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", jobType, err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown job type %q", jobType)
	}
}

// ChatCompletionResult is the result payload written back to the queue row
// when a chat-completion job completes.
type ChatCompletionResult struct {
	Response   string `json:"response"`
	TokensUsed int    `json:"tokens_used"`
	Model      string `json:"model"`
	Fallback   bool   `json:"fallback,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

func (r ChatCompletionResult) Encode() json.RawMessage {
	b, _ := json.Marshal(r)
	return b
}
