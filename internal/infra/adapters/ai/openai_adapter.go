package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ai-chat-pipeline/internal/domain"
	"ai-chat-pipeline/internal/domain/ports/adapter"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.CompletionAdapter = (*OpenAIAdapter)(nil)

// OpenAIAdapter implements adapter.CompletionAdapter over the Chat
// Completions API with raw HTTP, including the SSE streaming variant.
type OpenAIAdapter struct {
	apiKey string
	base   string // e.g., https://api.openai.com/v1
	model  string
	client *http.Client
	tok    *Tokenizer
}

func NewOpenAIAdapter(apiKey, baseURL, model string) (*OpenAIAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key empty")
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIAdapter{
		apiKey: apiKey,
		base:   strings.TrimRight(baseURL, "/"),
		model:  model,
		client: &http.Client{Timeout: 90 * time.Second},
		tok:    NewTokenizer(),
	}, nil
}

func (o *OpenAIAdapter) Name() string { return "openai" }

type chatRequest struct {
	Model    string            `json:"model"`
	Messages []adapter.Message `json:"messages"`
	Stream   bool              `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message adapter.Message `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (o *OpenAIAdapter) Chat(ctx context.Context, model string, messages []adapter.Message) (string, adapter.Usage, error) {
	if model == "" {
		model = o.model
	}

	b, _ := json.Marshal(chatRequest{Model: model, Messages: messages})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.base+"/chat/completions", bytes.NewReader(b))
	if err != nil {
		return "", adapter.Usage{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", adapter.Usage{}, domain.Wrap(domain.KindProvider, "openai request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", adapter.Usage{}, statusToError(resp)
	}

	var payload chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", adapter.Usage{}, domain.Wrap(domain.KindProvider, "openai decode failed", err)
	}
	if payload.Error != nil && payload.Error.Message != "" {
		return "", adapter.Usage{}, domain.E(domain.KindProvider, payload.Error.Message)
	}
	usage := adapter.Usage{
		PromptTokens:     payload.Usage.PromptTokens,
		CompletionTokens: payload.Usage.CompletionTokens,
		TotalTokens:      payload.Usage.TotalTokens,
	}
	for _, c := range payload.Choices {
		if c.Message.Content != "" {
			return c.Message.Content, usage, nil
		}
	}
	return "", usage, domain.E(domain.KindProvider, "openai returned no choice content")
}

// StreamChat emits delta content parsed from `data:` SSE frames until the
// `[DONE]` sentinel.
func (o *OpenAIAdapter) StreamChat(ctx context.Context, model string, messages []adapter.Message) (<-chan string, <-chan error) {
	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		if model == "" {
			model = o.model
		}
		b, _ := json.Marshal(chatRequest{Model: model, Messages: messages, Stream: true})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.base+"/chat/completions", bytes.NewReader(b))
		if err != nil {
			errs <- err
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
		req.Header.Set("Accept", "text/event-stream")

		resp, err := o.client.Do(req)
		if err != nil {
			errs <- domain.Wrap(domain.KindProvider, "openai stream request failed", err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			errs <- statusToError(resp)
			return
		}

		sc := bufio.NewScanner(resp.Body)
		buf := make([]byte, 0, 64*1024)
		sc.Buffer(buf, 2*1024*1024)

		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}
			var chunk chatStreamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				errs <- domain.Wrap(domain.KindProvider, "openai stream decode failed", err)
				return
			}
			if chunk.Error != nil && chunk.Error.Message != "" {
				errs <- domain.E(domain.KindProvider, chunk.Error.Message)
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				select {
				case chunks <- delta:
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
			}
		}
		if err := sc.Err(); err != nil {
			errs <- domain.Wrap(domain.KindProvider, "openai stream read failed", err)
		}
	}()

	return chunks, errs
}

func (o *OpenAIAdapter) CountTokens(ctx context.Context, model string, messages []adapter.Message) (int, error) {
	if model == "" {
		model = o.model
	}
	return o.tok.Count(model, messages)
}

// statusToError maps provider HTTP failures onto the error taxonomy: 429 is
// rate limiting, other 4xx are rejected requests that retrying cannot fix,
// 5xx are transient provider faults.
func statusToError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = fmt.Sprintf("status %d", resp.StatusCode)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return domain.E(domain.KindRateLimited, msg)
	case resp.StatusCode >= 500:
		return domain.E(domain.KindProvider, msg)
	default:
		return domain.E(domain.KindValidation, msg)
	}
}
