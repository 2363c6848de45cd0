package ai_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ai-chat-pipeline/internal/domain"
	"ai-chat-pipeline/internal/domain/ports/adapter"
	ai "ai-chat-pipeline/internal/infra/adapters/ai"
)

func sseHandler(t *testing.T, frames []string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization header = %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}
}

func TestOpenAIAdapter_StreamChat(t *testing.T) {
	t.Parallel()
	frames := []string{
		`{"choices":[{"delta":{"content":"Hel"}}]}`,
		`{"choices":[{"delta":{"content":"lo"}}]}`,
		`{"choices":[{"delta":{}}]}`,
	}
	srv := httptest.NewServer(sseHandler(t, frames))
	defer srv.Close()

	a, err := ai.NewOpenAIAdapter("test-key", srv.URL, "gpt-4o-mini")
	if err != nil {
		t.Fatal(err)
	}

	chunks, errs := a.StreamChat(context.Background(), "", []adapter.Message{{Role: "user", Content: "hi"}})
	var got []string
	for c := range chunks {
		got = append(got, c)
	}
	if err := <-errs; err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if joined := strings.Join(got, ""); joined != "Hello" {
		t.Fatalf("chunks reassemble to %q, want %q", joined, "Hello")
	}
}

func TestOpenAIAdapter_Chat(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"hi there"}}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`)
	}))
	defer srv.Close()

	a, err := ai.NewOpenAIAdapter("test-key", srv.URL, "gpt-4o-mini")
	if err != nil {
		t.Fatal(err)
	}
	text, usage, err := a.Chat(context.Background(), "", []adapter.Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatal(err)
	}
	if text != "hi there" {
		t.Fatalf("text = %q", text)
	}
	if usage.TotalTokens != 5 || usage.Estimated {
		t.Fatalf("usage = %+v", usage)
	}
}

func TestOpenAIAdapter_StatusMapping(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name      string
		status    int
		wantKind  domain.ErrorKind
		retryable bool
	}{
		{"server fault", http.StatusBadGateway, domain.KindProvider, true},
		{"rate limited", http.StatusTooManyRequests, domain.KindRateLimited, false},
		{"rejected request", http.StatusBadRequest, domain.KindValidation, false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			a, _ := ai.NewOpenAIAdapter("test-key", srv.URL, "gpt-4o-mini")
			_, _, err := a.Chat(context.Background(), "", []adapter.Message{{Role: "user", Content: "hi"}})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := domain.KindOf(err); got != tc.wantKind {
				t.Fatalf("kind = %v, want %v", got, tc.wantKind)
			}
			if domain.Retryable(err) != tc.retryable {
				t.Fatalf("retryable = %v, want %v", domain.Retryable(err), tc.retryable)
			}
		})
	}
}

func TestEstimateTokens(t *testing.T) {
	t.Parallel()
	msgs := []adapter.Message{{Role: "user", Content: strings.Repeat("a", 40)}}
	if got := ai.EstimateTokens(msgs); got != 10 {
		t.Fatalf("estimate = %d, want 10", got)
	}
	if got := ai.EstimateTextTokens("ab"); got != 1 {
		t.Fatalf("short text estimate = %d, want 1", got)
	}
	if got := ai.EstimateTextTokens(""); got != 0 {
		t.Fatalf("empty text estimate = %d, want 0", got)
	}
}
