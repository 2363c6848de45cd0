package web

import (
	"encoding/json"
	"fmt"
	"net/http"

	"ai-chat-pipeline/internal/domain"
)

// Streamed event shapes. Every frame is `data: <json>\n\n` with a type
// discriminator of chunk, done or error.
type sseChunk struct {
	Type    string `json:"type"` // "chunk"
	Content string `json:"content"`
}

type sseDone struct {
	Type         string `json:"type"` // "done"
	JobID        string `json:"job_id"`
	FullResponse string `json:"full_response"`
	TokensUsed   int    `json:"tokens_used"`
	Model        string `json:"model"`
}

type sseError struct {
	Type  string `json:"type"` // "error"
	Error string `json:"error"`
}

type sseWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, domain.E(domain.KindInternal, "streaming unsupported by connection")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	f.Flush()
	return &sseWriter{w: w, f: f}, nil
}

func (s *sseWriter) send(ev any) {
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(s.w, "data: %s\n\n", b)
	s.f.Flush()
}

func (s *sseWriter) chunk(content string) {
	s.send(sseChunk{Type: "chunk", Content: content})
}

func (s *sseWriter) done(jobID, fullResponse string, tokensUsed int, model string) {
	s.send(sseDone{Type: "done", JobID: jobID, FullResponse: fullResponse, TokensUsed: tokensUsed, Model: model})
}

func (s *sseWriter) fail(err error) {
	s.send(sseError{Type: "error", Error: domain.UserMessage(err)})
}
