// Package client is the outbound wrapper for callers of the pipeline's HTTP
// surface. It owns the request timeout, bearer-token injection, envelope
// decoding and SSE parsing so individual callers never reimplement them, and
// its retry policy is the same backoff the worker uses.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ai-chat-pipeline/internal/domain"
	"ai-chat-pipeline/internal/infra/resilience"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 2 // three attempts total
)

// Config carries the connection settings for one Gateway.
type Config struct {
	// BaseURL is the pipeline's HTTP root, e.g. "http://localhost:8080".
	BaseURL string
	// SessionToken is the per-session JWT. When empty, FallbackToken is
	// sent instead.
	SessionToken string
	// FallbackToken is the shared credential for callers without a session
	// token.
	FallbackToken string
	// Timeout bounds each individual request attempt. Zero means 30s.
	Timeout time.Duration
	// MaxRetries is the number of retries after the first attempt. Zero
	// means 2. Responses with 4xx status are never retried.
	MaxRetries int
	// Backoff overrides the retry delay policy. Zero value means the
	// pipeline-wide default.
	Backoff resilience.Backoff
}

// Gateway issues authenticated requests against the pipeline edge.
type Gateway struct {
	baseURL    string
	token      string
	http       *http.Client
	maxRetries int
	backoff    resilience.Backoff
	log        *zerolog.Logger
}

func NewGateway(cfg Config, log *zerolog.Logger) *Gateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}
	token := cfg.SessionToken
	if token == "" {
		token = cfg.FallbackToken
	}
	backoff := cfg.Backoff
	if backoff.Base == 0 {
		backoff = resilience.DefaultBackoff()
	}
	return &Gateway{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      token,
		http:       &http.Client{Timeout: timeout},
		maxRetries: retries,
		backoff:    backoff,
		log:        log,
	}
}

// UseSessionToken swaps the bearer credential, typically after minting a
// session JWT through MintToken.
func (g *Gateway) UseSessionToken(token string) {
	if token != "" {
		g.token = token
	}
}

// PostJSON posts body to path and decodes the envelope's data into out.
// Transport failures and 5xx responses are retried with backoff; 4xx
// responses return immediately as their taxonomy error.
func (g *Gateway) PostJSON(ctx context.Context, path string, body, out any) error {
	return resilience.Do(ctx, g.maxRetries, g.backoff, func(ctx context.Context) error {
		return g.once(ctx, http.MethodPost, path, body, out)
	})
}

// GetJSON issues a GET against path (query included) and decodes the
// envelope's data into out, with the same retry policy as PostJSON.
func (g *Gateway) GetJSON(ctx context.Context, path string, out any) error {
	return resilience.Do(ctx, g.maxRetries, g.backoff, func(ctx context.Context) error {
		return g.once(ctx, http.MethodGet, path, nil, out)
	})
}

func (g *Gateway) once(ctx context.Context, method, path string, body, out any) error {
	resp, err := g.send(ctx, method, path, body, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   *apiError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return domain.Wrap(statusKind(resp.StatusCode), "malformed response envelope", err)
	}
	if !env.Success || env.Error != nil {
		return envelopeError(resp.StatusCode, env.Error)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return domain.Wrap(domain.KindInternal, "response data decode failed", err)
		}
	}
	return nil
}

func (g *Gateway) send(ctx context.Context, method, path string, body any, accept string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, domain.Wrap(domain.KindValidation, "request encode failed", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return nil, domain.Wrap(domain.KindValidation, "bad request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, domain.Wrap(domain.KindProvider, "pipeline unreachable", err)
	}
	return resp, nil
}

// statusKind maps an HTTP status onto the taxonomy; the kind's Retryable
// decides whether resilience.Do tries again, so 4xx never retries.
func statusKind(status int) domain.ErrorKind {
	switch {
	case status == http.StatusUnauthorized:
		return domain.KindUnauthorized
	case status == http.StatusForbidden:
		return domain.KindForbidden
	case status == http.StatusNotFound:
		return domain.KindNotFound
	case status == http.StatusTooManyRequests:
		return domain.KindRateLimited
	case status >= 400 && status < 500:
		return domain.KindValidation
	case status >= 500:
		return domain.KindProvider
	default:
		return domain.KindInternal
	}
}

// apiError is the error member of the response envelope.
type apiError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details"`
}

func envelopeError(status int, e *apiError) error {
	kind := statusKind(status)
	msg := ""
	if e != nil {
		if e.Code != "" {
			kind = domain.ErrorKind(e.Code)
		}
		msg = e.Message
	}
	if msg == "" {
		msg = kind.DefaultMessage()
	}
	app := domain.E(kind, msg)
	if e != nil {
		app.Details = e.Details
	}
	return app
}

// DoneEvent is the terminal SSE event of a submit stream.
type DoneEvent struct {
	JobID        string `json:"job_id"`
	FullResponse string `json:"full_response"`
	TokensUsed   int    `json:"tokens_used"`
	Model        string `json:"model"`
}

// StreamCallbacks receives submit-stream events. Nil callbacks are skipped.
type StreamCallbacks struct {
	OnChunk func(content string)
	OnDone  func(DoneEvent)
	OnError func(message string)
}

// PostStream posts body to an SSE endpoint and dispatches each framed event
// to the callbacks. Opening the stream follows the retry policy; once the
// first byte arrives the stream is consumed without retrying, since the
// server may already have executed the job.
func (g *Gateway) PostStream(ctx context.Context, path string, body any, cb StreamCallbacks) error {
	var resp *http.Response
	err := resilience.Do(ctx, g.maxRetries, g.backoff, func(ctx context.Context) error {
		r, err := g.send(ctx, http.MethodPost, path, body, "text/event-stream")
		if err != nil {
			return err
		}
		if r.StatusCode != http.StatusOK {
			defer r.Body.Close()
			var env struct {
				Error *apiError `json:"error"`
			}
			_ = json.NewDecoder(r.Body).Decode(&env)
			return envelopeError(r.StatusCode, env.Error)
		}
		resp = r
		return nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return g.consumeStream(resp.Body, cb)
}

type streamFrame struct {
	Type         string `json:"type"`
	Content      string `json:"content"`
	JobID        string `json:"job_id"`
	FullResponse string `json:"full_response"`
	TokensUsed   int    `json:"tokens_used"`
	Model        string `json:"model"`
	Error        string `json:"error"`
}

// consumeStream reads `data: <json>` frames until EOF, routing each to its
// callback by the type discriminator.
func (g *Gateway) consumeStream(body io.Reader, cb StreamCallbacks) error {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		var frame streamFrame
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			g.log.Warn().Str("frame", payload).Msg("unparseable stream frame")
			continue
		}
		switch frame.Type {
		case "chunk":
			if cb.OnChunk != nil {
				cb.OnChunk(frame.Content)
			}
		case "done":
			if cb.OnDone != nil {
				cb.OnDone(DoneEvent{
					JobID:        frame.JobID,
					FullResponse: frame.FullResponse,
					TokensUsed:   frame.TokensUsed,
					Model:        frame.Model,
				})
			}
			return nil
		case "error":
			if cb.OnError != nil {
				cb.OnError(frame.Error)
			}
			return domain.E(domain.KindProvider, frame.Error)
		}
	}
	if err := sc.Err(); err != nil {
		return domain.Wrap(domain.KindProvider, "stream read failed", err)
	}
	return domain.E(domain.KindProvider, "stream ended without done event")
}

// SubmitParams mirrors the submit endpoint's request body.
type SubmitParams struct {
	SessionID string           `json:"session_id"`
	Message   string           `json:"message"`
	FieldID   string           `json:"field_id,omitempty"`
	Model     string           `json:"model,omitempty"`
	History   []HistoryMessage `json:"conversation_history,omitempty"`
}

type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Submit streams a chat completion for params, invoking cb per event.
func (g *Gateway) Submit(ctx context.Context, params SubmitParams, cb StreamCallbacks) error {
	return g.PostStream(ctx, "/api/v1/chat/submit", params, cb)
}

// JobStatus fetches one job's status view into out.
func (g *Gateway) JobStatus(ctx context.Context, jobID string, out any) error {
	return g.GetJSON(ctx, "/api/v1/jobs/status?job_id="+jobID, out)
}

// SessionJobs fetches a session's job listing with aggregate stats.
func (g *Gateway) SessionJobs(ctx context.Context, sessionID string, limit int, out any) error {
	path := fmt.Sprintf("/api/v1/jobs/status?session_id=%s&limit=%d", sessionID, limit)
	return g.GetJSON(ctx, path, out)
}

// ProcessBatch asks the server to claim and run one batch.
func (g *Gateway) ProcessBatch(ctx context.Context, batchSize int, out any) error {
	body := map[string]int{"batch_size": batchSize}
	return g.PostJSON(ctx, "/api/v1/jobs/process", body, out)
}

// MintToken exchanges the fallback credential for a session JWT and adopts
// it for subsequent requests.
func (g *Gateway) MintToken(ctx context.Context, sessionID string) (string, error) {
	var data struct {
		Token string `json:"token"`
	}
	err := g.PostJSON(ctx, "/api/v1/auth/token", map[string]string{"session_id": sessionID}, &data)
	if err != nil {
		return "", err
	}
	g.UseSessionToken(data.Token)
	return data.Token, nil
}
