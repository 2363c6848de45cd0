package usecase

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"ai-chat-pipeline/internal/domain"
	"ai-chat-pipeline/internal/domain/model"
	"ai-chat-pipeline/internal/domain/ports/repository"
	"ai-chat-pipeline/internal/infra/metrics"
)

// Compile-time check
var _ ChatUseCase = (*chatUC)(nil)

// SubmitRequest is one chat question entering the pipeline.
type SubmitRequest struct {
	SessionID string
	Message   string
	FieldID   string
	Model     string
	Priority  int

	// History optionally seeds a brand-new session with prior turns
	// (role/content pairs). Ignored for sessions that already exist.
	History []HistoryMessage
}

type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SubmitReceipt identifies the enqueued job.
type SubmitReceipt struct {
	JobID               string `json:"job_id"`
	SessionID           string `json:"session_id"`
	Status              string `json:"status"`
	EstimatedDurationMs int64  `json:"estimated_duration_ms"`
}

// JobStatusView is the caller-facing snapshot of one job.
type JobStatusView struct {
	JobID         string                      `json:"job_id"`
	SessionID     string                      `json:"session_id"`
	Status        model.ChatJobStatus         `json:"status"`
	Progress      int                         `json:"progress"`
	QueuePosition int                         `json:"queue_position,omitempty"`
	RetryCount    int                         `json:"retry_count"`
	MaxRetries    int                         `json:"max_retries"`
	Error         string                      `json:"error,omitempty"`
	Result        *model.ChatCompletionResult `json:"result,omitempty"`
	CreatedAt     time.Time                   `json:"created_at"`
}

// SessionStats aggregates a session's jobs.
type SessionStats struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Active     int `json:"active"`
	TokensUsed int `json:"tokens_used"`
	Questions  int `json:"questions"`
}

type SessionJobsView struct {
	SessionID string          `json:"session_id"`
	Jobs      []JobStatusView `json:"jobs"`
	Stats     SessionStats    `json:"stats"`
}

type ChatUseCase interface {
	// Submit validates the message, bootstraps the session if needed,
	// persists the user message, and enqueues a chat-completion job.
	// Validation failures happen before anything is written.
	Submit(ctx context.Context, req SubmitRequest) (*SubmitReceipt, error)

	JobStatus(ctx context.Context, jobID string) (*JobStatusView, error)
	ListSessionJobs(ctx context.Context, sessionID string, limit int) (*SessionJobsView, error)
}

const maxMessageLen = 4000

type chatUC struct {
	queue      repository.QueueJobRepository
	chatJobs   repository.ChatJobRepository
	sessions   repository.ChatSessionRepository
	maxRetries int
}

func NewChatUseCase(
	queue repository.QueueJobRepository,
	chatJobs repository.ChatJobRepository,
	sessions repository.ChatSessionRepository,
	maxRetries int,
) *chatUC {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &chatUC{queue: queue, chatJobs: chatJobs, sessions: sessions, maxRetries: maxRetries}
}

func (c *chatUC) Submit(ctx context.Context, req SubmitRequest) (*SubmitReceipt, error) {
	if err := validateMessage(req.Message); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.SessionID) == "" {
		return nil, domain.E(domain.KindValidation, "session_id is required")
	}

	if err := c.ensureSession(ctx, req); err != nil {
		return nil, err
	}

	userMsg := &model.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: req.SessionID,
		Role:      "user",
		Content:   req.Message,
		CreatedAt: time.Now(),
	}
	if err := c.sessions.SaveMessage(ctx, nil, userMsg); err != nil {
		return nil, err
	}

	jobID := ulid.Make().String()
	chatJob := model.NewChatJob(jobID, req.SessionID, req.Message, c.maxRetries)
	chatJob.Model = req.Model
	if err := c.chatJobs.Save(ctx, nil, chatJob); err != nil {
		return nil, err
	}

	payload, err := model.ChatCompletionPayload{
		SessionID: req.SessionID,
		Message:   req.Message,
		FieldID:   req.FieldID,
		Model:     req.Model,
	}.Encode()
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, "payload encode failed", err)
	}
	queueJob := model.NewQueueJob(jobID, model.JobTypeChatCompletion, payload, req.Priority, c.maxRetries, time.Time{})
	if err := c.queue.Enqueue(ctx, nil, queueJob); err != nil {
		return nil, err
	}
	metrics.IncEnqueued(model.JobTypeChatCompletion)

	return &SubmitReceipt{
		JobID:               jobID,
		SessionID:           req.SessionID,
		Status:              string(chatJob.Status),
		EstimatedDurationMs: chatJob.EstimatedDurationMs,
	}, nil
}

func (c *chatUC) ensureSession(ctx context.Context, req SubmitRequest) error {
	_, err := c.sessions.FindByID(ctx, nil, req.SessionID)
	if err == nil {
		return nil
	}
	if err != domain.ErrNotFound {
		return err
	}
	if err := c.sessions.Save(ctx, nil, model.NewChatSession(req.SessionID, req.FieldID)); err != nil {
		return err
	}
	for _, h := range req.History {
		role := strings.ToLower(h.Role)
		if role != "user" && role != "assistant" {
			continue
		}
		msg := &model.ChatMessage{
			ID:        uuid.NewString(),
			SessionID: req.SessionID,
			Role:      role,
			Content:   h.Content,
			CreatedAt: time.Now(),
		}
		if err := c.sessions.SaveMessage(ctx, nil, msg); err != nil {
			return err
		}
	}
	return nil
}

func (c *chatUC) JobStatus(ctx context.Context, jobID string) (*JobStatusView, error) {
	queueJob, err := c.queue.FindByID(ctx, nil, jobID)
	if err != nil {
		return nil, err
	}
	chatJob, err := c.chatJobs.FindByJobID(ctx, nil, jobID)
	if err != nil && err != domain.ErrNotFound {
		return nil, err
	}
	return c.statusView(ctx, queueJob, chatJob), nil
}

func (c *chatUC) statusView(ctx context.Context, queueJob *model.QueueJob, chatJob *model.ChatJob) *JobStatusView {
	view := &JobStatusView{
		JobID:      queueJob.ID,
		Status:     model.ChatStatusForQueue(queueJob.Status, queueJob.RetryCount),
		RetryCount: queueJob.RetryCount,
		MaxRetries: queueJob.MaxRetries,
		CreatedAt:  queueJob.CreatedAt,
	}
	if chatJob != nil {
		view.SessionID = chatJob.ChatSessionID
		view.Status = chatJob.Status
	}
	if queueJob.ErrorMessage != "" {
		view.Error = queueJob.ErrorMessage
	}

	switch view.Status {
	case model.ChatJobStatusCompleted:
		view.Progress = 100
		if len(queueJob.Result) > 0 {
			var res model.ChatCompletionResult
			if json.Unmarshal(queueJob.Result, &res) == nil {
				view.Result = &res
			}
		}
	case model.ChatJobStatusProcessing:
		view.Progress = progressEstimate(chatJob)
	case model.ChatJobStatusPending, model.ChatJobStatusRetrying:
		if pos, err := c.queue.CountQueuedBefore(ctx, queueJob); err == nil {
			view.QueuePosition = pos + 1
		}
	}
	return view
}

// progressEstimate maps elapsed wall clock against the advisory duration
// estimate, capped at 95 until the job actually completes.
func progressEstimate(chatJob *model.ChatJob) int {
	if chatJob == nil || chatJob.ProcessingStartedAt == nil || chatJob.EstimatedDurationMs <= 0 {
		return 0
	}
	elapsed := time.Since(*chatJob.ProcessingStartedAt).Milliseconds()
	p := int(elapsed * 100 / chatJob.EstimatedDurationMs)
	if p > 95 {
		p = 95
	}
	if p < 0 {
		p = 0
	}
	return p
}

func (c *chatUC) ListSessionJobs(ctx context.Context, sessionID string, limit int) (*SessionJobsView, error) {
	if limit <= 0 {
		limit = 20
	}
	queueJobs, err := c.queue.ListBySession(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}

	view := &SessionJobsView{SessionID: sessionID, Jobs: make([]JobStatusView, 0, len(queueJobs))}
	for _, qj := range queueJobs {
		chatJob, err := c.chatJobs.FindByJobID(ctx, nil, qj.ID)
		if err != nil && err != domain.ErrNotFound {
			return nil, err
		}
		sv := c.statusView(ctx, qj, chatJob)
		view.Jobs = append(view.Jobs, *sv)

		view.Stats.Total++
		switch sv.Status {
		case model.ChatJobStatusCompleted:
			view.Stats.Completed++
		case model.ChatJobStatusFailed:
			view.Stats.Failed++
		default:
			view.Stats.Active++
		}
		if chatJob != nil {
			view.Stats.TokensUsed += chatJob.TokensUsed
		}
	}
	if sess, err := c.sessions.FindByID(ctx, nil, sessionID); err == nil {
		view.Stats.Questions = sess.QuestionCount
	}
	return view, nil
}

// validateMessage rejects empty, oversized and unsafe content before any
// write happens.
func validateMessage(message string) error {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return domain.E(domain.KindValidation, "message must not be empty")
	}
	if len(message) > maxMessageLen {
		return domain.E(domain.KindValidation, "message exceeds maximum length of 4000 characters")
	}
	lower := strings.ToLower(message)
	if strings.Contains(lower, "<script") || strings.Contains(lower, "javascript:") {
		return domain.E(domain.KindValidation, "message contains disallowed content")
	}
	return nil
}
