package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ai-chat-pipeline/internal/domain"
	"ai-chat-pipeline/internal/domain/model"
	"ai-chat-pipeline/internal/domain/ports/adapter"
	"ai-chat-pipeline/internal/domain/ports/repository"
	ai "ai-chat-pipeline/internal/infra/adapters/ai"
)

// Processor executes one claimed queue job of its type. onChunk may be nil;
// when set, content chunks are delivered to it as they stream in.
type Processor interface {
	JobType() string
	Process(ctx context.Context, job *model.QueueJob, onChunk func(string)) (json.RawMessage, error)
}

// DefaultCannedResponses short-circuit the provider call when the user
// message matches a trigger phrase. The canned path still persists an
// assistant message and completes the job like any other success.
var DefaultCannedResponses = map[string]string{
	"what can you do": "I can answer questions about your field, keep context across the conversation, and stream answers as they are generated.",
	"help":            "Ask me anything about your field. I remember the recent conversation, so follow-up questions work too.",
}

// ChatJobProcessor runs the chat-completion state machine for one job:
// mirror processing into the chat row, gather history, complete via the
// gateway (or the canned path), then persist the assistant message and both
// terminal rows.
type ChatJobProcessor struct {
	chatJobs repository.ChatJobRepository
	sessions repository.ChatSessionRepository
	queue    repository.QueueJobRepository
	gateway  *ai.Gateway
	canned   map[string]string
	history  int
	log      *zerolog.Logger
}

func NewChatJobProcessor(
	chatJobs repository.ChatJobRepository,
	sessions repository.ChatSessionRepository,
	queue repository.QueueJobRepository,
	gateway *ai.Gateway,
	historyWindow int,
	log *zerolog.Logger,
) *ChatJobProcessor {
	if historyWindow <= 0 {
		historyWindow = 10
	}
	return &ChatJobProcessor{
		chatJobs: chatJobs,
		sessions: sessions,
		queue:    queue,
		gateway:  gateway,
		canned:   DefaultCannedResponses,
		history:  historyWindow,
		log:      log,
	}
}

func (p *ChatJobProcessor) JobType() string { return model.JobTypeChatCompletion }

func (p *ChatJobProcessor) Process(ctx context.Context, job *model.QueueJob, onChunk func(string)) (json.RawMessage, error) {
	decoded, err := model.DecodePayload(job.JobType, job.Payload)
	if err != nil {
		return nil, domain.Wrap(domain.KindValidation, "undecodable payload", err)
	}
	payload := decoded.(model.ChatCompletionPayload)

	chatJob, err := p.chatJobs.FindByJobID(ctx, nil, job.ID)
	if err != nil {
		if err != domain.ErrNotFound {
			return nil, err
		}
		// Jobs enqueued out-of-band carry everything needed to rebuild the row.
		chatJob = model.NewChatJob(job.ID, payload.SessionID, payload.Message, job.MaxRetries)
	}

	start := time.Now()
	now := start
	chatJob.Status = model.ChatStatusForQueue(model.QueueStatusProcessing, job.RetryCount)
	chatJob.RetryCount = job.RetryCount
	chatJob.Model = payload.Model
	chatJob.ProcessingStartedAt = &now
	if err := p.chatJobs.Save(ctx, nil, chatJob); err != nil {
		return nil, err
	}

	result, err := p.complete(ctx, payload, onChunk)
	chatJob.ActualDurationMs = time.Since(start).Milliseconds()
	if err != nil {
		return nil, err
	}

	msg := &model.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: payload.SessionID,
		Role:      "assistant",
		Content:   result.FullText,
		Tokens:    result.Usage.CompletionTokens,
		CreatedAt: time.Now(),
	}
	if err := p.sessions.SaveMessage(ctx, nil, msg); err != nil {
		return nil, err
	}
	if err := p.sessions.IncrementQuestionCount(ctx, nil, payload.SessionID); err != nil && err != domain.ErrNotFound {
		return nil, err
	}

	chatJob.Status = model.ChatJobStatusCompleted
	chatJob.AIResponse = result.FullText
	chatJob.TokensUsed = result.Usage.TotalTokens
	chatJob.Model = result.Model
	done := time.Now()
	chatJob.CompletedAt = &done
	chatJob.ErrorMessage = ""
	if err := p.chatJobs.Save(ctx, nil, chatJob); err != nil {
		return nil, err
	}

	return model.ChatCompletionResult{
		Response:   result.FullText,
		TokensUsed: result.Usage.TotalTokens,
		Model:      result.Model,
		Fallback:   result.Fallback,
		DurationMs: chatJob.ActualDurationMs,
	}.Encode(), nil
}

// RecordFailure mirrors a retry-or-fail decision made on the queue row into
// the chat row.
func (p *ChatJobProcessor) RecordFailure(ctx context.Context, job *model.QueueJob, queueStatus model.QueueJobStatus, retryCount int, cause error) {
	chatJob, err := p.chatJobs.FindByJobID(ctx, nil, job.ID)
	if err != nil {
		p.log.Error().Err(err).Str("job_id", job.ID).Msg("cannot mirror failure into chat job")
		return
	}
	chatJob.Status = model.ChatStatusForQueue(queueStatus, retryCount)
	chatJob.RetryCount = retryCount
	chatJob.ErrorMessage = cause.Error()
	if chatJob.Status == model.ChatJobStatusFailed {
		now := time.Now()
		chatJob.CompletedAt = &now
	}
	if err := p.chatJobs.Save(ctx, nil, chatJob); err != nil {
		p.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to save chat job failure state")
	}
}

func (p *ChatJobProcessor) complete(ctx context.Context, payload model.ChatCompletionPayload, onChunk func(string)) (ai.StreamResult, error) {
	if canned, ok := p.cannedFor(payload.Message); ok {
		if onChunk != nil {
			onChunk(canned)
		}
		out := ai.EstimateTextTokens(canned)
		return ai.StreamResult{
			FullText: canned,
			Usage:    adapter.Usage{CompletionTokens: out, TotalTokens: out, Estimated: true},
			Model:    "canned",
		}, nil
	}

	history, err := p.sessions.RecentMessages(ctx, payload.SessionID, p.history)
	if err != nil {
		return ai.StreamResult{}, err
	}
	messages := buildPrompt(payload, history)
	return p.gateway.Complete(ctx, payload.Model, messages, onChunk)
}

func (p *ChatJobProcessor) cannedFor(message string) (string, bool) {
	m := strings.ToLower(strings.TrimSpace(message))
	for trigger, response := range p.canned {
		if strings.Contains(m, trigger) {
			return response, true
		}
	}
	return "", false
}

// buildPrompt assembles system context, conversation history and the current
// user message. Submit persists the user message before enqueue, so history
// normally already ends with it; the message is appended only when it does
// not, to avoid sending the question twice.
func buildPrompt(payload model.ChatCompletionPayload, history []model.ChatMessage) []adapter.Message {
	out := make([]adapter.Message, 0, len(history)+2)
	if payload.FieldID != "" {
		out = append(out, adapter.Message{
			Role:    "system",
			Content: fmt.Sprintf("You are a helpful assistant answering questions in the %q field. Stay within that field.", payload.FieldID),
		})
	}
	for _, m := range history {
		out = append(out, adapter.Message{Role: m.Role, Content: m.Content})
	}
	if len(history) == 0 || history[len(history)-1].Role != "user" || history[len(history)-1].Content != payload.Message {
		out = append(out, adapter.Message{Role: "user", Content: payload.Message})
	}
	return out
}
