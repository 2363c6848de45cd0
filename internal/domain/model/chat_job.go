package model

import "time"

type ChatJobStatus string

const (
	ChatJobStatusPending    ChatJobStatus = "pending"
	ChatJobStatusProcessing ChatJobStatus = "processing"
	ChatJobStatusCompleted  ChatJobStatus = "completed"
	ChatJobStatusFailed     ChatJobStatus = "failed"
	ChatJobStatusRetrying   ChatJobStatus = "retrying"
)

// ChatJob is the chat-completion specialization of a queue job, keyed by the
// same job id. Its status mirrors the queue row through ChatStatusForQueue;
// the processor is the only writer of both.
type ChatJob struct {
	JobID               string
	ChatSessionID       string
	UserMessage         string
	AIResponse          string
	Status              ChatJobStatus
	RetryCount          int
	MaxRetries          int
	ErrorMessage        string
	TokensUsed          int
	Model               string
	EstimatedDurationMs int64
	ActualDurationMs    int64
	ProcessingStartedAt *time.Time
	CompletedAt         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func NewChatJob(jobID, sessionID, userMessage string, maxRetries int) *ChatJob {
	now := time.Now()
	return &ChatJob{
		JobID:               jobID,
		ChatSessionID:       sessionID,
		UserMessage:         userMessage,
		Status:              ChatJobStatusPending,
		MaxRetries:          maxRetries,
		EstimatedDurationMs: EstimateDurationMs(len(userMessage)),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// EstimateDurationMs is advisory only (progress display); never used for
// correctness.
func EstimateDurationMs(messageLen int) int64 {
	return 2000 + 10*int64(messageLen)
}

// ChatStatusForQueue maps a queue status (plus retry count, which
// distinguishes a fresh job from one returned to the queue by a retry) to
// the chat job status. Total over all queue statuses.
func ChatStatusForQueue(qs QueueJobStatus, retryCount int) ChatJobStatus {
	switch qs {
	case QueueStatusQueued:
		if retryCount > 0 {
			return ChatJobStatusRetrying
		}
		return ChatJobStatusPending
	case QueueStatusProcessing:
		return ChatJobStatusProcessing
	case QueueStatusCompleted:
		return ChatJobStatusCompleted
	case QueueStatusCancelled:
		return ChatJobStatusFailed
	default: // QueueStatusFailed and anything unknown
		return ChatJobStatusFailed
	}
}

// QueueStatusForChat is the reverse mapping, total over all chat statuses.
func QueueStatusForChat(cs ChatJobStatus) QueueJobStatus {
	switch cs {
	case ChatJobStatusPending, ChatJobStatusRetrying:
		return QueueStatusQueued
	case ChatJobStatusProcessing:
		return QueueStatusProcessing
	case ChatJobStatusCompleted:
		return QueueStatusCompleted
	default:
		return QueueStatusFailed
	}
}
