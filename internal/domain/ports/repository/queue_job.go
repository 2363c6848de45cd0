package repository

import (
	"context"
	"encoding/json"
	"time"

	"ai-chat-pipeline/internal/domain/model"
)

// QueueJobRepository is the Queue Store port. ClaimBatch and ClaimByID are
// the mutual-exclusion primitive for the whole pipeline: they must
// atomically select eligible rows and mark them processing under a fresh
// lock lease, so concurrent callers never claim the same row. A processing
// row whose lease has expired counts as eligible again (orphan recovery).
type QueueJobRepository interface {
	Enqueue(ctx context.Context, tx Tx, job *model.QueueJob) error

	// ClaimBatch claims up to batchSize eligible jobs of the given types,
	// highest priority first, earliest created first.
	ClaimBatch(ctx context.Context, workerID string, batchSize int, jobTypes []string, lease time.Duration) ([]*model.QueueJob, error)

	// ClaimByID claims one specific job if it is eligible. Returns
	// domain.ErrNotFound when the job is missing or already owned.
	ClaimByID(ctx context.Context, workerID, jobID string, lease time.Duration) (*model.QueueJob, error)

	UpdateStatus(ctx context.Context, tx Tx, jobID string, status model.QueueJobStatus, result json.RawMessage, errorMessage string) error

	// ScheduleRetry returns the job to the queue with an incremented retry
	// count and next_retry_at = now + 2^retryCount seconds, clearing the
	// lock fields. When retryCount exceeds maxRetries it marks the job
	// failed instead. Returns the resulting status.
	ScheduleRetry(ctx context.Context, tx Tx, jobID string, retryCount, maxRetries int, errorMessage string) (model.QueueJobStatus, error)

	HasMoreJobs(ctx context.Context, jobTypes []string) (bool, error)
	FindByID(ctx context.Context, tx Tx, jobID string) (*model.QueueJob, error)
	ListBySession(ctx context.Context, sessionID string, limit int) ([]*model.QueueJob, error)

	// CountQueuedBefore returns how many eligible queued jobs would be
	// claimed ahead of the given job (its queue position).
	CountQueuedBefore(ctx context.Context, job *model.QueueJob) (int, error)
}
