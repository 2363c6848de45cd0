package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"ai-chat-pipeline/internal/domain"
	"ai-chat-pipeline/internal/domain/model"
	"ai-chat-pipeline/internal/domain/ports/adapter"
	"ai-chat-pipeline/internal/domain/ports/repository"
)

var _ repository.QueueJobRepository = (*queueJobRepo)(nil)

const queueJobColumns = `
id, job_type, session_id, status, priority, payload, result, error_message,
retry_count, max_retries, next_retry_at, scheduled_at, started_at,
completed_at, worker_id, lock_expires_at, created_at, updated_at`

type queueJobRepo struct {
	pool    *pgxpool.Pool
	tm      repository.TransactionManager
	changes adapter.ChangePublisher // may be nil
}

// NewQueueJobRepo builds the Queue Store. When changes is non-nil, every
// successful insert/update publishes a row-change event on the session's
// queue-changes topic.
func NewQueueJobRepo(pool *pgxpool.Pool, tm repository.TransactionManager, changes adapter.ChangePublisher) *queueJobRepo {
	return &queueJobRepo{pool: pool, tm: tm, changes: changes}
}

func (r *queueJobRepo) Enqueue(ctx context.Context, tx repository.Tx, job *model.QueueJob) error {
	if job.ID == "" {
		return domain.ErrInvalidArgument
	}
	job.UpdatedAt = time.Now()
	sessionID := sessionIDFromPayload(job)

	const q = `
INSERT INTO queue_jobs (` + queueJobColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18);`

	_, err := execSQL(ctx, r.pool, tx, q,
		job.ID, job.JobType, sessionID, job.Status, job.Priority, job.Payload, job.Result,
		job.ErrorMessage, job.RetryCount, job.MaxRetries, job.NextRetryAt, job.ScheduledAt,
		job.StartedAt, job.CompletedAt, job.WorkerID, job.LockExpiresAt, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return err
	}
	r.publish(ctx, adapter.ChangeInsert, job, sessionID)
	return nil
}

func (r *queueJobRepo) ClaimBatch(ctx context.Context, workerID string, batchSize int, jobTypes []string, lease time.Duration) ([]*model.QueueJob, error) {
	if batchSize <= 0 {
		batchSize = 1
	}
	var claimed []*model.QueueJob

	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		const fetchQuery = `
SELECT ` + queueJobColumns + `
FROM queue_jobs
WHERE (cardinality($1::text[]) = 0 OR job_type = ANY($1::text[]))
  AND (
    (status = 'queued' AND scheduled_at <= now())
    OR (status = 'processing' AND lock_expires_at < now())
  )
ORDER BY priority DESC, created_at
LIMIT $2
FOR UPDATE SKIP LOCKED;`

		if jobTypes == nil {
			jobTypes = []string{}
		}
		rows, err := pickRows(ctx, r.pool, tx, fetchQuery, jobTypes, batchSize)
		if err != nil {
			return err
		}
		jobs, err := scanQueueJobs(rows)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			return nil
		}

		ids := make([]string, 0, len(jobs))
		for _, j := range jobs {
			ids = append(ids, j.ID)
		}
		expires := time.Now().Add(lease)
		const lockQuery = `
UPDATE queue_jobs
SET status = 'processing', worker_id = $1, lock_expires_at = $2,
    started_at = COALESCE(started_at, now()), updated_at = now()
WHERE id = ANY($3::text[]);`
		if _, err := execSQL(ctx, r.pool, tx, lockQuery, workerID, expires, ids); err != nil {
			return err
		}
		for _, j := range jobs {
			j.Status = model.QueueStatusProcessing
			j.WorkerID = workerID
			j.LockExpiresAt = &expires
			if j.StartedAt == nil {
				now := time.Now()
				j.StartedAt = &now
			}
		}
		claimed = jobs
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, j := range claimed {
		r.publish(ctx, adapter.ChangeUpdate, j, sessionIDFromPayload(j))
	}
	return claimed, nil
}

func (r *queueJobRepo) ClaimByID(ctx context.Context, workerID, jobID string, lease time.Duration) (*model.QueueJob, error) {
	var claimed *model.QueueJob

	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		const q = `
SELECT ` + queueJobColumns + `
FROM queue_jobs
WHERE id = $1
  AND (
    (status = 'queued' AND scheduled_at <= now())
    OR (status = 'processing' AND lock_expires_at < now())
  )
FOR UPDATE SKIP LOCKED;`

		row, err := pickRow(ctx, r.pool, tx, q, jobID)
		if err != nil {
			return err
		}
		job, err := scanQueueJob(row)
		if err != nil {
			return err
		}

		expires := time.Now().Add(lease)
		const lockQuery = `
UPDATE queue_jobs
SET status = 'processing', worker_id = $1, lock_expires_at = $2,
    started_at = COALESCE(started_at, now()), updated_at = now()
WHERE id = $3;`
		if _, err := execSQL(ctx, r.pool, tx, lockQuery, workerID, expires, jobID); err != nil {
			return err
		}
		job.Status = model.QueueStatusProcessing
		job.WorkerID = workerID
		job.LockExpiresAt = &expires
		claimed = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.publish(ctx, adapter.ChangeUpdate, claimed, sessionIDFromPayload(claimed))
	return claimed, nil
}

func (r *queueJobRepo) UpdateStatus(ctx context.Context, tx repository.Tx, jobID string, status model.QueueJobStatus, result json.RawMessage, errorMessage string) error {
	const q = `
UPDATE queue_jobs
SET status = $2,
    result = COALESCE($3, result),
    error_message = $4,
    completed_at = CASE WHEN $2 IN ('completed','failed','cancelled') THEN now() ELSE completed_at END,
    worker_id = CASE WHEN $2 IN ('completed','failed','cancelled') THEN '' ELSE worker_id END,
    lock_expires_at = CASE WHEN $2 IN ('completed','failed','cancelled') THEN NULL ELSE lock_expires_at END,
    updated_at = now()
WHERE id = $1;`

	tag, err := execSQL(ctx, r.pool, tx, q, jobID, status, result, errorMessage)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	r.publishByID(ctx, jobID)
	return nil
}

func (r *queueJobRepo) ScheduleRetry(ctx context.Context, tx repository.Tx, jobID string, retryCount, maxRetries int, errorMessage string) (model.QueueJobStatus, error) {
	if retryCount > maxRetries {
		if err := r.UpdateStatus(ctx, tx, jobID, model.QueueStatusFailed, nil, errorMessage); err != nil {
			return "", err
		}
		return model.QueueStatusFailed, nil
	}

	nextRetryAt := time.Now().Add(model.NextRetryDelay(retryCount))
	const q = `
UPDATE queue_jobs
SET status = 'queued', retry_count = $2, next_retry_at = $3, scheduled_at = $3,
    worker_id = '', lock_expires_at = NULL, error_message = $4, updated_at = now()
WHERE id = $1;`

	tag, err := execSQL(ctx, r.pool, tx, q, jobID, retryCount, nextRetryAt, errorMessage)
	if err != nil {
		return "", err
	}
	if tag.RowsAffected() == 0 {
		return "", domain.ErrNotFound
	}
	r.publishByID(ctx, jobID)
	return model.QueueStatusQueued, nil
}

func (r *queueJobRepo) HasMoreJobs(ctx context.Context, jobTypes []string) (bool, error) {
	const q = `
SELECT EXISTS (
  SELECT 1 FROM queue_jobs
  WHERE (cardinality($1::text[]) = 0 OR job_type = ANY($1::text[]))
    AND (
      (status = 'queued' AND scheduled_at <= now())
      OR (status = 'processing' AND lock_expires_at < now())
    )
);`
	if jobTypes == nil {
		jobTypes = []string{}
	}
	row, err := pickRow(ctx, r.pool, nil, q, jobTypes)
	if err != nil {
		return false, err
	}
	var more bool
	if err := row.Scan(&more); err != nil {
		return false, err
	}
	return more, nil
}

func (r *queueJobRepo) FindByID(ctx context.Context, tx repository.Tx, jobID string) (*model.QueueJob, error) {
	const q = `SELECT ` + queueJobColumns + ` FROM queue_jobs WHERE id = $1;`
	row, err := pickRow(ctx, r.pool, tx, q, jobID)
	if err != nil {
		return nil, err
	}
	return scanQueueJob(row)
}

func (r *queueJobRepo) ListBySession(ctx context.Context, sessionID string, limit int) ([]*model.QueueJob, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT ` + queueJobColumns + `
FROM queue_jobs
WHERE session_id = $1
ORDER BY created_at DESC
LIMIT $2;`
	rows, err := pickRows(ctx, r.pool, nil, q, sessionID, limit)
	if err != nil {
		return nil, err
	}
	return scanQueueJobs(rows)
}

func (r *queueJobRepo) CountQueuedBefore(ctx context.Context, job *model.QueueJob) (int, error) {
	const q = `
SELECT count(*) FROM queue_jobs
WHERE status = 'queued' AND scheduled_at <= now()
  AND (priority > $1 OR (priority = $1 AND created_at < $2));`
	row, err := pickRow(ctx, r.pool, nil, q, job.Priority, job.CreatedAt)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// --- internals ---

func scanQueueJob(row pgx.Row) (*model.QueueJob, error) {
	var j model.QueueJob
	var sessionID, statusStr string
	err := row.Scan(
		&j.ID, &j.JobType, &sessionID, &statusStr, &j.Priority, &j.Payload, &j.Result,
		&j.ErrorMessage, &j.RetryCount, &j.MaxRetries, &j.NextRetryAt, &j.ScheduledAt,
		&j.StartedAt, &j.CompletedAt, &j.WorkerID, &j.LockExpiresAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	j.Status = model.QueueJobStatus(statusStr)
	return &j, nil
}

func scanQueueJobs(rows pgx.Rows) ([]*model.QueueJob, error) {
	defer rows.Close()
	var out []*model.QueueJob
	for rows.Next() {
		j, err := scanQueueJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// sessionIDFromPayload pulls the session id out of typed payloads so queue
// rows can be filtered per session. Empty for job types without one.
func sessionIDFromPayload(job *model.QueueJob) string {
	v, err := model.DecodePayload(job.JobType, job.Payload)
	if err != nil {
		return ""
	}
	if p, ok := v.(model.ChatCompletionPayload); ok {
		return p.SessionID
	}
	return ""
}

func (r *queueJobRepo) publish(ctx context.Context, eventType string, job *model.QueueJob, sessionID string) {
	if r.changes == nil || sessionID == "" {
		return
	}
	rowImage, _ := json.Marshal(adapter.QueueJobRow{
		JobID:        job.ID,
		JobType:      job.JobType,
		SessionID:    sessionID,
		Status:       string(job.Status),
		RetryCount:   job.RetryCount,
		ErrorMessage: job.ErrorMessage,
	})
	// Change publication is observational; a failed publish never fails the
	// store write.
	_ = r.changes.PublishChange(ctx, adapter.QueueChangesTopic(sessionID), adapter.RowChange{
		EventType: eventType,
		Table:     "queue_jobs",
		SessionID: sessionID,
		New:       rowImage,
	})
}

func (r *queueJobRepo) publishByID(ctx context.Context, jobID string) {
	if r.changes == nil {
		return
	}
	job, err := r.FindByID(ctx, nil, jobID)
	if err != nil {
		return
	}
	r.publish(ctx, adapter.ChangeUpdate, job, sessionIDFromPayload(job))
}
