package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"ai-chat-pipeline/internal/domain"
	"ai-chat-pipeline/internal/domain/model"
	"ai-chat-pipeline/internal/domain/ports/repository"
)

var _ repository.ChatJobRepository = (*chatJobRepo)(nil)

const chatJobColumns = `
job_id, chat_session_id, user_message, ai_response, status, retry_count,
max_retries, error_message, tokens_used, model, estimated_duration_ms,
actual_duration_ms, processing_started_at, completed_at, created_at, updated_at`

type chatJobRepo struct {
	pool *pgxpool.Pool
}

func NewChatJobRepo(pool *pgxpool.Pool) *chatJobRepo {
	return &chatJobRepo{pool: pool}
}

func (r *chatJobRepo) Save(ctx context.Context, tx repository.Tx, job *model.ChatJob) error {
	job.UpdatedAt = time.Now()

	const q = `
INSERT INTO chat_jobs (` + chatJobColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
ON CONFLICT (job_id) DO UPDATE SET
  ai_response = EXCLUDED.ai_response,
  status = EXCLUDED.status,
  retry_count = EXCLUDED.retry_count,
  error_message = EXCLUDED.error_message,
  tokens_used = EXCLUDED.tokens_used,
  model = EXCLUDED.model,
  actual_duration_ms = EXCLUDED.actual_duration_ms,
  processing_started_at = EXCLUDED.processing_started_at,
  completed_at = EXCLUDED.completed_at,
  updated_at = EXCLUDED.updated_at;`

	_, err := execSQL(ctx, r.pool, tx, q,
		job.JobID, job.ChatSessionID, job.UserMessage, job.AIResponse, job.Status,
		job.RetryCount, job.MaxRetries, job.ErrorMessage, job.TokensUsed, job.Model,
		job.EstimatedDurationMs, job.ActualDurationMs, job.ProcessingStartedAt,
		job.CompletedAt, job.CreatedAt, job.UpdatedAt)
	return err
}

func (r *chatJobRepo) FindByJobID(ctx context.Context, tx repository.Tx, jobID string) (*model.ChatJob, error) {
	const q = `SELECT ` + chatJobColumns + ` FROM chat_jobs WHERE job_id = $1;`
	row, err := pickRow(ctx, r.pool, tx, q, jobID)
	if err != nil {
		return nil, err
	}
	return scanChatJob(row)
}

func (r *chatJobRepo) ListBySession(ctx context.Context, sessionID string, limit int) ([]*model.ChatJob, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT ` + chatJobColumns + `
FROM chat_jobs
WHERE chat_session_id = $1
ORDER BY created_at DESC
LIMIT $2;`
	rows, err := pickRows(ctx, r.pool, nil, q, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.ChatJob
	for rows.Next() {
		j, err := scanChatJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func scanChatJob(row pgx.Row) (*model.ChatJob, error) {
	var j model.ChatJob
	var statusStr string
	err := row.Scan(
		&j.JobID, &j.ChatSessionID, &j.UserMessage, &j.AIResponse, &statusStr,
		&j.RetryCount, &j.MaxRetries, &j.ErrorMessage, &j.TokensUsed, &j.Model,
		&j.EstimatedDurationMs, &j.ActualDurationMs, &j.ProcessingStartedAt,
		&j.CompletedAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	j.Status = model.ChatJobStatus(statusStr)
	return &j, nil
}
