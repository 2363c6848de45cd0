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

var _ repository.WorkerStatusRepository = (*workerStatusRepo)(nil)

type workerStatusRepo struct {
	pool *pgxpool.Pool
}

func NewWorkerStatusRepo(pool *pgxpool.Pool) *workerStatusRepo {
	return &workerStatusRepo{pool: pool}
}

func (r *workerStatusRepo) Upsert(ctx context.Context, tx repository.Tx, ws *model.WorkerStatus) error {
	ws.UpdatedAt = time.Now()
	const q = `
INSERT INTO worker_status (worker_id, state, last_heartbeat, jobs_processed, jobs_failed, average_processing_ms, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (worker_id) DO UPDATE SET
  state = EXCLUDED.state,
  last_heartbeat = EXCLUDED.last_heartbeat,
  jobs_processed = EXCLUDED.jobs_processed,
  jobs_failed = EXCLUDED.jobs_failed,
  average_processing_ms = EXCLUDED.average_processing_ms,
  updated_at = EXCLUDED.updated_at;`
	_, err := execSQL(ctx, r.pool, tx, q,
		ws.WorkerID, ws.State, ws.LastHeartbeat, ws.JobsProcessed, ws.JobsFailed,
		ws.AverageProcessingMs, ws.CreatedAt, ws.UpdatedAt)
	return err
}

func (r *workerStatusRepo) Find(ctx context.Context, tx repository.Tx, workerID string) (*model.WorkerStatus, error) {
	const q = `
SELECT worker_id, state, last_heartbeat, jobs_processed, jobs_failed, average_processing_ms, created_at, updated_at
FROM worker_status WHERE worker_id = $1;`
	row, err := pickRow(ctx, r.pool, tx, q, workerID)
	if err != nil {
		return nil, err
	}
	var ws model.WorkerStatus
	var stateStr string
	err = row.Scan(&ws.WorkerID, &stateStr, &ws.LastHeartbeat, &ws.JobsProcessed,
		&ws.JobsFailed, &ws.AverageProcessingMs, &ws.CreatedAt, &ws.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	ws.State = model.WorkerState(stateStr)
	return &ws, nil
}

func (r *workerStatusRepo) MarkOffline(ctx context.Context, tx repository.Tx, workerID string) error {
	const q = `UPDATE worker_status SET state = 'offline', updated_at = now() WHERE worker_id = $1;`
	_, err := execSQL(ctx, r.pool, tx, q, workerID)
	return err
}
