package repository

import (
	"context"

	"ai-chat-pipeline/internal/domain/model"
)

type WorkerStatusRepository interface {
	Upsert(ctx context.Context, tx Tx, ws *model.WorkerStatus) error
	Find(ctx context.Context, tx Tx, workerID string) (*model.WorkerStatus, error)
	MarkOffline(ctx context.Context, tx Tx, workerID string) error
}
