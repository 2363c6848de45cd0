package repository

import (
	"context"

	"ai-chat-pipeline/internal/domain/model"
)

type ChatJobRepository interface {
	Save(ctx context.Context, tx Tx, job *model.ChatJob) error
	FindByJobID(ctx context.Context, tx Tx, jobID string) (*model.ChatJob, error)
	ListBySession(ctx context.Context, sessionID string, limit int) ([]*model.ChatJob, error)
}
