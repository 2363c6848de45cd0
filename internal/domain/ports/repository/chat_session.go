package repository

import (
	"context"

	"ai-chat-pipeline/internal/domain/model"
)

type ChatSessionRepository interface {
	Save(ctx context.Context, tx Tx, session *model.ChatSession) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.ChatSession, error)

	// SaveMessage appends an immutable message row.
	SaveMessage(ctx context.Context, tx Tx, msg *model.ChatMessage) error

	// RecentMessages returns up to n messages in creation-time order.
	RecentMessages(ctx context.Context, sessionID string, n int) ([]model.ChatMessage, error)

	// IncrementQuestionCount bumps the session's monotonically increasing
	// question counter.
	IncrementQuestionCount(ctx context.Context, tx Tx, sessionID string) error
}
