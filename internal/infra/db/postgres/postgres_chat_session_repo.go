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

var _ repository.ChatSessionRepository = (*chatSessionRepo)(nil)

type chatSessionRepo struct {
	pool    *pgxpool.Pool
	changes adapter.ChangePublisher // may be nil
}

// NewChatSessionRepo builds the session/message store. Message inserts are
// published on the session's message-inserts topic when changes is non-nil.
func NewChatSessionRepo(pool *pgxpool.Pool, changes adapter.ChangePublisher) *chatSessionRepo {
	return &chatSessionRepo{pool: pool, changes: changes}
}

func (r *chatSessionRepo) Save(ctx context.Context, tx repository.Tx, s *model.ChatSession) error {
	s.UpdatedAt = time.Now()
	const q = `
INSERT INTO chat_sessions (id, field_id, question_count, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET updated_at = EXCLUDED.updated_at;`
	_, err := execSQL(ctx, r.pool, tx, q, s.ID, s.FieldID, s.QuestionCount, s.CreatedAt, s.UpdatedAt)
	return err
}

func (r *chatSessionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.ChatSession, error) {
	const q = `SELECT id, field_id, question_count, created_at, updated_at FROM chat_sessions WHERE id = $1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	var s model.ChatSession
	if err := row.Scan(&s.ID, &s.FieldID, &s.QuestionCount, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return &s, nil
}

func (r *chatSessionRepo) SaveMessage(ctx context.Context, tx repository.Tx, msg *model.ChatMessage) error {
	// Messages are immutable: insert only, no upsert.
	const q = `
INSERT INTO chat_messages (id, session_id, role, content, tokens, created_at)
VALUES ($1, $2, $3, $4, $5, $6);`
	_, err := execSQL(ctx, r.pool, tx, q, msg.ID, msg.SessionID, msg.Role, msg.Content, msg.Tokens, msg.CreatedAt)
	if err != nil {
		return err
	}
	r.publishMessage(ctx, msg)
	return nil
}

func (r *chatSessionRepo) RecentMessages(ctx context.Context, sessionID string, n int) ([]model.ChatMessage, error) {
	if n <= 0 {
		n = 10
	}
	// Newest n rows, returned in creation order.
	const q = `
SELECT id, session_id, role, content, tokens, created_at FROM (
  SELECT id, session_id, role, content, tokens, created_at
  FROM chat_messages
  WHERE session_id = $1
  ORDER BY created_at DESC
  LIMIT $2
) AS recent
ORDER BY created_at;`
	rows, err := pickRows(ctx, r.pool, nil, q, sessionID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.ChatMessage
	for rows.Next() {
		var m model.ChatMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.Tokens, &m.CreatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *chatSessionRepo) IncrementQuestionCount(ctx context.Context, tx repository.Tx, sessionID string) error {
	const q = `
UPDATE chat_sessions SET question_count = question_count + 1, updated_at = now()
WHERE id = $1;`
	tag, err := execSQL(ctx, r.pool, tx, q, sessionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *chatSessionRepo) publishMessage(ctx context.Context, msg *model.ChatMessage) {
	if r.changes == nil {
		return
	}
	rowImage, _ := json.Marshal(adapter.MessageRow{
		ID:        msg.ID,
		SessionID: msg.SessionID,
		Role:      msg.Role,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt.Format(time.RFC3339Nano),
	})
	_ = r.changes.PublishChange(ctx, adapter.MessageInsertsTopic(msg.SessionID), adapter.RowChange{
		EventType: adapter.ChangeInsert,
		Table:     "chat_messages",
		SessionID: msg.SessionID,
		New:       rowImage,
	})
}
