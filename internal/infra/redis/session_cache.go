package redis

import (
	"context"
	"encoding/json"
	"time"

	"ai-chat-pipeline/internal/domain/model"
	"ai-chat-pipeline/internal/domain/ports/repository"
)

// kvStore is the slice of Client the cache needs; tests supply an in-memory
// implementation.
type kvStore interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

var _ repository.ChatSessionRepository = (*CachedSessionRepo)(nil)

// CachedSessionRepo decorates a session repository with a redis read cache
// for the two hot reads of job processing: the session row and the recent
// message window. Any cache failure falls through to the inner repository;
// writes inside a transaction bypass the cache since they may roll back.
type CachedSessionRepo struct {
	inner repository.ChatSessionRepository
	kv    kvStore
	ttl   time.Duration
}

func NewCachedSessionRepo(inner repository.ChatSessionRepository, kv kvStore, ttl time.Duration) *CachedSessionRepo {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &CachedSessionRepo{inner: inner, kv: kv, ttl: ttl}
}

func sessionKey(id string) string  { return "chat_session:" + id }
func messagesKey(id string) string { return "session_messages:" + id }

func (c *CachedSessionRepo) Save(ctx context.Context, tx repository.Tx, session *model.ChatSession) error {
	if err := c.inner.Save(ctx, tx, session); err != nil {
		return err
	}
	if tx == nil {
		if data, err := json.Marshal(session); err == nil {
			_ = c.kv.Set(ctx, sessionKey(session.ID), data, c.ttl)
		}
	}
	return nil
}

func (c *CachedSessionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.ChatSession, error) {
	if tx == nil {
		if data, err := c.kv.Get(ctx, sessionKey(id)); err == nil {
			var session model.ChatSession
			if json.Unmarshal([]byte(data), &session) == nil {
				return &session, nil
			}
		}
	}
	session, err := c.inner.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		if data, err := json.Marshal(session); err == nil {
			_ = c.kv.Set(ctx, sessionKey(id), data, c.ttl)
		}
	}
	return session, nil
}

func (c *CachedSessionRepo) SaveMessage(ctx context.Context, tx repository.Tx, msg *model.ChatMessage) error {
	if err := c.inner.SaveMessage(ctx, tx, msg); err != nil {
		return err
	}
	_ = c.kv.Del(ctx, messagesKey(msg.SessionID))
	return nil
}

// cachedWindow remembers the window size a message list was fetched with,
// so a request for a different size goes back to the store.
type cachedWindow struct {
	N        int                 `json:"n"`
	Messages []model.ChatMessage `json:"messages"`
}

func (c *CachedSessionRepo) RecentMessages(ctx context.Context, sessionID string, n int) ([]model.ChatMessage, error) {
	if data, err := c.kv.Get(ctx, messagesKey(sessionID)); err == nil {
		var win cachedWindow
		if json.Unmarshal([]byte(data), &win) == nil && win.N == n {
			return win.Messages, nil
		}
	}
	msgs, err := c.inner.RecentMessages(ctx, sessionID, n)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(cachedWindow{N: n, Messages: msgs}); err == nil {
		_ = c.kv.Set(ctx, messagesKey(sessionID), data, c.ttl)
	}
	return msgs, nil
}

func (c *CachedSessionRepo) IncrementQuestionCount(ctx context.Context, tx repository.Tx, sessionID string) error {
	if err := c.inner.IncrementQuestionCount(ctx, tx, sessionID); err != nil {
		return err
	}
	_ = c.kv.Del(ctx, sessionKey(sessionID))
	return nil
}
