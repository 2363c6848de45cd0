package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"ai-chat-pipeline/internal/domain"
	"ai-chat-pipeline/internal/domain/model"
	"ai-chat-pipeline/internal/domain/ports/repository"
)

type memKV struct {
	data map[string]string
}

func newMemKV() *memKV { return &memKV{data: make(map[string]string)} }

func (m *memKV) Set(ctx context.Context, key string, value interface{}, _ time.Duration) error {
	switch v := value.(type) {
	case []byte:
		m.data[key] = string(v)
	case string:
		m.data[key] = v
	default:
		return errors.New("unsupported value type")
	}
	return nil
}

func (m *memKV) Get(ctx context.Context, key string) (string, error) {
	v, ok := m.data[key]
	if !ok {
		return "", errors.New("cache miss")
	}
	return v, nil
}

func (m *memKV) Del(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

// countingSessionRepo records how often each read hits the store.
type countingSessionRepo struct {
	sessions map[string]*model.ChatSession
	messages map[string][]model.ChatMessage

	findCalls   int
	recentCalls int
}

func newCountingSessionRepo() *countingSessionRepo {
	return &countingSessionRepo{
		sessions: make(map[string]*model.ChatSession),
		messages: make(map[string][]model.ChatMessage),
	}
}

func (r *countingSessionRepo) Save(ctx context.Context, tx repository.Tx, s *model.ChatSession) error {
	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

func (r *countingSessionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.ChatSession, error) {
	r.findCalls++
	s, ok := r.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *countingSessionRepo) SaveMessage(ctx context.Context, tx repository.Tx, msg *model.ChatMessage) error {
	r.messages[msg.SessionID] = append(r.messages[msg.SessionID], *msg)
	return nil
}

func (r *countingSessionRepo) RecentMessages(ctx context.Context, sessionID string, n int) ([]model.ChatMessage, error) {
	r.recentCalls++
	msgs := r.messages[sessionID]
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return msgs, nil
}

func (r *countingSessionRepo) IncrementQuestionCount(ctx context.Context, tx repository.Tx, sessionID string) error {
	s, ok := r.sessions[sessionID]
	if !ok {
		return domain.ErrNotFound
	}
	s.QuestionCount++
	return nil
}

func TestCachedSessionRepo_RecentMessagesCached(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	inner := newCountingSessionRepo()
	cache := NewCachedSessionRepo(inner, newMemKV(), time.Minute)

	if err := inner.SaveMessage(ctx, nil, &model.ChatMessage{ID: "m1", SessionID: "s1", Role: "user", Content: "hi"}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		msgs, err := cache.RecentMessages(ctx, "s1", 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(msgs) != 1 || msgs[0].Content != "hi" {
			t.Fatalf("messages = %+v", msgs)
		}
	}
	if inner.recentCalls != 1 {
		t.Fatalf("store reads = %d, want 1", inner.recentCalls)
	}
}

func TestCachedSessionRepo_SaveMessageInvalidates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	inner := newCountingSessionRepo()
	cache := NewCachedSessionRepo(inner, newMemKV(), time.Minute)

	if _, err := cache.RecentMessages(ctx, "s1", 10); err != nil {
		t.Fatal(err)
	}
	if err := cache.SaveMessage(ctx, nil, &model.ChatMessage{ID: "m1", SessionID: "s1", Role: "user", Content: "hi"}); err != nil {
		t.Fatal(err)
	}

	msgs, err := cache.RecentMessages(ctx, "s1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("messages after invalidation = %+v", msgs)
	}
	if inner.recentCalls != 2 {
		t.Fatalf("store reads = %d, want 2", inner.recentCalls)
	}
}

func TestCachedSessionRepo_WindowSizeMismatchBypassesCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	inner := newCountingSessionRepo()
	cache := NewCachedSessionRepo(inner, newMemKV(), time.Minute)

	if _, err := cache.RecentMessages(ctx, "s1", 10); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.RecentMessages(ctx, "s1", 5); err != nil {
		t.Fatal(err)
	}
	if inner.recentCalls != 2 {
		t.Fatalf("store reads = %d, want 2", inner.recentCalls)
	}
}

func TestCachedSessionRepo_FindByID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	inner := newCountingSessionRepo()
	cache := NewCachedSessionRepo(inner, newMemKV(), time.Minute)

	if err := cache.Save(ctx, nil, model.NewChatSession("s1", "math")); err != nil {
		t.Fatal(err)
	}

	s, err := cache.FindByID(ctx, nil, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if s.ID != "s1" || s.FieldID != "math" {
		t.Fatalf("session = %+v", s)
	}
	// Save wrote through, so the read never touched the store
	if inner.findCalls != 0 {
		t.Fatalf("store reads = %d, want 0", inner.findCalls)
	}

	// question count bump drops the cached row
	if err := cache.IncrementQuestionCount(ctx, nil, "s1"); err != nil {
		t.Fatal(err)
	}
	s, err = cache.FindByID(ctx, nil, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if s.QuestionCount != 1 {
		t.Fatalf("question count = %d", s.QuestionCount)
	}
	if inner.findCalls != 1 {
		t.Fatalf("store reads = %d, want 1", inner.findCalls)
	}
}
