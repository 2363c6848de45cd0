package usecase_test

import (
	"context"
	"encoding/json"
	"time"

	"ai-chat-pipeline/internal/domain"
	"ai-chat-pipeline/internal/domain/model"
	"ai-chat-pipeline/internal/domain/ports/repository"
)

type memQueueRepo struct {
	jobs  map[string]*model.QueueJob
	order []string
}

func newMemQueueRepo() *memQueueRepo {
	return &memQueueRepo{jobs: make(map[string]*model.QueueJob)}
}

func (m *memQueueRepo) Enqueue(ctx context.Context, tx repository.Tx, job *model.QueueJob) error {
	if _, ok := m.jobs[job.ID]; ok {
		return domain.ErrAlreadyExists
	}
	cp := *job
	m.jobs[job.ID] = &cp
	m.order = append(m.order, job.ID)
	return nil
}

func (m *memQueueRepo) ClaimBatch(ctx context.Context, workerID string, batchSize int, jobTypes []string, lease time.Duration) ([]*model.QueueJob, error) {
	return nil, nil
}

func (m *memQueueRepo) ClaimByID(ctx context.Context, workerID, jobID string, lease time.Duration) (*model.QueueJob, error) {
	job, ok := m.jobs[jobID]
	if !ok || !job.Eligible(time.Now()) {
		return nil, domain.ErrNotFound
	}
	now := time.Now()
	expires := now.Add(lease)
	job.Status = model.QueueStatusProcessing
	job.WorkerID = workerID
	job.LockExpiresAt = &expires
	cp := *job
	return &cp, nil
}

func (m *memQueueRepo) UpdateStatus(ctx context.Context, tx repository.Tx, jobID string, status model.QueueJobStatus, result json.RawMessage, errorMessage string) error {
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	job.Status = status
	job.ErrorMessage = errorMessage
	if result != nil {
		job.Result = result
	}
	return nil
}

func (m *memQueueRepo) ScheduleRetry(ctx context.Context, tx repository.Tx, jobID string, retryCount, maxRetries int, errorMessage string) (model.QueueJobStatus, error) {
	return model.QueueStatusQueued, nil
}

func (m *memQueueRepo) HasMoreJobs(ctx context.Context, jobTypes []string) (bool, error) {
	for _, job := range m.jobs {
		if job.Eligible(time.Now()) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memQueueRepo) FindByID(ctx context.Context, tx repository.Tx, jobID string) (*model.QueueJob, error) {
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *memQueueRepo) ListBySession(ctx context.Context, sessionID string, limit int) ([]*model.QueueJob, error) {
	var out []*model.QueueJob
	for _, id := range m.order {
		job := m.jobs[id]
		var p model.ChatCompletionPayload
		if json.Unmarshal(job.Payload, &p) == nil && p.SessionID == sessionID {
			cp := *job
			out = append(out, &cp)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memQueueRepo) CountQueuedBefore(ctx context.Context, job *model.QueueJob) (int, error) {
	n := 0
	for _, other := range m.jobs {
		if other.ID == job.ID || other.Status != model.QueueStatusQueued {
			continue
		}
		if other.Priority > job.Priority ||
			(other.Priority == job.Priority && other.CreatedAt.Before(job.CreatedAt)) {
			n++
		}
	}
	return n, nil
}

type memChatJobRepo struct {
	jobs map[string]*model.ChatJob
}

func newMemChatJobRepo() *memChatJobRepo {
	return &memChatJobRepo{jobs: make(map[string]*model.ChatJob)}
}

func (m *memChatJobRepo) Save(ctx context.Context, tx repository.Tx, job *model.ChatJob) error {
	cp := *job
	m.jobs[job.JobID] = &cp
	return nil
}

func (m *memChatJobRepo) FindByJobID(ctx context.Context, tx repository.Tx, jobID string) (*model.ChatJob, error) {
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *memChatJobRepo) ListBySession(ctx context.Context, sessionID string, limit int) ([]*model.ChatJob, error) {
	var out []*model.ChatJob
	for _, job := range m.jobs {
		if job.ChatSessionID == sessionID {
			cp := *job
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memSessionRepo struct {
	sessions map[string]*model.ChatSession
	messages map[string][]model.ChatMessage
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{
		sessions: make(map[string]*model.ChatSession),
		messages: make(map[string][]model.ChatMessage),
	}
}

func (m *memSessionRepo) Save(ctx context.Context, tx repository.Tx, s *model.ChatSession) error {
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *memSessionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.ChatSession, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memSessionRepo) SaveMessage(ctx context.Context, tx repository.Tx, msg *model.ChatMessage) error {
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], *msg)
	return nil
}

func (m *memSessionRepo) RecentMessages(ctx context.Context, sessionID string, n int) ([]model.ChatMessage, error) {
	msgs := m.messages[sessionID]
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	out := make([]model.ChatMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (m *memSessionRepo) IncrementQuestionCount(ctx context.Context, tx repository.Tx, sessionID string) error {
	s, ok := m.sessions[sessionID]
	if !ok {
		return domain.ErrNotFound
	}
	s.QuestionCount++
	return nil
}
