package web_test

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"ai-chat-pipeline/internal/domain"
	"ai-chat-pipeline/internal/domain/model"
	"ai-chat-pipeline/internal/domain/ports/adapter"
	"ai-chat-pipeline/internal/domain/ports/repository"
)

// fakeQueueRepo reproduces the store's claim semantics in memory: claims are
// serialized under one mutex, so two concurrent claimers can never own the
// same row. The clock is injectable so retry delays can be fast-forwarded.
type fakeQueueRepo struct {
	mu   sync.Mutex
	jobs map[string]*model.QueueJob
	now  func() time.Time
}

func newFakeQueueRepo() *fakeQueueRepo {
	return &fakeQueueRepo{jobs: make(map[string]*model.QueueJob), now: time.Now}
}

func (f *fakeQueueRepo) Enqueue(ctx context.Context, tx repository.Tx, job *model.QueueJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[job.ID]; ok {
		return domain.ErrAlreadyExists
	}
	cp := *job
	f.jobs[job.ID] = &cp
	return nil
}

func (f *fakeQueueRepo) claimLocked(workerID string, job *model.QueueJob, lease time.Duration) *model.QueueJob {
	now := f.now()
	expires := now.Add(lease)
	job.Status = model.QueueStatusProcessing
	job.WorkerID = workerID
	job.LockExpiresAt = &expires
	if job.StartedAt == nil {
		job.StartedAt = &now
	}
	job.UpdatedAt = now
	cp := *job
	return &cp
}

func (f *fakeQueueRepo) ClaimBatch(ctx context.Context, workerID string, batchSize int, jobTypes []string, lease time.Duration) ([]*model.QueueJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	typeOK := func(t string) bool {
		if len(jobTypes) == 0 {
			return true
		}
		for _, jt := range jobTypes {
			if jt == t {
				return true
			}
		}
		return false
	}
	var out []*model.QueueJob
	for _, job := range f.jobs {
		if len(out) >= batchSize {
			break
		}
		if typeOK(job.JobType) && job.Eligible(f.now()) {
			out = append(out, f.claimLocked(workerID, job, lease))
		}
	}
	return out, nil
}

func (f *fakeQueueRepo) ClaimByID(ctx context.Context, workerID, jobID string, lease time.Duration) (*model.QueueJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok || !job.Eligible(f.now()) {
		return nil, domain.ErrNotFound
	}
	return f.claimLocked(workerID, job, lease), nil
}

func (f *fakeQueueRepo) UpdateStatus(ctx context.Context, tx repository.Tx, jobID string, status model.QueueJobStatus, result json.RawMessage, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	job.Status = status
	job.ErrorMessage = errorMessage
	if result != nil {
		job.Result = result
	}
	if job.Terminal() {
		now := f.now()
		job.CompletedAt = &now
		job.WorkerID = ""
		job.LockExpiresAt = nil
	}
	job.UpdatedAt = f.now()
	return nil
}

func (f *fakeQueueRepo) ScheduleRetry(ctx context.Context, tx repository.Tx, jobID string, retryCount, maxRetries int, errorMessage string) (model.QueueJobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return "", domain.ErrNotFound
	}
	if retryCount > maxRetries {
		job.Status = model.QueueStatusFailed
		job.ErrorMessage = errorMessage
		now := f.now()
		job.CompletedAt = &now
		job.WorkerID = ""
		job.LockExpiresAt = nil
		return model.QueueStatusFailed, nil
	}
	next := f.now().Add(model.NextRetryDelay(retryCount))
	job.Status = model.QueueStatusQueued
	job.RetryCount = retryCount
	job.ErrorMessage = errorMessage
	job.NextRetryAt = &next
	job.ScheduledAt = next
	job.WorkerID = ""
	job.LockExpiresAt = nil
	return model.QueueStatusQueued, nil
}

func (f *fakeQueueRepo) HasMoreJobs(ctx context.Context, jobTypes []string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, job := range f.jobs {
		if job.Eligible(f.now()) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeQueueRepo) FindByID(ctx context.Context, tx repository.Tx, jobID string) (*model.QueueJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (f *fakeQueueRepo) ListBySession(ctx context.Context, sessionID string, limit int) ([]*model.QueueJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.QueueJob
	for _, job := range f.jobs {
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

func (f *fakeQueueRepo) CountQueuedBefore(ctx context.Context, job *model.QueueJob) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, other := range f.jobs {
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

type fakeChatJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*model.ChatJob
}

func newFakeChatJobRepo() *fakeChatJobRepo {
	return &fakeChatJobRepo{jobs: make(map[string]*model.ChatJob)}
}

func (f *fakeChatJobRepo) Save(ctx context.Context, tx repository.Tx, job *model.ChatJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *job
	f.jobs[job.JobID] = &cp
	return nil
}

func (f *fakeChatJobRepo) FindByJobID(ctx context.Context, tx repository.Tx, jobID string) (*model.ChatJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (f *fakeChatJobRepo) ListBySession(ctx context.Context, sessionID string, limit int) ([]*model.ChatJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.ChatJob
	for _, job := range f.jobs {
		if job.ChatSessionID == sessionID {
			cp := *job
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*model.ChatSession
	messages map[string][]model.ChatMessage
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{
		sessions: make(map[string]*model.ChatSession),
		messages: make(map[string][]model.ChatMessage),
	}
}

func (f *fakeSessionRepo) Save(ctx context.Context, tx repository.Tx, s *model.ChatSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	f.sessions[s.ID] = &cp
	return nil
}

func (f *fakeSessionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessionRepo) SaveMessage(ctx context.Context, tx repository.Tx, msg *model.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[msg.SessionID] = append(f.messages[msg.SessionID], *msg)
	return nil
}

func (f *fakeSessionRepo) RecentMessages(ctx context.Context, sessionID string, n int) ([]model.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.messages[sessionID]
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	out := make([]model.ChatMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (f *fakeSessionRepo) IncrementQuestionCount(ctx context.Context, tx repository.Tx, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return domain.ErrNotFound
	}
	s.QuestionCount++
	return nil
}

type fakeWorkerStatusRepo struct {
	mu      sync.Mutex
	workers map[string]*model.WorkerStatus
}

func newFakeWorkerStatusRepo() *fakeWorkerStatusRepo {
	return &fakeWorkerStatusRepo{workers: make(map[string]*model.WorkerStatus)}
}

func (f *fakeWorkerStatusRepo) Upsert(ctx context.Context, tx repository.Tx, ws *model.WorkerStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *ws
	f.workers[ws.WorkerID] = &cp
	return nil
}

func (f *fakeWorkerStatusRepo) Find(ctx context.Context, tx repository.Tx, workerID string) (*model.WorkerStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ws, ok := f.workers[workerID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *ws
	return &cp, nil
}

func (f *fakeWorkerStatusRepo) MarkOffline(ctx context.Context, tx repository.Tx, workerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ws, ok := f.workers[workerID]; ok {
		ws.State = model.WorkerOffline
	}
	return nil
}

// flakyCompletion fails its stream a configured number of times, then
// succeeds with the given chunks.
type flakyCompletion struct {
	mu        sync.Mutex
	failures  int
	failErr   error
	chunks    []string
	callCount int
}

func (s *flakyCompletion) Name() string { return "flaky" }

func (s *flakyCompletion) Chat(ctx context.Context, model string, messages []adapter.Message) (string, adapter.Usage, error) {
	return "", adapter.Usage{}, nil
}

func (s *flakyCompletion) StreamChat(ctx context.Context, model string, messages []adapter.Message) (<-chan string, <-chan error) {
	s.mu.Lock()
	s.callCount++
	fail := s.callCount <= s.failures
	s.mu.Unlock()

	chunks := make(chan string, len(s.chunks))
	errs := make(chan error, 1)
	if fail {
		errs <- s.failErr
	} else {
		for _, c := range s.chunks {
			chunks <- c
		}
	}
	close(chunks)
	close(errs)
	return chunks, errs
}

func (s *flakyCompletion) CountTokens(ctx context.Context, model string, messages []adapter.Message) (int, error) {
	return 1, nil
}

// fakeSubscriber hands each topic one buffered channel and lets tests push
// row changes into it.
type fakeSubscriber struct {
	mu     sync.Mutex
	topics map[string]chan adapter.RowChange
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{topics: make(map[string]chan adapter.RowChange)}
}

func (f *fakeSubscriber) SubscribeChanges(ctx context.Context, topic string) (<-chan adapter.RowChange, func() error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.topics[topic]
	if !ok {
		ch = make(chan adapter.RowChange, 16)
		f.topics[topic] = ch
	}
	return ch, func() error { return nil }, nil
}

func (f *fakeSubscriber) push(topic string, ev adapter.RowChange) {
	f.mu.Lock()
	ch, ok := f.topics[topic]
	if !ok {
		ch = make(chan adapter.RowChange, 16)
		f.topics[topic] = ch
	}
	f.mu.Unlock()
	ch <- ev
}
