package model

import (
	"encoding/json"
	"time"
)

type QueueJobStatus string

const (
	QueueStatusQueued     QueueJobStatus = "queued"
	QueueStatusProcessing QueueJobStatus = "processing"
	QueueStatusCompleted  QueueJobStatus = "completed"
	QueueStatusFailed     QueueJobStatus = "failed"
	QueueStatusCancelled  QueueJobStatus = "cancelled"
)

// QueueJob is one row of the durable job queue. The queue is the single
// source of truth for job ownership: a job is owned by the worker named in
// WorkerID for as long as the lock lease holds.
type QueueJob struct {
	ID            string // caller-supplied, unique
	JobType       string
	Status        QueueJobStatus
	Priority      int // higher first
	Payload       json.RawMessage
	Result        json.RawMessage
	ErrorMessage  string
	RetryCount    int
	MaxRetries    int
	NextRetryAt   *time.Time
	ScheduledAt   time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	WorkerID      string
	LockExpiresAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func NewQueueJob(id, jobType string, payload json.RawMessage, priority, maxRetries int, scheduledAt time.Time) *QueueJob {
	now := time.Now()
	if scheduledAt.IsZero() {
		scheduledAt = now
	}
	return &QueueJob{
		ID:          id,
		JobType:     jobType,
		Status:      QueueStatusQueued,
		Priority:    priority,
		Payload:     payload,
		MaxRetries:  maxRetries,
		ScheduledAt: scheduledAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Terminal reports whether the job can no longer transition.
func (j *QueueJob) Terminal() bool {
	switch j.Status {
	case QueueStatusCompleted, QueueStatusFailed, QueueStatusCancelled:
		return true
	}
	return false
}

// Eligible reports whether a claim at `now` may take this job: either it is
// queued and due, or a previous worker's lock lease has expired.
func (j *QueueJob) Eligible(now time.Time) bool {
	switch j.Status {
	case QueueStatusQueued:
		return !j.ScheduledAt.After(now)
	case QueueStatusProcessing:
		return j.LockExpiresAt != nil && j.LockExpiresAt.Before(now)
	}
	return false
}

// NextRetryDelay returns the schedule-retry delay for a given retry count:
// 2^retryCount seconds.
func NextRetryDelay(retryCount int) time.Duration {
	return time.Duration(1<<uint(retryCount)) * time.Second
}
