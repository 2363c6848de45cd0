package adapter

import (
	"context"
	"encoding/json"
)

// Change-data-capture event types.
const (
	ChangeInsert = "INSERT"
	ChangeUpdate = "UPDATE"
)

// RowChange is one row-level change event on the feed. New and Old carry
// the row images as JSON; Old is present on updates only.
type RowChange struct {
	EventType string          `json:"event_type"` // INSERT | UPDATE
	Table     string          `json:"table"`
	SessionID string          `json:"session_id"`
	New       json.RawMessage `json:"new"`
	Old       json.RawMessage `json:"old,omitempty"`
}

// Per-session change topics.
func QueueChangesTopic(sessionID string) string   { return "queue-changes:" + sessionID }
func MessageInsertsTopic(sessionID string) string { return "message-inserts:" + sessionID }

// QueueJobRow is the row image carried by queue-changes events.
type QueueJobRow struct {
	JobID        string `json:"job_id"`
	JobType      string `json:"job_type"`
	SessionID    string `json:"session_id"`
	Status       string `json:"status"`
	RetryCount   int    `json:"retry_count"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// MessageRow is the row image carried by message-inserts events.
type MessageRow struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// ChangePublisher is implemented by the store side: repositories publish a
// RowChange after each successful insert/update of a subscribed table.
type ChangePublisher interface {
	PublishChange(ctx context.Context, topic string, ev RowChange) error
}

// ChangeSubscriber delivers the change feed for one topic. The returned
// stop function tears the subscription down; the channel closes on stop or
// on connection loss.
type ChangeSubscriber interface {
	SubscribeChanges(ctx context.Context, topic string) (<-chan RowChange, func() error, error)
}
