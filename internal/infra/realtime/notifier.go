package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ai-chat-pipeline/internal/domain/model"
	"ai-chat-pipeline/internal/domain/ports/adapter"
	"ai-chat-pipeline/internal/infra/metrics"
)

type EventType string

const (
	EventJobCreated      EventType = "job_created"
	EventJobStatusUpdate EventType = "job_status_update"
	EventJobFailed       EventType = "job_failed"
	EventNewMessage      EventType = "new_message"

	// EventSubscriptionError is terminal: the notifier gave up reconnecting
	// and the event channel closes right after it.
	EventSubscriptionError EventType = "subscription_error"
)

// Event is one realtime notification for a session.
type Event struct {
	Type      EventType           `json:"type"`
	SessionID string              `json:"session_id"`
	Job       *adapter.QueueJobRow `json:"job,omitempty"`
	Message   *adapter.MessageRow  `json:"message,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// Notifier turns one session's change feed into typed events. Job status
// updates that repeat the last seen status are suppressed. A dropped feed is
// resubscribed with exponential delay up to MaxReconnects attempts; after
// that a terminal EventSubscriptionError is emitted and the channel closes.
type Notifier struct {
	sub       adapter.ChangeSubscriber
	sessionID string
	log       *zerolog.Logger

	// MaxReconnects and ReconnectBase default to 5 and 1s.
	MaxReconnects int
	ReconnectBase time.Duration

	mu         sync.Mutex
	lastStatus map[string]string
	cancel     context.CancelFunc
	out        chan Event
	closeOnce  sync.Once
}

func NewNotifier(sub adapter.ChangeSubscriber, sessionID string, log *zerolog.Logger) *Notifier {
	return &Notifier{
		sub:           sub,
		sessionID:     sessionID,
		log:           log,
		MaxReconnects: 5,
		ReconnectBase: time.Second,
		lastStatus:    make(map[string]string),
	}
}

// Start subscribes to the session's queue-change and message-insert topics
// and returns the merged event channel. An initial subscription failure is
// returned directly; later drops go through the reconnect policy.
func (n *Notifier) Start(ctx context.Context) (<-chan Event, error) {
	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	n.out = make(chan Event, 32)

	queueCh, queueStop, err := n.sub.SubscribeChanges(ctx, adapter.QueueChangesTopic(n.sessionID))
	if err != nil {
		cancel()
		return nil, err
	}
	msgCh, msgStop, err := n.sub.SubscribeChanges(ctx, adapter.MessageInsertsTopic(n.sessionID))
	if err != nil {
		_ = queueStop()
		cancel()
		return nil, err
	}
	metrics.RealtimeSubscriptionOpened()

	var wg sync.WaitGroup
	wg.Add(2)
	go n.pump(ctx, &wg, adapter.QueueChangesTopic(n.sessionID), queueCh, queueStop, n.handleQueueChange)
	go n.pump(ctx, &wg, adapter.MessageInsertsTopic(n.sessionID), msgCh, msgStop, n.handleMessageInsert)
	// The closer must hold the channel it was started for: after Reconnect
	// reassigns n.out, a late closer from the previous generation would
	// otherwise close the new channel.
	out := n.out
	go func() {
		wg.Wait()
		metrics.RealtimeSubscriptionClosed()
		close(out)
	}()

	return n.out, nil
}

// Close tears the notifier down. Safe to call more than once.
func (n *Notifier) Close() {
	n.closeOnce.Do(func() {
		if n.cancel != nil {
			n.cancel()
		}
	})
}

// Reconnect tears down the current subscriptions and opens fresh ones with
// the same configuration, resetting the automatic-reconnect budget and the
// per-job status memory. It works even after automatic reconnects gave up;
// the previous event channel must be drained before calling.
func (n *Notifier) Reconnect(ctx context.Context) (<-chan Event, error) {
	if n.cancel != nil {
		n.cancel()
	}
	n.mu.Lock()
	n.lastStatus = make(map[string]string)
	n.closeOnce = sync.Once{}
	n.mu.Unlock()
	return n.Start(ctx)
}

func (n *Notifier) pump(ctx context.Context, wg *sync.WaitGroup, topic string, ch <-chan adapter.RowChange, stop func() error, handle func(ctx context.Context, ev adapter.RowChange)) {
	defer wg.Done()

	attempts := 0
	for {
	recv:
		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					break recv
				}
				attempts = 0
				handle(ctx, ev)
			case <-ctx.Done():
				_ = stop()
				return
			}
		}
		_ = stop()
		if ctx.Err() != nil {
			return
		}

		// Feed dropped without a close: reconnect with exponential delay.
		for {
			attempts++
			if attempts > n.MaxReconnects {
				n.log.Error().Str("topic", topic).Int("attempts", attempts-1).Msg("change feed reconnects exhausted")
				n.emit(ctx, Event{Type: EventSubscriptionError, SessionID: n.sessionID, Error: "subscription lost"})
				return
			}
			delay := n.ReconnectBase << uint(attempts-1)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			metrics.IncRealtimeReconnect()

			var err error
			ch, stop, err = n.sub.SubscribeChanges(ctx, topic)
			if err == nil {
				n.log.Info().Str("topic", topic).Int("attempt", attempts).Msg("change feed resubscribed")
				break
			}
			n.log.Warn().Err(err).Str("topic", topic).Int("attempt", attempts).Msg("change feed resubscribe failed")
		}
	}
}

func (n *Notifier) handleQueueChange(ctx context.Context, ev adapter.RowChange) {
	var row adapter.QueueJobRow
	if err := json.Unmarshal(ev.New, &row); err != nil {
		n.log.Warn().Err(err).Msg("undecodable queue change")
		return
	}

	if ev.EventType == adapter.ChangeInsert {
		n.seenStatus(row.JobID, row.Status)
		n.emit(ctx, Event{Type: EventJobCreated, SessionID: n.sessionID, Job: &row})
		return
	}
	if n.seenStatus(row.JobID, row.Status) {
		return
	}
	n.emit(ctx, Event{Type: EventJobStatusUpdate, SessionID: n.sessionID, Job: &row})
	if row.Status == string(model.QueueStatusFailed) {
		n.emit(ctx, Event{Type: EventJobFailed, SessionID: n.sessionID, Job: &row})
	}
}

func (n *Notifier) handleMessageInsert(ctx context.Context, ev adapter.RowChange) {
	var row adapter.MessageRow
	if err := json.Unmarshal(ev.New, &row); err != nil {
		n.log.Warn().Err(err).Msg("undecodable message insert")
		return
	}
	n.emit(ctx, Event{Type: EventNewMessage, SessionID: n.sessionID, Message: &row})
}

// seenStatus records the status and reports whether it repeats the previous
// one for that job.
func (n *Notifier) seenStatus(jobID, status string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.lastStatus[jobID] == status {
		return true
	}
	n.lastStatus[jobID] = status
	return false
}

func (n *Notifier) emit(ctx context.Context, ev Event) {
	select {
	case n.out <- ev:
		metrics.IncRealtimeEvent(string(ev.Type))
	case <-ctx.Done():
	}
}
