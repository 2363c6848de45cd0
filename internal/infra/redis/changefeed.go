package redis

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"

	"ai-chat-pipeline/internal/domain/ports/adapter"
)

var (
	_ adapter.ChangePublisher  = (*ChangeFeed)(nil)
	_ adapter.ChangeSubscriber = (*ChangeFeed)(nil)
)

// ChangeFeed is the change-data-capture channel over redis pub/sub.
// Repositories publish row-change events per session topic; the realtime
// notifier subscribes. Delivery is at-most-once, which is acceptable: the
// feed is observational and the queue rows remain the source of truth.
type ChangeFeed struct {
	cli *redis.Client
}

func NewChangeFeed(c *Client) *ChangeFeed {
	return &ChangeFeed{cli: c.cli}
}

func (f *ChangeFeed) PublishChange(ctx context.Context, topic string, ev adapter.RowChange) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return f.cli.Publish(ctx, topic, b).Err()
}

func (f *ChangeFeed) SubscribeChanges(ctx context.Context, topic string) (<-chan adapter.RowChange, func() error, error) {
	sub := f.cli.Subscribe(ctx, topic)
	// Force the subscription handshake so errors surface here, not on the
	// first receive.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, err
	}

	out := make(chan adapter.RowChange, 16)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var ev adapter.RowChange
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue // skip malformed frames
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, sub.Close, nil
}
