package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openlend/lenderd/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	// recordStream is the durable stream every tracking-store mutation is
	// appended to, trimmed approximately to streamMaxLen entries.
	recordStream = "records"
	// recordChannel is the Pub/Sub channel for live subscribers.
	recordChannel = "records:live"

	streamMaxLen int64 = 10000
)

// RecordBus implements domain.RecordPublisher. Records go to a Redis stream
// for durable, ordered consumption and to a Pub/Sub channel for live
// listeners such as the notifier.
type RecordBus struct {
	rdb *redis.Client
}

// NewRecordBus creates a RecordBus backed by the given Client.
func NewRecordBus(c *Client) *RecordBus {
	return &RecordBus{rdb: c.Underlying()}
}

// Publish appends the record to the durable stream and fans it out to live
// subscribers.
func (rb *RecordBus) Publish(ctx context.Context, rec domain.TxRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis: marshal record %s: %w", rec.ID, err)
	}

	args := &redis.XAddArgs{
		Stream: recordStream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"payload": payload},
	}
	if err := rb.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", recordStream, err)
	}

	if err := rb.rdb.Publish(ctx, recordChannel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", recordChannel, err)
	}
	return nil
}

// Subscribe creates a Pub/Sub subscription for live record updates and
// returns a read-only channel. The subscription closes when the context is
// cancelled; the returned channel is closed at that point as well. Records
// that fail to decode are dropped.
func (rb *RecordBus) Subscribe(ctx context.Context) (<-chan domain.TxRecord, error) {
	pubsub := rb.rdb.Subscribe(ctx, recordChannel)

	// Verify the subscription is established by receiving the confirmation.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", recordChannel, err)
	}

	out := make(chan domain.TxRecord, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var rec domain.TxRecord
				if err := json.Unmarshal([]byte(msg.Payload), &rec); err != nil {
					continue
				}
				select {
				case out <- rec:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Compile-time interface check.
var _ domain.RecordPublisher = (*RecordBus)(nil)
