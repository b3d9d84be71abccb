package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/patronhq/payment-service/internal/domain"
)

const webhookQueueKey = "webhook_events:queue"

// EventQueue hands webhook event ids to async workers via LPUSH/BRPOP.
// When Redis is down Available reports false and ingestion processes
// events inline in the request instead.
type EventQueue struct {
	client *redis.Client
}

// NewEventQueue creates a Redis-backed webhook event queue.
func NewEventQueue(client *redis.Client) *EventQueue {
	return &EventQueue{client: client}
}

// Enqueue pushes an event id for a worker to pick up.
func (q *EventQueue) Enqueue(ctx context.Context, eventID string) error {
	if err := q.client.LPush(ctx, webhookQueueKey, eventID).Err(); err != nil {
		return domain.WrapError(domain.ErrorCodeInternalError, "enqueue webhook event", err)
	}
	return nil
}

// Dequeue blocks up to timeout for the next event id. An empty string
// with nil error means the timeout elapsed with nothing queued.
func (q *EventQueue) Dequeue(ctx context.Context, timeout time.Duration) (string, error) {
	res, err := q.client.BRPop(ctx, timeout, webhookQueueKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", domain.WrapError(domain.ErrorCodeInternalError, "dequeue webhook event", err)
	}
	// BRPOP returns [key, value].
	if len(res) != 2 {
		return "", nil
	}
	return res[1], nil
}

// Available reports whether the queue can be used right now.
func (q *EventQueue) Available() bool {
	if q == nil || q.client == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return q.client.Ping(ctx).Err() == nil
}
