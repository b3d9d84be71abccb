package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/patronhq/payment-service/internal/domain"
	"github.com/patronhq/payment-service/internal/domain/ports"
)

const lockPrefix = "lock:"

// releaseScript deletes the lock only when the stored fencing token
// still matches, so an expired holder cannot release a successor's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker implements ports.Locker over Redis SET NX PX.
type Locker struct {
	client *redis.Client
}

// NewLocker creates a Redis-backed distributed locker.
func NewLocker(client *redis.Client) *Locker {
	return &Locker{client: client}
}

// Acquire takes the lock or returns domain.ErrLockNotAcquired without
// blocking. The TTL bounds how long a crashed holder can wedge the key.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (ports.Lock, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, lockPrefix+key, token, ttl).Result()
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeInternalError, "acquire lock", err)
	}
	if !ok {
		return nil, domain.ErrLockNotAcquired
	}
	return &lock{client: l.client, key: lockPrefix + key, token: token}, nil
}

type lock struct {
	client *redis.Client
	key    string
	token  string
}

// Release deletes the lock if this holder still owns it. Releasing an
// already-expired lock is not an error.
func (l *lock) Release(ctx context.Context) error {
	err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	return nil
}
