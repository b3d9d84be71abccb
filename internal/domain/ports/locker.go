package ports

import (
	"context"
	"time"
)

// Lock is an acquired distributed lock. Release compares the fencing
// token so a holder can only unlock a lock it still owns.
type Lock interface {
	Release(ctx context.Context) error
}

// Locker acquires short-lived advisory locks. Acquire never blocks:
// when the key is held elsewhere it returns domain.ErrLockNotAcquired
// and the caller bails and retries later.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// Lock key builders keep key shapes in one place.

// SubscriptionLockKey serializes event application per provider
// subscription reference.
func SubscriptionLockKey(providerRef string) string {
	return "subscription:" + providerRef
}

// ChargeLockKey serializes competing retries of a single event.
func ChargeLockKey(eventID string) string {
	return "charge:" + eventID
}

// NotificationLockKey guards an outbound send around its DB recheck.
func NotificationLockKey(subscriptionID, notificationType string) string {
	return "notification:" + subscriptionID + ":" + notificationType
}

// PayoutLockKey serializes transfer initiation per creator.
func PayoutLockKey(creatorID string) string {
	return "payout:" + creatorID
}

// JobLockKey is the scheduler's per-job lease.
func JobLockKey(jobName string) string {
	return "job:" + jobName
}
