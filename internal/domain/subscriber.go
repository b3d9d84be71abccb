package domain

import "time"

// Subscriber is a payer identified by email.
type Subscriber struct {
	ID            string
	Email         string
	DisputeCount  int
	BlockedReason *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsBlocked reports whether new checkouts from this subscriber are refused.
func (s *Subscriber) IsBlocked() bool {
	return s.BlockedReason != nil && *s.BlockedReason != ""
}

// Activity is an append-only log entry keyed by user; it drives
// notifications and dashboards.
type Activity struct {
	ID        string
	UserID    string
	Type      string
	Payload   map[string]interface{}
	CreatedAt time.Time
}

// Activity types written by the core.
const (
	ActivityPaymentReceived    = "payment_received"
	ActivityPaymentRefunded    = "payment_refunded"
	ActivityPaymentDisputed    = "payment_disputed"
	ActivitySubscriptionNew    = "subscription_created"
	ActivitySubscriptionEnded  = "subscription_canceled"
	ActivityPayoutCompleted    = "payout_completed"
	ActivityPayoutFailed       = "payout_failed"
	ActivityRenewalFailed      = "renewal_failed"
	ActivityReconciliationHeal = "reconciliation_heal"
)

// NotificationLog is the unique (subscriptionID, type) idempotency key
// for outbound notifications.
type NotificationLog struct {
	ID             string
	SubscriptionID string
	Type           string
	SentAt         time.Time
}
