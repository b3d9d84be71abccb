package domain

import "time"

// WebhookEventStatus tracks ingestion state of a provider event.
type WebhookEventStatus string

const (
	WebhookStatusReceived   WebhookEventStatus = "received"
	WebhookStatusProcessed  WebhookEventStatus = "processed"
	WebhookStatusSkipped    WebhookEventStatus = "skipped"
	WebhookStatusFailed     WebhookEventStatus = "failed"
	WebhookStatusDeadLetter WebhookEventStatus = "dead_letter"
)

// MaxWebhookAttempts is the retry cap before an event is dead-lettered.
const MaxWebhookAttempts = 5

// WebhookEvent is the durable dedup record for a provider event.
// EventID is the durable event key: the provider's event id for Stripe,
// and "paystack_{eventType}_{ref}" for Paystack, because the same
// transfer reference emits multiple lifecycle events.
type WebhookEvent struct {
	ID         string
	Provider   Provider
	EventID    string
	EventType  string
	Status     WebhookEventStatus
	RetryCount int
	PaymentID  *string
	Payload    []byte
	LastError  *string

	ProcessedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ShouldDeadLetter reports whether the retry budget is exhausted.
func (e *WebhookEvent) ShouldDeadLetter() bool {
	return e.RetryCount >= MaxWebhookAttempts
}
