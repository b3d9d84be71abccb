package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patronhq/payment-service/internal/domain"
	"github.com/patronhq/payment-service/internal/domain/ports"
	"github.com/patronhq/payment-service/pkg/timeutil"
)

type fakeSubRepo struct {
	pastDue  []*domain.Subscription
	canceled []*domain.Subscription
}

func (f *fakeSubRepo) Create(context.Context, ports.DBTX, *domain.Subscription) error { return nil }
func (f *fakeSubRepo) GetByID(context.Context, ports.DBTX, string) (*domain.Subscription, error) {
	return nil, domain.ErrSubscriptionNotFound
}
func (f *fakeSubRepo) GetByStripeSubscription(context.Context, ports.DBTX, string) (*domain.Subscription, error) {
	return nil, domain.ErrSubscriptionNotFound
}
func (f *fakeSubRepo) GetByParties(context.Context, ports.DBTX, string, string, domain.Interval) (*domain.Subscription, error) {
	return nil, domain.ErrSubscriptionNotFound
}
func (f *fakeSubRepo) Update(context.Context, ports.DBTX, *domain.Subscription) error { return nil }
func (f *fakeSubRepo) ListDueForBilling(context.Context, ports.DBTX, time.Time, int32) ([]*domain.Subscription, error) {
	return nil, nil
}
func (f *fakeSubRepo) ListPastDue(context.Context, ports.DBTX, int32) ([]*domain.Subscription, error) {
	return f.pastDue, nil
}
func (f *fakeSubRepo) ListRenewingWithin(context.Context, ports.DBTX, time.Time, time.Time) ([]*domain.Subscription, error) {
	return nil, nil
}
func (f *fakeSubRepo) ListStalePending(context.Context, ports.DBTX, time.Time) ([]*domain.Subscription, error) {
	return nil, nil
}
func (f *fakeSubRepo) ListCanceledSince(context.Context, ports.DBTX, time.Time) ([]*domain.Subscription, error) {
	return f.canceled, nil
}

type fakeEventRepo struct {
	retryable []*domain.WebhookEvent
}

func (f *fakeEventRepo) Upsert(context.Context, ports.DBTX, *domain.WebhookEvent) (*domain.WebhookEvent, bool, error) {
	return nil, false, nil
}
func (f *fakeEventRepo) GetByEventID(context.Context, ports.DBTX, domain.Provider, string) (*domain.WebhookEvent, error) {
	return nil, domain.NewDomainError(domain.ErrorCodeEventNotFound, "not found")
}
func (f *fakeEventRepo) MarkProcessed(context.Context, ports.DBTX, string, *string) error {
	return nil
}
func (f *fakeEventRepo) MarkSkipped(context.Context, ports.DBTX, string, *string) error { return nil }
func (f *fakeEventRepo) MarkFailed(context.Context, ports.DBTX, string, string, bool) error {
	return nil
}
func (f *fakeEventRepo) ListRetryable(context.Context, ports.DBTX, int32) ([]*domain.WebhookEvent, error) {
	return f.retryable, nil
}
func (f *fakeEventRepo) ListDeadLetters(context.Context, ports.DBTX, int32) ([]*domain.WebhookEvent, error) {
	return nil, nil
}

type fakeNotify struct {
	sent []*ports.Notification
}

func (f *fakeNotify) Send(ctx context.Context, n *ports.Notification) error {
	f.sent = append(f.sent, n)
	return nil
}

type fakeRetrier struct {
	retried []string
}

func (f *fakeRetrier) Retry(ctx context.Context, provider domain.Provider, eventID string) error {
	f.retried = append(f.retried, eventID)
	return nil
}

func TestRunDunningSendsPaymentFailedNotice(t *testing.T) {
	periodEnd := timeutil.Now().Add(-48 * time.Hour)
	notify := &fakeNotify{}
	d := &Deps{
		Subscriptions: &fakeSubRepo{pastDue: []*domain.Subscription{{
			ID:               "sub-1",
			CreatorID:        "creator-1",
			SubscriberID:     "subscriber-1",
			AmountCents:      1000,
			Currency:         "USD",
			Status:           domain.SubscriptionStatusPastDue,
			CurrentPeriodEnd: periodEnd,
		}}},
		Notify: notify,
		Logger: nopLogger{},
	}

	// Stripe runs its own retries; the notice still goes out.
	require.NoError(t, d.runDunning(context.Background()))

	require.Len(t, notify.sent, 1)
	n := notify.sent[0]
	assert.Equal(t, "subscriber-1", n.UserID)
	assert.Equal(t, "sub-1", n.SubscriptionID)
	assert.Equal(t, "payment_failed_"+timeutil.PeriodKey(periodEnd), n.Type,
		"notice keys on the unpaid period")
	assert.Equal(t, 2, n.Data["days_past"])
}

func TestRunCancellationNotices(t *testing.T) {
	notify := &fakeNotify{}
	d := &Deps{
		Subscriptions: &fakeSubRepo{canceled: []*domain.Subscription{
			{ID: "sub-1", CreatorID: "creator-1", SubscriberID: "subscriber-1",
				CancelReason: domain.CancelReasonSubscriber},
			{ID: "sub-2", CreatorID: "creator-2", SubscriberID: "subscriber-2",
				CancelReason: domain.CancelReasonPaymentFailed},
		}},
		Notify: notify,
		Logger: nopLogger{},
	}

	require.NoError(t, d.runCancellationNotices(context.Background()))

	require.Len(t, notify.sent, 2)
	assert.Equal(t, "subscription_canceled_sub-1", notify.sent[0].Type)
	assert.Equal(t, string(domain.CancelReasonPaymentFailed), notify.sent[1].Data["reason"])
}

func TestRunWebhookRetriesHonorsBackoff(t *testing.T) {
	now := timeutil.Now()
	retrier := &fakeRetrier{}
	d := &Deps{
		Events: &fakeEventRepo{retryable: []*domain.WebhookEvent{
			// well past any delay the schedule can produce
			{EventID: "evt_old", Provider: domain.ProviderStripe,
				RetryCount: 2, UpdatedAt: now.Add(-time.Minute)},
			// just failed; its first-retry delay has not elapsed
			{EventID: "evt_fresh", Provider: domain.ProviderStripe,
				RetryCount: 0, UpdatedAt: now},
		}},
		Ingest: retrier,
		Logger: nopLogger{},
	}

	require.NoError(t, d.runWebhookRetries(context.Background()))

	assert.Equal(t, []string{"evt_old"}, retrier.retried,
		"events inside their backoff window wait for a later sweep")
}
