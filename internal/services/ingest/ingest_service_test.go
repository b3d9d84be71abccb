package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patronhq/payment-service/internal/domain"
	"github.com/patronhq/payment-service/internal/domain/ports"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...ports.Field)  {}
func (nopLogger) Error(string, ...ports.Field) {}
func (nopLogger) Warn(string, ...ports.Field)  {}
func (nopLogger) Debug(string, ...ports.Field) {}

type failedMark struct {
	eventID    string
	reason     string
	deadLetter bool
}

type skippedMark struct {
	eventID   string
	paymentID *string
}

type mockEvents struct {
	row      *domain.WebhookEvent
	inserted bool

	processed []string
	skipped   []skippedMark
	failed    []failedMark
}

func (m *mockEvents) Upsert(ctx context.Context, tx ports.DBTX, event *domain.WebhookEvent) (*domain.WebhookEvent, bool, error) {
	if m.row != nil {
		return m.row, m.inserted, nil
	}
	return event, true, nil
}

func (m *mockEvents) GetByEventID(ctx context.Context, tx ports.DBTX, provider domain.Provider, eventID string) (*domain.WebhookEvent, error) {
	if m.row == nil {
		return nil, domain.ErrEventNotFound
	}
	return m.row, nil
}

func (m *mockEvents) MarkProcessed(ctx context.Context, tx ports.DBTX, eventID string, paymentID *string) error {
	m.processed = append(m.processed, eventID)
	return nil
}

func (m *mockEvents) MarkSkipped(ctx context.Context, tx ports.DBTX, eventID string, paymentID *string) error {
	m.skipped = append(m.skipped, skippedMark{eventID: eventID, paymentID: paymentID})
	return nil
}

func (m *mockEvents) MarkFailed(ctx context.Context, tx ports.DBTX, eventID string, reason string, deadLetter bool) error {
	m.failed = append(m.failed, failedMark{eventID: eventID, reason: reason, deadLetter: deadLetter})
	return nil
}

func (m *mockEvents) ListRetryable(ctx context.Context, tx ports.DBTX, limit int32) ([]*domain.WebhookEvent, error) {
	return nil, nil
}

func (m *mockEvents) ListDeadLetters(ctx context.Context, tx ports.DBTX, limit int32) ([]*domain.WebhookEvent, error) {
	return nil, nil
}

type mockPayments struct {
	byRef *domain.Payment
}

func (m *mockPayments) Create(context.Context, ports.DBTX, *domain.Payment) error { return nil }
func (m *mockPayments) GetByID(context.Context, ports.DBTX, string) (*domain.Payment, error) {
	return nil, domain.ErrPaymentNotFound
}
func (m *mockPayments) GetByProviderRef(ctx context.Context, tx ports.DBTX, provider domain.Provider, ref string) (*domain.Payment, error) {
	if m.byRef != nil && m.byRef.ProviderRef == ref {
		return m.byRef, nil
	}
	return nil, domain.ErrPaymentNotFound
}
func (m *mockPayments) GetByTransferCode(context.Context, ports.DBTX, string) (*domain.Payment, error) {
	return nil, domain.ErrPaymentNotFound
}
func (m *mockPayments) UpdateStatus(context.Context, ports.DBTX, *domain.Payment) error { return nil }
func (m *mockPayments) ListPayoutsInStatus(context.Context, ports.DBTX, domain.PaymentStatus) ([]*domain.Payment, error) {
	return nil, nil
}
func (m *mockPayments) ListRecentPayouts(context.Context, ports.DBTX, int32) ([]*domain.Payment, error) {
	return nil, nil
}
func (m *mockPayments) SumNetSinceLastPayout(context.Context, ports.DBTX, string) (int64, string, error) {
	return 0, "", nil
}
func (m *mockPayments) AggregateDaily(context.Context, ports.DBTX, time.Time) error { return nil }

type fakeSource struct {
	event     *domain.ProviderEvent
	verifyErr error
}

func (f *fakeSource) Name() domain.Provider { return domain.ProviderStripe }

func (f *fakeSource) VerifyAndDecode(payload []byte, signature string) (*domain.ProviderEvent, error) {
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return f.event, nil
}

func (f *fakeSource) DecodeStored(payload []byte) (*domain.ProviderEvent, error) {
	return f.event, nil
}

type mockApplier struct {
	paymentID *string
	err       error
	calls     int
}

func (m *mockApplier) Apply(ctx context.Context, event *domain.ProviderEvent) (*string, error) {
	m.calls++
	return m.paymentID, m.err
}

func chargeEvent() *domain.ProviderEvent {
	return &domain.ProviderEvent{
		Provider: domain.ProviderStripe,
		Key:      "evt_1",
		Kind:     domain.EventChargeSucceeded,
		RawType:  "charge.succeeded",
		Charge:   &domain.ChargeEventData{Ref: "ch_1", AmountCents: 500, Currency: "USD"},
	}
}

func newTestService(events *mockEvents, payments *mockPayments, source *fakeSource, applier *mockApplier) *Service {
	return NewService(events, payments, []ports.WebhookSource{source}, nil, applier, nopLogger{})
}

func TestIngestUnknownProvider(t *testing.T) {
	svc := newTestService(&mockEvents{}, &mockPayments{}, &fakeSource{}, &mockApplier{})

	err := svc.Ingest(context.Background(), domain.Provider("square"), []byte(`{}`), "sig")
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
}

func TestIngestBadSignatureRejected(t *testing.T) {
	events := &mockEvents{}
	svc := newTestService(events, &mockPayments{}, &fakeSource{verifyErr: domain.ErrSignatureInvalid}, &mockApplier{})

	err := svc.Ingest(context.Background(), domain.ProviderStripe, []byte(`{}`), "bad")
	require.Error(t, err)
	assert.Empty(t, events.processed, "rejected deliveries are never stored")
	assert.Empty(t, events.failed)
}

func TestIngestAppliesAndMarksProcessed(t *testing.T) {
	events := &mockEvents{}
	pid := "pay-1"
	applier := &mockApplier{paymentID: &pid}
	svc := newTestService(events, &mockPayments{}, &fakeSource{event: chargeEvent()}, applier)

	require.NoError(t, svc.Ingest(context.Background(), domain.ProviderStripe, []byte(`{}`), "sig"))
	assert.Equal(t, 1, applier.calls)
	assert.Equal(t, []string{"evt_1"}, events.processed)
}

func TestIngestDuplicateTerminalRowShortCircuits(t *testing.T) {
	for _, status := range []domain.WebhookEventStatus{
		domain.WebhookStatusProcessed,
		domain.WebhookStatusSkipped,
		domain.WebhookStatusDeadLetter,
	} {
		events := &mockEvents{
			row:      &domain.WebhookEvent{EventID: "evt_1", Status: status},
			inserted: false,
		}
		applier := &mockApplier{}
		svc := newTestService(events, &mockPayments{}, &fakeSource{event: chargeEvent()}, applier)

		require.NoError(t, svc.Ingest(context.Background(), domain.ProviderStripe, []byte(`{}`), "sig"))
		assert.Zero(t, applier.calls, "status %s must not re-apply", status)
	}
}

func TestIngestRetryBudgetExhausted(t *testing.T) {
	events := &mockEvents{
		row: &domain.WebhookEvent{
			EventID:    "evt_1",
			Status:     domain.WebhookStatusFailed,
			RetryCount: domain.MaxWebhookAttempts,
		},
		inserted: false,
	}
	applier := &mockApplier{}
	svc := newTestService(events, &mockPayments{}, &fakeSource{event: chargeEvent()}, applier)

	require.NoError(t, svc.Ingest(context.Background(), domain.ProviderStripe, []byte(`{}`), "sig"))
	assert.Zero(t, applier.calls)
	require.Len(t, events.failed, 1)
	assert.True(t, events.failed[0].deadLetter)
}

func TestIngestUnknownEventSkipped(t *testing.T) {
	events := &mockEvents{}
	applier := &mockApplier{}
	source := &fakeSource{event: &domain.ProviderEvent{
		Provider: domain.ProviderStripe,
		Key:      "evt_odd",
		Kind:     domain.EventUnknown,
		RawType:  "product.created",
	}}
	svc := newTestService(events, &mockPayments{}, source, applier)

	require.NoError(t, svc.Ingest(context.Background(), domain.ProviderStripe, []byte(`{}`), "sig"))
	assert.Zero(t, applier.calls)
	require.Len(t, events.skipped, 1)
	assert.Equal(t, "evt_odd", events.skipped[0].eventID)
}

func TestIngestChargeWithExistingPaymentSkips(t *testing.T) {
	events := &mockEvents{}
	applier := &mockApplier{}
	payments := &mockPayments{byRef: &domain.Payment{ID: "pay-9", ProviderRef: "ch_1"}}
	svc := newTestService(events, payments, &fakeSource{event: chargeEvent()}, applier)

	require.NoError(t, svc.Ingest(context.Background(), domain.ProviderStripe, []byte(`{}`), "sig"))
	assert.Zero(t, applier.calls, "existing payment row means the work is done")
	require.Len(t, events.skipped, 1)
	require.NotNil(t, events.skipped[0].paymentID)
	assert.Equal(t, "pay-9", *events.skipped[0].paymentID)
}

func TestIngestApplyOutcomes(t *testing.T) {
	tests := []struct {
		name           string
		applyErr       error
		wantFailed     bool
		wantSkipped    bool
		wantDeadLetter bool
	}{
		{
			name:       "held lock stays retryable",
			applyErr:   domain.ErrLockNotAcquired,
			wantFailed: true,
		},
		{
			name:        "conflict means already applied",
			applyErr:    domain.ErrAlreadyProcessed,
			wantSkipped: true,
		},
		{
			name:           "permanent error dead-letters immediately",
			applyErr:       domain.ErrCreatorNotFound,
			wantFailed:     true,
			wantDeadLetter: true,
		},
		{
			name:       "retryable error stays in the queue",
			applyErr:   domain.ErrProviderUnavailable,
			wantFailed: true,
		},
		{
			name:       "unclassified error is retried",
			applyErr:   errors.New("boom"),
			wantFailed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := &mockEvents{}
			applier := &mockApplier{err: tt.applyErr}
			svc := newTestService(events, &mockPayments{}, &fakeSource{event: chargeEvent()}, applier)

			// delivery is acknowledged regardless of apply outcome
			require.NoError(t, svc.Ingest(context.Background(), domain.ProviderStripe, []byte(`{}`), "sig"))
			assert.Equal(t, 1, applier.calls)

			if tt.wantSkipped {
				assert.Len(t, events.skipped, 1)
				assert.Empty(t, events.failed)
				return
			}
			if tt.wantFailed {
				require.Len(t, events.failed, 1)
				assert.Equal(t, tt.wantDeadLetter, events.failed[0].deadLetter)
			}
		})
	}
}

func TestRetrySkipsCompletedRows(t *testing.T) {
	events := &mockEvents{
		row: &domain.WebhookEvent{EventID: "evt_1", Status: domain.WebhookStatusProcessed},
	}
	applier := &mockApplier{}
	svc := newTestService(events, &mockPayments{}, &fakeSource{event: chargeEvent()}, applier)

	require.NoError(t, svc.Retry(context.Background(), domain.ProviderStripe, "evt_1"))
	assert.Zero(t, applier.calls)
}

func TestRetryReappliesFailedRow(t *testing.T) {
	events := &mockEvents{
		row: &domain.WebhookEvent{
			EventID: "evt_1",
			Status:  domain.WebhookStatusFailed,
			Payload: []byte(`{}`),
		},
	}
	pid := "pay-1"
	applier := &mockApplier{paymentID: &pid}
	svc := newTestService(events, &mockPayments{}, &fakeSource{event: chargeEvent()}, applier)

	require.NoError(t, svc.Retry(context.Background(), domain.ProviderStripe, "evt_1"))
	assert.Equal(t, 1, applier.calls)
	assert.Equal(t, []string{"evt_1"}, events.processed)
}

func TestQueueTokenRoundTrip(t *testing.T) {
	token := queueToken(domain.ProviderPaystack, "paystack_charge.success_ref_1")
	provider, eventID, ok := splitToken(token)
	require.True(t, ok)
	assert.Equal(t, domain.ProviderPaystack, provider)
	assert.Equal(t, "paystack_charge.success_ref_1", eventID)

	for _, bad := range []string{"", "noseparator", "|evt", "stripe|"} {
		_, _, ok := splitToken(bad)
		assert.False(t, ok, "token %q", bad)
	}
}
