package reconcile

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

type fakeSource struct {
	name    domain.Provider
	txns    []ports.ProviderTransaction
	listErr error
}

func (f *fakeSource) Name() domain.Provider { return f.name }
func (f *fakeSource) ListTransactionsSince(ctx context.Context, since time.Time) ([]ports.ProviderTransaction, error) {
	return f.txns, f.listErr
}
func (f *fakeSource) VerifyTransaction(ctx context.Context, ref string) (*ports.ProviderTransaction, error) {
	for _, tx := range f.txns {
		if tx.Ref == ref {
			return &tx, nil
		}
	}
	return nil, domain.ErrPaymentNotFound
}
func (f *fakeSource) Balance(context.Context, *domain.Creator) (int64, string, error) {
	return 0, "", nil
}

type mockPayments struct {
	byRef map[string]*domain.Payment
}

func (m *mockPayments) Create(context.Context, ports.DBTX, *domain.Payment) error { return nil }
func (m *mockPayments) GetByID(context.Context, ports.DBTX, string) (*domain.Payment, error) {
	return nil, domain.ErrPaymentNotFound
}
func (m *mockPayments) GetByProviderRef(ctx context.Context, tx ports.DBTX, provider domain.Provider, ref string) (*domain.Payment, error) {
	if p, ok := m.byRef[ref]; ok {
		return p, nil
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

type mockApplier struct {
	err    error
	events []*domain.ProviderEvent
}

func (m *mockApplier) Apply(ctx context.Context, event *domain.ProviderEvent) (*string, error) {
	m.events = append(m.events, event)
	if m.err != nil {
		return nil, m.err
	}
	id := "payment-healed"
	return &id, nil
}

type mockAlerter struct {
	topics []string
}

func (m *mockAlerter) Alert(ctx context.Context, topic, message string, fields map[string]interface{}) error {
	m.topics = append(m.topics, topic)
	return nil
}

func settled(ref string, cents int64, creatorID string) ports.ProviderTransaction {
	return ports.ProviderTransaction{
		Ref:             ref,
		AmountCents:     cents,
		Currency:        "USD",
		Status:          "succeeded",
		CreatorID:       creatorID,
		SubscriberEmail: "fan@example.com",
		OccurredAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRunCleanLedger(t *testing.T) {
	payments := &mockPayments{byRef: map[string]*domain.Payment{
		"ch_1": {ID: "p1", GrossCents: 1045},
		"ch_2": {ID: "p2", GrossCents: 2090},
	}}
	applier := &mockApplier{}
	alerter := &mockAlerter{}
	source := &fakeSource{name: domain.ProviderStripe, txns: []ports.ProviderTransaction{
		settled("ch_1", 1045, "creator-1"),
		settled("ch_2", 2090, "creator-1"),
	}}
	svc := NewService(payments, []Source{source}, applier, alerter, nopLogger{})

	report, err := svc.Run(context.Background(), DefaultWindow)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Checked)
	assert.Zero(t, report.MissingRows)
	assert.Zero(t, report.Mismatched)
	assert.Empty(t, applier.events)
	assert.Empty(t, alerter.topics, "no alert on a clean run")
}

func TestRunHealsMissingRow(t *testing.T) {
	payments := &mockPayments{byRef: map[string]*domain.Payment{}}
	applier := &mockApplier{}
	alerter := &mockAlerter{}
	source := &fakeSource{name: domain.ProviderStripe, txns: []ports.ProviderTransaction{
		settled("ch_lost", 1045, "creator-1"),
	}}
	svc := NewService(payments, []Source{source}, applier, alerter, nopLogger{})

	report, err := svc.Run(context.Background(), DefaultWindow)
	require.NoError(t, err)

	assert.Equal(t, 1, report.MissingRows)
	assert.Equal(t, 1, report.Healed)

	require.Len(t, applier.events, 1)
	event := applier.events[0]
	assert.Equal(t, domain.ManualEventPrefix+"ch_lost", event.Key)
	assert.Equal(t, domain.EventChargeSucceeded, event.Kind)
	assert.Equal(t, int64(1045), event.Charge.AmountCents)
	assert.Equal(t, "creator-1", event.Charge.CreatorID)

	assert.Equal(t, []string{"reconciliation"}, alerter.topics)
}

func TestRunHealReplayCountsAsHealed(t *testing.T) {
	payments := &mockPayments{byRef: map[string]*domain.Payment{}}
	applier := &mockApplier{err: domain.NewDomainError(domain.ErrorCodeAlreadyProcessed, "already applied")}
	source := &fakeSource{name: domain.ProviderStripe, txns: []ports.ProviderTransaction{
		settled("ch_lost", 1045, "creator-1"),
	}}
	svc := NewService(payments, []Source{source}, applier, &mockAlerter{}, nopLogger{})

	report, err := svc.Run(context.Background(), DefaultWindow)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Healed)
}

func TestRunFlagsAmountMismatch(t *testing.T) {
	payments := &mockPayments{byRef: map[string]*domain.Payment{
		"ch_1": {ID: "p1", GrossCents: 1000},
	}}
	alerter := &mockAlerter{}
	source := &fakeSource{name: domain.ProviderStripe, txns: []ports.ProviderTransaction{
		settled("ch_1", 1045, "creator-1"),
	}}
	svc := NewService(payments, []Source{source}, &mockApplier{}, alerter, nopLogger{})

	report, err := svc.Run(context.Background(), DefaultWindow)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Mismatched)
	assert.Equal(t, []string{"reconciliation"}, alerter.topics)
}

func TestRunSkipsUnsettledTransactions(t *testing.T) {
	payments := &mockPayments{byRef: map[string]*domain.Payment{}}
	applier := &mockApplier{}
	failed := settled("ch_failed", 1045, "creator-1")
	failed.Status = "failed"
	source := &fakeSource{name: domain.ProviderStripe, txns: []ports.ProviderTransaction{failed}}
	svc := NewService(payments, []Source{source}, applier, &mockAlerter{}, nopLogger{})

	report, err := svc.Run(context.Background(), DefaultWindow)
	require.NoError(t, err)

	assert.Zero(t, report.Checked)
	assert.Empty(t, applier.events)
}

func TestRunMissingCreatorNotHealable(t *testing.T) {
	payments := &mockPayments{byRef: map[string]*domain.Payment{}}
	applier := &mockApplier{}
	source := &fakeSource{name: domain.ProviderStripe, txns: []ports.ProviderTransaction{
		settled("ch_anon", 1045, ""),
	}}
	svc := NewService(payments, []Source{source}, applier, &mockAlerter{}, nopLogger{})

	report, err := svc.Run(context.Background(), DefaultWindow)
	require.NoError(t, err)

	assert.Equal(t, 1, report.MissingRows)
	assert.Zero(t, report.Healed)
	assert.Empty(t, applier.events)
}

func TestRunProviderFailureIsolated(t *testing.T) {
	payments := &mockPayments{byRef: map[string]*domain.Payment{}}
	applier := &mockApplier{}
	down := &fakeSource{name: domain.ProviderStripe, listErr: errors.New("api down")}
	up := &fakeSource{name: domain.ProviderPaystack, txns: []ports.ProviderTransaction{
		settled("ps_1", 500000, "creator-1"),
	}}
	svc := NewService(payments, []Source{down, up}, applier, &mockAlerter{}, nopLogger{})

	report, err := svc.Run(context.Background(), DefaultWindow)
	require.NoError(t, err, "one provider down never fails the sweep")

	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 1, report.Healed)
}
