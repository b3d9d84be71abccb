package checkout

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patronhq/payment-service/internal/domain"
	"github.com/patronhq/payment-service/internal/domain/ports"
	"github.com/patronhq/payment-service/internal/services/router"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...ports.Field)  {}
func (nopLogger) Error(string, ...ports.Field) {}
func (nopLogger) Warn(string, ...ports.Field)  {}
func (nopLogger) Debug(string, ...ports.Field) {}

type mockCreators struct {
	creator *domain.Creator
}

func (m *mockCreators) GetByID(ctx context.Context, tx ports.DBTX, id string) (*domain.Creator, error) {
	if m.creator == nil || m.creator.ID != id {
		return nil, domain.ErrCreatorNotFound
	}
	return m.creator, nil
}
func (m *mockCreators) GetByStripeAccount(context.Context, ports.DBTX, string) (*domain.Creator, error) {
	return nil, domain.ErrCreatorNotFound
}
func (m *mockCreators) Update(context.Context, ports.DBTX, *domain.Creator) error { return nil }
func (m *mockCreators) ListPayoutCandidates(context.Context, ports.DBTX, domain.CreatorPurpose) ([]*domain.Creator, error) {
	return nil, nil
}

type mockSubscribers struct {
	sub *domain.Subscriber
}

func (m *mockSubscribers) GetByID(context.Context, ports.DBTX, string) (*domain.Subscriber, error) {
	return m.sub, nil
}
func (m *mockSubscribers) GetOrCreateByEmail(ctx context.Context, tx ports.DBTX, email string) (*domain.Subscriber, error) {
	if m.sub == nil {
		m.sub = &domain.Subscriber{ID: "subscriber-1", Email: email}
	}
	return m.sub, nil
}
func (m *mockSubscribers) IncrementDisputeCount(context.Context, ports.DBTX, string) error {
	return nil
}
func (m *mockSubscribers) SetBlockedReason(context.Context, ports.DBTX, string, *string) error {
	return nil
}

type mockSubs struct {
	existing *domain.Subscription
	created  []*domain.Subscription
}

func (m *mockSubs) Create(ctx context.Context, tx ports.DBTX, sub *domain.Subscription) error {
	m.created = append(m.created, sub)
	return nil
}
func (m *mockSubs) GetByID(context.Context, ports.DBTX, string) (*domain.Subscription, error) {
	return nil, domain.ErrSubscriptionNotFound
}
func (m *mockSubs) GetByStripeSubscription(ctx context.Context, tx ports.DBTX, stripeSubID string) (*domain.Subscription, error) {
	if m.existing != nil && m.existing.StripeSubscriptionID != nil && *m.existing.StripeSubscriptionID == stripeSubID {
		return m.existing, nil
	}
	return nil, domain.ErrSubscriptionNotFound
}
func (m *mockSubs) GetByParties(ctx context.Context, tx ports.DBTX, creatorID, subscriberID string, interval domain.Interval) (*domain.Subscription, error) {
	if m.existing != nil {
		return m.existing, nil
	}
	return nil, domain.ErrSubscriptionNotFound
}
func (m *mockSubs) Update(context.Context, ports.DBTX, *domain.Subscription) error { return nil }
func (m *mockSubs) ListDueForBilling(context.Context, ports.DBTX, time.Time, int32) ([]*domain.Subscription, error) {
	return nil, nil
}
func (m *mockSubs) ListPastDue(context.Context, ports.DBTX, int32) ([]*domain.Subscription, error) {
	return nil, nil
}
func (m *mockSubs) ListRenewingWithin(context.Context, ports.DBTX, time.Time, time.Time) ([]*domain.Subscription, error) {
	return nil, nil
}
func (m *mockSubs) ListStalePending(context.Context, ports.DBTX, time.Time) ([]*domain.Subscription, error) {
	return nil, nil
}
func (m *mockSubs) ListCanceledSince(context.Context, ports.DBTX, time.Time) ([]*domain.Subscription, error) {
	return nil, nil
}

type fakeProvider struct {
	name     domain.Provider
	session  *ports.CheckoutSession
	status   *ports.SessionStatus
	err      error
	lastReq  *ports.CheckoutSessionRequest
	sessions int
}

func (f *fakeProvider) Name() domain.Provider { return f.name }
func (f *fakeProvider) CreateCheckoutSession(ctx context.Context, req *ports.CheckoutSessionRequest) (*ports.CheckoutSession, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	f.sessions++
	return f.session, nil
}
func (f *fakeProvider) VerifySession(ctx context.Context, sessionID string) (*ports.SessionStatus, error) {
	return f.status, nil
}

type mockDedupe struct {
	stored  map[string]string
	forgets []string
}

func (m *mockDedupe) Remember(ctx context.Context, key, value string, ttl time.Duration) (string, bool, error) {
	if existing, ok := m.stored[key]; ok {
		return existing, true, nil
	}
	if m.stored == nil {
		m.stored = map[string]string{}
	}
	m.stored[key] = value
	return "", false, nil
}

func (m *mockDedupe) Store(ctx context.Context, key, value string, ttl time.Duration) error {
	if m.stored == nil {
		m.stored = map[string]string{}
	}
	m.stored[key] = value
	return nil
}

func (m *mockDedupe) Forget(ctx context.Context, key string) error {
	delete(m.stored, key)
	m.forgets = append(m.forgets, key)
	return nil
}

type mockRates struct{ rate decimal.Decimal }

func (m *mockRates) USDRate(ctx context.Context, currency string) (decimal.Decimal, time.Time, error) {
	return m.rate, time.Now(), nil
}

type fixture struct {
	svc      *Service
	creators *mockCreators
	subs     *mockSubs
	stripe   *fakeProvider
	paystack *fakeProvider
	dedupe   *mockDedupe
}

func newFixture() *fixture {
	stripe := &fakeProvider{
		name:    domain.ProviderStripe,
		session: &ports.CheckoutSession{ID: "cs_1", URL: "https://checkout.example/cs_1", Provider: domain.ProviderStripe},
	}
	paystack := &fakeProvider{
		name:    domain.ProviderPaystack,
		session: &ports.CheckoutSession{ID: "ref_1", URL: "https://pay.example/ref_1", Provider: domain.ProviderPaystack},
	}
	f := &fixture{
		creators: &mockCreators{},
		subs:     &mockSubs{},
		stripe:   stripe,
		paystack: paystack,
		dedupe:   &mockDedupe{},
	}
	rt := router.NewService([]ports.CheckoutProvider{stripe, paystack}, nopLogger{})
	f.svc = NewService(f.creators, &mockSubscribers{}, f.subs, rt, f.dedupe,
		&mockRates{rate: decimal.NewFromInt(1)}, nopLogger{})
	return f
}

func str(s string) *string { return &s }

func usCreator() *domain.Creator {
	return &domain.Creator{
		ID:              "creator-1",
		Country:         "US",
		Currency:        "USD",
		Purpose:         domain.PurposePersonal,
		StripeAccountID: str("acct_1"),
		PriceCents:      1000,
	}
}

func ngCreator() *domain.Creator {
	return &domain.Creator{
		ID:                     "creator-1",
		Country:                "NG",
		Currency:               "NGN",
		Purpose:                domain.PurposePersonal,
		PaystackSubaccountCode: str("ACCT_ps1"),
		PriceCents:             2250000,
	}
}

func sessionRequest() *CreateSessionRequest {
	return &CreateSessionRequest{
		CreatorID:       "creator-1",
		SubscriberEmail: "fan@example.com",
		AmountCents:     1000,
		Currency:        "USD",
		Interval:        domain.IntervalMonth,
		PayerCountry:    "US",
		SuccessURL:      "https://example.com/ok",
		CancelURL:       "https://example.com/no",
	}
}

func TestCreateSessionValidation(t *testing.T) {
	f := newFixture()

	tests := []struct {
		name   string
		mutate func(*CreateSessionRequest)
	}{
		{"missing creator", func(r *CreateSessionRequest) { r.CreatorID = "" }},
		{"bad email", func(r *CreateSessionRequest) { r.SubscriberEmail = "not-an-email" }},
		{"zero amount", func(r *CreateSessionRequest) { r.AmountCents = 0 }},
		{"negative amount", func(r *CreateSessionRequest) { r.AmountCents = -500 }},
		{"bad interval", func(r *CreateSessionRequest) { r.Interval = "weekly" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := sessionRequest()
			tt.mutate(req)
			_, err := f.svc.CreateSession(context.Background(), req)
			require.Error(t, err)
			assert.True(t, domain.IsValidation(err))
		})
	}
}

func TestCreateSessionHappyPath(t *testing.T) {
	f := newFixture()
	f.creators.creator = usCreator()

	resp, err := f.svc.CreateSession(context.Background(), sessionRequest())
	require.NoError(t, err)

	assert.Equal(t, "cs_1", resp.SessionID)
	assert.Equal(t, "https://checkout.example/cs_1", resp.CheckoutURL)
	assert.Equal(t, domain.ProviderStripe, resp.Provider)
	assert.False(t, resp.Deduplicated)

	// no local row until the completion webhook comes back
	assert.Empty(t, f.subs.created)

	require.NotNil(t, f.stripe.lastReq)
	assert.Equal(t, int64(90), f.stripe.lastReq.ApplicationFeeCents, "both fee sides ride the charge")

	// the session URL replaced the reservation under the dedupe key
	key := dedupeKey("creator-1", "fan@example.com", 1000)
	assert.Equal(t, "https://checkout.example/cs_1", f.dedupe.stored[key])
}

func TestCreateSessionDedupesDoubleClick(t *testing.T) {
	f := newFixture()
	f.creators.creator = usCreator()

	first, err := f.svc.CreateSession(context.Background(), sessionRequest())
	require.NoError(t, err)

	f.stripe.session = &ports.CheckoutSession{ID: "cs_2", URL: "https://checkout.example/cs_2"}
	second, err := f.svc.CreateSession(context.Background(), sessionRequest())
	require.NoError(t, err)

	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.CheckoutURL, second.CheckoutURL, "repeat request reuses the stored session URL")
	assert.Equal(t, 1, f.stripe.sessions, "the provider saw one session")
}

func TestCreateSessionConflictsWhileReserved(t *testing.T) {
	f := newFixture()
	f.creators.creator = usCreator()

	// a racing request reserved the key but has no URL yet
	key := dedupeKey("creator-1", "fan@example.com", 1000)
	f.dedupe.stored = map[string]string{key: dedupePending}

	_, err := f.svc.CreateSession(context.Background(), sessionRequest())
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err))
	assert.Zero(t, f.stripe.sessions)
}

func TestCreateSessionReleasesKeyOnProviderError(t *testing.T) {
	f := newFixture()
	f.creators.creator = usCreator()
	f.stripe.err = domain.NewDomainError(domain.ErrorCodeProviderUnavailable, "stripe is down")

	_, err := f.svc.CreateSession(context.Background(), sessionRequest())
	require.Error(t, err)

	key := dedupeKey("creator-1", "fan@example.com", 1000)
	assert.Contains(t, f.dedupe.forgets, key, "failed attempt releases the reservation")
	_, held := f.dedupe.stored[key]
	assert.False(t, held)

	// the payer can retry immediately
	f.stripe.err = nil
	resp, err := f.svc.CreateSession(context.Background(), sessionRequest())
	require.NoError(t, err)
	assert.False(t, resp.Deduplicated)
}

func TestCreateSessionWithoutEmail(t *testing.T) {
	f := newFixture()
	f.creators.creator = usCreator()

	// the global processor collects the email on its hosted page
	req := sessionRequest()
	req.SubscriberEmail = ""
	resp, err := f.svc.CreateSession(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "cs_1", resp.SessionID)
	require.NotNil(t, f.stripe.lastReq)
	assert.Empty(t, f.stripe.lastReq.SubscriberEmail)
	assert.Empty(t, f.dedupe.stored, "no payer identity, nothing to dedupe on")
}

func TestCreateSessionPaystackRequiresEmail(t *testing.T) {
	f := newFixture()
	f.creators.creator = ngCreator()

	// the regional processor initializes transactions against an email
	req := sessionRequest()
	req.SubscriberEmail = ""
	req.Currency = "NGN"
	req.AmountCents = 2250000
	req.PayerCountry = "NG"
	_, err := f.svc.CreateSession(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, domain.ErrorCodeInvalidRequest, domain.GetErrorCode(err))
	assert.Zero(t, f.paystack.sessions)
}

func TestCreateSessionRejectsWrongCurrency(t *testing.T) {
	f := newFixture()
	f.creators.creator = usCreator()

	req := sessionRequest()
	req.Currency = "NGN"
	_, err := f.svc.CreateSession(context.Background(), req)
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
}

func TestCreateSessionRejectsAmountMismatch(t *testing.T) {
	f := newFixture()
	f.creators.creator = usCreator()

	req := sessionRequest()
	req.AmountCents = 777
	_, err := f.svc.CreateSession(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, domain.ErrorCodeAmountMismatch, domain.GetErrorCode(err))
}

func TestCreateSessionPriceTolerance(t *testing.T) {
	f := newFixture()
	f.creators.creator = usCreator()

	req := sessionRequest()
	req.AmountCents = 1001 // one minor unit of rounding noise
	_, err := f.svc.CreateSession(context.Background(), req)
	assert.NoError(t, err)
}

func TestCreateSessionRejectsBlockedSubscriber(t *testing.T) {
	f := newFixture()
	f.creators.creator = usCreator()

	reason := "dispute threshold exceeded"
	blocked := &mockSubscribers{sub: &domain.Subscriber{ID: "subscriber-1", BlockedReason: &reason}}
	rt := router.NewService([]ports.CheckoutProvider{f.stripe}, nopLogger{})
	svc := NewService(f.creators, blocked, f.subs, rt, f.dedupe,
		&mockRates{rate: decimal.NewFromInt(1)}, nopLogger{})

	_, err := svc.CreateSession(context.Background(), sessionRequest())
	require.Error(t, err)
	assert.Equal(t, domain.ErrorCodeUnauthorized, domain.GetErrorCode(err))
}

func TestCreateSessionEnforcesMinimum(t *testing.T) {
	f := newFixture()
	creator := usCreator()
	creator.PriceCents = 100 // below the $5 domestic floor
	f.creators.creator = creator

	req := sessionRequest()
	req.AmountCents = 100
	_, err := f.svc.CreateSession(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, domain.ErrorCodeBelowMinimum, domain.GetErrorCode(err))

	// one-time support payments are exempt
	req.Interval = domain.IntervalOneTime
	_, err = f.svc.CreateSession(context.Background(), req)
	assert.NoError(t, err)
}

func TestCreateSessionPaystackUsesRegionalFloor(t *testing.T) {
	f := newFixture()
	f.creators.creator = ngCreator()

	rt := router.NewService([]ports.CheckoutProvider{f.stripe, f.paystack}, nopLogger{})
	svc := NewService(f.creators, &mockSubscribers{}, f.subs, rt, f.dedupe,
		&mockRates{rate: decimal.NewFromInt(1500)}, nopLogger{})

	// ₦22,500 is the $15 floor at ₦1500/$ and clears on the regional
	// rails, even though the per-subscriber minimum would be higher.
	req := sessionRequest()
	req.Currency = "NGN"
	req.AmountCents = 2250000
	req.PayerCountry = "NG"
	resp, err := svc.CreateSession(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderPaystack, resp.Provider)

	// below the floor still fails
	f.creators.creator.PriceCents = 2000000
	req.AmountCents = 2000000
	_, err = svc.CreateSession(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, domain.ErrorCodeBelowMinimum, domain.GetErrorCode(err))
}

func TestVerifySessionLinksSubscription(t *testing.T) {
	f := newFixture()
	f.stripe.status = &ports.SessionStatus{Status: "complete", ProviderRef: "sub_stripe_1"}
	f.subs.existing = &domain.Subscription{ID: "sub-1", StripeSubscriptionID: str("sub_stripe_1")}

	status, err := f.svc.VerifySession(context.Background(), domain.ProviderStripe, "cs_1")
	require.NoError(t, err)
	assert.Equal(t, "sub-1", status.SubscriptionID)

	// still open: no local linkage yet
	f.stripe.status = &ports.SessionStatus{Status: "open"}
	status, err = f.svc.VerifySession(context.Background(), domain.ProviderStripe, "cs_1")
	require.NoError(t, err)
	assert.Empty(t, status.SubscriptionID)
}
