package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/patronhq/payment-service/internal/domain"
)

// CheckoutSessionRequest asks a provider to host a checkout page.
type CheckoutSessionRequest struct {
	Creator         *domain.Creator
	AmountCents     int64
	Currency        string
	Interval        domain.Interval
	SubscriberEmail string
	TierID          string
	SuccessURL      string
	CancelURL       string
	// Fee share the platform collects on the charge, minor units.
	ApplicationFeeCents int64
}

// CheckoutSession is the provider-hosted session the payer is sent to.
type CheckoutSession struct {
	ID       string
	URL      string
	Provider domain.Provider
}

// SessionStatus is the post-redirect polling result.
type SessionStatus struct {
	Status         string // open | complete | expired
	SubscriptionID string // local subscription id once applied
	ProviderRef    string
}

// ProviderTransaction is a provider-side transaction used by
// reconciliation.
type ProviderTransaction struct {
	Ref             string
	AmountCents     int64
	Currency        string
	Status          string
	CreatorID       string // from metadata; empty when unknown
	SubscriberEmail string
	OccurredAt      time.Time
}

// TransferRequest initiates a payout transfer.
type TransferRequest struct {
	RecipientCode string
	AmountCents   int64
	Currency      string
	Reference     string
	Reason        string
}

// TransferResult reports the provider's transfer state.
type TransferResult struct {
	TransferCode string
	Status       string // pending | otp | success
	RequiresOTP  bool
}

// RecipientRequest resolves or creates a transfer recipient.
type RecipientRequest struct {
	Name          string
	BankCode      string
	AccountNumber string // decrypted, never logged
	Currency      string
}

// ResolvedAccount is a bank-account ownership check result.
type ResolvedAccount struct {
	AccountName   string
	AccountNumber string
}

// Bank is a payout-capable bank in the regional provider's list.
type Bank struct {
	Name string
	Code string
}

// ChargeRequest charges a stored authorization (regional provider,
// recurring billing job).
type ChargeRequest struct {
	AuthorizationCode string // decrypted at charge time
	Email             string
	AmountCents       int64
	Currency          string
	Reference         string
	SubaccountCode    string
	Metadata          map[string]string
}

// ChargeResult reports an authorization charge outcome.
type ChargeResult struct {
	Ref         string
	Status      string
	AmountCents int64
	Currency    string
	PaidAt      time.Time
}

// WebhookSource verifies and decodes provider webhooks. DecodeStored
// replays an already-verified payload from the event store.
type WebhookSource interface {
	Name() domain.Provider
	VerifyAndDecode(payload []byte, signatureHeader string) (*domain.ProviderEvent, error)
	DecodeStored(payload []byte) (*domain.ProviderEvent, error)
}

// CheckoutProvider is what the checkout initiator needs from either
// processor.
type CheckoutProvider interface {
	Name() domain.Provider
	CreateCheckoutSession(ctx context.Context, req *CheckoutSessionRequest) (*CheckoutSession, error)
	VerifySession(ctx context.Context, sessionID string) (*SessionStatus, error)
}

// RefundProvider initiates a provider-side refund. The ledger reversal
// happens later, when the provider's refund webhook arrives.
type RefundProvider interface {
	RefundCharge(ctx context.Context, providerRef string, amountCents int64) error
}

// SettlementRateSource reports the FX rate a provider actually settled
// a charge at, as local minor units per USD. ok is false when the
// charge settled without conversion (same-currency account).
type SettlementRateSource interface {
	SettlementUSDRate(ctx context.Context, chargeRef string) (rate decimal.Decimal, ok bool, err error)
}

// SubscriptionProvider is what lifecycle management needs.
type SubscriptionProvider interface {
	CancelSubscription(ctx context.Context, providerSubscriptionID string, atPeriodEnd bool) error
	Reactivate(ctx context.Context, providerSubscriptionID string) error
}

// ReconcilableProvider is what reconciliation and balance sync need.
type ReconcilableProvider interface {
	ListTransactionsSince(ctx context.Context, since time.Time) ([]ProviderTransaction, error)
	VerifyTransaction(ctx context.Context, ref string) (*ProviderTransaction, error)
	Balance(ctx context.Context, creator *domain.Creator) (int64, string, error)
}

// TransferProvider is the regional processor's payout surface.
type TransferProvider interface {
	ListBanks(ctx context.Context) ([]Bank, error)
	ResolveAccount(ctx context.Context, accountNumber, bankCode string) (*ResolvedAccount, error)
	EnsureRecipient(ctx context.Context, req *RecipientRequest) (string, error)
	InitiateTransfer(ctx context.Context, req *TransferRequest) (*TransferResult, error)
	FinalizeTransfer(ctx context.Context, transferCode, otp string) (*TransferResult, error)
	ChargeAuthorization(ctx context.Context, req *ChargeRequest) (*ChargeResult, error)
}
