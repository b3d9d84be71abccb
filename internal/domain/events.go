package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventKind is the normalized discriminator over provider event types.
// Unknown kinds are stored and acknowledged but never applied.
type EventKind string

const (
	EventChargeSucceeded     EventKind = "charge.succeeded"
	EventCheckoutCompleted   EventKind = "checkout.completed"
	EventChargeRefunded      EventKind = "charge.refunded"
	EventDisputeCreated      EventKind = "dispute.created"
	EventDisputeWon          EventKind = "dispute.won"
	EventDisputeLost         EventKind = "dispute.lost"
	EventInvoiceFailed       EventKind = "invoice.payment_failed"
	EventSubscriptionUpdated EventKind = "subscription.updated"
	EventSubscriptionDeleted EventKind = "subscription.deleted"
	EventTransferSucceeded   EventKind = "transfer.succeeded"
	EventTransferFailed      EventKind = "transfer.failed"
	EventTransferRequiresOTP EventKind = "transfer.requires_otp"
	EventAccountUpdated      EventKind = "account.updated"
	EventUnknown             EventKind = "unknown"
)

// ManualEventPrefix marks synthesized event ids written by the billing
// job and the reconciliation autofix path.
const ManualEventPrefix = "manual_"

// ProviderEvent is the decoded, typed form of a provider webhook. The
// event applier accepts only this; raw JSON never crosses into it.
// Exactly one variant pointer is set, matching Kind.
type ProviderEvent struct {
	Provider   Provider
	Key        string // durable event key (dedup)
	Kind       EventKind
	RawType    string // provider-native event type string
	OccurredAt time.Time

	Charge       *ChargeEventData
	Checkout     *CheckoutCompletedData
	Refund       *RefundEventData
	Dispute      *DisputeEventData
	Failure      *InvoiceFailureData
	Subscription *SubscriptionChangeData
	Transfer     *TransferEventData
	Account      *AccountUpdateData
}

// ChargeEventData carries a settled charge or invoice-paid event.
type ChargeEventData struct {
	Ref             string // provider charge / transaction reference
	AmountCents     int64  // provider-reported gross, minor units
	Currency        string
	CreatorID       string
	SubscriberEmail string

	// Stripe-side identifiers for recurring charges.
	ProviderSubscriptionID string
	ProviderCustomerID     string
	SessionID              string // checkout session for first charges

	// Paystack authorization captured on the first charge; stored
	// encrypted and reused by the billing job.
	AuthorizationCode string

	Interval  Interval
	PeriodEnd time.Time

	// SettlementRef is the provider charge object settlement data hangs
	// off (distinct from Ref when the money event is an invoice).
	SettlementRef string

	// Provider-computed values to cross-check our fee engine against.
	ReportedFeeCents int64
	ReportedRate     *decimal.Decimal // FX rate when the provider settles in another currency
	CrossBorder      bool
}

// CheckoutCompletedData carries a finished subscription-mode checkout.
// It binds identifiers only; the money movement arrives separately on
// the invoice-paid event.
type CheckoutCompletedData struct {
	SessionID              string
	ProviderSubscriptionID string
	ProviderCustomerID     string
	CreatorID              string
	SubscriberEmail        string
	AmountCents            int64
	Currency               string
	Interval               Interval
}

// RefundEventData carries a refund for a prior charge. Stripe reports
// the running refunded-to-date total on each delivery; Paystack reports
// each refund individually. Cumulative tells the applier which.
type RefundEventData struct {
	ChargeRef   string
	AmountCents int64 // positive refund amount in minor units
	Currency    string
	Cumulative  bool
}

// DisputeEventData carries dispute lifecycle notifications.
type DisputeEventData struct {
	ChargeRef   string
	AmountCents int64
	Currency    string
}

// InvoiceFailureData carries a failed renewal attempt.
type InvoiceFailureData struct {
	ProviderSubscriptionID string
	PeriodEnd              time.Time
	AttemptCount           int
}

// SubscriptionChangeData carries provider-side subscription mutations.
type SubscriptionChangeData struct {
	ProviderSubscriptionID string
	CancelAtPeriodEnd      bool
	CanceledNow            bool
	CurrentPeriodEnd       time.Time
}

// TransferEventData carries payout transfer lifecycle events.
type TransferEventData struct {
	TransferCode string
	Ref          string
	AmountCents  int64
	Currency     string
	PaidAt       time.Time
	FailureCode  string // non-empty on transfer.failed
	AccountLevel bool   // failure is account-level (e.g. invalid bank)
}

// AccountUpdateData carries provider account capability changes.
type AccountUpdateData struct {
	AccountID      string
	PayoutsEnabled bool
	Restricted     bool
}
