package domain

import (
	"time"

	"github.com/patronhq/payment-service/pkg/timeutil"
)

// SubscriptionStatus represents the subscription state
type SubscriptionStatus string

const (
	SubscriptionStatusPending  SubscriptionStatus = "pending"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

// Interval is the billing cadence of a subscription.
type Interval string

const (
	IntervalMonth   Interval = "month"
	IntervalOneTime Interval = "one_time"
)

// FeeModel identifies which formula produced a fee.
type FeeModel string

const (
	FeeModelLegacy  FeeModel = "legacy"
	FeeModelSplitV1 FeeModel = "split_v1"
)

// FeeMode selects who carries the platform fee under the legacy model,
// or the split arrangement under split_v1.
type FeeMode string

const (
	FeeModeAbsorb           FeeMode = "absorb"
	FeeModePassToSubscriber FeeMode = "pass_to_subscriber"
	FeeModeSplit            FeeMode = "split"
)

// CancelReason records why a subscription was canceled.
type CancelReason string

const (
	CancelReasonSubscriber     CancelReason = "subscriber_request"
	CancelReasonCreator        CancelReason = "creator_request"
	CancelReasonPaymentFailed  CancelReason = "payment_failed"
	CancelReasonPendingTimeout CancelReason = "pending_payment_timeout"
)

// Subscription ties a subscriber to a creator with a recurring or
// one-time amount. It carries exactly one provider binding: either a
// Stripe subscription or a Paystack authorization, never both.
type Subscription struct {
	ID           string
	CreatorID    string
	SubscriberID string
	AmountCents  int64
	Currency     string
	Interval     Interval
	Status       SubscriptionStatus
	FeeModel     FeeModel
	FeeMode      FeeMode

	StripeSubscriptionID *string
	StripeCustomerID     *string
	// Paystack authorization code, AES-GCM encrypted at rest and
	// decrypted only at charge time.
	PaystackAuthorization *string

	CurrentPeriodEnd  time.Time
	CancelAtPeriodEnd bool
	CanceledAt        *time.Time
	CancelReason      CancelReason
	LTVCents          int64
	ManageTokenNonce  int
	FailureRetryCount int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsActive returns true if the subscription is currently active
func (s *Subscription) IsActive() bool {
	return s.Status == SubscriptionStatusActive
}

// IsCanceled returns true if the subscription has been canceled
func (s *Subscription) IsCanceled() bool {
	return s.Status == SubscriptionStatusCanceled
}

// Provider returns which processor the subscription is bound to.
func (s *Subscription) Provider() Provider {
	if s.PaystackAuthorization != nil && *s.PaystackAuthorization != "" {
		return ProviderPaystack
	}
	return ProviderStripe
}

// BindStripe attaches Stripe identifiers. Fails if a Paystack
// authorization is already bound; a subscription has at most one
// provider binding.
func (s *Subscription) BindStripe(subscriptionID, customerID string) error {
	if s.PaystackAuthorization != nil && *s.PaystackAuthorization != "" {
		return NewDomainError(ErrorCodeInvalidTransition, "paystack binding already present")
	}
	s.StripeSubscriptionID = &subscriptionID
	s.StripeCustomerID = &customerID
	return nil
}

// BindPaystack attaches an encrypted Paystack authorization code.
// Fails if Stripe identifiers are already bound.
func (s *Subscription) BindPaystack(encryptedAuthorization string) error {
	if s.StripeSubscriptionID != nil && *s.StripeSubscriptionID != "" {
		return NewDomainError(ErrorCodeInvalidTransition, "stripe binding already present")
	}
	s.PaystackAuthorization = &encryptedAuthorization
	return nil
}

// Activate applies a successful charge for the period ending periodEnd.
// Canceled is terminal; a late charge event for a canceled subscription
// is a conflict the applier swallows.
func (s *Subscription) Activate(periodEnd time.Time) error {
	if s.IsCanceled() {
		return NewDomainError(ErrorCodeInvalidTransition, "subscription canceled").
			WithDetail("from", string(s.Status))
	}
	s.Status = SubscriptionStatusActive
	s.FailureRetryCount = 0
	if periodEnd.After(s.CurrentPeriodEnd) {
		s.CurrentPeriodEnd = timeutil.ToUTC(periodEnd)
	}
	return nil
}

// MarkPastDue applies a failed renewal for the period ending periodEnd.
// The period guard makes out-of-order delivery safe: a late failure for
// an already-advanced period cannot demote an active subscription.
func (s *Subscription) MarkPastDue(periodEnd time.Time) error {
	if s.Status != SubscriptionStatusActive {
		return NewDomainError(ErrorCodeInvalidTransition, "not active").
			WithDetail("from", string(s.Status))
	}
	if periodEnd.Before(s.CurrentPeriodEnd) {
		// Historical failure; current period already paid.
		return NewDomainError(ErrorCodeAlreadyProcessed, "period already advanced")
	}
	s.Status = SubscriptionStatusPastDue
	return nil
}

// ScheduleCancel flags the subscription to end at the current period
// boundary without interrupting access.
func (s *Subscription) ScheduleCancel() error {
	if s.Status != SubscriptionStatusActive && s.Status != SubscriptionStatusPastDue {
		return NewDomainError(ErrorCodeInvalidTransition, "not active or past due").
			WithDetail("from", string(s.Status))
	}
	s.CancelAtPeriodEnd = true
	return nil
}

// Cancel soft-cancels the subscription immediately. Idempotent: a
// second cancel is a no-op, and canceled is terminal.
func (s *Subscription) Cancel(reason CancelReason) {
	if s.IsCanceled() {
		return
	}
	now := timeutil.Now()
	s.Status = SubscriptionStatusCanceled
	s.CanceledAt = &now
	s.CancelReason = reason
}

// ApplyLTV adds the creator-net of a settled payment to lifetime value.
// Refund decrements clamp at zero.
func (s *Subscription) ApplyLTV(netCents int64) {
	s.LTVCents += netCents
	if s.LTVCents < 0 {
		s.LTVCents = 0
	}
}
