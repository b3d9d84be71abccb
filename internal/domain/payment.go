package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentType classifies a financial event.
type PaymentType string

const (
	PaymentTypeRecurring PaymentType = "recurring"
	PaymentTypeOneTime   PaymentType = "one_time"
	PaymentTypePayout    PaymentType = "payout"
)

// PaymentStatus follows the payment/payout lifecycle.
type PaymentStatus string

const (
	PaymentStatusPending     PaymentStatus = "pending"
	PaymentStatusOTPPending  PaymentStatus = "otp_pending"
	PaymentStatusSucceeded   PaymentStatus = "succeeded"
	PaymentStatusFailed      PaymentStatus = "failed"
	PaymentStatusRefunded    PaymentStatus = "refunded"
	PaymentStatusDisputed    PaymentStatus = "disputed"
	PaymentStatusDisputeWon  PaymentStatus = "dispute_won"
	PaymentStatusDisputeLost PaymentStatus = "dispute_lost"
)

// RateSource records where a payment's USD reporting rate came from.
type RateSource string

const (
	RateSourceOriginalPayment RateSource = "original_payment"
	RateSourceCurrentRate     RateSource = "current_rate"
	RateSourceStripeReported  RateSource = "stripe_reported"
)

// Reporting holds the USD shadow amounts stored alongside native
// amounts so analytics can aggregate across currencies without FX at
// query time.
type Reporting struct {
	Currency      string
	GrossCents    int64
	FeeCents      int64
	NetCents      int64
	ExchangeRate  decimal.Decimal
	RateSource    RateSource
	RateTimestamp time.Time
	IsEstimated   bool
}

// Payment is an immutable financial event. AmountCents is positive for
// inbound funds and negative for refunds; refunds and disputes add new
// rows rather than mutating the original (only its status field moves).
type Payment struct {
	ID             string
	SubscriptionID *string
	CreatorID      string
	SubscriberID   string

	AmountCents        int64
	Currency           string
	GrossCents         int64
	FeeCents           int64
	NetCents           int64
	CreatorFeeCents    *int64
	SubscriberFeeCents *int64
	FeeModel           FeeModel

	Type   PaymentType
	Status PaymentStatus

	// RefundedCents is the gross refunded so far, tracked on the
	// original so partial refunds can keep accumulating.
	RefundedCents int64

	ProviderEventID string
	ProviderRef     string // charge / transaction reference
	TransferCode    string // Paystack transfer code, payouts only

	Reporting Reporting
	Metadata  map[string]string

	// OccurredAt is the provider-reported time and is authoritative for
	// reporting windows; CreatedAt is for audit only.
	OccurredAt time.Time
	CreatedAt  time.Time
}

// IsInbound reports whether the row moves funds toward the creator.
func (p *Payment) IsInbound() bool {
	return p.AmountCents > 0 && p.Type != PaymentTypePayout
}

// IsSettled reports whether the payment reached a terminal successful state.
func (p *Payment) IsSettled() bool {
	return p.Status == PaymentStatusSucceeded ||
		p.Status == PaymentStatusRefunded ||
		p.Status == PaymentStatusDisputeWon
}

// MarkRefunded moves a settled payment's status after a refund row was
// written. Refunded stays refundable: a charge can be refunded in
// several partial steps. Originals are never otherwise mutated.
func (p *Payment) MarkRefunded(refundedCents int64) error {
	switch p.Status {
	case PaymentStatusSucceeded, PaymentStatusDisputed, PaymentStatusRefunded:
	default:
		return NewDomainError(ErrorCodeInvalidTransition, "invalid payment transition").WithDetail("from", string(p.Status))
	}
	if refundedCents > p.GrossCents {
		refundedCents = p.GrossCents
	}
	p.Status = PaymentStatusRefunded
	p.RefundedCents = refundedCents
	return nil
}

// RemainingRefundableCents is the gross still open to refund.
func (p *Payment) RemainingRefundableCents() int64 {
	remaining := p.GrossCents - p.RefundedCents
	if remaining < 0 {
		return 0
	}
	return remaining
}

// MarkDisputed flags the original payment while a dispute is open.
func (p *Payment) MarkDisputed() error {
	switch p.Status {
	case PaymentStatusSucceeded:
		p.Status = PaymentStatusDisputed
		return nil
	case PaymentStatusDisputed:
		return ErrAlreadyProcessed
	default:
		return NewDomainError(ErrorCodeInvalidTransition, "invalid payment transition").WithDetail("from", string(p.Status))
	}
}

// ResolveDispute records a dispute outcome on the original payment.
func (p *Payment) ResolveDispute(won bool) error {
	if p.Status != PaymentStatusDisputed && p.Status != PaymentStatusSucceeded {
		return NewDomainError(ErrorCodeInvalidTransition, "invalid payment transition").WithDetail("from", string(p.Status))
	}
	if won {
		p.Status = PaymentStatusDisputeWon
	} else {
		p.Status = PaymentStatusDisputeLost
	}
	return nil
}

// PayoutTransitions: pending -> otp_pending -> succeeded | failed.

// RequireOTP parks a pending payout awaiting operator OTP finalize.
func (p *Payment) RequireOTP(transferCode string) error {
	if p.Type != PaymentTypePayout || p.Status != PaymentStatusPending {
		return NewDomainError(ErrorCodeInvalidTransition, "invalid payment transition").WithDetail("from", string(p.Status))
	}
	p.Status = PaymentStatusOTPPending
	p.TransferCode = transferCode
	return nil
}

// CompletePayout settles a payout from a transfer.success event.
func (p *Payment) CompletePayout(paidAt time.Time) error {
	if p.Type != PaymentTypePayout {
		return NewDomainError(ErrorCodeInvalidTransition, "not a payout").WithDetail("type", string(p.Type))
	}
	switch p.Status {
	case PaymentStatusPending, PaymentStatusOTPPending:
		p.Status = PaymentStatusSucceeded
		p.OccurredAt = paidAt
		return nil
	case PaymentStatusSucceeded:
		return ErrAlreadyProcessed
	default:
		return NewDomainError(ErrorCodeInvalidTransition, "invalid payment transition").WithDetail("from", string(p.Status))
	}
}

// FailPayout marks a payout failed from a transfer.failed event.
func (p *Payment) FailPayout() error {
	if p.Type != PaymentTypePayout {
		return NewDomainError(ErrorCodeInvalidTransition, "not a payout").WithDetail("type", string(p.Type))
	}
	switch p.Status {
	case PaymentStatusPending, PaymentStatusOTPPending:
		p.Status = PaymentStatusFailed
		return nil
	case PaymentStatusFailed:
		return ErrAlreadyProcessed
	default:
		return NewDomainError(ErrorCodeInvalidTransition, "invalid payment transition").WithDetail("from", string(p.Status))
	}
}
