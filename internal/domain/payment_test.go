package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkRefunded(t *testing.T) {
	p := &Payment{Status: PaymentStatusSucceeded, GrossCents: 1045}
	require.NoError(t, p.MarkRefunded(500))
	assert.Equal(t, PaymentStatusRefunded, p.Status)
	assert.Equal(t, int64(500), p.RefundedCents)
	assert.Equal(t, int64(545), p.RemainingRefundableCents())

	// refunded stays refundable until the gross runs out
	require.NoError(t, p.MarkRefunded(1045))
	assert.Equal(t, int64(1045), p.RefundedCents)
	assert.Zero(t, p.RemainingRefundableCents())

	// a total beyond the gross clamps
	require.NoError(t, p.MarkRefunded(2000))
	assert.Equal(t, int64(1045), p.RefundedCents)

	// refund after an open dispute is allowed
	p = &Payment{Status: PaymentStatusDisputed, GrossCents: 1045}
	require.NoError(t, p.MarkRefunded(1045))
	assert.Equal(t, PaymentStatusRefunded, p.Status)

	p = &Payment{Status: PaymentStatusFailed}
	err := p.MarkRefunded(100)
	require.Error(t, err)
	assert.Equal(t, ErrorCodeInvalidTransition, GetErrorCode(err))
	assert.Equal(t, PaymentStatusFailed, p.Status)
}

func TestMarkDisputed(t *testing.T) {
	p := &Payment{Status: PaymentStatusSucceeded}
	require.NoError(t, p.MarkDisputed())
	assert.Equal(t, PaymentStatusDisputed, p.Status)

	// duplicate dispute.created delivery
	err := p.MarkDisputed()
	assert.True(t, IsConflict(err))

	p = &Payment{Status: PaymentStatusRefunded}
	assert.Equal(t, ErrorCodeInvalidTransition, GetErrorCode(p.MarkDisputed()))
}

func TestResolveDispute(t *testing.T) {
	p := &Payment{Status: PaymentStatusDisputed}
	require.NoError(t, p.ResolveDispute(true))
	assert.Equal(t, PaymentStatusDisputeWon, p.Status)

	p = &Payment{Status: PaymentStatusDisputed}
	require.NoError(t, p.ResolveDispute(false))
	assert.Equal(t, PaymentStatusDisputeLost, p.Status)

	// dispute closed without the created event having arrived
	p = &Payment{Status: PaymentStatusSucceeded}
	require.NoError(t, p.ResolveDispute(false))
	assert.Equal(t, PaymentStatusDisputeLost, p.Status)

	p = &Payment{Status: PaymentStatusDisputeLost}
	assert.Error(t, p.ResolveDispute(true))
}

func TestPayoutLifecycle(t *testing.T) {
	paidAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	p := &Payment{Type: PaymentTypePayout, Status: PaymentStatusPending}
	require.NoError(t, p.CompletePayout(paidAt))
	assert.Equal(t, PaymentStatusSucceeded, p.Status)
	assert.Equal(t, paidAt, p.OccurredAt)

	// redelivered transfer.success
	assert.True(t, IsConflict(p.CompletePayout(paidAt)))

	p = &Payment{Type: PaymentTypePayout, Status: PaymentStatusPending}
	require.NoError(t, p.RequireOTP("TRF_123"))
	assert.Equal(t, PaymentStatusOTPPending, p.Status)
	assert.Equal(t, "TRF_123", p.TransferCode)

	// OTP finalize settles via the webhook
	require.NoError(t, p.CompletePayout(paidAt))
	assert.Equal(t, PaymentStatusSucceeded, p.Status)

	p = &Payment{Type: PaymentTypePayout, Status: PaymentStatusOTPPending}
	require.NoError(t, p.FailPayout())
	assert.Equal(t, PaymentStatusFailed, p.Status)
	assert.True(t, IsConflict(p.FailPayout()))

	// a settled payout cannot fail afterwards
	p = &Payment{Type: PaymentTypePayout, Status: PaymentStatusSucceeded}
	assert.Equal(t, ErrorCodeInvalidTransition, GetErrorCode(p.FailPayout()))

	// payout transitions reject non-payout rows
	charge := &Payment{Type: PaymentTypeRecurring, Status: PaymentStatusPending}
	assert.Error(t, charge.CompletePayout(paidAt))
	assert.Error(t, charge.FailPayout())
	assert.Error(t, charge.RequireOTP("TRF_x"))
}

func TestIsInboundAndSettled(t *testing.T) {
	assert.True(t, (&Payment{AmountCents: 500, Type: PaymentTypeRecurring}).IsInbound())
	assert.False(t, (&Payment{AmountCents: -500, Type: PaymentTypeRecurring}).IsInbound())
	assert.False(t, (&Payment{AmountCents: 500, Type: PaymentTypePayout}).IsInbound())

	assert.True(t, (&Payment{Status: PaymentStatusSucceeded}).IsSettled())
	assert.True(t, (&Payment{Status: PaymentStatusRefunded}).IsSettled())
	assert.True(t, (&Payment{Status: PaymentStatusDisputeWon}).IsSettled())
	assert.False(t, (&Payment{Status: PaymentStatusDisputeLost}).IsSettled())
	assert.False(t, (&Payment{Status: PaymentStatusPending}).IsSettled())
}
