package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindProviderExclusive(t *testing.T) {
	sub := &Subscription{}
	require.NoError(t, sub.BindStripe("sub_123", "cus_123"))
	assert.Equal(t, ProviderStripe, sub.Provider())

	err := sub.BindPaystack("encrypted-auth")
	require.Error(t, err)
	assert.Equal(t, ErrorCodeInvalidTransition, GetErrorCode(err))

	sub = &Subscription{}
	require.NoError(t, sub.BindPaystack("encrypted-auth"))
	assert.Equal(t, ProviderPaystack, sub.Provider())
	assert.Error(t, sub.BindStripe("sub_123", "cus_123"))
}

func TestActivateAdvancesPeriodForwardOnly(t *testing.T) {
	end := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	sub := &Subscription{
		Status:            SubscriptionStatusPastDue,
		CurrentPeriodEnd:  end,
		FailureRetryCount: 3,
	}

	require.NoError(t, sub.Activate(end.AddDate(0, 1, 0)))
	assert.Equal(t, SubscriptionStatusActive, sub.Status)
	assert.Equal(t, end.AddDate(0, 1, 0), sub.CurrentPeriodEnd)
	assert.Zero(t, sub.FailureRetryCount)

	// a late charge for an earlier period never rewinds the clock
	require.NoError(t, sub.Activate(end.AddDate(0, -2, 0)))
	assert.Equal(t, end.AddDate(0, 1, 0), sub.CurrentPeriodEnd)
}

func TestActivateCanceledIsTerminal(t *testing.T) {
	sub := &Subscription{Status: SubscriptionStatusCanceled}
	err := sub.Activate(time.Now().AddDate(0, 1, 0))
	require.Error(t, err)
	assert.Equal(t, SubscriptionStatusCanceled, sub.Status)
}

func TestMarkPastDuePeriodGuard(t *testing.T) {
	end := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	sub := &Subscription{Status: SubscriptionStatusActive, CurrentPeriodEnd: end}

	// a stale failure for an already-paid period is swallowed
	err := sub.MarkPastDue(end.AddDate(0, -1, 0))
	assert.True(t, IsConflict(err))
	assert.Equal(t, SubscriptionStatusActive, sub.Status)

	require.NoError(t, sub.MarkPastDue(end))
	assert.Equal(t, SubscriptionStatusPastDue, sub.Status)

	// another failure while already past_due is an invalid transition
	assert.Equal(t, ErrorCodeInvalidTransition, GetErrorCode(sub.MarkPastDue(end)))
}

func TestScheduleCancel(t *testing.T) {
	sub := &Subscription{Status: SubscriptionStatusActive}
	require.NoError(t, sub.ScheduleCancel())
	assert.True(t, sub.CancelAtPeriodEnd)

	sub = &Subscription{Status: SubscriptionStatusPending}
	assert.Error(t, sub.ScheduleCancel())
}

func TestCancelIdempotent(t *testing.T) {
	sub := &Subscription{Status: SubscriptionStatusActive}
	sub.Cancel(CancelReasonSubscriber)
	require.Equal(t, SubscriptionStatusCanceled, sub.Status)
	require.NotNil(t, sub.CanceledAt)
	first := *sub.CanceledAt

	sub.Cancel(CancelReasonPaymentFailed)
	assert.Equal(t, CancelReasonSubscriber, sub.CancelReason, "first cancel reason sticks")
	assert.Equal(t, first, *sub.CanceledAt)
}

func TestApplyLTVClampsAtZero(t *testing.T) {
	sub := &Subscription{}
	sub.ApplyLTV(900)
	sub.ApplyLTV(450)
	assert.Equal(t, int64(1350), sub.LTVCents)

	sub.ApplyLTV(-2000)
	assert.Zero(t, sub.LTVCents)
}
