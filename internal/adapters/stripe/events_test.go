package stripe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patronhq/payment-service/internal/config"
	"github.com/patronhq/payment-service/internal/domain"
	"github.com/patronhq/payment-service/internal/domain/ports"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...ports.Field)  {}
func (nopLogger) Error(string, ...ports.Field) {}
func (nopLogger) Warn(string, ...ports.Field)  {}
func (nopLogger) Debug(string, ...ports.Field) {}

func testAdapter() *Adapter {
	return NewAdapter(&config.StripeConfig{
		SecretKey:     "sk_test",
		WebhookSecret: "whsec_test",
	}, nopLogger{})
}

func TestDecodeSessionCompleted(t *testing.T) {
	a := testAdapter()
	payload := []byte(`{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"created": 1767225600,
		"data": {"object": {
			"id": "cs_1",
			"mode": "subscription",
			"amount_total": 1045,
			"currency": "usd",
			"customer": "cus_1",
			"customer_details": {"email": "fan@example.com"},
			"subscription": "sub_stripe_1",
			"payment_intent": "pi_1",
			"metadata": {"creator_id": "creator-1"}
		}}
	}`)

	event, err := a.DecodeStored(payload)
	require.NoError(t, err)

	assert.Equal(t, domain.ProviderStripe, event.Provider)
	assert.Equal(t, "evt_1", event.Key, "provider event id is the dedup key")
	assert.Equal(t, domain.EventCheckoutCompleted, event.Kind)
	assert.Nil(t, event.Charge, "subscription-mode sessions carry no money; the invoice does")
	require.NotNil(t, event.Checkout)
	assert.Equal(t, "cs_1", event.Checkout.SessionID)
	assert.Equal(t, "sub_stripe_1", event.Checkout.ProviderSubscriptionID)
	assert.Equal(t, "cus_1", event.Checkout.ProviderCustomerID)
	assert.Equal(t, "creator-1", event.Checkout.CreatorID)
	assert.Equal(t, "fan@example.com", event.Checkout.SubscriberEmail)
	assert.Equal(t, int64(1045), event.Checkout.AmountCents)
	assert.Equal(t, "USD", event.Checkout.Currency, "wire currency is uppercased")
	assert.Equal(t, domain.IntervalMonth, event.Checkout.Interval)
	assert.Equal(t, time.Unix(1767225600, 0).UTC(), event.OccurredAt)
}

func TestDecodeSessionCompletedPaymentMode(t *testing.T) {
	a := testAdapter()
	payload := []byte(`{
		"id": "evt_2",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_2",
			"mode": "payment",
			"amount_total": 500,
			"currency": "usd",
			"customer_email": "fan@example.com"
		}}
	}`)

	event, err := a.DecodeStored(payload)
	require.NoError(t, err)
	assert.Equal(t, domain.EventChargeSucceeded, event.Kind, "payment-mode session is the charge itself")
	require.NotNil(t, event.Charge)
	assert.Equal(t, domain.IntervalOneTime, event.Charge.Interval)
	assert.Equal(t, "cs_2", event.Charge.Ref, "no payment intent falls back to the session id")
	assert.Equal(t, "fan@example.com", event.Charge.SubscriberEmail)
}

func TestDecodeInvoicePaid(t *testing.T) {
	a := testAdapter()
	payload := []byte(`{
		"id": "evt_3",
		"type": "invoice.paid",
		"data": {"object": {
			"id": "in_1",
			"amount_paid": 1045,
			"currency": "usd",
			"customer": "cus_1",
			"charge": "ch_settle_1",
			"parent": {"subscription_details": {"subscription": "sub_stripe_1"}},
			"lines": {"data": [{"period": {"end": 1769904000}}]}
		}}
	}`)

	event, err := a.DecodeStored(payload)
	require.NoError(t, err)

	assert.Equal(t, domain.EventChargeSucceeded, event.Kind)
	assert.Equal(t, "in_1", event.Charge.Ref)
	assert.Equal(t, "sub_stripe_1", event.Charge.ProviderSubscriptionID,
		"subscription id resolves through the parent object on newer API versions")
	assert.Equal(t, "ch_settle_1", event.Charge.SettlementRef,
		"settlement data hangs off the charge, not the invoice")
	assert.Equal(t, time.Unix(1769904000, 0).UTC(), event.Charge.PeriodEnd)
}

func TestDecodeInvoiceFailed(t *testing.T) {
	a := testAdapter()
	payload := []byte(`{
		"id": "evt_4",
		"type": "invoice.payment_failed",
		"data": {"object": {
			"id": "in_2",
			"subscription": "sub_stripe_1",
			"attempt_count": 2,
			"lines": {"data": [{"period": {"end": 1769904000}}]}
		}}
	}`)

	event, err := a.DecodeStored(payload)
	require.NoError(t, err)
	assert.Equal(t, domain.EventInvoiceFailed, event.Kind)
	require.NotNil(t, event.Failure)
	assert.Equal(t, "sub_stripe_1", event.Failure.ProviderSubscriptionID)
	assert.Equal(t, 2, event.Failure.AttemptCount)
}

func TestDecodeRefund(t *testing.T) {
	a := testAdapter()
	payload := []byte(`{
		"id": "evt_5",
		"type": "charge.refunded",
		"data": {"object": {
			"id": "ch_1",
			"amount": 1045,
			"amount_refunded": 500,
			"currency": "usd",
			"payment_intent": "pi_1"
		}}
	}`)

	event, err := a.DecodeStored(payload)
	require.NoError(t, err)
	assert.Equal(t, domain.EventChargeRefunded, event.Kind)
	assert.Equal(t, "pi_1", event.Refund.ChargeRef)
	assert.Equal(t, int64(500), event.Refund.AmountCents)
	assert.True(t, event.Refund.Cumulative, "amount_refunded is the running total, not the increment")
}

func TestDecodeDisputeLifecycle(t *testing.T) {
	a := testAdapter()

	created := []byte(`{"id":"evt_6","type":"charge.dispute.created","data":{"object":{"charge":"ch_1","amount":1045,"currency":"usd","status":"needs_response"}}}`)
	won := []byte(`{"id":"evt_7","type":"charge.dispute.closed","data":{"object":{"charge":"ch_1","status":"won"}}}`)
	lost := []byte(`{"id":"evt_8","type":"charge.dispute.closed","data":{"object":{"charge":"ch_1","status":"lost"}}}`)

	ce, err := a.DecodeStored(created)
	require.NoError(t, err)
	assert.Equal(t, domain.EventDisputeCreated, ce.Kind)
	assert.Equal(t, "ch_1", ce.Dispute.ChargeRef)

	we, err := a.DecodeStored(won)
	require.NoError(t, err)
	assert.Equal(t, domain.EventDisputeWon, we.Kind)

	le, err := a.DecodeStored(lost)
	require.NoError(t, err)
	assert.Equal(t, domain.EventDisputeLost, le.Kind)
}

func TestDecodeSubscriptionChange(t *testing.T) {
	a := testAdapter()

	updated := []byte(`{"id":"evt_9","type":"customer.subscription.updated","data":{"object":{"id":"sub_stripe_1","status":"active","cancel_at_period_end":true,"items":{"data":[{"current_period_end":1769904000}]}}}}`)
	deleted := []byte(`{"id":"evt_10","type":"customer.subscription.deleted","data":{"object":{"id":"sub_stripe_1","status":"canceled"}}}`)

	ue, err := a.DecodeStored(updated)
	require.NoError(t, err)
	assert.Equal(t, domain.EventSubscriptionUpdated, ue.Kind)
	assert.True(t, ue.Subscription.CancelAtPeriodEnd)
	assert.False(t, ue.Subscription.CanceledNow)
	assert.Equal(t, time.Unix(1769904000, 0).UTC(), ue.Subscription.CurrentPeriodEnd,
		"period end resolves through items on newer API versions")

	de, err := a.DecodeStored(deleted)
	require.NoError(t, err)
	assert.Equal(t, domain.EventSubscriptionDeleted, de.Kind)
	assert.True(t, de.Subscription.CanceledNow)
}

func TestDecodeAccountUpdated(t *testing.T) {
	a := testAdapter()
	payload := []byte(`{"id":"evt_11","type":"account.updated","data":{"object":{"id":"acct_1","payouts_enabled":false,"requirements":{"disabled_reason":"requirements.past_due"}}}}`)

	event, err := a.DecodeStored(payload)
	require.NoError(t, err)
	assert.Equal(t, domain.EventAccountUpdated, event.Kind)
	assert.Equal(t, "acct_1", event.Account.AccountID)
	assert.False(t, event.Account.PayoutsEnabled)
	assert.True(t, event.Account.Restricted)
}

func TestDecodeUnknownTypeAcknowledged(t *testing.T) {
	a := testAdapter()
	payload := []byte(`{"id":"evt_12","type":"product.created","data":{"object":{}}}`)

	event, err := a.DecodeStored(payload)
	require.NoError(t, err)
	assert.Equal(t, domain.EventUnknown, event.Kind)
	assert.Equal(t, "evt_12", event.Key)
}

func TestDecodeMalformedPayload(t *testing.T) {
	a := testAdapter()
	_, err := a.DecodeStored([]byte(`not json`))
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	a := testAdapter()
	_, err := a.VerifyAndDecode([]byte(`{}`), "t=1,v1=bad")
	require.Error(t, err)
	assert.Equal(t, domain.ErrorCodeSignatureInvalid, domain.GetErrorCode(err))
}
