package stripe

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/patronhq/payment-service/internal/domain"
	"github.com/patronhq/payment-service/internal/domain/ports"
)

// Payload shapes are decoded with local structs rather than the SDK's
// full types: webhook bodies are pinned to the account's API version,
// which can trail the SDK, and we only read a handful of fields.

type sessionPayload struct {
	ID            string `json:"id"`
	Mode          string `json:"mode"`
	AmountTotal   int64  `json:"amount_total"`
	Currency      string `json:"currency"`
	Customer      string `json:"customer"`
	CustomerEmail string `json:"customer_email"`
	Subscription  string `json:"subscription"`
	PaymentIntent string `json:"payment_intent"`
	CustomerDetails struct {
		Email string `json:"email"`
	} `json:"customer_details"`
	Metadata map[string]string `json:"metadata"`
}

type invoicePayload struct {
	ID           string `json:"id"`
	AmountPaid   int64  `json:"amount_paid"`
	Currency     string `json:"currency"`
	Customer     string `json:"customer"`
	Charge       string `json:"charge"`
	Subscription string `json:"subscription"`
	AttemptCount int    `json:"attempt_count"`
	Parent       struct {
		SubscriptionDetails struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []struct {
			Period struct {
				End int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
	Metadata map[string]string `json:"metadata"`
}

type chargePayload struct {
	ID             string `json:"id"`
	Amount         int64  `json:"amount"`
	AmountRefunded int64  `json:"amount_refunded"`
	Currency       string `json:"currency"`
	PaymentIntent  string `json:"payment_intent"`
}

type disputePayload struct {
	Charge   string `json:"charge"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

type subscriptionPayload struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64  `json:"current_period_end"`
	Items             struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

type accountPayload struct {
	ID             string `json:"id"`
	PayoutsEnabled bool   `json:"payouts_enabled"`
	Requirements   struct {
		DisabledReason string `json:"disabled_reason"`
	} `json:"requirements"`
}

// VerifyAndDecode checks the signature header and normalizes the event
// into the typed form the applier consumes. A bad signature fails
// before anything is persisted. Event types outside our set come back
// as Kind unknown and are acknowledged without effects.
func (a *Adapter) VerifyAndDecode(payload []byte, signatureHeader string) (*domain.ProviderEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, a.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeSignatureInvalid, "verify webhook signature", err)
	}
	return a.decode(&event)
}

// DecodeStored decodes an already-verified payload. Async workers and
// dead-letter retries replay events from the database, where the
// signature was checked at ingestion time.
func (a *Adapter) DecodeStored(payload []byte) (*domain.ProviderEvent, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.WrapError(domain.ErrorCodeInvalidRequest, "decode stored event", err)
	}
	return a.decode(&event)
}

func (a *Adapter) decode(event *stripe.Event) (*domain.ProviderEvent, error) {
	out := &domain.ProviderEvent{
		Provider:   domain.ProviderStripe,
		Key:        event.ID,
		RawType:    string(event.Type),
		OccurredAt: time.Unix(event.Created, 0).UTC(),
		Kind:       domain.EventUnknown,
	}

	var err error
	switch event.Type {
	case "checkout.session.completed":
		err = decodeSessionCompleted(event.Data.Raw, out)
	case "invoice.paid", "invoice.payment_succeeded":
		err = decodeInvoicePaid(event.Data.Raw, out)
	case "invoice.payment_failed":
		err = decodeInvoiceFailed(event.Data.Raw, out)
	case "charge.refunded":
		err = decodeRefund(event.Data.Raw, out)
	case "charge.dispute.created":
		err = decodeDispute(event.Data.Raw, out, domain.EventDisputeCreated)
	case "charge.dispute.closed":
		err = decodeDisputeClosed(event.Data.Raw, out)
	case "customer.subscription.updated":
		err = decodeSubscriptionChange(event.Data.Raw, out, false)
	case "customer.subscription.deleted":
		err = decodeSubscriptionChange(event.Data.Raw, out, true)
	case "account.updated":
		err = decodeAccountUpdated(event.Data.Raw, out)
	default:
		a.logger.Debug("ignoring unhandled event type",
			ports.String("event_type", string(event.Type)),
			ports.String("event_id", event.ID))
	}
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeInvalidRequest, "decode "+string(event.Type), err)
	}
	return out, nil
}

// decodeSessionCompleted maps a finished checkout. Subscription-mode
// sessions only bind identifiers; the money movement arrives on
// invoice.paid with its own invoice reference, so emitting a charge
// here would record the same money twice. Payment-mode sessions are
// the charge itself.
func decodeSessionCompleted(raw json.RawMessage, out *domain.ProviderEvent) error {
	var s sessionPayload
	if err := json.Unmarshal(raw, &s); err != nil {
		return err
	}

	email := s.CustomerEmail
	if email == "" {
		email = s.CustomerDetails.Email
	}

	if s.Mode == "subscription" {
		out.Kind = domain.EventCheckoutCompleted
		out.Checkout = &domain.CheckoutCompletedData{
			SessionID:              s.ID,
			ProviderSubscriptionID: s.Subscription,
			ProviderCustomerID:     s.Customer,
			CreatorID:              s.Metadata["creator_id"],
			SubscriberEmail:        email,
			AmountCents:            s.AmountTotal,
			Currency:               normalizeCurrency(s.Currency),
			Interval:               domain.IntervalMonth,
		}
		return nil
	}

	ref := s.PaymentIntent
	if ref == "" {
		ref = s.ID
	}

	out.Kind = domain.EventChargeSucceeded
	out.Charge = &domain.ChargeEventData{
		Ref:             ref,
		AmountCents:     s.AmountTotal,
		Currency:        normalizeCurrency(s.Currency),
		CreatorID:       s.Metadata["creator_id"],
		SubscriberEmail: email,
		SessionID:       s.ID,
		Interval:        domain.IntervalOneTime,
	}
	return nil
}

func decodeInvoicePaid(raw json.RawMessage, out *domain.ProviderEvent) error {
	var inv invoicePayload
	if err := json.Unmarshal(raw, &inv); err != nil {
		return err
	}

	subID := inv.Subscription
	if subID == "" {
		subID = inv.Parent.SubscriptionDetails.Subscription
	}

	var periodEnd time.Time
	if len(inv.Lines.Data) > 0 && inv.Lines.Data[0].Period.End > 0 {
		periodEnd = time.Unix(inv.Lines.Data[0].Period.End, 0).UTC()
	}

	out.Kind = domain.EventChargeSucceeded
	out.Charge = &domain.ChargeEventData{
		Ref:                    inv.ID,
		AmountCents:            inv.AmountPaid,
		Currency:               normalizeCurrency(inv.Currency),
		ProviderSubscriptionID: subID,
		ProviderCustomerID:     inv.Customer,
		SettlementRef:          inv.Charge,
		Interval:               domain.IntervalMonth,
		PeriodEnd:              periodEnd,
	}
	return nil
}

func decodeInvoiceFailed(raw json.RawMessage, out *domain.ProviderEvent) error {
	var inv invoicePayload
	if err := json.Unmarshal(raw, &inv); err != nil {
		return err
	}

	subID := inv.Subscription
	if subID == "" {
		subID = inv.Parent.SubscriptionDetails.Subscription
	}

	var periodEnd time.Time
	if len(inv.Lines.Data) > 0 && inv.Lines.Data[0].Period.End > 0 {
		periodEnd = time.Unix(inv.Lines.Data[0].Period.End, 0).UTC()
	}

	out.Kind = domain.EventInvoiceFailed
	out.Failure = &domain.InvoiceFailureData{
		ProviderSubscriptionID: subID,
		PeriodEnd:              periodEnd,
		AttemptCount:           inv.AttemptCount,
	}
	return nil
}

func decodeRefund(raw json.RawMessage, out *domain.ProviderEvent) error {
	var c chargePayload
	if err := json.Unmarshal(raw, &c); err != nil {
		return err
	}

	ref := c.PaymentIntent
	if ref == "" {
		ref = c.ID
	}

	out.Kind = domain.EventChargeRefunded
	out.Refund = &domain.RefundEventData{
		ChargeRef:   ref,
		AmountCents: c.AmountRefunded,
		Currency:    normalizeCurrency(c.Currency),
		// amount_refunded is the running total across all refunds of
		// the charge, not this delivery's increment.
		Cumulative: true,
	}
	return nil
}

func decodeDispute(raw json.RawMessage, out *domain.ProviderEvent, kind domain.EventKind) error {
	var d disputePayload
	if err := json.Unmarshal(raw, &d); err != nil {
		return err
	}
	out.Kind = kind
	out.Dispute = &domain.DisputeEventData{
		ChargeRef:   d.Charge,
		AmountCents: d.Amount,
		Currency:    normalizeCurrency(d.Currency),
	}
	return nil
}

func decodeDisputeClosed(raw json.RawMessage, out *domain.ProviderEvent) error {
	var d disputePayload
	if err := json.Unmarshal(raw, &d); err != nil {
		return err
	}
	kind := domain.EventDisputeLost
	if d.Status == "won" {
		kind = domain.EventDisputeWon
	}
	return decodeDispute(raw, out, kind)
}

func decodeSubscriptionChange(raw json.RawMessage, out *domain.ProviderEvent, deleted bool) error {
	var s subscriptionPayload
	if err := json.Unmarshal(raw, &s); err != nil {
		return err
	}

	periodEnd := s.CurrentPeriodEnd
	if periodEnd == 0 && len(s.Items.Data) > 0 {
		periodEnd = s.Items.Data[0].CurrentPeriodEnd
	}

	out.Kind = domain.EventSubscriptionUpdated
	if deleted {
		out.Kind = domain.EventSubscriptionDeleted
	}
	out.Subscription = &domain.SubscriptionChangeData{
		ProviderSubscriptionID: s.ID,
		CancelAtPeriodEnd:      s.CancelAtPeriodEnd,
		CanceledNow:            deleted || s.Status == "canceled",
		CurrentPeriodEnd:       time.Unix(periodEnd, 0).UTC(),
	}
	return nil
}

// normalizeCurrency uppercases the lowercase ISO codes the provider
// sends on wire payloads.
func normalizeCurrency(c string) string {
	return strings.ToUpper(c)
}

func decodeAccountUpdated(raw json.RawMessage, out *domain.ProviderEvent) error {
	var a accountPayload
	if err := json.Unmarshal(raw, &a); err != nil {
		return err
	}
	out.Kind = domain.EventAccountUpdated
	out.Account = &domain.AccountUpdateData{
		AccountID:      a.ID,
		PayoutsEnabled: a.PayoutsEnabled,
		Restricted:     a.Requirements.DisabledReason != "",
	}
	return nil
}
