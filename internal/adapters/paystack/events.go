package paystack

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/patronhq/payment-service/internal/domain"
	"github.com/patronhq/payment-service/internal/domain/ports"
)

// eventKeyPrefix namespaces this provider's durable event keys.
const eventKeyPrefix = "paystack"

// EventKey composes the durable dedup key. The provider reuses one
// reference across a transfer's lifecycle events, so the event type
// goes into the key; two deliveries of the same (type, ref) are one
// event, while transfer.success and transfer.failed for one reference
// stay distinct.
func EventKey(eventType, ref string) string {
	return eventKeyPrefix + "_" + eventType + "_" + ref
}

type webhookEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type chargeData struct {
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	PaidAt    string `json:"paid_at"`
	Customer  struct {
		Email string `json:"email"`
	} `json:"customer"`
	Authorization struct {
		AuthorizationCode string `json:"authorization_code"`
	} `json:"authorization"`
	Metadata map[string]interface{} `json:"metadata"`
}

type refundData struct {
	TransactionReference string `json:"transaction_reference"`
	Amount               int64  `json:"amount"`
	Currency             string `json:"currency"`
}

type disputeData struct {
	Status      string `json:"status"`
	Resolution  string `json:"resolution"`
	Transaction struct {
		Reference string `json:"reference"`
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
	} `json:"transaction"`
}

type transferData struct {
	TransferCode string `json:"transfer_code"`
	Reference    string `json:"reference"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	Status       string `json:"status"`
	UpdatedAt    string `json:"updated_at"`
	Reason       string `json:"reason"`
}

// VerifySignature checks the HMAC-SHA512 body signature. This runs
// before any persistence; a mismatch is rejected with no stored event.
func (a *Adapter) VerifySignature(payload []byte, signatureHeader string) error {
	mac := hmac.New(sha512.New, []byte(a.webhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signatureHeader)) {
		return domain.ErrSignatureInvalid
	}
	return nil
}

// VerifyAndDecode checks the signature and normalizes the event into
// the typed form the applier consumes. Unknown event types come back as
// Kind unknown and are acknowledged without effects.
func (a *Adapter) VerifyAndDecode(payload []byte, signatureHeader string) (*domain.ProviderEvent, error) {
	if err := a.VerifySignature(payload, signatureHeader); err != nil {
		return nil, err
	}
	return a.DecodeStored(payload)
}

// DecodeStored decodes an already-verified payload. Async workers and
// dead-letter retries replay events from the database, where the
// signature was checked at ingestion time.
func (a *Adapter) DecodeStored(payload []byte) (*domain.ProviderEvent, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, domain.WrapError(domain.ErrorCodeInvalidRequest, "decode webhook envelope", err)
	}

	out := &domain.ProviderEvent{
		Provider:   domain.ProviderPaystack,
		RawType:    env.Event,
		Kind:       domain.EventUnknown,
		OccurredAt: time.Now().UTC(),
	}

	var err error
	switch env.Event {
	case "charge.success":
		err = decodeCharge(env, out)
	case "refund.processed":
		err = decodeRefund(env, out)
	case "charge.dispute.create":
		err = decodeDispute(env, out, domain.EventDisputeCreated)
	case "charge.dispute.resolve":
		err = decodeDisputeResolved(env, out)
	case "transfer.success":
		err = decodeTransfer(env, out, domain.EventTransferSucceeded)
	case "transfer.failed", "transfer.reversed":
		err = decodeTransfer(env, out, domain.EventTransferFailed)
	case "transfer.requires_otp":
		err = decodeTransfer(env, out, domain.EventTransferRequiresOTP)
	default:
		// Unknown events carry no reference we can trust, so the dedup
		// key falls back to a payload digest: redeliveries of the same
		// body collapse while distinct events stay distinct.
		digest := sha256.Sum256(payload)
		out.Key = EventKey(env.Event, hex.EncodeToString(digest[:])[:16])
		a.logger.Debug("ignoring unhandled event type",
			ports.String("event_type", env.Event))
	}
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeInvalidRequest, "decode "+env.Event, err)
	}
	return out, nil
}

func decodeCharge(env webhookEnvelope, out *domain.ProviderEvent) error {
	var d chargeData
	if err := json.Unmarshal(env.Data, &d); err != nil {
		return err
	}

	if paidAt, err := time.Parse(time.RFC3339, d.PaidAt); err == nil {
		out.OccurredAt = paidAt
	}

	creatorID, interval := "", domain.IntervalMonth
	if d.Metadata != nil {
		if v, ok := d.Metadata["creator_id"].(string); ok {
			creatorID = v
		}
		if v, ok := d.Metadata["interval"].(string); ok && v == string(domain.IntervalOneTime) {
			interval = domain.IntervalOneTime
		}
	}

	out.Kind = domain.EventChargeSucceeded
	out.Key = EventKey(env.Event, d.Reference)
	out.Charge = &domain.ChargeEventData{
		Ref:               d.Reference,
		AmountCents:       d.Amount,
		Currency:          d.Currency,
		CreatorID:         creatorID,
		SubscriberEmail:   d.Customer.Email,
		AuthorizationCode: d.Authorization.AuthorizationCode,
		Interval:          interval,
		CrossBorder:       true,
	}
	return nil
}

func decodeRefund(env webhookEnvelope, out *domain.ProviderEvent) error {
	var d refundData
	if err := json.Unmarshal(env.Data, &d); err != nil {
		return err
	}
	out.Kind = domain.EventChargeRefunded
	out.Key = EventKey(env.Event, d.TransactionReference)
	out.Refund = &domain.RefundEventData{
		ChargeRef:   d.TransactionReference,
		AmountCents: d.Amount,
		Currency:    d.Currency,
	}
	return nil
}

func decodeDispute(env webhookEnvelope, out *domain.ProviderEvent, kind domain.EventKind) error {
	var d disputeData
	if err := json.Unmarshal(env.Data, &d); err != nil {
		return err
	}
	out.Kind = kind
	out.Key = EventKey(env.Event, d.Transaction.Reference)
	out.Dispute = &domain.DisputeEventData{
		ChargeRef:   d.Transaction.Reference,
		AmountCents: d.Transaction.Amount,
		Currency:    d.Transaction.Currency,
	}
	return nil
}

func decodeDisputeResolved(env webhookEnvelope, out *domain.ProviderEvent) error {
	var d disputeData
	if err := json.Unmarshal(env.Data, &d); err != nil {
		return err
	}
	kind := domain.EventDisputeLost
	if d.Resolution == "merchant-accepted" || d.Resolution == "declined" {
		kind = domain.EventDisputeWon
	}
	return decodeDispute(env, out, kind)
}

func decodeTransfer(env webhookEnvelope, out *domain.ProviderEvent, kind domain.EventKind) error {
	var d transferData
	if err := json.Unmarshal(env.Data, &d); err != nil {
		return err
	}

	paidAt := out.OccurredAt
	if t, err := time.Parse(time.RFC3339, d.UpdatedAt); err == nil {
		paidAt = t
	}

	out.Kind = kind
	out.Key = EventKey(env.Event, d.Reference)
	out.Transfer = &domain.TransferEventData{
		TransferCode: d.TransferCode,
		Ref:          d.Reference,
		AmountCents:  d.Amount,
		Currency:     d.Currency,
		PaidAt:       paidAt,
		FailureCode:  transferFailureCode(env.Event, d.Status),
		AccountLevel: d.Status == "blocked",
	}
	return nil
}

func transferFailureCode(event, status string) string {
	if event == "transfer.success" || event == "transfer.requires_otp" {
		return ""
	}
	if status != "" {
		return status
	}
	return event
}
