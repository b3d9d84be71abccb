package stripe

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"

	"github.com/patronhq/payment-service/internal/config"
	"github.com/patronhq/payment-service/internal/domain"
	"github.com/patronhq/payment-service/internal/domain/ports"
)

// Adapter is the global card processor integration. It implements
// CheckoutProvider, SubscriptionProvider and ReconcilableProvider.
// Recurring billing is provider-managed: renewals arrive as webhooks
// and the billing job never charges through here.
type Adapter struct {
	client        *stripe.Client
	webhookSecret string
	logger        ports.Logger
}

// NewAdapter creates the Stripe adapter from configuration.
func NewAdapter(cfg *config.StripeConfig, logger ports.Logger) *Adapter {
	return &Adapter{
		client:        stripe.NewClient(cfg.SecretKey, nil),
		webhookSecret: cfg.WebhookSecret,
		logger:        logger,
	}
}

// Name returns the provider identifier.
func (a *Adapter) Name() domain.Provider {
	return domain.ProviderStripe
}

// CreateCheckoutSession creates a hosted checkout session. Monthly
// subscriptions use subscription mode with an application fee percent;
// one-time payments use payment mode with a fixed application fee. Both
// route funds to the creator's connected account.
func (a *Adapter) CreateCheckoutSession(ctx context.Context, req *ports.CheckoutSessionRequest) (*ports.CheckoutSession, error) {
	if !req.Creator.HasStripe() {
		return nil, domain.ErrProviderNotLinked
	}

	metadata := map[string]string{
		"creator_id": req.Creator.ID,
		"interval":   string(req.Interval),
	}
	if req.TierID != "" {
		metadata["tier_id"] = req.TierID
	}

	priceData := &stripe.CheckoutSessionCreateLineItemPriceDataParams{
		Currency:   stripe.String(req.Currency),
		UnitAmount: stripe.Int64(req.AmountCents),
		ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
			Name: stripe.String("Subscription"),
		},
	}

	params := &stripe.CheckoutSessionCreateParams{
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{{
			PriceData: priceData,
			Quantity:  stripe.Int64(1),
		}},
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		Metadata:   metadata,
	}
	// Without a pre-filled email the hosted page collects one.
	if req.SubscriberEmail != "" {
		params.CustomerEmail = stripe.String(req.SubscriberEmail)
	}

	if req.Interval == domain.IntervalMonth {
		priceData.Recurring = &stripe.CheckoutSessionCreateLineItemPriceDataRecurringParams{
			Interval: stripe.String("month"),
		}
		params.Mode = stripe.String("subscription")
		params.SubscriptionData = &stripe.CheckoutSessionCreateSubscriptionDataParams{
			ApplicationFeePercent: stripe.Float64(applicationFeePercent(req.AmountCents, req.ApplicationFeeCents)),
			TransferData: &stripe.CheckoutSessionCreateSubscriptionDataTransferDataParams{
				Destination: stripe.String(*req.Creator.StripeAccountID),
			},
			Metadata: metadata,
		}
	} else {
		params.Mode = stripe.String("payment")
		params.PaymentIntentData = &stripe.CheckoutSessionCreatePaymentIntentDataParams{
			ApplicationFeeAmount: stripe.Int64(req.ApplicationFeeCents),
			TransferData: &stripe.CheckoutSessionCreatePaymentIntentDataTransferDataParams{
				Destination: stripe.String(*req.Creator.StripeAccountID),
			},
			Metadata: metadata,
		}
	}

	session, err := a.client.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		return nil, a.classify("create checkout session", err)
	}

	return &ports.CheckoutSession{
		ID:       session.ID,
		URL:      session.URL,
		Provider: domain.ProviderStripe,
	}, nil
}

// VerifySession polls a checkout session after redirect. Activation
// itself always comes from the webhook; this only reports progress to
// the success page.
func (a *Adapter) VerifySession(ctx context.Context, sessionID string) (*ports.SessionStatus, error) {
	session, err := a.client.V1CheckoutSessions.Retrieve(ctx, sessionID, &stripe.CheckoutSessionRetrieveParams{})
	if err != nil {
		return nil, a.classify("retrieve checkout session", err)
	}

	status := &ports.SessionStatus{Status: string(session.Status)}
	if session.Subscription != nil {
		status.ProviderRef = session.Subscription.ID
	} else if session.PaymentIntent != nil {
		status.ProviderRef = session.PaymentIntent.ID
	}
	return status, nil
}

// CancelSubscription cancels a provider-managed subscription, either at
// period end or immediately.
func (a *Adapter) CancelSubscription(ctx context.Context, providerSubscriptionID string, atPeriodEnd bool) error {
	if atPeriodEnd {
		_, err := a.client.V1Subscriptions.Update(ctx, providerSubscriptionID, &stripe.SubscriptionUpdateParams{
			CancelAtPeriodEnd: stripe.Bool(true),
		})
		if err != nil {
			return a.classify("schedule subscription cancel", err)
		}
		return nil
	}

	_, err := a.client.V1Subscriptions.Cancel(ctx, providerSubscriptionID, &stripe.SubscriptionCancelParams{})
	if err != nil {
		return a.classify("cancel subscription", err)
	}
	return nil
}

// Reactivate clears a pending period-end cancellation.
func (a *Adapter) Reactivate(ctx context.Context, providerSubscriptionID string) error {
	_, err := a.client.V1Subscriptions.Update(ctx, providerSubscriptionID, &stripe.SubscriptionUpdateParams{
		CancelAtPeriodEnd: stripe.Bool(false),
	})
	if err != nil {
		return a.classify("reactivate subscription", err)
	}
	return nil
}

// RefundCharge asks the provider to refund a charge, fully when
// amountCents is zero. The ledger reversal lands with the
// charge.refunded webhook, not here.
func (a *Adapter) RefundCharge(ctx context.Context, providerRef string, amountCents int64) error {
	params := &stripe.RefundCreateParams{
		Charge: stripe.String(providerRef),
	}
	if amountCents > 0 {
		params.Amount = stripe.Int64(amountCents)
	}
	if _, err := a.client.V1Refunds.Create(ctx, params); err != nil {
		return a.classify("create refund", err)
	}
	return nil
}

// SettlementUSDRate resolves the FX rate a charge actually settled at,
// as local minor units per USD. The balance transaction reports USD per
// local unit, so the rate is inverted here. ok is false for charges
// settled without conversion.
func (a *Adapter) SettlementUSDRate(ctx context.Context, chargeRef string) (decimal.Decimal, bool, error) {
	params := &stripe.ChargeRetrieveParams{}
	params.AddExpand("balance_transaction")

	charge, err := a.client.V1Charges.Retrieve(ctx, chargeRef, params)
	if err != nil {
		return decimal.Zero, false, a.classify("retrieve charge settlement", err)
	}

	bt := charge.BalanceTransaction
	if bt == nil || bt.ExchangeRate == 0 || bt.Currency != stripe.CurrencyUSD {
		return decimal.Zero, false, nil
	}
	usdPerUnit := decimal.NewFromFloat(bt.ExchangeRate)
	if !usdPerUnit.IsPositive() {
		return decimal.Zero, false, nil
	}
	return decimal.NewFromInt(1).Div(usdPerUnit), true, nil
}

// ListTransactionsSince pages settled charges for reconciliation.
func (a *Adapter) ListTransactionsSince(ctx context.Context, since time.Time) ([]ports.ProviderTransaction, error) {
	params := &stripe.ChargeListParams{
		CreatedRange: &stripe.RangeQueryParams{GreaterThanOrEqual: since.Unix()},
	}
	params.Limit = stripe.Int64(100)

	var txns []ports.ProviderTransaction
	for charge, err := range a.client.V1Charges.List(ctx, params) {
		if err != nil {
			return nil, a.classify("list charges", err)
		}
		txns = append(txns, chargeToTransaction(charge))
	}
	return txns, nil
}

// VerifyTransaction fetches one charge by id.
func (a *Adapter) VerifyTransaction(ctx context.Context, ref string) (*ports.ProviderTransaction, error) {
	charge, err := a.client.V1Charges.Retrieve(ctx, ref, &stripe.ChargeRetrieveParams{})
	if err != nil {
		return nil, a.classify("retrieve charge", err)
	}
	t := chargeToTransaction(charge)
	return &t, nil
}

// Balance reads the creator's connected-account available balance.
func (a *Adapter) Balance(ctx context.Context, creator *domain.Creator) (int64, string, error) {
	if !creator.HasStripe() {
		return 0, "", domain.ErrProviderNotLinked
	}

	params := &stripe.BalanceRetrieveParams{}
	params.SetStripeAccount(*creator.StripeAccountID)

	balance, err := a.client.V1Balance.Retrieve(ctx, params)
	if err != nil {
		return 0, "", a.classify("retrieve balance", err)
	}
	if len(balance.Available) == 0 {
		return 0, creator.Currency, nil
	}
	avail := balance.Available[0]
	return avail.Amount, string(avail.Currency), nil
}

func chargeToTransaction(charge *stripe.Charge) ports.ProviderTransaction {
	email := charge.ReceiptEmail
	if email == "" && charge.BillingDetails != nil {
		email = charge.BillingDetails.Email
	}
	return ports.ProviderTransaction{
		Ref:             charge.ID,
		AmountCents:     charge.Amount,
		Currency:        string(charge.Currency),
		Status:          string(charge.Status),
		CreatorID:       charge.Metadata["creator_id"],
		SubscriberEmail: email,
		OccurredAt:      time.Unix(charge.Created, 0).UTC(),
	}
}

// applicationFeePercent converts a fixed fee share to the percent the
// provider expects on subscription-mode sessions.
func applicationFeePercent(amountCents, feeCents int64) float64 {
	if amountCents <= 0 || feeCents <= 0 {
		return 0
	}
	pct := float64(feeCents) / float64(amountCents) * 100
	// Two decimal places is the provider's precision limit.
	return math.Round(pct*100) / 100
}

// classify maps provider errors onto the retryable/permanent split the
// webhook retrier keys off.
func (a *Adapter) classify(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch stripeErr.Type {
		case stripe.ErrorTypeAPI:
			return domain.WrapError(domain.ErrorCodeProviderUnavailable, op, err)
		case stripe.ErrorTypeCard, stripe.ErrorTypeInvalidRequest:
			return domain.WrapError(domain.ErrorCodeProviderPermanent, op, err)
		}
		if stripeErr.HTTPStatusCode >= 500 || stripeErr.HTTPStatusCode == 429 {
			return domain.WrapError(domain.ErrorCodeProviderUnavailable, op, err)
		}
		return domain.WrapError(domain.ErrorCodeProviderPermanent, op, err)
	}
	// Network-level failures are retryable.
	return domain.WrapError(domain.ErrorCodeProviderUnavailable, op, err)
}
