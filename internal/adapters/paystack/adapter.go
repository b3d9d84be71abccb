package paystack

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/patronhq/payment-service/internal/config"
	"github.com/patronhq/payment-service/internal/domain"
	"github.com/patronhq/payment-service/internal/domain/ports"
)

// Adapter is the regional processor integration. It implements
// CheckoutProvider, TransferProvider and ReconcilableProvider.
// Recurring billing is platform-managed here: the billing job charges
// the stored authorization through ChargeAuthorization.
type Adapter struct {
	api           *client
	webhookSecret string
	logger        ports.Logger
}

// NewAdapter creates the Paystack adapter from configuration.
func NewAdapter(cfg *config.PaystackConfig, logger ports.Logger) *Adapter {
	return &Adapter{
		api:           newClient(cfg, logger),
		webhookSecret: cfg.WebhookSecret,
		logger:        logger,
	}
}

// Name returns the provider identifier.
func (a *Adapter) Name() domain.Provider {
	return domain.ProviderPaystack
}

type initializeResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// CreateCheckoutSession initializes a hosted transaction page. The fee
// share goes on as transaction_charge with the subaccount bearing the
// split so the platform's cut matches the fee engine exactly.
func (a *Adapter) CreateCheckoutSession(ctx context.Context, req *ports.CheckoutSessionRequest) (*ports.CheckoutSession, error) {
	if !req.Creator.HasPaystack() {
		return nil, domain.ErrProviderNotLinked
	}

	body := map[string]interface{}{
		"email":        req.SubscriberEmail,
		"amount":       req.AmountCents,
		"currency":     req.Currency,
		"callback_url": req.SuccessURL,
		"subaccount":   *req.Creator.PaystackSubaccountCode,
		"bearer":       "subaccount",
		"metadata": map[string]string{
			"creator_id": req.Creator.ID,
			"interval":   string(req.Interval),
			"tier_id":    req.TierID,
		},
	}
	if req.ApplicationFeeCents > 0 {
		body["transaction_charge"] = req.ApplicationFeeCents
	}

	var out initializeResponse
	if err := a.api.call(ctx, http.MethodPost, "/transaction/initialize", body, &out); err != nil {
		return nil, err
	}

	return &ports.CheckoutSession{
		ID:       out.Reference,
		URL:      out.AuthorizationURL,
		Provider: domain.ProviderPaystack,
	}, nil
}

type transactionResponse struct {
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
	PaidAt    string `json:"paid_at"`
	Customer  struct {
		Email string `json:"email"`
	} `json:"customer"`
	Authorization struct {
		AuthorizationCode string `json:"authorization_code"`
	} `json:"authorization"`
	Metadata map[string]interface{} `json:"metadata"`
}

// VerifySession checks a transaction by its reference after redirect.
func (a *Adapter) VerifySession(ctx context.Context, sessionID string) (*ports.SessionStatus, error) {
	var out transactionResponse
	if err := a.api.call(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(sessionID), nil, &out); err != nil {
		return nil, err
	}

	status := "open"
	switch out.Status {
	case "success":
		status = "complete"
	case "abandoned", "failed":
		status = "expired"
	}
	return &ports.SessionStatus{
		Status:      status,
		ProviderRef: out.Reference,
	}, nil
}

// CancelSubscription is a local no-op: billing here is platform-managed
// off the stored authorization, so canceling locally stops renewals.
func (a *Adapter) CancelSubscription(ctx context.Context, providerSubscriptionID string, atPeriodEnd bool) error {
	return nil
}

// Reactivate is the matching local no-op.
func (a *Adapter) Reactivate(ctx context.Context, providerSubscriptionID string) error {
	return nil
}

// ListBanks returns payout-capable banks.
func (a *Adapter) ListBanks(ctx context.Context) ([]ports.Bank, error) {
	var out []struct {
		Name string `json:"name"`
		Code string `json:"code"`
	}
	if err := a.api.call(ctx, http.MethodGet, "/bank", nil, &out); err != nil {
		return nil, err
	}

	banks := make([]ports.Bank, 0, len(out))
	for _, b := range out {
		banks = append(banks, ports.Bank{Name: b.Name, Code: b.Code})
	}
	return banks, nil
}

// ResolveAccount verifies bank account ownership before payout setup.
func (a *Adapter) ResolveAccount(ctx context.Context, accountNumber, bankCode string) (*ports.ResolvedAccount, error) {
	var out struct {
		AccountName   string `json:"account_name"`
		AccountNumber string `json:"account_number"`
	}
	path := fmt.Sprintf("/bank/resolve?account_number=%s&bank_code=%s",
		url.QueryEscape(accountNumber), url.QueryEscape(bankCode))
	if err := a.api.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &ports.ResolvedAccount{
		AccountName:   out.AccountName,
		AccountNumber: out.AccountNumber,
	}, nil
}

// EnsureRecipient creates a transfer recipient and returns its code.
// The provider dedupes identical details server-side, so re-creating is
// safe; callers cache the code on the creator anyway.
func (a *Adapter) EnsureRecipient(ctx context.Context, req *ports.RecipientRequest) (string, error) {
	var out struct {
		RecipientCode string `json:"recipient_code"`
	}
	body := map[string]string{
		"type":           "nuban",
		"name":           req.Name,
		"account_number": req.AccountNumber,
		"bank_code":      req.BankCode,
		"currency":       req.Currency,
	}
	if err := a.api.call(ctx, http.MethodPost, "/transferrecipient", body, &out); err != nil {
		return "", err
	}
	return out.RecipientCode, nil
}

type transferResponse struct {
	TransferCode string `json:"transfer_code"`
	Status       string `json:"status"`
}

// InitiateTransfer starts a payout. Status "otp" means the transfer
// holds until an operator finalizes with the one-time password.
func (a *Adapter) InitiateTransfer(ctx context.Context, req *ports.TransferRequest) (*ports.TransferResult, error) {
	var out transferResponse
	body := map[string]interface{}{
		"source":    "balance",
		"amount":    req.AmountCents,
		"currency":  req.Currency,
		"recipient": req.RecipientCode,
		"reference": req.Reference,
		"reason":    req.Reason,
	}
	if err := a.api.call(ctx, http.MethodPost, "/transfer", body, &out); err != nil {
		return nil, err
	}
	return &ports.TransferResult{
		TransferCode: out.TransferCode,
		Status:       out.Status,
		RequiresOTP:  out.Status == "otp",
	}, nil
}

// FinalizeTransfer submits the OTP for a held transfer.
func (a *Adapter) FinalizeTransfer(ctx context.Context, transferCode, otp string) (*ports.TransferResult, error) {
	var out transferResponse
	body := map[string]string{
		"transfer_code": transferCode,
		"otp":           otp,
	}
	if err := a.api.call(ctx, http.MethodPost, "/transfer/finalize_transfer", body, &out); err != nil {
		return nil, err
	}
	return &ports.TransferResult{
		TransferCode: out.TransferCode,
		Status:       out.Status,
		RequiresOTP:  false,
	}, nil
}

// ChargeAuthorization charges a stored card authorization; the billing
// job drives monthly renewals through this.
func (a *Adapter) ChargeAuthorization(ctx context.Context, req *ports.ChargeRequest) (*ports.ChargeResult, error) {
	body := map[string]interface{}{
		"authorization_code": req.AuthorizationCode,
		"email":              req.Email,
		"amount":             req.AmountCents,
		"currency":           req.Currency,
		"reference":          req.Reference,
	}
	if req.SubaccountCode != "" {
		body["subaccount"] = req.SubaccountCode
		body["bearer"] = "subaccount"
	}
	if len(req.Metadata) > 0 {
		body["metadata"] = req.Metadata
	}

	var out transactionResponse
	if err := a.api.call(ctx, http.MethodPost, "/transaction/charge_authorization", body, &out); err != nil {
		return nil, err
	}

	paidAt, _ := time.Parse(time.RFC3339, out.PaidAt)
	return &ports.ChargeResult{
		Ref:         out.Reference,
		Status:      out.Status,
		AmountCents: out.Amount,
		Currency:    out.Currency,
		PaidAt:      paidAt,
	}, nil
}

// RefundCharge requests a refund of a transaction, fully when
// amountCents is zero. The refund.processed webhook drives the ledger
// reversal.
func (a *Adapter) RefundCharge(ctx context.Context, providerRef string, amountCents int64) error {
	body := map[string]interface{}{
		"transaction": providerRef,
	}
	if amountCents > 0 {
		body["amount"] = amountCents
	}
	return a.api.call(ctx, http.MethodPost, "/refund", body, nil)
}

// ListTransactionsSince pages transactions for reconciliation.
func (a *Adapter) ListTransactionsSince(ctx context.Context, since time.Time) ([]ports.ProviderTransaction, error) {
	var txns []ports.ProviderTransaction
	for page := 1; ; page++ {
		var out []transactionResponse
		path := fmt.Sprintf("/transaction?from=%s&perPage=200&page=%d",
			url.QueryEscape(since.UTC().Format(time.RFC3339)), page)
		if err := a.api.call(ctx, http.MethodGet, path, nil, &out); err != nil {
			return nil, err
		}
		if len(out) == 0 {
			return txns, nil
		}
		for _, t := range out {
			txns = append(txns, transactionToPort(t))
		}
	}
}

// VerifyTransaction fetches one transaction by reference.
func (a *Adapter) VerifyTransaction(ctx context.Context, ref string) (*ports.ProviderTransaction, error) {
	var out transactionResponse
	if err := a.api.call(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(ref), nil, &out); err != nil {
		return nil, err
	}
	t := transactionToPort(out)
	return &t, nil
}

// Balance reads the integration balance. Subaccount settlement happens
// provider-side, so the balance is platform-level regardless of creator.
func (a *Adapter) Balance(ctx context.Context, creator *domain.Creator) (int64, string, error) {
	var out []struct {
		Currency string `json:"currency"`
		Balance  int64  `json:"balance"`
	}
	if err := a.api.call(ctx, http.MethodGet, "/balance", nil, &out); err != nil {
		return 0, "", err
	}
	if len(out) == 0 {
		return 0, "", nil
	}
	return out[0].Balance, out[0].Currency, nil
}

func transactionToPort(t transactionResponse) ports.ProviderTransaction {
	occurredAt, _ := time.Parse(time.RFC3339, t.PaidAt)
	creatorID := ""
	if t.Metadata != nil {
		if v, ok := t.Metadata["creator_id"].(string); ok {
			creatorID = v
		}
	}
	return ports.ProviderTransaction{
		Ref:             t.Reference,
		AmountCents:     t.Amount,
		Currency:        t.Currency,
		Status:          t.Status,
		CreatorID:       creatorID,
		SubscriberEmail: t.Customer.Email,
		OccurredAt:      occurredAt,
	}
}
