// Package admin exposes the operator surface: dead-letter replay,
// stuck transfer inspection and OTP finalize, manual reconciliation,
// payout triggers and subscriber unblocking. Everything here sits
// behind the admin auth middleware.
package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/patronhq/payment-service/internal/domain"
	"github.com/patronhq/payment-service/internal/domain/ports"
	"github.com/patronhq/payment-service/internal/services/ingest"
	"github.com/patronhq/payment-service/internal/services/payout"
	"github.com/patronhq/payment-service/internal/services/reconcile"
)

// Handler handles operator endpoints.
type Handler struct {
	events      ports.WebhookEventRepository
	payments    ports.PaymentRepository
	subscribers ports.SubscriberRepository
	ingest      *ingest.Service
	payout      *payout.Service
	reconcile   *reconcile.Service
	refunds     map[domain.Provider]ports.RefundProvider
	logger      ports.Logger
}

// NewHandler creates a new admin handler.
func NewHandler(
	events ports.WebhookEventRepository,
	payments ports.PaymentRepository,
	subscribers ports.SubscriberRepository,
	ing *ingest.Service,
	pay *payout.Service,
	rec *reconcile.Service,
	refunds map[domain.Provider]ports.RefundProvider,
	logger ports.Logger,
) *Handler {
	return &Handler{
		events:      events,
		payments:    payments,
		subscribers: subscribers,
		ingest:      ing,
		payout:      pay,
		reconcile:   rec,
		refunds:     refunds,
		logger:      logger,
	}
}

// ListDeadLetters handles GET /admin/dead-letters.
func (h *Handler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	events, err := h.events.ListDeadLetters(r.Context(), nil, 100)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "list failed")
		return
	}

	out := make([]map[string]interface{}, 0, len(events))
	for _, e := range events {
		entry := map[string]interface{}{
			"event_id":    e.EventID,
			"provider":    string(e.Provider),
			"event_type":  e.EventType,
			"retry_count": e.RetryCount,
			"created_at":  e.CreatedAt,
		}
		if e.LastError != nil {
			entry["last_error"] = *e.LastError
		}
		out = append(out, entry)
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"dead_letters": out})
}

// RetryDeadLetter handles POST /admin/dead-letters/retry.
func (h *Handler) RetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider string `json:"provider"`
		EventID  string `json:"event_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.EventID == "" {
		respondError(w, http.StatusBadRequest, "provider and event_id are required")
		return
	}

	h.logger.Info("dead-letter replay requested",
		ports.String("event_id", req.EventID),
		ports.String("provider", req.Provider))

	if err := h.ingest.Retry(r.Context(), domain.Provider(req.Provider), req.EventID); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"retried": true})
}

// StuckTransfers handles GET /admin/transfers/stuck.
func (h *Handler) StuckTransfers(w http.ResponseWriter, r *http.Request) {
	payouts, err := h.payments.ListPayoutsInStatus(r.Context(), nil, domain.PaymentStatusOTPPending)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "list failed")
		return
	}

	out := make([]map[string]interface{}, 0, len(payouts))
	for _, p := range payouts {
		out = append(out, map[string]interface{}{
			"payment_id":    p.ID,
			"creator_id":    p.CreatorID,
			"transfer_code": p.TransferCode,
			"amount_cents":  -p.AmountCents,
			"currency":      p.Currency,
			"age_seconds":   int64(time.Since(p.CreatedAt).Seconds()),
		})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"stuck_transfers": out})
}

// FinalizeTransfer handles POST /admin/transfers/finalize.
func (h *Handler) FinalizeTransfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TransferCode string `json:"transfer_code"`
		OTP          string `json:"otp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TransferCode == "" || req.OTP == "" {
		respondError(w, http.StatusBadRequest, "transfer_code and otp are required")
		return
	}

	if err := h.payout.FinalizeOTP(r.Context(), req.TransferCode, req.OTP); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"finalized": true})
}

// TriggerPayout handles POST /admin/payouts/trigger.
func (h *Handler) TriggerPayout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CreatorID string `json:"creator_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CreatorID == "" {
		respondError(w, http.StatusBadRequest, "creator_id is required")
		return
	}

	p, err := h.payout.PayoutCreator(r.Context(), req.CreatorID)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"payment_id":    p.ID,
		"amount_cents":  -p.AmountCents,
		"currency":      p.Currency,
		"status":        string(p.Status),
		"transfer_code": p.TransferCode,
	})
}

// RefundPayment handles POST /admin/payments/refund. It only asks the
// provider for the refund; the local reversal is written when the
// refund webhook arrives, same as any customer-initiated refund.
func (h *Handler) RefundPayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider    string `json:"provider"`
		PaymentID   string `json:"payment_id"`
		AmountCents int64  `json:"amount_cents"` // 0 refunds the full charge
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Provider == "" || req.PaymentID == "" {
		respondError(w, http.StatusBadRequest, "provider and payment_id are required")
		return
	}
	if req.AmountCents < 0 {
		respondError(w, http.StatusBadRequest, "amount_cents must not be negative")
		return
	}

	provider, ok := h.refunds[domain.Provider(req.Provider)]
	if !ok {
		respondError(w, http.StatusBadRequest, "unknown provider")
		return
	}

	p, err := h.payments.GetByID(r.Context(), nil, req.PaymentID)
	if err != nil {
		respondError(w, http.StatusNotFound, "payment not found")
		return
	}
	if !p.IsInbound() || p.Status != domain.PaymentStatusSucceeded {
		respondError(w, http.StatusUnprocessableEntity, "payment is not refundable")
		return
	}

	amount := req.AmountCents
	if amount > p.GrossCents {
		amount = p.GrossCents
	}
	if err := provider.RefundCharge(r.Context(), p.ProviderRef, amount); err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	h.logger.Info("admin refund requested",
		ports.String("payment_id", p.ID),
		ports.String("provider", req.Provider),
		ports.Int64("amount_cents", amount))
	respondJSON(w, http.StatusAccepted, map[string]interface{}{"refund_requested": true})
}

// RunReconciliation handles POST /admin/reconcile.
func (h *Handler) RunReconciliation(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconcile.Run(r.Context(), reconcile.DefaultWindow)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"checked":      report.Checked,
		"missing_rows": report.MissingRows,
		"healed":       report.Healed,
		"mismatched":   report.Mismatched,
	})
}

// UnblockSubscriber handles POST /admin/subscribers/unblock.
func (h *Handler) UnblockSubscriber(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SubscriberID string `json:"subscriber_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SubscriberID == "" {
		respondError(w, http.StatusBadRequest, "subscriber_id is required")
		return
	}

	if err := h.subscribers.SetBlockedReason(r.Context(), nil, req.SubscriberID, nil); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	h.logger.Info("subscriber unblocked", ports.String("subscriber_id", req.SubscriberID))
	respondJSON(w, http.StatusOK, map[string]interface{}{"unblocked": true})
}

func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]interface{}{"error": message})
}
