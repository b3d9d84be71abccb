// Package manage serves the tokenized self-service surface linked from
// subscriber emails: view, unsubscribe and reactivate without login.
package manage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5"

	"github.com/patronhq/payment-service/internal/domain"
	"github.com/patronhq/payment-service/internal/domain/ports"
	"github.com/patronhq/payment-service/internal/services/applier"
	"github.com/patronhq/payment-service/pkg/token"
)

// Handler handles the tokenized manage endpoints.
type Handler struct {
	db        ports.DBPort
	subs      ports.SubscriptionRepository
	applier   *applier.Service
	signer    *token.Signer
	providers map[domain.Provider]ports.SubscriptionProvider
	logger    ports.Logger
}

// NewHandler creates a new manage handler.
func NewHandler(
	db ports.DBPort,
	subs ports.SubscriptionRepository,
	app *applier.Service,
	signer *token.Signer,
	providers map[domain.Provider]ports.SubscriptionProvider,
	logger ports.Logger,
) *Handler {
	return &Handler{
		db:        db,
		subs:      subs,
		applier:   app,
		signer:    signer,
		providers: providers,
		logger:    logger,
	}
}

// View handles GET /manage.
func (h *Handler) View(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.authorize(w, r)
	if !ok {
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"subscription_id":      sub.ID,
		"status":               string(sub.Status),
		"amount_cents":         sub.AmountCents,
		"currency":             sub.Currency,
		"interval":             string(sub.Interval),
		"current_period_end":   sub.CurrentPeriodEnd,
		"cancel_at_period_end": sub.CancelAtPeriodEnd,
	})
}

// Unsubscribe handles POST /manage/unsubscribe. Active subscriptions
// are scheduled to end at the period boundary so paid time is kept;
// pending ones are canceled outright.
func (h *Handler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.authorize(w, r)
	if !ok {
		return
	}

	if sub.IsCanceled() {
		respondJSON(w, http.StatusOK, map[string]interface{}{"status": string(sub.Status)})
		return
	}

	if sub.Status == domain.SubscriptionStatusPending {
		if err := h.applier.CancelLocal(r.Context(), sub.ID, domain.CancelReasonSubscriber); err != nil && !domain.IsConflict(err) {
			respondError(w, http.StatusInternalServerError, "cancel failed")
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{"status": string(domain.SubscriptionStatusCanceled)})
		return
	}

	if err := h.providerCancel(r, sub, true); err != nil {
		h.logger.Error("provider cancel failed",
			ports.String("subscription_id", sub.ID), ports.Err(err))
		respondError(w, http.StatusBadGateway, "provider cancel failed")
		return
	}

	if err := sub.ScheduleCancel(); err != nil {
		respondError(w, http.StatusConflict, "subscription cannot be canceled")
		return
	}
	if err := h.update(r, sub); err != nil {
		respondError(w, http.StatusInternalServerError, "cancel not saved")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":               string(sub.Status),
		"cancel_at_period_end": true,
		"access_until":         sub.CurrentPeriodEnd,
	})
}

// Reactivate handles POST /manage/reactivate, undoing a scheduled
// cancellation before the period ends.
func (h *Handler) Reactivate(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.authorize(w, r)
	if !ok {
		return
	}

	if sub.IsCanceled() || !sub.CancelAtPeriodEnd {
		respondError(w, http.StatusConflict, "subscription has no pending cancellation")
		return
	}

	if provider, ok := h.providers[sub.Provider()]; ok && sub.StripeSubscriptionID != nil {
		if err := provider.Reactivate(r.Context(), *sub.StripeSubscriptionID); err != nil {
			h.logger.Error("provider reactivate failed",
				ports.String("subscription_id", sub.ID), ports.Err(err))
			respondError(w, http.StatusBadGateway, "provider reactivate failed")
			return
		}
	}

	sub.CancelAtPeriodEnd = false
	if err := h.update(r, sub); err != nil {
		respondError(w, http.StatusInternalServerError, "reactivate not saved")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":               string(sub.Status),
		"cancel_at_period_end": false,
	})
}

// authorize verifies the manage token and loads its subscription.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) (*domain.Subscription, bool) {
	t := r.URL.Query().Get("token")
	if t == "" {
		var body struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			t = body.Token
		}
	}
	if t == "" {
		respondError(w, http.StatusUnauthorized, "token required")
		return nil, false
	}

	subscriptionID, err := h.signer.Verify(t)
	if err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, token.ErrExpired) {
			status = http.StatusGone
		}
		respondError(w, status, err.Error())
		return nil, false
	}

	sub, err := h.subs.GetByID(r.Context(), nil, subscriptionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "subscription not found")
		return nil, false
	}
	return sub, true
}

func (h *Handler) providerCancel(r *http.Request, sub *domain.Subscription, atPeriodEnd bool) error {
	provider, ok := h.providers[sub.Provider()]
	if !ok {
		return nil
	}
	ref := ""
	if sub.StripeSubscriptionID != nil {
		ref = *sub.StripeSubscriptionID
	}
	return provider.CancelSubscription(r.Context(), ref, atPeriodEnd)
}

func (h *Handler) update(r *http.Request, sub *domain.Subscription) error {
	return h.db.WithTransaction(r.Context(), func(ctx context.Context, tx pgx.Tx) error {
		return h.subs.Update(ctx, tx, sub)
	})
}

func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]interface{}{"error": message})
}
