// Package checkout exposes the checkout initiation and verification
// endpoints plus the creator minimum read.
package checkout

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/patronhq/payment-service/internal/domain"
	"github.com/patronhq/payment-service/internal/domain/ports"
	"github.com/patronhq/payment-service/internal/fees"
	"github.com/patronhq/payment-service/internal/services/checkout"
)

// Handler handles checkout HTTP traffic.
type Handler struct {
	checkout *checkout.Service
	creators ports.CreatorRepository
	rates    ports.RateSource
	logger   ports.Logger
}

// NewHandler creates a new checkout handler.
func NewHandler(svc *checkout.Service, creators ports.CreatorRepository, rates ports.RateSource, logger ports.Logger) *Handler {
	return &Handler{checkout: svc, creators: creators, rates: rates, logger: logger}
}

type createSessionRequest struct {
	CreatorID       string `json:"creator_id"`
	SubscriberEmail string `json:"subscriber_email"`
	AmountCents     int64  `json:"amount_cents"`
	Currency        string `json:"currency"`
	Interval        string `json:"interval"`
	TierID          string `json:"tier_id"`
	PayerCountry    string `json:"payer_country"`
	SuccessURL      string `json:"success_url"`
	CancelURL       string `json:"cancel_url"`
}

type createSessionResponse struct {
	SessionID    string `json:"session_id"`
	CheckoutURL  string `json:"checkout_url"`
	Provider     string `json:"provider"`
	Deduplicated bool   `json:"deduplicated"`
}

// CreateSession handles POST /checkout/session.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	resp, err := h.checkout.CreateSession(r.Context(), &checkout.CreateSessionRequest{
		CreatorID:       req.CreatorID,
		SubscriberEmail: req.SubscriberEmail,
		AmountCents:     req.AmountCents,
		Currency:        req.Currency,
		Interval:        domain.Interval(req.Interval),
		TierID:          req.TierID,
		PayerCountry:    req.PayerCountry,
		SuccessURL:      req.SuccessURL,
		CancelURL:       req.CancelURL,
	})
	if err != nil {
		h.logger.Warn("checkout session refused",
			ports.String("creator_id", req.CreatorID), ports.Err(err))
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, createSessionResponse{
		SessionID:    resp.SessionID,
		CheckoutURL:  resp.CheckoutURL,
		Provider:     string(resp.Provider),
		Deduplicated: resp.Deduplicated,
	})
}

// VerifySession handles GET /checkout/verify.
func (h *Handler) VerifySession(w http.ResponseWriter, r *http.Request) {
	provider := domain.Provider(r.URL.Query().Get("provider"))
	sessionID := r.URL.Query().Get("session_id")
	if provider == "" || sessionID == "" {
		respondError(w, http.StatusBadRequest, "provider and session_id are required")
		return
	}

	status, err := h.checkout.VerifySession(r.Context(), provider, sessionID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":          status.Status,
		"subscription_id": status.SubscriptionID,
	})
}

// MyMinimum handles GET /config/my-minimum.
func (h *Handler) MyMinimum(w http.ResponseWriter, r *http.Request) {
	creatorID := r.URL.Query().Get("creator_id")
	if creatorID == "" {
		respondError(w, http.StatusBadRequest, "creator_id is required")
		return
	}

	creator, err := h.creators.GetByID(r.Context(), nil, creatorID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	rate, _, err := h.rates.USDRate(r.Context(), creator.Currency)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "exchange rate unavailable")
		return
	}

	m := fees.MinimumForCreator(creator.Country, creator.Currency, creator.SubscriberCount, rate)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"minimum_usd_cents":   m.MinimumUSD,
		"minimum_local_cents": m.MinimumLocal,
		"currency":            m.Currency,
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

// respondDomainError maps the domain error taxonomy onto HTTP status
// codes.
func respondDomainError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case domain.IsValidation(err):
		status = http.StatusBadRequest
	case domain.IsNotFound(err):
		status = http.StatusNotFound
	case domain.IsConflict(err):
		status = http.StatusConflict
	case domain.GetErrorCode(err) == domain.ErrorCodeUnauthorized:
		status = http.StatusForbidden
	case domain.GetErrorCode(err) == domain.ErrorCodeProviderUnavailable:
		status = http.StatusBadGateway
	case domain.GetErrorCode(err) == domain.ErrorCodeProviderNotLinked:
		status = http.StatusUnprocessableEntity
	default:
		status = http.StatusInternalServerError
	}

	message := "request failed"
	var derr *domain.DomainError
	if errors.As(err, &derr) {
		message = derr.Message
	}
	respondError(w, status, message)
}
