// Package webhook receives provider event deliveries. The response
// contract matters: 200 once the event is stored (providers stop
// redelivering), 400 only for signatures that fail verification.
package webhook

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/patronhq/payment-service/internal/domain"
	"github.com/patronhq/payment-service/internal/domain/ports"
	"github.com/patronhq/payment-service/internal/services/ingest"
)

// maxBodyBytes bounds webhook payload size; provider events are far
// smaller than this.
const maxBodyBytes = 1 << 20

// Handler handles provider webhook deliveries.
type Handler struct {
	ingest *ingest.Service
	logger ports.Logger
}

// NewHandler creates a new webhook handler.
func NewHandler(ingest *ingest.Service, logger ports.Logger) *Handler {
	return &Handler{ingest: ingest, logger: logger}
}

// Receive handles POST /webhooks/{provider}.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	provider := domain.Provider(r.PathValue("provider"))

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if provider == domain.ProviderPaystack {
		signature = r.Header.Get("x-paystack-signature")
	}

	if err := h.ingest.Ingest(r.Context(), provider, payload, signature); err != nil {
		h.logger.Warn("webhook rejected",
			ports.String("provider", string(provider)),
			ports.Err(err))
		status := http.StatusBadRequest
		if domain.GetErrorCode(err) == domain.ErrorCodeDatabaseError {
			// Storage failure: ask the provider to redeliver.
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, map[string]interface{}{"received": false, "error": "rejected"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"received": true})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
