package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/patronhq/payment-service/internal/domain"
	"github.com/patronhq/payment-service/internal/domain/ports"
	"github.com/patronhq/payment-service/internal/fees"
	"github.com/patronhq/payment-service/internal/services/router"
	"github.com/patronhq/payment-service/pkg/observability"
)

// dedupeTTL bounds the double-click window: a repeat checkout for the
// same (creator, payer, amount) inside it reuses the original session.
const dedupeTTL = 15 * time.Minute

// dedupePending marks a dedupe key reserved before the provider call
// returned a session URL.
const dedupePending = "pending"

// CreateSessionRequest is the checkout initiation input.
type CreateSessionRequest struct {
	CreatorID       string
	SubscriberEmail string
	AmountCents     int64
	Currency        string
	Interval        domain.Interval
	TierID          string
	PayerCountry    string
	SuccessURL      string
	CancelURL       string
}

// CreateSessionResponse carries the hosted page the payer is sent to.
type CreateSessionResponse struct {
	SessionID    string
	CheckoutURL  string
	Provider     domain.Provider
	Deduplicated bool
}

// Service validates and initiates checkouts. Nothing financial happens
// here: the session redirects to the provider, and money only moves
// when the charge webhook comes back.
type Service struct {
	creators    ports.CreatorRepository
	subscribers ports.SubscriberRepository
	subs        ports.SubscriptionRepository
	router      *router.Service
	dedupe      ports.DedupeStore
	rates       ports.RateSource
	logger      ports.Logger
}

// NewService creates a new checkout service
func NewService(
	creators ports.CreatorRepository,
	subscribers ports.SubscriberRepository,
	subs ports.SubscriptionRepository,
	rt *router.Service,
	dedupe ports.DedupeStore,
	rates ports.RateSource,
	logger ports.Logger,
) *Service {
	return &Service{
		creators:    creators,
		subscribers: subscribers,
		subs:        subs,
		router:      rt,
		dedupe:      dedupe,
		rates:       rates,
		logger:      logger,
	}
}

// CreateSession validates the request, picks a provider and creates the
// hosted session. No local row is written here: the first charge
// webhook creates and activates the subscription, so an abandoned
// checkout leaves nothing behind.
func (s *Service) CreateSession(ctx context.Context, req *CreateSessionRequest) (*CreateSessionResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	creator, err := s.creators.GetByID(ctx, nil, req.CreatorID)
	if err != nil {
		return nil, err
	}

	if !strings.EqualFold(req.Currency, creator.Currency) {
		return nil, domain.NewDomainError(domain.ErrorCodeInvalidRequest,
			"currency does not match creator currency")
	}
	if !creator.MatchesPrice(req.AmountCents, req.TierID) {
		return nil, domain.ErrAmountMismatch
	}

	provider, err := s.router.Route(creator, req.PayerCountry)
	if err != nil {
		return nil, err
	}
	checkoutProvider, err := s.router.CheckoutProvider(provider)
	if err != nil {
		return nil, err
	}

	// The regional processor initializes transactions against an email;
	// the global one collects it on the hosted page.
	if provider == domain.ProviderPaystack && req.SubscriberEmail == "" {
		return nil, domain.NewDomainError(domain.ErrorCodeInvalidRequest,
			"email is required for this payment route")
	}

	if err := s.checkMinimum(ctx, creator, provider, req); err != nil {
		return nil, err
	}

	email := req.SubscriberEmail
	if email != "" {
		subscriber, err := s.subscribers.GetOrCreateByEmail(ctx, nil, email)
		if err != nil {
			return nil, err
		}
		if subscriber.IsBlocked() {
			return nil, domain.NewDomainError(domain.ErrorCodeUnauthorized,
				"subscriber is blocked from new checkouts")
		}
		email = subscriber.Email
	}

	// Reserve the dedupe key before touching the provider, so a racing
	// second click never mints a second provider session. The URL lands
	// under the same key once the session exists.
	dedupeReserved := false
	var key string
	if s.dedupe != nil && email != "" {
		key = dedupeKey(creator.ID, email, req.AmountCents)
		existing, dup, derr := s.dedupe.Remember(ctx, key, dedupePending, dedupeTTL)
		switch {
		case derr != nil:
			s.logger.Warn("checkout dedupe unavailable", ports.Err(derr))
		case dup && existing == dedupePending:
			return nil, domain.NewDomainError(domain.ErrorCodeConflict,
				"checkout already in progress")
		case dup:
			observability.RecordCheckoutSession(string(provider), "deduplicated")
			return &CreateSessionResponse{
				CheckoutURL:  existing,
				Provider:     provider,
				Deduplicated: true,
			}, nil
		default:
			dedupeReserved = true
		}
	}

	breakdown := fees.Calculate(fees.Input{
		BaseCents:   req.AmountCents,
		Currency:    creator.Currency,
		Purpose:     creator.Purpose,
		FeeMode:     creator.FeeMode,
		CrossBorder: fees.IsCrossBorderCountry(creator.Country),
	})

	session, err := checkoutProvider.CreateCheckoutSession(ctx, &ports.CheckoutSessionRequest{
		Creator:             creator,
		AmountCents:         req.AmountCents,
		Currency:            creator.Currency,
		Interval:            req.Interval,
		SubscriberEmail:     email,
		TierID:              req.TierID,
		SuccessURL:          req.SuccessURL,
		CancelURL:           req.CancelURL,
		ApplicationFeeCents: breakdown.FeeCents,
	})
	if err != nil {
		if dedupeReserved {
			if derr := s.dedupe.Forget(ctx, key); derr != nil {
				s.logger.Warn("checkout dedupe release failed", ports.Err(derr))
			}
		}
		observability.RecordCheckoutSession(string(provider), "error")
		return nil, err
	}

	if dedupeReserved {
		if derr := s.dedupe.Store(ctx, key, session.URL, dedupeTTL); derr != nil {
			s.logger.Warn("checkout dedupe store failed", ports.Err(derr))
		}
	}

	observability.RecordCheckoutSession(string(provider), "created")

	s.logger.Info("checkout session created",
		ports.String("creator_id", creator.ID),
		ports.String("provider", string(provider)),
		ports.Int64("amount_cents", req.AmountCents))

	return &CreateSessionResponse{
		SessionID:   session.ID,
		CheckoutURL: session.URL,
		Provider:    provider,
	}, nil
}

// VerifySession reports post-redirect progress. Activation comes from
// the webhook; when it has already landed the local subscription id is
// included so the success page can link the manage view.
func (s *Service) VerifySession(ctx context.Context, provider domain.Provider, sessionID string) (*ports.SessionStatus, error) {
	checkoutProvider, err := s.router.CheckoutProvider(provider)
	if err != nil {
		return nil, err
	}

	status, err := checkoutProvider.VerifySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if status.Status == "complete" && status.ProviderRef != "" {
		if sub, err := s.subs.GetByStripeSubscription(ctx, nil, status.ProviderRef); err == nil {
			status.SubscriptionID = sub.ID
		}
	}
	return status, nil
}

// checkMinimum enforces the recurring minimum for the routed provider.
// The regional processor only carries the hard cross-border floor; the
// dynamic per-subscriber minimum models the global processor's costs.
func (s *Service) checkMinimum(ctx context.Context, creator *domain.Creator, provider domain.Provider, req *CreateSessionRequest) error {
	// One-time support payments are exempt from the recurring minimum.
	if req.Interval != domain.IntervalMonth {
		return nil
	}

	rate, _, err := s.rates.USDRate(ctx, creator.Currency)
	if err != nil {
		s.logger.Warn("minimum check skipped, no exchange rate",
			ports.String("creator_id", creator.ID), ports.Err(err))
		return nil
	}

	minLocal, minCurrency := int64(0), strings.ToUpper(creator.Currency)
	if provider == domain.ProviderPaystack {
		minLocal = fees.RegionalFloor(creator.Currency, rate)
	} else {
		m := fees.MinimumForCreator(creator.Country, creator.Currency, creator.SubscriberCount, rate)
		minLocal, minCurrency = m.MinimumLocal, m.Currency
	}
	if req.AmountCents < minLocal {
		return domain.NewDomainError(domain.ErrorCodeBelowMinimum,
			fmt.Sprintf("amount below minimum of %d %s", minLocal, minCurrency))
	}
	return nil
}

func validateRequest(req *CreateSessionRequest) error {
	switch {
	case req.CreatorID == "":
		return domain.NewDomainError(domain.ErrorCodeInvalidRequest, "creator_id is required")
	case req.SubscriberEmail != "" && !strings.Contains(req.SubscriberEmail, "@"):
		return domain.NewDomainError(domain.ErrorCodeInvalidRequest, "email is not valid")
	case req.AmountCents <= 0:
		return domain.NewDomainError(domain.ErrorCodeInvalidRequest, "amount must be positive")
	case req.Interval != domain.IntervalMonth && req.Interval != domain.IntervalOneTime:
		return domain.NewDomainError(domain.ErrorCodeInvalidRequest, "interval must be month or one_time")
	}
	return nil
}

func dedupeKey(creatorID, email string, amountCents int64) string {
	return fmt.Sprintf("checkout_dedupe:%s:%s:%d", creatorID, strings.ToLower(email), amountCents)
}
