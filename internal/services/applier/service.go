// Package applier turns verified provider events into database state.
// Every financial write for one event happens inside one transaction,
// serialized per subscription by a short-lived distributed lock, so a
// duplicate or out-of-order delivery can never double-apply.
package applier

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/patronhq/payment-service/internal/domain"
	"github.com/patronhq/payment-service/internal/domain/ports"
	"github.com/patronhq/payment-service/pkg/crypto"
)

// applyLockTTL bounds how long a crashed worker can hold a subscription
// lock before a retry takes over.
const applyLockTTL = 30 * time.Second

// disputeBlockThreshold is the dispute count at which a subscriber is
// blocked from new checkouts.
const disputeBlockThreshold = 2

// Service applies provider events. Apply is idempotent: replaying any
// event returns a conflict error that callers treat as already done.
type Service struct {
	db          ports.DBPort
	creators    ports.CreatorRepository
	subscribers ports.SubscriberRepository
	subs        ports.SubscriptionRepository
	payments    ports.PaymentRepository
	activities  ports.ActivityRepository
	locker      ports.Locker
	rates       ports.RateSource
	settlement  map[domain.Provider]ports.SettlementRateSource
	cipher      *crypto.Cipher
	logger      ports.Logger
}

// NewService creates a new event applier. settlement may be nil or
// sparse; providers without an entry fall back to the market rate.
func NewService(
	db ports.DBPort,
	creators ports.CreatorRepository,
	subscribers ports.SubscriberRepository,
	subs ports.SubscriptionRepository,
	payments ports.PaymentRepository,
	activities ports.ActivityRepository,
	locker ports.Locker,
	rates ports.RateSource,
	settlement map[domain.Provider]ports.SettlementRateSource,
	cipher *crypto.Cipher,
	logger ports.Logger,
) *Service {
	return &Service{
		db:          db,
		creators:    creators,
		subscribers: subscribers,
		subs:        subs,
		payments:    payments,
		activities:  activities,
		locker:      locker,
		rates:       rates,
		settlement:  settlement,
		cipher:      cipher,
		logger:      logger,
	}
}

// Apply dispatches one decoded event to its handler and returns the id
// of the payment row it created or touched, when there is one. Unknown
// kinds succeed without doing anything so the event is acknowledged and
// never retried.
func (s *Service) Apply(ctx context.Context, event *domain.ProviderEvent) (*string, error) {
	switch event.Kind {
	case domain.EventChargeSucceeded:
		return s.applyCharge(ctx, event)
	case domain.EventCheckoutCompleted:
		return nil, s.applyCheckoutCompleted(ctx, event)
	case domain.EventChargeRefunded:
		return s.applyRefund(ctx, event)
	case domain.EventDisputeCreated:
		return s.applyDisputeCreated(ctx, event)
	case domain.EventDisputeWon:
		return s.applyDisputeResolved(ctx, event, true)
	case domain.EventDisputeLost:
		return s.applyDisputeResolved(ctx, event, false)
	case domain.EventInvoiceFailed:
		return nil, s.applyInvoiceFailed(ctx, event)
	case domain.EventSubscriptionUpdated, domain.EventSubscriptionDeleted:
		return nil, s.applySubscriptionChange(ctx, event)
	case domain.EventTransferSucceeded, domain.EventTransferFailed, domain.EventTransferRequiresOTP:
		return s.applyTransfer(ctx, event)
	case domain.EventAccountUpdated:
		return nil, s.applyAccountUpdate(ctx, event)
	default:
		s.logger.Debug("ignoring unhandled event kind",
			ports.String("kind", string(event.Kind)),
			ports.String("raw_type", event.RawType))
		return nil, nil
	}
}

// withSubjectLock serializes event application for one subject key.
func (s *Service) withSubjectLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	lock, err := s.locker.Acquire(ctx, key, applyLockTTL)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := lock.Release(context.WithoutCancel(ctx)); rerr != nil {
			s.logger.Warn("lock release failed", ports.String("key", key), ports.Err(rerr))
		}
	}()
	return fn(ctx)
}

// reportingFor computes the USD shadow amounts for a payment. Provider
// reported rates win; otherwise the cached market rate is used and the
// row is flagged estimated. A missing rate falls back to native amounts
// at rate 1 rather than blocking the money write.
func (s *Service) reportingFor(ctx context.Context, currency string, grossCents, feeCents int64, reportedRate *decimal.Decimal, occurredAt time.Time) domain.Reporting {
	rep := domain.Reporting{
		Currency:      "USD",
		RateTimestamp: occurredAt,
	}

	switch {
	case reportedRate != nil && reportedRate.IsPositive():
		rep.ExchangeRate = *reportedRate
		rep.RateSource = domain.RateSourceStripeReported
	default:
		rate, fetchedAt, err := s.rates.USDRate(ctx, currency)
		if err != nil || !rate.IsPositive() {
			if err != nil {
				s.logger.Warn("reporting rate unavailable, storing native amounts",
					ports.String("currency", currency), ports.Err(err))
			}
			rep.ExchangeRate = decimal.NewFromInt(1)
			rep.RateSource = domain.RateSourceCurrentRate
			rep.IsEstimated = true
			rep.GrossCents = grossCents
			rep.FeeCents = feeCents
			rep.NetCents = grossCents - feeCents
			return rep
		}
		rep.ExchangeRate = rate
		rep.RateSource = domain.RateSourceCurrentRate
		rep.RateTimestamp = fetchedAt
		rep.IsEstimated = currency != "USD"
	}

	// Net is the remainder so the shadow amounts stay internally
	// consistent after rounding.
	rep.GrossCents = toUSD(grossCents, rep.ExchangeRate)
	rep.FeeCents = toUSD(feeCents, rep.ExchangeRate)
	rep.NetCents = rep.GrossCents - rep.FeeCents
	return rep
}

// toUSD converts native minor units at rate units-per-USD.
func toUSD(cents int64, rate decimal.Decimal) int64 {
	if rate.IsZero() {
		return cents
	}
	return decimal.NewFromInt(cents).Div(rate).Round(0).IntPart()
}
