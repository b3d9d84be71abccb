package applier

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/patronhq/payment-service/internal/domain"
	"github.com/patronhq/payment-service/internal/domain/ports"
	"github.com/patronhq/payment-service/internal/fees"
	"github.com/patronhq/payment-service/pkg/observability"
	"github.com/patronhq/payment-service/pkg/timeutil"
)

// applyCharge writes a settled charge: payment row, subscription
// activation, provider binding, counters and activity, all in one
// transaction. The unique provider event id on payments is the
// idempotency backstop; a replay fails the insert with a conflict.
func (s *Service) applyCharge(ctx context.Context, event *domain.ProviderEvent) (*string, error) {
	charge := event.Charge

	// Invoice payloads carry no FX data; resolve the settled rate from
	// the underlying charge before the transaction opens so the money
	// write never waits on a provider call.
	reportedRate := charge.ReportedRate
	if reportedRate == nil && charge.SettlementRef != "" && charge.Currency != "" && charge.Currency != "USD" {
		if src, ok := s.settlement[event.Provider]; ok {
			rate, found, err := src.SettlementUSDRate(ctx, charge.SettlementRef)
			switch {
			case err != nil:
				s.logger.Warn("settlement rate lookup failed, using market rate",
					ports.String("ref", charge.Ref),
					ports.String("settlement_ref", charge.SettlementRef),
					ports.Err(err))
			case found:
				reportedRate = &rate
			}
		}
	}

	lockRef := charge.ProviderSubscriptionID
	if lockRef == "" {
		lockRef = charge.Ref
	}

	var created *domain.Payment
	err := s.withSubjectLock(ctx, ports.SubscriptionLockKey(lockRef), func(ctx context.Context) error {
		return s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
			// A charge already recorded under another event key (billing
			// job vs webhook) must not produce a second row.
			if existing, err := s.payments.GetByProviderRef(ctx, tx, event.Provider, charge.Ref); err == nil {
				return domain.NewDomainError(domain.ErrorCodeAlreadyProcessed, "charge already recorded").
					WithDetail("payment_id", existing.ID)
			} else if !domain.IsNotFound(err) {
				return err
			}

			sub, err := s.resolveSubscription(ctx, tx, charge)
			if err != nil {
				return err
			}

			creator, err := s.creators.GetByID(ctx, tx, sub.CreatorID)
			if err != nil {
				return err
			}

			// The subscription amount is authoritative for fee math; the
			// provider-reported amount only feeds the mismatch warning.
			breakdown := fees.Calculate(fees.Input{
				BaseCents:   sub.AmountCents,
				Currency:    sub.Currency,
				Purpose:     creator.Purpose,
				FeeModel:    sub.FeeModel,
				FeeMode:     sub.FeeMode,
				CrossBorder: charge.CrossBorder,
			})
			if charge.AmountCents > 0 && charge.AmountCents != breakdown.GrossCents {
				s.logger.Warn("provider gross differs from computed gross",
					ports.String("ref", charge.Ref),
					ports.Int64("provider_cents", charge.AmountCents),
					ports.Int64("computed_cents", breakdown.GrossCents))
			}

			occurredAt := event.OccurredAt
			if occurredAt.IsZero() {
				occurredAt = timeutil.Now()
			}

			paymentType := domain.PaymentTypeRecurring
			if sub.Interval == domain.IntervalOneTime {
				paymentType = domain.PaymentTypeOneTime
			}

			payment := &domain.Payment{
				ID:                 uuid.NewString(),
				SubscriptionID:     &sub.ID,
				CreatorID:          sub.CreatorID,
				SubscriberID:       sub.SubscriberID,
				AmountCents:        breakdown.BaseCents,
				Currency:           sub.Currency,
				GrossCents:         breakdown.GrossCents,
				FeeCents:           breakdown.FeeCents,
				NetCents:           breakdown.NetCents,
				CreatorFeeCents:    &breakdown.CreatorFeeCents,
				SubscriberFeeCents: &breakdown.SubscriberFeeCents,
				FeeModel:           breakdown.FeeModel,
				Type:               paymentType,
				Status:             domain.PaymentStatusSucceeded,
				ProviderEventID:    event.Key,
				ProviderRef:        charge.Ref,
				Reporting:          s.reportingFor(ctx, sub.Currency, breakdown.GrossCents, breakdown.FeeCents, reportedRate, occurredAt),
				OccurredAt:         occurredAt,
				CreatedAt:          timeutil.Now(),
			}
			if err := s.payments.Create(ctx, tx, payment); err != nil {
				return err
			}

			if err := s.bindProvider(sub, event.Provider, charge); err != nil {
				return err
			}

			firstActivation := sub.Status == domain.SubscriptionStatusPending
			if err := sub.Activate(s.periodEndFor(sub, charge, occurredAt)); err != nil {
				// Money arrived for a canceled subscription: keep the
				// payment row, leave the state alone.
				s.logger.Warn("charge for canceled subscription recorded without activation",
					ports.String("subscription_id", sub.ID), ports.Err(err))
				firstActivation = false
			}
			sub.ApplyLTV(breakdown.NetCents)
			if err := s.subs.Update(ctx, tx, sub); err != nil {
				return err
			}

			if firstActivation {
				creator.SubscriberCount++
				if err := s.creators.Update(ctx, tx, creator); err != nil {
					return err
				}
				if err := s.activities.Append(ctx, tx, &domain.Activity{
					ID:     uuid.NewString(),
					UserID: creator.ID,
					Type:   domain.ActivitySubscriptionNew,
					Payload: map[string]interface{}{
						"subscription_id": sub.ID,
						"amount_cents":    sub.AmountCents,
						"currency":        sub.Currency,
					},
					CreatedAt: timeutil.Now(),
				}); err != nil {
					return err
				}
			}

			if err := s.activities.Append(ctx, tx, &domain.Activity{
				ID:     uuid.NewString(),
				UserID: creator.ID,
				Type:   domain.ActivityPaymentReceived,
				Payload: map[string]interface{}{
					"payment_id":  payment.ID,
					"gross_cents": payment.GrossCents,
					"net_cents":   payment.NetCents,
					"currency":    payment.Currency,
					"provider":    string(event.Provider),
				},
				CreatedAt: timeutil.Now(),
			}); err != nil {
				return err
			}

			created = payment
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	observability.RecordPayment(string(event.Provider), string(created.Type),
		string(created.Status), created.Currency, created.GrossCents)
	return &created.ID, nil
}

// resolveSubscription finds the subscription a charge belongs to,
// creating a pending one when the charge arrives before (or without)
// a checkout-created row. That heal path makes reconciliation and
// replayed first charges self-sufficient.
func (s *Service) resolveSubscription(ctx context.Context, tx ports.DBTX, charge *domain.ChargeEventData) (*domain.Subscription, error) {
	if charge.ProviderSubscriptionID != "" {
		sub, err := s.subs.GetByStripeSubscription(ctx, tx, charge.ProviderSubscriptionID)
		if err == nil {
			return sub, nil
		}
		if !domain.IsNotFound(err) {
			return nil, err
		}
	}

	if charge.CreatorID == "" || charge.SubscriberEmail == "" {
		return nil, domain.NewDomainError(domain.ErrorCodeSubscriptionNotFound,
			"charge carries no resolvable subscription").WithDetail("ref", charge.Ref)
	}

	subscriber, err := s.subscribers.GetOrCreateByEmail(ctx, tx, charge.SubscriberEmail)
	if err != nil {
		return nil, err
	}

	interval := charge.Interval
	if interval == "" {
		interval = domain.IntervalMonth
	}
	sub, err := s.subs.GetByParties(ctx, tx, charge.CreatorID, subscriber.ID, interval)
	if err == nil {
		return sub, nil
	}
	if !domain.IsNotFound(err) {
		return nil, err
	}

	creator, err := s.creators.GetByID(ctx, tx, charge.CreatorID)
	if err != nil {
		return nil, err
	}

	now := timeutil.Now()
	sub = &domain.Subscription{
		ID:           uuid.NewString(),
		CreatorID:    creator.ID,
		SubscriberID: subscriber.ID,
		AmountCents:  charge.AmountCents,
		Currency:     charge.Currency,
		Interval:     interval,
		Status:       domain.SubscriptionStatusPending,
		FeeModel:     domain.FeeModelSplitV1,
		FeeMode:      creator.FeeMode,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.subs.Create(ctx, tx, sub); err != nil {
		return nil, err
	}
	s.logger.Info("subscription created from charge event",
		ports.String("subscription_id", sub.ID),
		ports.String("creator_id", creator.ID))
	return sub, nil
}

// bindProvider attaches the provider identifiers the first charge
// carries. Paystack authorization codes are encrypted before they touch
// the database.
func (s *Service) bindProvider(sub *domain.Subscription, provider domain.Provider, charge *domain.ChargeEventData) error {
	switch provider {
	case domain.ProviderStripe:
		if charge.ProviderSubscriptionID == "" {
			return nil
		}
		if sub.StripeSubscriptionID != nil && *sub.StripeSubscriptionID == charge.ProviderSubscriptionID {
			return nil
		}
		return sub.BindStripe(charge.ProviderSubscriptionID, charge.ProviderCustomerID)
	case domain.ProviderPaystack:
		if charge.AuthorizationCode == "" {
			return nil
		}
		if sub.PaystackAuthorization != nil && *sub.PaystackAuthorization != "" {
			return nil
		}
		encrypted, err := s.cipher.Encrypt(charge.AuthorizationCode)
		if err != nil {
			return domain.WrapError(domain.ErrorCodeInternalError, "encrypt authorization", err)
		}
		return sub.BindPaystack(encrypted)
	}
	return nil
}

// periodEndFor picks the period boundary a charge pays for. Providers
// that report one win; otherwise one calendar month from the charge.
func (s *Service) periodEndFor(sub *domain.Subscription, charge *domain.ChargeEventData, occurredAt time.Time) time.Time {
	if !charge.PeriodEnd.IsZero() {
		return charge.PeriodEnd
	}
	if sub.Interval == domain.IntervalOneTime {
		return occurredAt
	}
	return timeutil.NextMonth(occurredAt)
}
