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

// applyRefund writes the negative reversal row for a refunded charge
// and moves the original's status. The original's refunded-to-date
// counter makes partial refunds accumulate: only the increment beyond
// what was already reversed is written, so Stripe's cumulative totals
// and Paystack's per-refund amounts land the same way. LTV decrements
// clamp at zero inside the subscription.
func (s *Service) applyRefund(ctx context.Context, event *domain.ProviderEvent) (*string, error) {
	refund := event.Refund

	var created *domain.Payment
	err := s.withSubjectLock(ctx, ports.SubscriptionLockKey(refund.ChargeRef), func(ctx context.Context) error {
		return s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
			original, err := s.payments.GetByProviderRef(ctx, tx, event.Provider, refund.ChargeRef)
			if err != nil {
				return err
			}

			increment := refundIncrement(refund, original)
			if increment <= 0 {
				return domain.NewDomainError(domain.ErrorCodeAlreadyProcessed, "refund already recorded").
					WithDetail("payment_id", original.ID)
			}

			reversal, err := s.writeReversal(ctx, tx, event, original, increment, domain.PaymentStatusRefunded)
			if err != nil {
				return err
			}

			if err := original.MarkRefunded(original.RefundedCents + increment); err != nil {
				return err
			}
			if err := s.payments.UpdateStatus(ctx, tx, original); err != nil {
				return err
			}

			if err := s.activities.Append(ctx, tx, &domain.Activity{
				ID:     uuid.NewString(),
				UserID: original.CreatorID,
				Type:   domain.ActivityPaymentRefunded,
				Payload: map[string]interface{}{
					"payment_id":   original.ID,
					"refund_cents": increment,
					"currency":     original.Currency,
					"full_refund":  original.RefundedCents == original.GrossCents,
					"reversal_id":  reversal.ID,
					"provider":     string(event.Provider),
				},
				CreatedAt: timeutil.Now(),
			}); err != nil {
				return err
			}

			created = reversal
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	observability.RecordPayment(string(event.Provider), string(created.Type),
		string(created.Status), created.Currency, 0)
	return &created.ID, nil
}

// applyDisputeCreated parks the original payment in disputed and counts
// the dispute against the subscriber, blocking them at the threshold.
func (s *Service) applyDisputeCreated(ctx context.Context, event *domain.ProviderEvent) (*string, error) {
	dispute := event.Dispute

	var touched *domain.Payment
	err := s.withSubjectLock(ctx, ports.SubscriptionLockKey(dispute.ChargeRef), func(ctx context.Context) error {
		return s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
			original, err := s.payments.GetByProviderRef(ctx, tx, event.Provider, dispute.ChargeRef)
			if err != nil {
				return err
			}

			if err := original.MarkDisputed(); err != nil {
				return err
			}
			if err := s.payments.UpdateStatus(ctx, tx, original); err != nil {
				return err
			}

			if err := s.subscribers.IncrementDisputeCount(ctx, tx, original.SubscriberID); err != nil {
				return err
			}
			subscriber, err := s.subscribers.GetByID(ctx, tx, original.SubscriberID)
			if err != nil {
				return err
			}
			if subscriber.DisputeCount >= disputeBlockThreshold && !subscriber.IsBlocked() {
				reason := "dispute threshold exceeded"
				if err := s.subscribers.SetBlockedReason(ctx, tx, subscriber.ID, &reason); err != nil {
					return err
				}
				s.logger.Warn("subscriber blocked after repeated disputes",
					ports.String("subscriber_id", subscriber.ID),
					ports.Int("dispute_count", subscriber.DisputeCount))
			}

			if err := s.activities.Append(ctx, tx, &domain.Activity{
				ID:     uuid.NewString(),
				UserID: original.CreatorID,
				Type:   domain.ActivityPaymentDisputed,
				Payload: map[string]interface{}{
					"payment_id":  original.ID,
					"gross_cents": original.GrossCents,
					"currency":    original.Currency,
				},
				CreatedAt: timeutil.Now(),
			}); err != nil {
				return err
			}

			touched = original
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	observability.RecordPayment(string(event.Provider), string(touched.Type),
		string(domain.PaymentStatusDisputed), touched.Currency, 0)
	return &touched.ID, nil
}

// applyDisputeResolved closes a dispute. A loss additionally writes the
// full reversal row, because the provider has already clawed the funds
// back.
func (s *Service) applyDisputeResolved(ctx context.Context, event *domain.ProviderEvent, won bool) (*string, error) {
	dispute := event.Dispute

	var touched *domain.Payment
	err := s.withSubjectLock(ctx, ports.SubscriptionLockKey(dispute.ChargeRef), func(ctx context.Context) error {
		return s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
			original, err := s.payments.GetByProviderRef(ctx, tx, event.Provider, dispute.ChargeRef)
			if err != nil {
				return err
			}

			if err := original.ResolveDispute(won); err != nil {
				return err
			}
			if err := s.payments.UpdateStatus(ctx, tx, original); err != nil {
				return err
			}

			if !won {
				if _, err := s.writeReversal(ctx, tx, event, original, original.GrossCents, domain.PaymentStatusDisputeLost); err != nil {
					return err
				}
			}

			touched = original
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return &touched.ID, nil
}

// writeReversal creates the negative payment row for a refund or a lost
// dispute and pulls the reversed net back out of the subscription's
// lifetime value. The reporting rate is copied from the original so the
// reversal lands in the same USD terms the charge did.
func (s *Service) writeReversal(ctx context.Context, tx ports.DBTX, event *domain.ProviderEvent, original *domain.Payment, amountCents int64, status domain.PaymentStatus) (*domain.Payment, error) {
	rev := fees.ReverseProrated(breakdownOf(original), amountCents)

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = timeutil.Now()
	}

	creatorFee := -rev.CreatorFeeCents
	subscriberFee := -rev.SubscriberFeeCents
	reversal := &domain.Payment{
		ID:                 uuid.NewString(),
		SubscriptionID:     original.SubscriptionID,
		CreatorID:          original.CreatorID,
		SubscriberID:       original.SubscriberID,
		AmountCents:        -rev.BaseCents,
		Currency:           original.Currency,
		GrossCents:         -rev.GrossCents,
		FeeCents:           -rev.FeeCents,
		NetCents:           -rev.NetCents,
		CreatorFeeCents:    &creatorFee,
		SubscriberFeeCents: &subscriberFee,
		FeeModel:           original.FeeModel,
		Type:               original.Type,
		Status:             status,
		ProviderEventID:    event.Key,
		ProviderRef:        original.ProviderRef,
		Reporting:          reversalReporting(original.Reporting, rev, occurredAt),
		OccurredAt:         occurredAt,
		CreatedAt:          timeutil.Now(),
	}
	if err := s.payments.Create(ctx, tx, reversal); err != nil {
		return nil, err
	}

	if original.SubscriptionID != nil {
		sub, err := s.subs.GetByID(ctx, tx, *original.SubscriptionID)
		if err != nil {
			return nil, err
		}
		sub.ApplyLTV(-rev.NetCents)
		if err := s.subs.Update(ctx, tx, sub); err != nil {
			return nil, err
		}
	}
	return reversal, nil
}

// refundIncrement resolves the portion of the event not yet reversed.
// Cumulative events carry the refunded-to-date total; per-refund events
// carry just their own amount. Either way the result is capped at what
// the original still has open.
func refundIncrement(refund *domain.RefundEventData, original *domain.Payment) int64 {
	amount := refund.AmountCents
	if amount <= 0 || amount > original.GrossCents {
		amount = original.GrossCents
	}
	if refund.Cumulative {
		return amount - original.RefundedCents
	}
	remaining := original.RemainingRefundableCents()
	if amount > remaining {
		amount = remaining
	}
	return amount
}

// breakdownOf reconstructs the fee breakdown stored on a payment row.
func breakdownOf(p *domain.Payment) fees.Breakdown {
	b := fees.Breakdown{
		BaseCents:  p.AmountCents,
		GrossCents: p.GrossCents,
		FeeCents:   p.FeeCents,
		NetCents:   p.NetCents,
		FeeModel:   p.FeeModel,
		Currency:   p.Currency,
	}
	if p.CreatorFeeCents != nil {
		b.CreatorFeeCents = *p.CreatorFeeCents
	}
	if p.SubscriberFeeCents != nil {
		b.SubscriberFeeCents = *p.SubscriberFeeCents
	}
	return b
}

// reversalReporting converts a reversal at the original charge's rate.
func reversalReporting(original domain.Reporting, rev fees.Breakdown, occurredAt time.Time) domain.Reporting {
	rate := original.ExchangeRate
	rep := domain.Reporting{
		Currency:      "USD",
		ExchangeRate:  rate,
		RateSource:    domain.RateSourceOriginalPayment,
		RateTimestamp: occurredAt,
		IsEstimated:   original.IsEstimated,
	}
	rep.GrossCents = -toUSD(rev.GrossCents, rate)
	rep.FeeCents = -toUSD(rev.FeeCents, rate)
	rep.NetCents = rep.GrossCents - rep.FeeCents
	return rep
}
