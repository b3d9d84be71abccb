package applier

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/patronhq/payment-service/internal/domain"
	"github.com/patronhq/payment-service/internal/domain/ports"
	"github.com/patronhq/payment-service/pkg/timeutil"
)

// applyCheckoutCompleted records a finished subscription-mode checkout.
// It writes no money: the charge arrives separately on the invoice-paid
// event. What it does write is the pending subscription bound to the
// provider identifiers, because the invoice payload carries neither
// creator nor payer and can only resolve through that binding.
func (s *Service) applyCheckoutCompleted(ctx context.Context, event *domain.ProviderEvent) error {
	checkout := event.Checkout
	if checkout.ProviderSubscriptionID == "" {
		return nil
	}

	return s.withSubjectLock(ctx, ports.SubscriptionLockKey(checkout.ProviderSubscriptionID), func(ctx context.Context) error {
		return s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
			sub, err := s.subs.GetByStripeSubscription(ctx, tx, checkout.ProviderSubscriptionID)
			if err == nil {
				// Invoice got here first; the binding already exists.
				if sub.StripeCustomerID != nil && *sub.StripeCustomerID != "" {
					return nil
				}
				if err := sub.BindStripe(checkout.ProviderSubscriptionID, checkout.ProviderCustomerID); err != nil {
					return err
				}
				return s.subs.Update(ctx, tx, sub)
			}
			if !domain.IsNotFound(err) {
				return err
			}

			if checkout.CreatorID == "" || checkout.SubscriberEmail == "" {
				s.logger.Warn("checkout completed without resolvable parties",
					ports.String("session_id", checkout.SessionID))
				return nil
			}

			subscriber, err := s.subscribers.GetOrCreateByEmail(ctx, tx, checkout.SubscriberEmail)
			if err != nil {
				return err
			}
			creator, err := s.creators.GetByID(ctx, tx, checkout.CreatorID)
			if err != nil {
				return err
			}

			if sub, err = s.subs.GetByParties(ctx, tx, creator.ID, subscriber.ID, checkout.Interval); err == nil {
				if err := sub.BindStripe(checkout.ProviderSubscriptionID, checkout.ProviderCustomerID); err != nil {
					return err
				}
				return s.subs.Update(ctx, tx, sub)
			}
			if !domain.IsNotFound(err) {
				return err
			}

			now := timeutil.Now()
			sub = &domain.Subscription{
				ID:           uuid.NewString(),
				CreatorID:    creator.ID,
				SubscriberID: subscriber.ID,
				AmountCents:  checkout.AmountCents,
				Currency:     checkout.Currency,
				Interval:     checkout.Interval,
				Status:       domain.SubscriptionStatusPending,
				FeeModel:     domain.FeeModelSplitV1,
				FeeMode:      creator.FeeMode,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := sub.BindStripe(checkout.ProviderSubscriptionID, checkout.ProviderCustomerID); err != nil {
				return err
			}
			return s.subs.Create(ctx, tx, sub)
		})
	})
}

// applyInvoiceFailed records a failed renewal attempt. The period guard
// in the domain keeps a stale failure from demoting a subscription whose
// current period is already paid.
func (s *Service) applyInvoiceFailed(ctx context.Context, event *domain.ProviderEvent) error {
	failure := event.Failure

	return s.withSubjectLock(ctx, ports.SubscriptionLockKey(failure.ProviderSubscriptionID), func(ctx context.Context) error {
		return s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
			sub, err := s.subs.GetByStripeSubscription(ctx, tx, failure.ProviderSubscriptionID)
			if err != nil {
				return err
			}

			switch sub.Status {
			case domain.SubscriptionStatusActive:
				if err := sub.MarkPastDue(failure.PeriodEnd); err != nil {
					return err
				}
			case domain.SubscriptionStatusPastDue:
				// Another attempt in the same dunning window.
			default:
				return domain.NewDomainError(domain.ErrorCodeInvalidTransition,
					"renewal failure for inactive subscription").
					WithDetail("status", string(sub.Status))
			}
			sub.FailureRetryCount++
			if err := s.subs.Update(ctx, tx, sub); err != nil {
				return err
			}

			return s.activities.Append(ctx, tx, &domain.Activity{
				ID:     uuid.NewString(),
				UserID: sub.CreatorID,
				Type:   domain.ActivityRenewalFailed,
				Payload: map[string]interface{}{
					"subscription_id": sub.ID,
					"attempt":         sub.FailureRetryCount,
				},
				CreatedAt: timeutil.Now(),
			})
		})
	})
}

// applySubscriptionChange mirrors provider-side subscription mutations:
// scheduled cancellation toggles and hard deletions.
func (s *Service) applySubscriptionChange(ctx context.Context, event *domain.ProviderEvent) error {
	change := event.Subscription

	return s.withSubjectLock(ctx, ports.SubscriptionLockKey(change.ProviderSubscriptionID), func(ctx context.Context) error {
		return s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
			sub, err := s.subs.GetByStripeSubscription(ctx, tx, change.ProviderSubscriptionID)
			if err != nil {
				return err
			}

			if change.CanceledNow || event.Kind == domain.EventSubscriptionDeleted {
				return s.cancelSubscription(ctx, tx, sub, domain.CancelReasonSubscriber)
			}

			if sub.IsCanceled() {
				return domain.NewDomainError(domain.ErrorCodeAlreadyProcessed, "subscription already canceled")
			}
			sub.CancelAtPeriodEnd = change.CancelAtPeriodEnd
			if change.CurrentPeriodEnd.After(sub.CurrentPeriodEnd) {
				sub.CurrentPeriodEnd = timeutil.ToUTC(change.CurrentPeriodEnd)
			}
			return s.subs.Update(ctx, tx, sub)
		})
	})
}

// cancelSubscription soft-cancels and keeps the creator's subscriber
// count in step. Shared by provider deletions and scheduler jobs.
func (s *Service) cancelSubscription(ctx context.Context, tx ports.DBTX, sub *domain.Subscription, reason domain.CancelReason) error {
	if sub.IsCanceled() {
		return domain.NewDomainError(domain.ErrorCodeAlreadyProcessed, "subscription already canceled")
	}
	wasCounted := sub.Status == domain.SubscriptionStatusActive ||
		sub.Status == domain.SubscriptionStatusPastDue

	sub.Cancel(reason)
	if err := s.subs.Update(ctx, tx, sub); err != nil {
		return err
	}

	if wasCounted {
		creator, err := s.creators.GetByID(ctx, tx, sub.CreatorID)
		if err != nil {
			return err
		}
		if creator.SubscriberCount > 0 {
			creator.SubscriberCount--
		}
		if err := s.creators.Update(ctx, tx, creator); err != nil {
			return err
		}
	}

	return s.activities.Append(ctx, tx, &domain.Activity{
		ID:     uuid.NewString(),
		UserID: sub.CreatorID,
		Type:   domain.ActivitySubscriptionEnded,
		Payload: map[string]interface{}{
			"subscription_id": sub.ID,
			"reason":          string(reason),
		},
		CreatedAt: timeutil.Now(),
	})
}

// CancelLocal cancels a subscription outside webhook flow, for the
// manage surface and scheduler jobs. It reuses the same transactional
// path provider deletions take.
func (s *Service) CancelLocal(ctx context.Context, subscriptionID string, reason domain.CancelReason) error {
	return s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		sub, err := s.subs.GetByID(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		return s.cancelSubscription(ctx, tx, sub, reason)
	})
}

// applyAccountUpdate mirrors provider account capability changes onto
// the creator's payout status.
func (s *Service) applyAccountUpdate(ctx context.Context, event *domain.ProviderEvent) error {
	account := event.Account

	return s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		creator, err := s.creators.GetByStripeAccount(ctx, tx, account.AccountID)
		if err != nil {
			return err
		}

		next := creator.PayoutStatus
		switch {
		case account.Restricted:
			next = domain.PayoutStatusRestricted
		case account.PayoutsEnabled:
			next = domain.PayoutStatusActive
		default:
			next = domain.PayoutStatusPending
		}
		if next == creator.PayoutStatus {
			return nil
		}

		s.logger.Info("creator payout status changed",
			ports.String("creator_id", creator.ID),
			ports.String("from", string(creator.PayoutStatus)),
			ports.String("to", string(next)))
		creator.PayoutStatus = next
		return s.creators.Update(ctx, tx, creator)
	})
}
