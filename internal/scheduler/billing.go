package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/patronhq/payment-service/internal/domain"
	"github.com/patronhq/payment-service/internal/domain/ports"
	"github.com/patronhq/payment-service/internal/fees"
	"github.com/patronhq/payment-service/pkg/resilience"
	"github.com/patronhq/payment-service/pkg/timeutil"
)

const billingBatchSize = 500

// dunningCancelAfterDays is the grace period: a subscription still
// unpaid this many days past its period end is canceled. Retry days in
// between come from resilience.DunningSchedule.
const dunningCancelAfterDays = 7

// runBilling charges due Paystack renewals from their stored
// authorizations. Stripe renewals are provider-driven and arrive as
// invoice events; this job skips them.
func (d *Deps) runBilling(ctx context.Context) error {
	subs, err := d.Subscriptions.ListDueForBilling(ctx, nil, timeutil.Now(), billingBatchSize)
	if err != nil {
		return err
	}

	charged := 0
	for _, sub := range subs {
		if sub.CancelAtPeriodEnd || sub.Provider() != domain.ProviderPaystack {
			continue
		}
		if err := d.chargeRenewal(ctx, sub, 0); err != nil {
			if !domain.IsConflict(err) {
				d.Logger.Error("renewal charge failed",
					ports.String("subscription_id", sub.ID), ports.Err(err))
			}
			continue
		}
		charged++
	}

	if charged > 0 {
		d.Logger.Info("billing run complete", ports.Int("renewals_charged", charged))
	}
	return nil
}

// runDunning retries past-due Paystack renewals on the dunning schedule
// and cancels any subscription still unpaid after the grace period.
func (d *Deps) runDunning(ctx context.Context) error {
	subs, err := d.Subscriptions.ListPastDue(ctx, nil, billingBatchSize)
	if err != nil {
		return err
	}

	now := timeutil.Now()
	for _, sub := range subs {
		daysPast := int(now.Sub(sub.CurrentPeriodEnd).Hours() / 24)

		if daysPast >= dunningCancelAfterDays {
			if err := d.Applier.CancelLocal(ctx, sub.ID, domain.CancelReasonPaymentFailed); err != nil && !domain.IsConflict(err) {
				d.Logger.Error("dunning cancel failed",
					ports.String("subscription_id", sub.ID), ports.Err(err))
			}
			continue
		}

		// One payment-failed notice per unpaid period, regardless of
		// which provider runs the retries. The notification log keys on
		// the period so repeat sweeps stay quiet.
		notice := &ports.Notification{
			UserID:         sub.SubscriberID,
			SubscriptionID: sub.ID,
			Type:           "payment_failed_" + timeutil.PeriodKey(sub.CurrentPeriodEnd),
			Subject:        "your renewal payment failed",
			Data: map[string]interface{}{
				"amount_cents": sub.AmountCents,
				"currency":     sub.Currency,
				"days_past":    daysPast,
			},
		}
		if err := d.Notify.Send(ctx, notice); err != nil {
			d.Logger.Warn("payment failed notice not sent",
				ports.String("subscription_id", sub.ID), ports.Err(err))
		}

		if sub.Provider() != domain.ProviderPaystack {
			// Stripe runs its own dunning; we only mirror the outcome.
			continue
		}
		for _, offset := range resilience.DunningSchedule {
			if daysPast != offset {
				continue
			}
			if err := d.chargeRenewal(ctx, sub, offset); err != nil && !domain.IsConflict(err) {
				d.Logger.Warn("dunning retry failed",
					ports.String("subscription_id", sub.ID),
					ports.Int("day", offset), ports.Err(err))
			}
		}
	}
	return nil
}

// chargeRenewal charges one subscription's stored authorization and
// applies the result through the normal charge path. The reference
// embeds the period (and retry day), so replays and webhook deliveries
// collapse into one payment row.
func (d *Deps) chargeRenewal(ctx context.Context, sub *domain.Subscription, retryDay int) error {
	ref := renewalRef(sub.ID, sub.CurrentPeriodEnd, retryDay)

	// Charged already (crash after provider call, or webhook landed first).
	if _, err := d.Payments.GetByProviderRef(ctx, nil, domain.ProviderPaystack, ref); err == nil {
		return domain.NewDomainError(domain.ErrorCodeAlreadyProcessed, "renewal already charged")
	} else if !domain.IsNotFound(err) {
		return err
	}

	creator, err := d.Creators.GetByID(ctx, nil, sub.CreatorID)
	if err != nil {
		return err
	}
	if !creator.HasPaystack() {
		return domain.ErrProviderNotLinked
	}
	subscriber, err := d.Subscribers.GetByID(ctx, nil, sub.SubscriberID)
	if err != nil {
		return err
	}

	authorization, err := d.Cipher.Decrypt(*sub.PaystackAuthorization)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeInternalError, "decrypt authorization", err)
	}

	breakdown := fees.Calculate(fees.Input{
		BaseCents:   sub.AmountCents,
		Currency:    sub.Currency,
		Purpose:     creator.Purpose,
		FeeModel:    sub.FeeModel,
		FeeMode:     sub.FeeMode,
		CrossBorder: fees.IsCrossBorderCountry(creator.Country),
	})

	result, err := d.Transfers.ChargeAuthorization(ctx, &ports.ChargeRequest{
		AuthorizationCode: authorization,
		Email:             subscriber.Email,
		AmountCents:       breakdown.GrossCents,
		Currency:          sub.Currency,
		Reference:         ref,
		SubaccountCode:    *creator.PaystackSubaccountCode,
		Metadata: map[string]string{
			"creator_id": creator.ID,
			"interval":   string(sub.Interval),
		},
	})
	if err != nil {
		d.recordRenewalFailure(ctx, sub)
		return err
	}
	if result.Status != "success" {
		d.recordRenewalFailure(ctx, sub)
		return domain.NewDomainError(domain.ErrorCodeProviderPermanent, "authorization charge declined").
			WithDetail("status", result.Status)
	}

	event := &domain.ProviderEvent{
		Provider:   domain.ProviderPaystack,
		Key:        domain.ManualEventPrefix + ref,
		Kind:       domain.EventChargeSucceeded,
		RawType:    "billing.renewal",
		OccurredAt: result.PaidAt,
		Charge: &domain.ChargeEventData{
			Ref:             result.Ref,
			AmountCents:     result.AmountCents,
			Currency:        result.Currency,
			CreatorID:       creator.ID,
			SubscriberEmail: subscriber.Email,
			Interval:        sub.Interval,
			CrossBorder:     fees.IsCrossBorderCountry(creator.Country),
		},
	}
	if _, err := d.Applier.Apply(ctx, event); err != nil && !domain.IsConflict(err) {
		return err
	}
	return nil
}

// recordRenewalFailure mirrors a failed charge attempt onto the
// subscription so dunning and cleanup see it.
func (d *Deps) recordRenewalFailure(ctx context.Context, sub *domain.Subscription) {
	err := d.DB.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		fresh, err := d.Subscriptions.GetByID(ctx, tx, sub.ID)
		if err != nil {
			return err
		}
		if fresh.Status == domain.SubscriptionStatusActive {
			if err := fresh.MarkPastDue(fresh.CurrentPeriodEnd); err != nil {
				return err
			}
		}
		fresh.FailureRetryCount++
		return d.Subscriptions.Update(ctx, tx, fresh)
	})
	if err != nil && !domain.IsConflict(err) {
		d.Logger.Error("renewal failure not recorded",
			ports.String("subscription_id", sub.ID), ports.Err(err))
	}
}

func renewalRef(subscriptionID string, periodEnd time.Time, retryDay int) string {
	key := fmt.Sprintf("renewal_%s_%s", subscriptionID, timeutil.PeriodKey(periodEnd))
	if retryDay > 0 {
		key = fmt.Sprintf("%s_r%d", key, retryDay)
	}
	return key
}
