package scheduler

import (
	"context"
	"time"

	"github.com/patronhq/payment-service/internal/domain"
	"github.com/patronhq/payment-service/internal/domain/ports"
	"github.com/patronhq/payment-service/internal/services/applier"
	"github.com/patronhq/payment-service/internal/services/payout"
	"github.com/patronhq/payment-service/internal/services/reconcile"
	"github.com/patronhq/payment-service/pkg/crypto"
	"github.com/patronhq/payment-service/pkg/resilience"
	"github.com/patronhq/payment-service/pkg/timeutil"
)

// BalanceSource is a provider whose balance the sync job caches.
type BalanceSource interface {
	Name() domain.Provider
	Balance(ctx context.Context, creator *domain.Creator) (int64, string, error)
}

// EventRetrier replays a stored webhook event. The ingest service is
// the production implementation.
type EventRetrier interface {
	Retry(ctx context.Context, provider domain.Provider, eventID string) error
}

// NotificationSender delivers a due notice, suppressing repeats by the
// notification's type key. The notify service is the production
// implementation.
type NotificationSender interface {
	Send(ctx context.Context, n *ports.Notification) error
}

// Deps carries everything the job set touches.
type Deps struct {
	DB            ports.DBPort
	Subscriptions ports.SubscriptionRepository
	Creators      ports.CreatorRepository
	Subscribers   ports.SubscriberRepository
	Payments      ports.PaymentRepository
	Events        ports.WebhookEventRepository

	Applier   *applier.Service
	Ingest    EventRetrier
	Payout    *payout.Service
	Reconcile *reconcile.Service
	Notify    NotificationSender

	Transfers      ports.TransferProvider
	BalanceSources []BalanceSource
	Balances       ports.BalanceCache
	Alerter        ports.Alerter
	Cipher         *crypto.Cipher
	Logger         ports.Logger
}

// reminderOffsets are the day marks a renewal reminder goes out at.
var reminderOffsets = []int{7, 3, 1}

// stalePendingAge is how long a pending subscription may sit without a
// successful charge before cleanup cancels it.
const stalePendingAge = 7 * 24 * time.Hour

// stuckOTPAge is how long a transfer may wait on OTP before the
// monitor raises an alert.
const stuckOTPAge = time.Hour

// BuildJobs assembles the full job set.
func BuildJobs(d *Deps) []Job {
	return []Job{
		{
			Name:     "billing",
			Interval: time.Hour,
			LeaseTTL: 30 * time.Minute,
			Run:      d.runBilling,
		},
		{
			Name:     "dunning",
			Interval: 6 * time.Hour,
			LeaseTTL: 30 * time.Minute,
			Run:      d.runDunning,
		},
		{
			Name:     "webhook-retries",
			Interval: 5 * time.Minute,
			Run:      d.runWebhookRetries,
		},
		{
			Name:     "cancellations",
			Interval: time.Hour,
			Run:      d.runCancellations,
		},
		{
			Name:     "cancellation-notices",
			Interval: 6 * time.Hour,
			Run:      d.runCancellationNotices,
		},
		{
			Name:     "renewal-reminders",
			Interval: time.Hour,
			ShouldRun: func(now time.Time) bool {
				return now.Hour() == 9
			},
			Run: d.runReminders,
		},
		{
			Name:     "payroll",
			Interval: time.Hour,
			LeaseTTL: 30 * time.Minute,
			ShouldRun: func(now time.Time) bool {
				return (now.Day() == 1 || now.Day() == 16) && now.Hour() == 6
			},
			Run: d.runPayroll,
		},
		{
			Name:     "transfers-monitor",
			Interval: 15 * time.Minute,
			Run:      d.runTransfersMonitor,
		},
		{
			Name:     "reconciliation",
			Interval: time.Hour,
			LeaseTTL: 45 * time.Minute,
			ShouldRun: func(now time.Time) bool {
				return now.Hour() == 2
			},
			Run: d.runReconciliation,
		},
		{
			Name:     "cleanup",
			Interval: 12 * time.Hour,
			Run:      d.runCleanup,
		},
		{
			Name:     "sync-balances",
			Interval: 30 * time.Minute,
			Run:      d.runSyncBalances,
		},
		{
			Name:     "stats-aggregate",
			Interval: time.Hour,
			ShouldRun: func(now time.Time) bool {
				return now.Hour() == 1
			},
			Run: d.runStatsAggregate,
		},
	}
}

// runWebhookRetries re-applies failed events still inside the retry
// budget. Each event waits out its exponential backoff, measured from
// its last attempt, before the sweep picks it up again.
func (d *Deps) runWebhookRetries(ctx context.Context) error {
	events, err := d.Events.ListRetryable(ctx, nil, 50)
	if err != nil {
		return err
	}
	backoff := resilience.WebhookBackoff()
	now := timeutil.Now()
	for _, e := range events {
		if now.Before(e.UpdatedAt.Add(backoff.NextDelay(e.RetryCount))) {
			continue
		}
		if err := d.Ingest.Retry(ctx, e.Provider, e.EventID); err != nil {
			d.Logger.Warn("event retry failed",
				ports.String("event_id", e.EventID), ports.Err(err))
		}
	}
	return nil
}

// runCancellations ends subscriptions flagged cancel-at-period-end once
// the paid period runs out.
func (d *Deps) runCancellations(ctx context.Context) error {
	subs, err := d.Subscriptions.ListDueForBilling(ctx, nil, timeutil.Now(), 500)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		if !sub.CancelAtPeriodEnd {
			continue
		}
		if err := d.Applier.CancelLocal(ctx, sub.ID, domain.CancelReasonSubscriber); err != nil && !domain.IsConflict(err) {
			d.Logger.Error("scheduled cancel failed",
				ports.String("subscription_id", sub.ID), ports.Err(err))
		}
	}
	return nil
}

// runCancellationNotices tells subscribers their subscription ended.
// The trailing window overlaps successive runs; the notification log
// keys on the subscription id so each cancellation notifies once.
func (d *Deps) runCancellationNotices(ctx context.Context) error {
	since := timeutil.Now().Add(-24 * time.Hour)
	subs, err := d.Subscriptions.ListCanceledSince(ctx, nil, since)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		n := &ports.Notification{
			UserID:         sub.SubscriberID,
			SubscriptionID: sub.ID,
			Type:           "subscription_canceled_" + sub.ID,
			Subject:        "your subscription has ended",
			Data: map[string]interface{}{
				"creator_id": sub.CreatorID,
				"reason":     string(sub.CancelReason),
			},
		}
		if err := d.Notify.Send(ctx, n); err != nil {
			d.Logger.Warn("cancellation notice failed",
				ports.String("subscription_id", sub.ID), ports.Err(err))
		}
	}
	return nil
}

// runReminders notifies subscribers of upcoming renewals at 7, 3 and 1
// days out. The notification log keys on the reminder type, which
// embeds the period, so each reminder fires once per period.
func (d *Deps) runReminders(ctx context.Context) error {
	now := timeutil.Now()
	subs, err := d.Subscriptions.ListRenewingWithin(ctx, nil, now, now.AddDate(0, 0, 8))
	if err != nil {
		return err
	}

	for _, sub := range subs {
		if sub.CancelAtPeriodEnd || !sub.IsActive() {
			continue
		}
		for _, offset := range reminderOffsets {
			target := sub.CurrentPeriodEnd.AddDate(0, 0, -offset)
			if !sameDay(target, now) {
				continue
			}
			n := &ports.Notification{
				UserID:         sub.SubscriberID,
				SubscriptionID: sub.ID,
				Type:           timeutil.ReminderKey(sub.CurrentPeriodEnd, offset),
				Subject:        "your subscription renews soon",
				Data: map[string]interface{}{
					"amount_cents": sub.AmountCents,
					"currency":     sub.Currency,
					"renews_at":    sub.CurrentPeriodEnd,
				},
			}
			if err := d.Notify.Send(ctx, n); err != nil {
				d.Logger.Warn("renewal reminder failed",
					ports.String("subscription_id", sub.ID), ports.Err(err))
			}
		}
	}
	return nil
}

// runPayroll pays service creators on the 1st and 16th; personal
// creators are paid monthly on the 1st.
func (d *Deps) runPayroll(ctx context.Context) error {
	now := timeutil.Now()

	paid, err := d.Payout.RunPayroll(ctx, domain.PurposeService)
	if err != nil {
		return err
	}
	total := paid

	if now.Day() == 1 {
		paid, err = d.Payout.RunPayroll(ctx, domain.PurposePersonal)
		if err != nil {
			return err
		}
		total += paid
	}

	d.Logger.Info("payroll run complete", ports.Int("creators_paid", total))
	return nil
}

// runTransfersMonitor alerts on transfers stuck awaiting OTP and on an
// elevated transfer failure rate.
func (d *Deps) runTransfersMonitor(ctx context.Context) error {
	stuck, err := d.Payments.ListPayoutsInStatus(ctx, nil, domain.PaymentStatusOTPPending)
	if err != nil {
		return err
	}
	for _, p := range stuck {
		if !timeutil.OlderThan(p.CreatedAt, stuckOTPAge) {
			continue
		}
		d.alert(ctx, "transfers", "transfer stuck awaiting OTP", map[string]interface{}{
			"payment_id":    p.ID,
			"creator_id":    p.CreatorID,
			"transfer_code": p.TransferCode,
			"age":           timeutil.Now().Sub(p.CreatedAt).String(),
		})
	}

	recent, err := d.Payments.ListRecentPayouts(ctx, nil, 20)
	if err != nil {
		return err
	}
	if len(recent) < 5 {
		return nil
	}
	failed := 0
	for _, p := range recent {
		if p.Status == domain.PaymentStatusFailed {
			failed++
		}
	}
	if failed*5 > len(recent) {
		d.alert(ctx, "transfers", "elevated transfer failure rate", map[string]interface{}{
			"failed": failed,
			"window": len(recent),
		})
	}
	return nil
}

// runReconciliation sweeps the last two days of provider transactions.
func (d *Deps) runReconciliation(ctx context.Context) error {
	report, err := d.Reconcile.Run(ctx, reconcile.DefaultWindow)
	if err != nil {
		return err
	}
	d.Logger.Info("reconciliation complete",
		ports.Int("checked", report.Checked),
		ports.Int("missing", report.MissingRows),
		ports.Int("healed", report.Healed),
		ports.Int("mismatched", report.Mismatched))
	return nil
}

// runCleanup cancels pending subscriptions whose checkout never
// completed.
func (d *Deps) runCleanup(ctx context.Context) error {
	cutoff := timeutil.Now().Add(-stalePendingAge)
	subs, err := d.Subscriptions.ListStalePending(ctx, nil, cutoff)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		if err := d.Applier.CancelLocal(ctx, sub.ID, domain.CancelReasonPendingTimeout); err != nil && !domain.IsConflict(err) {
			d.Logger.Error("stale pending cancel failed",
				ports.String("subscription_id", sub.ID), ports.Err(err))
		}
	}
	if len(subs) > 0 {
		d.Logger.Info("stale pending subscriptions canceled", ports.Int("count", len(subs)))
	}
	return nil
}

// runSyncBalances refreshes cached provider balances for payout-active
// creators.
func (d *Deps) runSyncBalances(ctx context.Context) error {
	for _, purpose := range []domain.CreatorPurpose{domain.PurposePersonal, domain.PurposeService} {
		creators, err := d.Creators.ListPayoutCandidates(ctx, nil, purpose)
		if err != nil {
			return err
		}
		for _, creator := range creators {
			for _, source := range d.BalanceSources {
				if !creatorHasProvider(creator, source.Name()) {
					continue
				}
				amount, currency, err := source.Balance(ctx, creator)
				if err != nil {
					d.Logger.Warn("balance fetch failed",
						ports.String("creator_id", creator.ID),
						ports.String("provider", string(source.Name())), ports.Err(err))
					continue
				}
				if err := d.Balances.SetBalance(ctx, creator.ID, source.Name(), amount, currency); err != nil {
					d.Logger.Warn("balance cache write failed",
						ports.String("creator_id", creator.ID), ports.Err(err))
				}
			}
		}
	}
	return nil
}

// runStatsAggregate rolls yesterday's payments into the daily stats
// table.
func (d *Deps) runStatsAggregate(ctx context.Context) error {
	yesterday := timeutil.StartOfDay(timeutil.Now().AddDate(0, 0, -1))
	return d.Payments.AggregateDaily(ctx, nil, yesterday)
}

func (d *Deps) alert(ctx context.Context, topic, message string, fields map[string]interface{}) {
	if d.Alerter == nil {
		return
	}
	if err := d.Alerter.Alert(ctx, topic, message, fields); err != nil {
		d.Logger.Warn("alert delivery failed", ports.Err(err))
	}
}

func creatorHasProvider(c *domain.Creator, p domain.Provider) bool {
	switch p {
	case domain.ProviderStripe:
		return c.HasStripe()
	case domain.ProviderPaystack:
		return c.HasPaystack()
	}
	return false
}

func sameDay(a, b time.Time) bool {
	return timeutil.StartOfDay(a).Equal(timeutil.StartOfDay(b))
}
