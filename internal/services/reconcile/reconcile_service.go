// Package reconcile compares provider transaction history against the
// local ledger and heals gaps. A webhook can be lost; the nightly sweep
// guarantees every settled provider transaction eventually has a local
// payment row.
package reconcile

import (
	"context"
	"time"

	"github.com/patronhq/payment-service/internal/domain"
	"github.com/patronhq/payment-service/internal/domain/ports"
	"github.com/patronhq/payment-service/pkg/observability"
	"github.com/patronhq/payment-service/pkg/timeutil"
)

// DefaultWindow trails far enough behind the webhook retry budget that
// anything still missing is genuinely lost, not merely late.
const DefaultWindow = 48 * time.Hour

// Source is a provider that can be reconciled against.
type Source interface {
	Name() domain.Provider
	ports.ReconcilableProvider
}

// Applier replays a synthesized charge event through the normal
// application path, so healed rows get the same fees, activation and
// idempotency treatment as webhook-delivered ones.
type Applier interface {
	Apply(ctx context.Context, event *domain.ProviderEvent) (*string, error)
}

// Report summarizes one reconciliation run.
type Report struct {
	Checked     int
	MissingRows int
	Healed      int
	Mismatched  int
}

// Service runs the reconciliation sweep.
type Service struct {
	payments ports.PaymentRepository
	sources  []Source
	applier  Applier
	alerter  ports.Alerter
	logger   ports.Logger
}

// NewService creates a new reconciliation service.
func NewService(payments ports.PaymentRepository, sources []Source, applier Applier, alerter ports.Alerter, logger ports.Logger) *Service {
	return &Service{
		payments: payments,
		sources:  sources,
		applier:  applier,
		alerter:  alerter,
		logger:   logger,
	}
}

// Run sweeps every provider's transactions inside the window. Provider
// API failure aborts only that provider's sweep; local discrepancies
// never abort anything.
func (s *Service) Run(ctx context.Context, window time.Duration) (*Report, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	since := timeutil.Now().Add(-window)

	report := &Report{}
	for _, source := range s.sources {
		if err := s.sweepProvider(ctx, source, since, report); err != nil {
			s.logger.Error("provider sweep failed",
				ports.String("provider", string(source.Name())), ports.Err(err))
		}
	}

	if report.MissingRows > 0 || report.Mismatched > 0 {
		s.alert(ctx, report)
	}
	return report, nil
}

func (s *Service) sweepProvider(ctx context.Context, source Source, since time.Time, report *Report) error {
	provider := source.Name()
	transactions, err := source.ListTransactionsSince(ctx, since)
	if err != nil {
		return err
	}

	for _, tx := range transactions {
		if tx.Status != "success" && tx.Status != "succeeded" {
			continue
		}
		report.Checked++

		local, err := s.payments.GetByProviderRef(ctx, nil, provider, tx.Ref)
		switch {
		case err == nil:
			if tx.AmountCents != local.GrossCents {
				report.Mismatched++
				observability.RecordReconciliationDiscrepancy(string(provider), "amount_mismatch")
				s.logger.Warn("reconciliation amount mismatch",
					ports.String("ref", tx.Ref),
					ports.Int64("provider_cents", tx.AmountCents),
					ports.Int64("local_cents", local.GrossCents))
			}
		case domain.IsNotFound(err):
			report.MissingRows++
			observability.RecordReconciliationDiscrepancy(string(provider), "missing_local")
			if s.heal(ctx, provider, tx) {
				report.Healed++
				observability.RecordReconciliationDiscrepancy(string(provider), "healed")
			}
		default:
			return err
		}
	}
	return nil
}

// heal replays the missing transaction as a synthesized charge event.
// The manual key prefix keeps it distinct from any real provider event
// id while staying idempotent across reruns.
func (s *Service) heal(ctx context.Context, provider domain.Provider, tx ports.ProviderTransaction) bool {
	if tx.CreatorID == "" {
		s.logger.Error("missing payment not healable, no creator in metadata",
			ports.String("provider", string(provider)),
			ports.String("ref", tx.Ref))
		return false
	}

	verified, err := s.verify(ctx, provider, tx.Ref)
	if err != nil {
		s.logger.Error("transaction verify failed", ports.String("ref", tx.Ref), ports.Err(err))
		return false
	}

	event := &domain.ProviderEvent{
		Provider:   provider,
		Key:        domain.ManualEventPrefix + tx.Ref,
		Kind:       domain.EventChargeSucceeded,
		RawType:    "reconciliation.heal",
		OccurredAt: verified.OccurredAt,
		Charge: &domain.ChargeEventData{
			Ref:             tx.Ref,
			AmountCents:     verified.AmountCents,
			Currency:        verified.Currency,
			CreatorID:       tx.CreatorID,
			SubscriberEmail: verified.SubscriberEmail,
		},
	}

	if _, err := s.applier.Apply(ctx, event); err != nil {
		if domain.IsConflict(err) {
			return true
		}
		s.logger.Error("heal apply failed", ports.String("ref", tx.Ref), ports.Err(err))
		return false
	}

	s.logger.Info("missing payment healed",
		ports.String("provider", string(provider)),
		ports.String("ref", tx.Ref),
		ports.Int64("amount_cents", verified.AmountCents))
	return true
}

// verify re-fetches the single transaction before writing money from a
// list response.
func (s *Service) verify(ctx context.Context, provider domain.Provider, ref string) (*ports.ProviderTransaction, error) {
	for _, source := range s.sources {
		if source.Name() == provider {
			return source.VerifyTransaction(ctx, ref)
		}
	}
	return nil, domain.NewDomainError(domain.ErrorCodeProviderNotLinked, "no reconcilable source for provider")
}

func (s *Service) alert(ctx context.Context, report *Report) {
	if s.alerter == nil {
		return
	}
	err := s.alerter.Alert(ctx, "reconciliation", "reconciliation found discrepancies", map[string]interface{}{
		"checked":      report.Checked,
		"missing_rows": report.MissingRows,
		"healed":       report.Healed,
		"mismatched":   report.Mismatched,
	})
	if err != nil {
		s.logger.Warn("reconciliation alert failed", ports.Err(err))
	}
}
