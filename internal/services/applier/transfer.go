package applier

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/patronhq/payment-service/internal/domain"
	"github.com/patronhq/payment-service/internal/domain/ports"
	"github.com/patronhq/payment-service/pkg/observability"
	"github.com/patronhq/payment-service/pkg/timeutil"
)

// applyTransfer settles payout transfer lifecycle events against the
// payout row written before the transfer was initiated. The transfer
// code is the join key; a transfer event with no matching row is a
// payout we never initiated and dead-letters for operator review.
func (s *Service) applyTransfer(ctx context.Context, event *domain.ProviderEvent) (*string, error) {
	transfer := event.Transfer

	var touched *domain.Payment
	err := s.withSubjectLock(ctx, ports.SubscriptionLockKey(transfer.TransferCode), func(ctx context.Context) error {
		return s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
			payout, err := s.payments.GetByTransferCode(ctx, tx, transfer.TransferCode)
			if err != nil {
				return err
			}

			switch event.Kind {
			case domain.EventTransferSucceeded:
				paidAt := transfer.PaidAt
				if paidAt.IsZero() {
					paidAt = event.OccurredAt
				}
				if err := payout.CompletePayout(paidAt); err != nil {
					return err
				}
				if err := s.payments.UpdateStatus(ctx, tx, payout); err != nil {
					return err
				}
				if err := s.activities.Append(ctx, tx, &domain.Activity{
					ID:     uuid.NewString(),
					UserID: payout.CreatorID,
					Type:   domain.ActivityPayoutCompleted,
					Payload: map[string]interface{}{
						"payment_id":   payout.ID,
						"amount_cents": -payout.AmountCents,
						"currency":     payout.Currency,
					},
					CreatedAt: timeutil.Now(),
				}); err != nil {
					return err
				}

			case domain.EventTransferFailed:
				if err := payout.FailPayout(); err != nil {
					return err
				}
				if err := s.payments.UpdateStatus(ctx, tx, payout); err != nil {
					return err
				}
				if err := s.activities.Append(ctx, tx, &domain.Activity{
					ID:     uuid.NewString(),
					UserID: payout.CreatorID,
					Type:   domain.ActivityPayoutFailed,
					Payload: map[string]interface{}{
						"payment_id":   payout.ID,
						"failure_code": transfer.FailureCode,
					},
					CreatedAt: timeutil.Now(),
				}); err != nil {
					return err
				}
				// Account-level failures (closed or invalid bank account)
				// stop further transfer attempts until the creator fixes
				// their details.
				if transfer.AccountLevel {
					creator, err := s.creators.GetByID(ctx, tx, payout.CreatorID)
					if err != nil {
						return err
					}
					if creator.PayoutStatus != domain.PayoutStatusRestricted {
						creator.PayoutStatus = domain.PayoutStatusRestricted
						if err := s.creators.Update(ctx, tx, creator); err != nil {
							return err
						}
						s.logger.Warn("creator payouts restricted after account-level transfer failure",
							ports.String("creator_id", creator.ID),
							ports.String("failure_code", transfer.FailureCode))
					}
				}

			case domain.EventTransferRequiresOTP:
				if payout.Status == domain.PaymentStatusOTPPending {
					return domain.NewDomainError(domain.ErrorCodeAlreadyProcessed, "transfer already awaiting OTP")
				}
				if err := payout.RequireOTP(transfer.TransferCode); err != nil {
					return err
				}
				if err := s.payments.UpdateStatus(ctx, tx, payout); err != nil {
					return err
				}
			}

			touched = payout
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	observability.RecordTransfer(string(touched.Status))
	return &touched.ID, nil
}
