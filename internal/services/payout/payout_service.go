// Package payout moves creator balances out over the regional
// processor's transfer rails. The cardinal rule is record before
// transfer: the pending payout row exists before the provider call, so
// a crash between the two leaves evidence instead of silent money.
package payout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/patronhq/payment-service/internal/domain"
	"github.com/patronhq/payment-service/internal/domain/ports"
	"github.com/patronhq/payment-service/pkg/crypto"
	"github.com/patronhq/payment-service/pkg/observability"
	"github.com/patronhq/payment-service/pkg/timeutil"
)

// minPayoutCents is the smallest balance worth a transfer; anything
// below rolls into the next cycle.
const minPayoutCents = 1000

const payoutLockTTL = time.Minute

// Service initiates and finalizes payout transfers.
type Service struct {
	db        ports.DBPort
	creators  ports.CreatorRepository
	payments  ports.PaymentRepository
	transfers ports.TransferProvider
	locker    ports.Locker
	cipher    *crypto.Cipher
	logger    ports.Logger
}

// NewService creates a new payout service.
func NewService(
	db ports.DBPort,
	creators ports.CreatorRepository,
	payments ports.PaymentRepository,
	transfers ports.TransferProvider,
	locker ports.Locker,
	cipher *crypto.Cipher,
	logger ports.Logger,
) *Service {
	return &Service{
		db:        db,
		creators:  creators,
		payments:  payments,
		transfers: transfers,
		locker:    locker,
		cipher:    cipher,
		logger:    logger,
	}
}

// PayoutCreator pays one creator's accumulated net balance. Idempotent
// per payroll day: the synthesized provider event id embeds the date,
// so a rerun conflicts on the payout row and does nothing.
func (s *Service) PayoutCreator(ctx context.Context, creatorID string) (*domain.Payment, error) {
	lock, err := s.locker.Acquire(ctx, ports.PayoutLockKey(creatorID), payoutLockTTL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := lock.Release(context.WithoutCancel(ctx)); rerr != nil {
			s.logger.Warn("payout lock release failed", ports.String("creator_id", creatorID), ports.Err(rerr))
		}
	}()

	creator, err := s.creators.GetByID(ctx, nil, creatorID)
	if err != nil {
		return nil, err
	}
	if !creator.CanReceivePayouts() {
		return nil, domain.NewDomainError(domain.ErrorCodeInvalidRequest, "creator payouts not active").
			WithDetail("payout_status", string(creator.PayoutStatus))
	}

	amountCents, currency, err := s.payments.SumNetSinceLastPayout(ctx, nil, creatorID)
	if err != nil {
		return nil, err
	}
	if amountCents < minPayoutCents {
		return nil, domain.NewDomainError(domain.ErrorCodeBelowMinimum, "balance below payout minimum").
			WithDetail("balance_cents", amountCents)
	}
	if currency == "" {
		currency = creator.Currency
	}

	recipientCode, err := s.ensureRecipient(ctx, creator)
	if err != nil {
		return nil, err
	}

	payout := &domain.Payment{
		ID:              uuid.NewString(),
		CreatorID:       creator.ID,
		SubscriberID:    creator.ID,
		AmountCents:     -amountCents,
		Currency:        currency,
		GrossCents:      -amountCents,
		NetCents:        -amountCents,
		FeeModel:        domain.FeeModelSplitV1,
		Type:            domain.PaymentTypePayout,
		Status:          domain.PaymentStatusPending,
		ProviderEventID: payoutEventID(creator.ID, timeutil.Now()),
		ProviderRef:     "",
		Reporting: domain.Reporting{
			Currency:      "USD",
			ExchangeRate:  decimal.NewFromInt(1),
			RateSource:    domain.RateSourceCurrentRate,
			RateTimestamp: timeutil.Now(),
			IsEstimated:   currency != "USD",
		},
		OccurredAt: timeutil.Now(),
		CreatedAt:  timeutil.Now(),
	}
	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return s.payments.Create(ctx, tx, payout)
	})
	if err != nil {
		// A conflict means this payroll day already paid the creator.
		return nil, err
	}

	result, err := s.transfers.InitiateTransfer(ctx, &ports.TransferRequest{
		RecipientCode: recipientCode,
		AmountCents:   amountCents,
		Currency:      currency,
		Reference:     payout.ID,
		Reason:        "creator payout",
	})
	if err != nil {
		if ferr := payout.FailPayout(); ferr == nil {
			if uerr := s.payments.UpdateStatus(ctx, nil, payout); uerr != nil {
				s.logger.Error("payout row not marked failed",
					ports.String("payment_id", payout.ID), ports.Err(uerr))
			}
		}
		observability.RecordTransfer("failed")
		return nil, err
	}

	if result.RequiresOTP {
		if err := payout.RequireOTP(result.TransferCode); err != nil {
			return nil, err
		}
		if err := s.payments.UpdateStatus(ctx, nil, payout); err != nil {
			return nil, err
		}
		observability.RecordTransfer("otp_pending")
		s.logger.Warn("transfer requires OTP finalization",
			ports.String("creator_id", creator.ID),
			ports.String("transfer_code", result.TransferCode))
		return payout, nil
	}

	// Settlement comes from the transfer.success webhook; until then the
	// row stays pending with its transfer code attached.
	payout.TransferCode = result.TransferCode
	if err := s.payments.UpdateStatus(ctx, nil, payout); err != nil {
		return nil, err
	}
	observability.RecordTransfer("initiated")

	s.logger.Info("payout initiated",
		ports.String("creator_id", creator.ID),
		ports.Int64("amount_cents", amountCents),
		ports.String("currency", currency),
		ports.String("transfer_code", result.TransferCode))
	return payout, nil
}

// FinalizeOTP completes a parked transfer with the operator's OTP. The
// row still settles through the webhook, not here.
func (s *Service) FinalizeOTP(ctx context.Context, transferCode, otp string) error {
	payout, err := s.payments.GetByTransferCode(ctx, nil, transferCode)
	if err != nil {
		return err
	}
	if payout.Status != domain.PaymentStatusOTPPending {
		return domain.NewDomainError(domain.ErrorCodeInvalidTransition, "transfer is not awaiting OTP").
			WithDetail("status", string(payout.Status))
	}

	result, err := s.transfers.FinalizeTransfer(ctx, transferCode, otp)
	if err != nil {
		return err
	}
	s.logger.Info("transfer finalized",
		ports.String("transfer_code", transferCode),
		ports.String("status", result.Status))
	return nil
}

// RunPayroll pays every eligible creator of the given purpose. Errors
// are per-creator: one failure never stops the batch.
func (s *Service) RunPayroll(ctx context.Context, purpose domain.CreatorPurpose) (int, error) {
	creators, err := s.creators.ListPayoutCandidates(ctx, nil, purpose)
	if err != nil {
		return 0, err
	}

	paid := 0
	for _, creator := range creators {
		_, err := s.PayoutCreator(ctx, creator.ID)
		switch {
		case err == nil:
			paid++
		case domain.GetErrorCode(err) == domain.ErrorCodeBelowMinimum:
			// Nothing to pay; normal.
		case domain.IsConflict(err):
			// Already paid this cycle, or another worker is on it.
		default:
			s.logger.Error("payout failed",
				ports.String("creator_id", creator.ID), ports.Err(err))
		}
	}
	return paid, nil
}

// ensureRecipient resolves the provider transfer recipient, creating
// and caching it on first use. The bank account number is decrypted
// only for the provider call.
func (s *Service) ensureRecipient(ctx context.Context, creator *domain.Creator) (string, error) {
	if creator.PaystackRecipientCode != nil && *creator.PaystackRecipientCode != "" {
		return *creator.PaystackRecipientCode, nil
	}
	if creator.BankCode == nil || creator.BankAccountEncrypted == nil {
		return "", domain.NewDomainError(domain.ErrorCodeInvalidRequest, "creator has no bank details")
	}

	accountNumber, err := s.cipher.Decrypt(*creator.BankAccountEncrypted)
	if err != nil {
		return "", domain.WrapError(domain.ErrorCodeInternalError, "decrypt bank account", err)
	}

	code, err := s.transfers.EnsureRecipient(ctx, &ports.RecipientRequest{
		Name:          creator.Email,
		BankCode:      *creator.BankCode,
		AccountNumber: accountNumber,
		Currency:      creator.Currency,
	})
	if err != nil {
		return "", err
	}

	creator.PaystackRecipientCode = &code
	if err := s.creators.Update(ctx, nil, creator); err != nil {
		return "", err
	}
	s.logger.Info("transfer recipient created",
		ports.String("creator_id", creator.ID),
		ports.String("account_last4", crypto.Last4(accountNumber)))
	return code, nil
}

// payoutEventID is the payout row's idempotency key, one per creator
// per payroll day.
func payoutEventID(creatorID string, now time.Time) string {
	return fmt.Sprintf("%spayout_%s_%s", domain.ManualEventPrefix, creatorID, timeutil.PeriodKey(now))
}
