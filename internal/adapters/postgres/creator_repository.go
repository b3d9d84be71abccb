package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/patronhq/payment-service/internal/domain"
	"github.com/patronhq/payment-service/internal/domain/ports"
)

// CreatorRepository implements ports.CreatorRepository with pgx.
type CreatorRepository struct {
	db ports.DBTX
}

// NewCreatorRepository creates a new creator repository
func NewCreatorRepository(db ports.DBPort) *CreatorRepository {
	return &CreatorRepository{db: db.GetDB()}
}

const creatorColumns = `
	id, email, country, currency, purpose, default_provider, fee_mode,
	stripe_account_id, paystack_subaccount_code, paystack_recipient_code,
	bank_code, bank_account_encrypted, bank_account_last4,
	price_cents, tiers, subscriber_count, payout_status,
	created_at, updated_at`

// GetByID retrieves a creator by its ID
func (r *CreatorRepository) GetByID(ctx context.Context, tx ports.DBTX, id string) (*domain.Creator, error) {
	q := queryer(tx, r.db)
	row := q.QueryRow(ctx, `SELECT `+creatorColumns+` FROM creators WHERE id = $1`, id)
	return scanCreator(row)
}

// GetByStripeAccount resolves the creator owning a connected account,
// used by account.updated webhooks.
func (r *CreatorRepository) GetByStripeAccount(ctx context.Context, tx ports.DBTX, accountID string) (*domain.Creator, error) {
	q := queryer(tx, r.db)
	row := q.QueryRow(ctx,
		`SELECT `+creatorColumns+` FROM creators WHERE stripe_account_id = $1`, accountID)
	return scanCreator(row)
}

// Update persists mutable creator fields.
func (r *CreatorRepository) Update(ctx context.Context, tx ports.DBTX, c *domain.Creator) error {
	q := queryer(tx, r.db)

	tiers, err := json.Marshal(c.Tiers)
	if err != nil {
		return domain.WrapError(domain.ErrorCodeInternalError, "marshal tiers", err)
	}

	_, err = q.Exec(ctx, `
		UPDATE creators SET
			email = $2, country = $3, currency = $4, purpose = $5,
			default_provider = $6, fee_mode = $7,
			stripe_account_id = $8, paystack_subaccount_code = $9,
			paystack_recipient_code = $10, bank_code = $11,
			bank_account_encrypted = $12, bank_account_last4 = $13,
			price_cents = $14, tiers = $15, subscriber_count = $16,
			payout_status = $17, updated_at = now()
		WHERE id = $1`,
		c.ID, c.Email, c.Country, c.Currency, string(c.Purpose),
		string(c.DefaultProvider), string(c.FeeMode),
		c.StripeAccountID, c.PaystackSubaccountCode,
		c.PaystackRecipientCode, c.BankCode,
		c.BankAccountEncrypted, c.BankAccountLast4,
		c.PriceCents, tiers, c.SubscriberCount, string(c.PayoutStatus),
	)
	if err != nil {
		return conflictOr(err, "update creator")
	}
	return nil
}

// ListPayoutCandidates returns payout-eligible creators of the given
// purpose, for the payroll job.
func (r *CreatorRepository) ListPayoutCandidates(ctx context.Context, tx ports.DBTX, purpose domain.CreatorPurpose) ([]*domain.Creator, error) {
	q := queryer(tx, r.db)
	rows, err := q.Query(ctx, `
		SELECT `+creatorColumns+` FROM creators
		WHERE purpose = $1 AND payout_status = 'active'
		ORDER BY created_at ASC`, string(purpose))
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "list payout candidates", err)
	}
	defer rows.Close()

	var creators []*domain.Creator
	for rows.Next() {
		c, err := scanCreator(rows)
		if err != nil {
			return nil, err
		}
		creators = append(creators, c)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "iterate creators", err)
	}
	return creators, nil
}

func scanCreator(row pgx.Row) (*domain.Creator, error) {
	var c domain.Creator
	var purpose, defaultProvider, feeMode, payoutStatus string
	var tiers []byte

	err := row.Scan(
		&c.ID, &c.Email, &c.Country, &c.Currency, &purpose, &defaultProvider, &feeMode,
		&c.StripeAccountID, &c.PaystackSubaccountCode, &c.PaystackRecipientCode,
		&c.BankCode, &c.BankAccountEncrypted, &c.BankAccountLast4,
		&c.PriceCents, &tiers, &c.SubscriberCount, &payoutStatus,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCreatorNotFound
		}
		return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "scan creator", err)
	}

	c.Purpose = domain.CreatorPurpose(purpose)
	c.DefaultProvider = domain.Provider(defaultProvider)
	c.FeeMode = domain.FeeMode(feeMode)
	c.PayoutStatus = domain.PayoutStatus(payoutStatus)
	if len(tiers) > 0 {
		if err := json.Unmarshal(tiers, &c.Tiers); err != nil {
			return nil, domain.WrapError(domain.ErrorCodeDatabaseError, "unmarshal tiers", err)
		}
	}
	return &c, nil
}
