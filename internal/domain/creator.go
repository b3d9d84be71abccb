package domain

import "time"

// Provider identifies a connected payment processor.
type Provider string

const (
	ProviderStripe   Provider = "stripe"   // global card processor
	ProviderPaystack Provider = "paystack" // regional processor
)

// CreatorPurpose distinguishes personal pages from service businesses.
// Service creators are paid out on the payroll schedule (1st and 16th).
type CreatorPurpose string

const (
	PurposePersonal CreatorPurpose = "personal"
	PurposeService  CreatorPurpose = "service"
)

// PayoutStatus gates whether transfers may be initiated for a creator.
type PayoutStatus string

const (
	PayoutStatusPending    PayoutStatus = "pending"
	PayoutStatusActive     PayoutStatus = "active"
	PayoutStatusRestricted PayoutStatus = "restricted"
	PayoutStatusDisabled   PayoutStatus = "disabled"
)

// PriceTier is a creator-configured price point subscribers can pick.
type PriceTier struct {
	ID          string
	Name        string
	AmountCents int64
}

// Creator is a tenant of the platform with up to two connected providers.
type Creator struct {
	ID              string
	Email           string
	Country         string
	Currency        string
	Purpose         CreatorPurpose
	DefaultProvider Provider
	FeeMode         FeeMode

	// Provider account handles. At most one of each kind.
	StripeAccountID        *string
	PaystackSubaccountCode *string
	PaystackRecipientCode  *string

	// Bank details for Paystack transfers. The account number is stored
	// AES-GCM encrypted; only the last 4 digits ever reach logs.
	BankCode             *string
	BankAccountEncrypted *string
	BankAccountLast4     string

	PriceCents      int64
	Tiers           []PriceTier
	SubscriberCount int
	PayoutStatus    PayoutStatus

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasStripe reports whether the creator has a connected Stripe account.
func (c *Creator) HasStripe() bool {
	return c.StripeAccountID != nil && *c.StripeAccountID != ""
}

// HasPaystack reports whether the creator has a connected Paystack subaccount.
func (c *Creator) HasPaystack() bool {
	return c.PaystackSubaccountCode != nil && *c.PaystackSubaccountCode != ""
}

// ConnectedProviders returns the providers the creator can collect with.
func (c *Creator) ConnectedProviders() []Provider {
	var providers []Provider
	if c.HasStripe() {
		providers = append(providers, ProviderStripe)
	}
	if c.HasPaystack() {
		providers = append(providers, ProviderPaystack)
	}
	return providers
}

// CanReceivePayouts reports whether transfers may be initiated.
func (c *Creator) CanReceivePayouts() bool {
	return c.PayoutStatus == PayoutStatusActive
}

// MatchesPrice reports whether amountCents matches the creator's single
// price or one of its tiers, within ±1 minor unit for rounding noise.
func (c *Creator) MatchesPrice(amountCents int64, tierID string) bool {
	if tierID != "" {
		for _, t := range c.Tiers {
			if t.ID == tierID {
				return within(amountCents, t.AmountCents, 1)
			}
		}
		return false
	}
	if c.PriceCents > 0 && within(amountCents, c.PriceCents, 1) {
		return true
	}
	for _, t := range c.Tiers {
		if within(amountCents, t.AmountCents, 1) {
			return true
		}
	}
	return false
}

func within(a, b, tolerance int64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= tolerance
}
