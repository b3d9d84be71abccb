package fees

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patronhq/payment-service/internal/domain"
)

func TestCalculateSplitCrossBorder(t *testing.T) {
	// base 10000 USD cents, cross-border split_v1: 5.25% per side
	b := Calculate(Input{
		BaseCents:   10000,
		Currency:    "USD",
		FeeModel:    domain.FeeModelSplitV1,
		CrossBorder: true,
	})

	assert.Equal(t, int64(525), b.SubscriberFeeCents)
	assert.Equal(t, int64(525), b.CreatorFeeCents)
	assert.Equal(t, int64(1050), b.FeeCents)
	assert.Equal(t, int64(10525), b.GrossCents)
	assert.Equal(t, int64(9475), b.NetCents)
	assert.Equal(t, domain.FeeModelSplitV1, b.FeeModel)
}

func TestCalculateSplitDomestic(t *testing.T) {
	b := Calculate(Input{BaseCents: 10000, Currency: "USD"})

	assert.Equal(t, int64(450), b.SubscriberFeeCents)
	assert.Equal(t, int64(450), b.CreatorFeeCents)
	assert.Equal(t, int64(900), b.FeeCents)
	assert.Equal(t, int64(10450), b.GrossCents)
	assert.Equal(t, int64(9550), b.NetCents)
}

func TestCalculateLegacyAbsorb(t *testing.T) {
	b := Calculate(Input{
		BaseCents: 10000,
		Currency:  "USD",
		FeeModel:  domain.FeeModelLegacy,
		FeeMode:   domain.FeeModeAbsorb,
	})

	assert.Equal(t, int64(900), b.FeeCents)
	assert.Equal(t, int64(10000), b.GrossCents)
	assert.Equal(t, int64(9100), b.NetCents)
	assert.Equal(t, int64(0), b.SubscriberFeeCents)
}

func TestCalculateLegacyPassToSubscriber(t *testing.T) {
	b := Calculate(Input{
		BaseCents: 10000,
		Currency:  "USD",
		FeeModel:  domain.FeeModelLegacy,
		FeeMode:   domain.FeeModePassToSubscriber,
	})

	assert.Equal(t, int64(900), b.FeeCents)
	assert.Equal(t, int64(10900), b.GrossCents)
	assert.Equal(t, int64(10000), b.NetCents)
	assert.Equal(t, int64(0), b.CreatorFeeCents)
}

func TestCalculateLegacyCrossBorder(t *testing.T) {
	b := Calculate(Input{
		BaseCents:   10000,
		Currency:    "USD",
		FeeModel:    domain.FeeModelLegacy,
		FeeMode:     domain.FeeModeAbsorb,
		CrossBorder: true,
	})

	// 10.5% total on cross-border corridors
	assert.Equal(t, int64(1050), b.FeeCents)
}

// Fee engine property: for any amount and mode, the breakdown ties out.
func TestCalculateInvariants(t *testing.T) {
	amounts := []int64{100, 101, 333, 999, 5000, 12345, 99999, 1000001, 10000000}
	for _, base := range amounts {
		for _, cross := range []bool{false, true} {
			b := Calculate(Input{BaseCents: base, Currency: "USD", CrossBorder: cross})

			assert.Equal(t, b.FeeCents, b.SubscriberFeeCents+b.CreatorFeeCents,
				"split halves must sum to fee for base %d", base)
			assert.Equal(t, b.GrossCents, b.BaseCents+b.SubscriberFeeCents,
				"gross must be base plus subscriber fee for base %d", base)
			assert.Equal(t, b.NetCents, b.BaseCents-b.CreatorFeeCents,
				"net must be base minus creator fee for base %d", base)
			assert.Equal(t, b.GrossCents, b.FeeCents+b.NetCents,
				"fee plus net must equal gross for base %d", base)
		}
	}
}

func TestReverseProratedHalfRefund(t *testing.T) {
	original := Breakdown{
		GrossCents: 10450,
		FeeCents:   900,
		NetCents:   9550,
		FeeModel:   domain.FeeModelLegacy,
		Currency:   "USD",
	}

	r := ReverseProrated(original, 5225)

	assert.Equal(t, int64(5225), r.GrossCents)
	assert.Equal(t, int64(450), r.FeeCents)
	assert.Equal(t, int64(4775), r.NetCents)
}

func TestReverseProratedFullRefund(t *testing.T) {
	original := Calculate(Input{BaseCents: 10000, Currency: "USD", CrossBorder: true})

	r := ReverseProrated(original, original.GrossCents)

	assert.Equal(t, original.GrossCents, r.GrossCents)
	assert.Equal(t, original.FeeCents, r.FeeCents)
	assert.Equal(t, original.NetCents, r.NetCents)
	assert.Equal(t, original.CreatorFeeCents, r.CreatorFeeCents)
	assert.Equal(t, original.SubscriberFeeCents, r.SubscriberFeeCents)
}

func TestReverseProratedInvariants(t *testing.T) {
	original := Calculate(Input{BaseCents: 33333, Currency: "USD", CrossBorder: true})
	for _, refund := range []int64{1, 100, 1234, original.GrossCents / 3, original.GrossCents} {
		r := ReverseProrated(original, refund)

		assert.Equal(t, refund, r.FeeCents+r.NetCents, "fee plus net must equal refunded gross")
		assert.Equal(t, r.FeeCents, r.CreatorFeeCents+r.SubscriberFeeCents)
	}
}

func TestReverseProratedZeroGross(t *testing.T) {
	r := ReverseProrated(Breakdown{Currency: "USD"}, 500)
	assert.Zero(t, r.GrossCents)
	assert.Zero(t, r.FeeCents)
}

func TestZeroDecimalCurrencies(t *testing.T) {
	assert.True(t, IsZeroDecimal("JPY"))
	assert.True(t, IsZeroDecimal("krw"))
	assert.True(t, IsZeroDecimal("XOF"))
	assert.False(t, IsZeroDecimal("USD"))
	assert.False(t, IsZeroDecimal("NGN"))

	// JPY skips the x100 conversion
	assert.Equal(t, int64(1500), DisplayToMinor(decimal.NewFromInt(1500), "JPY"))
	assert.Equal(t, int64(150000), DisplayToMinor(decimal.NewFromInt(1500), "USD"))
	assert.True(t, MinorToDisplay(1500, "JPY").Equal(decimal.NewFromInt(1500)))
	assert.True(t, MinorToDisplay(150000, "USD").Equal(decimal.NewFromInt(1500)))
}

// Round-trip FX: local -> USD inverts USD -> local to within one cent.
func TestFXRoundTrip(t *testing.T) {
	rates := []decimal.Decimal{
		decimal.NewFromFloat(1),
		decimal.NewFromFloat(0.79),
		decimal.NewFromFloat(129.53),
		decimal.NewFromFloat(1580.25),
	}
	amounts := []int64{1, 99, 500, 12345, 1000000}

	for _, rate := range rates {
		for _, usdCents := range amounts {
			local := ConvertUSDCentsToLocal(usdCents, rate, "NGN")
			back := ConvertLocalCentsToUSD(local, rate, "NGN")

			diff := back - usdCents
			if diff < 0 {
				diff = -diff
			}
			assert.LessOrEqual(t, diff, int64(1),
				"round trip of %d cents at rate %s drifted by %d", usdCents, rate, diff)
		}
	}
}

func TestMinimumForCreatorDomestic(t *testing.T) {
	m := MinimumForCreator("US", "USD", 10, decimal.NewFromInt(1))

	require.True(t, m.NetMarginRate.IsPositive())
	// 55 cents fixed / 10 subscribers / 6.1% margin ~= 91 cents, rounded
	// up to the $5 step.
	assert.Equal(t, int64(500), m.MinimumUSD)
	assert.Equal(t, m.MinimumUSD, m.MinimumLocal)
	assert.Equal(t, "USD", m.Currency)
	assert.Equal(t, int64(55), m.FixedCents)
}

func TestMinimumForCreatorCrossBorderFloor(t *testing.T) {
	m := MinimumForCreator("NG", "NGN", 1000, decimal.NewFromFloat(1580.25))

	assert.GreaterOrEqual(t, m.MinimumUSD, int64(1500), "cross-border hard floor applies")
	assert.Equal(t, int64(0), m.MinimumUSD%500, "rounded to the nearest $5")
	assert.Greater(t, m.MinimumLocal, m.MinimumUSD, "NGN minimum is in local minor units")
}

func TestMinimumForCreatorZeroSubscribers(t *testing.T) {
	// Divide-by-zero guard: zero subscribers amortizes over one.
	m := MinimumForCreator("US", "USD", 0, decimal.NewFromInt(1))
	assert.Greater(t, m.MinimumUSD, int64(0))
}

func TestRegionalFloor(t *testing.T) {
	assert.Equal(t, int64(1500), RegionalFloor("USD", decimal.NewFromInt(1)))

	// $15 at ₦1500/$ is ₦22,500 in minor units
	assert.Equal(t, int64(2250000), RegionalFloor("NGN", decimal.NewFromInt(1500)))

	// no usable rate falls back to the USD floor
	assert.Equal(t, int64(1500), RegionalFloor("NGN", decimal.Zero))

	// stays well under the per-subscriber minimum for a small creator
	m := MinimumForCreator("NG", "NGN", 1, decimal.NewFromInt(1500))
	assert.Less(t, RegionalFloor("NGN", decimal.NewFromInt(1500)), m.MinimumLocal)
}
