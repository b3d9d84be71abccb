package fees

import (
	"strings"

	"github.com/shopspring/decimal"
)

// countryCost captures what the platform pays per charge in a country:
// the processor percentage and the fixed monthly costs (processor fixed
// fee, payout fee) amortized across a creator's subscribers.
type countryCost struct {
	PercentCost decimal.Decimal // processor percentage of gross
	FixedCents  int64           // fixed monthly cost in USD cents
}

var countryCosts = map[string]countryCost{
	"US": {PercentCost: decimal.NewFromFloat(0.029), FixedCents: 55},
	"GB": {PercentCost: decimal.NewFromFloat(0.025), FixedCents: 45},
	"CA": {PercentCost: decimal.NewFromFloat(0.029), FixedCents: 55},
	"NG": {PercentCost: decimal.NewFromFloat(0.039), FixedCents: 180},
	"KE": {PercentCost: decimal.NewFromFloat(0.035), FixedCents: 160},
	"ZA": {PercentCost: decimal.NewFromFloat(0.031), FixedCents: 150},
	"GH": {PercentCost: decimal.NewFromFloat(0.039), FixedCents: 180},
}

var defaultCost = countryCost{PercentCost: decimal.NewFromFloat(0.031), FixedCents: 85}

const (
	// minimumStepCents: minimums are rounded up to the nearest $5.
	minimumStepCents = 500
	// crossBorderFloorCents is the hard floor for cross-border countries.
	crossBorderFloorCents = 1500
	domesticFloorCents    = 500
)

// Minimum is the creator-minimum calculator output, consumed by
// checkout validation and the /config/my-minimum read.
type Minimum struct {
	MinimumUSD    int64 // USD cents
	MinimumLocal  int64 // minor units of Currency
	Currency      string
	NetMarginRate decimal.Decimal
	FixedCents    int64
}

// MinimumForCreator computes the smallest monthly amount that keeps the
// platform margin positive for a creator in country with
// subscriberCount subscribers. usdRate converts the USD minimum into
// the creator's currency (local units per USD).
func MinimumForCreator(country, currency string, subscriberCount int, usdRate decimal.Decimal) Minimum {
	cost, ok := countryCosts[strings.ToUpper(country)]
	if !ok {
		cost = defaultCost
	}

	feeRate := PlatformFeeRate
	if IsCrossBorderCountry(country) {
		feeRate = feeRate.Add(CrossBorderBuffer)
	}
	netMargin := feeRate.Sub(cost.PercentCost)

	if subscriberCount < 1 {
		subscriberCount = 1
	}
	amortizedFixed := decimal.NewFromInt(cost.FixedCents).Div(decimal.NewFromInt(int64(subscriberCount)))

	// Smallest amount where margin covers the amortized fixed cost.
	var minUSD int64
	if netMargin.IsPositive() {
		minUSD = amortizedFixed.Div(netMargin).Ceil().IntPart()
	} else {
		minUSD = crossBorderFloorCents
	}

	// Round up to the nearest $5.
	if rem := minUSD % minimumStepCents; rem != 0 {
		minUSD += minimumStepCents - rem
	}

	floor := int64(domesticFloorCents)
	if IsCrossBorderCountry(country) {
		floor = crossBorderFloorCents
	}
	if minUSD < floor {
		minUSD = floor
	}

	local := minUSD
	if !strings.EqualFold(currency, "USD") && usdRate.IsPositive() {
		local = ConvertUSDCentsToLocal(minUSD, usdRate, currency)
	}

	return Minimum{
		MinimumUSD:    minUSD,
		MinimumLocal:  local,
		Currency:      strings.ToUpper(currency),
		NetMarginRate: netMargin,
		FixedCents:    cost.FixedCents,
	}
}

// RegionalFloor is the hard cross-border floor in local minor units.
// Checkouts routed to the regional processor use only this: its local
// rails don't carry the per-subscriber cost structure the dynamic
// minimum models. usdRate is local units per USD.
func RegionalFloor(currency string, usdRate decimal.Decimal) int64 {
	if strings.EqualFold(currency, "USD") || !usdRate.IsPositive() {
		return crossBorderFloorCents
	}
	return ConvertUSDCentsToLocal(crossBorderFloorCents, usdRate, currency)
}
