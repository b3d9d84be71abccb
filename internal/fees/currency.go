package fees

import (
	"strings"

	"github.com/shopspring/decimal"
)

// zeroDecimalCurrencies is the closed set of currencies whose smallest
// unit equals the main unit; they skip the x100 conversion between
// display and minor units.
var zeroDecimalCurrencies = map[string]struct{}{
	"BIF": {}, "CLP": {}, "DJF": {}, "GNF": {}, "JPY": {}, "KMF": {},
	"KRW": {}, "MGA": {}, "PYG": {}, "RWF": {}, "UGX": {}, "VND": {},
	"VUV": {}, "XAF": {}, "XOF": {}, "XPF": {},
}

// crossBorderCountries route through the regional processor's extra
// FX/correspondent step and carry the 1.5% buffer.
var crossBorderCountries = map[string]struct{}{
	"NG": {}, "KE": {}, "ZA": {}, "GH": {},
}

// IsZeroDecimal reports whether currency has no minor unit.
func IsZeroDecimal(currency string) bool {
	_, ok := zeroDecimalCurrencies[strings.ToUpper(currency)]
	return ok
}

// IsCrossBorderCountry reports whether country (ISO 3166-1 alpha-2)
// incurs the cross-border buffer.
func IsCrossBorderCountry(country string) bool {
	_, ok := crossBorderCountries[strings.ToUpper(country)]
	return ok
}

// DisplayToMinor converts a display amount to minor units.
func DisplayToMinor(amount decimal.Decimal, currency string) int64 {
	if IsZeroDecimal(currency) {
		return amount.Round(0).IntPart()
	}
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// MinorToDisplay converts minor units to a display amount.
func MinorToDisplay(minor int64, currency string) decimal.Decimal {
	if IsZeroDecimal(currency) {
		return decimal.NewFromInt(minor)
	}
	return decimal.NewFromInt(minor).Div(decimal.NewFromInt(100))
}

// ConvertUSDCentsToLocal converts USD cents into local minor units at
// rate (local units per USD).
func ConvertUSDCentsToLocal(usdCents int64, rate decimal.Decimal, currency string) int64 {
	usd := decimal.NewFromInt(usdCents).Div(decimal.NewFromInt(100))
	local := usd.Mul(rate)
	return DisplayToMinor(local, currency)
}

// ConvertLocalCentsToUSD converts local minor units back to USD cents
// at rate. Round-trips with ConvertUSDCentsToLocal to within one cent.
func ConvertLocalCentsToUSD(localMinor int64, rate decimal.Decimal, currency string) int64 {
	local := MinorToDisplay(localMinor, currency)
	usd := local.Div(rate)
	return usd.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
