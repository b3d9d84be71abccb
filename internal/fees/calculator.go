// Package fees is the pure fee arithmetic core. All money is integer
// minor units; rates are decimals and rounding happens once, half up,
// at the final step.
package fees

import (
	"github.com/shopspring/decimal"

	"github.com/patronhq/payment-service/internal/domain"
)

// System fee rates.
var (
	// PlatformFeeRate is the domestic total platform take.
	PlatformFeeRate = decimal.NewFromFloat(0.09)
	// CrossBorderBuffer is added on cross-border corridors.
	CrossBorderBuffer = decimal.NewFromFloat(0.015)
	// SplitRate is the per-side rate under split_v1, domestic.
	SplitRate = decimal.NewFromFloat(0.045)
)

// Input selects how a fee breakdown is computed.
type Input struct {
	BaseCents   int64
	Currency    string
	Purpose     domain.CreatorPurpose
	FeeModel    domain.FeeModel
	FeeMode     domain.FeeMode
	CrossBorder bool
}

// Breakdown is the full result of a fee computation. Invariants:
// SubscriberFeeCents + CreatorFeeCents == FeeCents,
// BaseCents + SubscriberFeeCents == GrossCents,
// BaseCents - CreatorFeeCents == NetCents.
type Breakdown struct {
	BaseCents          int64
	GrossCents         int64
	FeeCents           int64
	NetCents           int64
	CreatorFeeCents    int64
	SubscriberFeeCents int64
	FeeModel           domain.FeeModel
	FeeMode            domain.FeeMode
	Currency           string
}

// Calculate computes the fee breakdown for a charge. New subscriptions
// use split_v1; legacy stays selectable for subscriptions that predate
// the split model.
func Calculate(in Input) Breakdown {
	model := in.FeeModel
	if model == "" {
		model = domain.FeeModelSplitV1
	}
	if model == domain.FeeModelLegacy {
		return calculateLegacy(in)
	}
	return calculateSplit(in)
}

func calculateSplit(in Input) Breakdown {
	side := SplitRate
	if in.CrossBorder {
		side = side.Add(CrossBorderBuffer.Div(decimal.NewFromInt(2)))
	}

	subscriberFee := roundCents(decimal.NewFromInt(in.BaseCents).Mul(side))
	creatorFee := roundCents(decimal.NewFromInt(in.BaseCents).Mul(side))

	return Breakdown{
		BaseCents:          in.BaseCents,
		GrossCents:         in.BaseCents + subscriberFee,
		FeeCents:           subscriberFee + creatorFee,
		NetCents:           in.BaseCents - creatorFee,
		CreatorFeeCents:    creatorFee,
		SubscriberFeeCents: subscriberFee,
		FeeModel:           domain.FeeModelSplitV1,
		FeeMode:            domain.FeeModeSplit,
		Currency:           in.Currency,
	}
}

func calculateLegacy(in Input) Breakdown {
	rate := PlatformFeeRate
	if in.CrossBorder {
		rate = rate.Add(CrossBorderBuffer)
	}
	fee := roundCents(decimal.NewFromInt(in.BaseCents).Mul(rate))

	mode := in.FeeMode
	if mode == "" {
		mode = domain.FeeModeAbsorb
	}

	b := Breakdown{
		BaseCents: in.BaseCents,
		FeeCents:  fee,
		FeeModel:  domain.FeeModelLegacy,
		FeeMode:   mode,
		Currency:  in.Currency,
	}
	switch mode {
	case domain.FeeModePassToSubscriber:
		b.GrossCents = in.BaseCents + fee
		b.NetCents = in.BaseCents
		b.SubscriberFeeCents = fee
	default: // absorb
		b.GrossCents = in.BaseCents
		b.NetCents = in.BaseCents - fee
		b.CreatorFeeCents = fee
	}
	return b
}

// ReverseProrated derives a refund breakdown from the original payment
// by ratio, so proportional refunds preserve the fee math under every
// mode. refundCents is positive; all returned amounts are positive and
// negated by the caller when writing the refund row.
func ReverseProrated(original Breakdown, refundCents int64) Breakdown {
	if original.GrossCents == 0 {
		return Breakdown{FeeModel: original.FeeModel, FeeMode: original.FeeMode, Currency: original.Currency}
	}

	gross := decimal.NewFromInt(original.GrossCents)
	fee := roundCents(decimal.NewFromInt(refundCents).Mul(decimal.NewFromInt(original.FeeCents)).Div(gross))
	// Net is the remainder so fee + net always equals the refunded gross.
	net := refundCents - fee
	creatorFee := roundCents(decimal.NewFromInt(refundCents).Mul(decimal.NewFromInt(original.CreatorFeeCents)).Div(gross))
	subscriberFee := fee - creatorFee

	return Breakdown{
		BaseCents:          refundCents - subscriberFee,
		GrossCents:         refundCents,
		FeeCents:           fee,
		NetCents:           net,
		CreatorFeeCents:    creatorFee,
		SubscriberFeeCents: subscriberFee,
		FeeModel:           original.FeeModel,
		FeeMode:            original.FeeMode,
		Currency:           original.Currency,
	}
}

// roundCents rounds half away from zero to whole minor units.
func roundCents(d decimal.Decimal) int64 {
	return d.Round(0).IntPart()
}
