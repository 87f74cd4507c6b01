package engine

import (
	"cosmossdk.io/math"

	"taskmarket/internal/domain"
)

// SlashingCurve maps remaining mineable supply to the fraction of total supply
// slashed from each contestation voter.
type SlashingCurve func(remaining math.Int) math.LegacyDec

// StepSlashingCurve slashes slash_amount_percentage once supply reaches the
// slashing threshold, and nothing before.
func StepSlashingCurve(p domain.Params) SlashingCurve {
	limit := p.MaxSupply.Sub(p.SlashingThreshold)
	pct := p.SlashAmountPercentage
	return func(remaining math.Int) math.LegacyDec {
		if remaining.LTE(limit) {
			return pct
		}
		return math.LegacyZeroDec()
	}
}

// SlashAmount applies curve to the remaining supply.
func SlashAmount(supply, maxSupply math.Int, curve SlashingCurve) math.Int {
	remaining := maxSupply.Sub(supply)
	if remaining.IsNegative() {
		remaining = math.ZeroInt()
	}
	pct := curve(remaining)
	if pct.IsNil() || !pct.IsPositive() {
		return math.ZeroInt()
	}
	return math.LegacyNewDecFromInt(supply).Mul(pct).TruncateInt()
}

// InSlashingMode reports whether supply has crossed the slashing threshold.
func InSlashingMode(supply math.Int, p domain.Params) bool {
	return supply.GTE(p.SlashingThreshold)
}

func (e Engine) curve(p domain.Params) SlashingCurve {
	if e.Slashing != nil {
		return e.Slashing
	}
	return StepSlashingCurve(p)
}
