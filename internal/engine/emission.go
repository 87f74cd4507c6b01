package engine

import (
	gomath "math"
	"strconv"

	"cosmossdk.io/math"

	"taskmarket/internal/domain"
)

// HalvingPeriod is the emission half-life in seconds.
const HalvingPeriod = 2 * 365 * 24 * 60 * 60

var (
	difficultyCeiling = domain.Tokens(50000)
	difficultyScale   = domain.Tokens(10000)
	maxDifficulty     = math.LegacyNewDec(100)
)

func decFromFloat(f float64) math.LegacyDec {
	return math.LegacyMustNewDecFromStr(strconv.FormatFloat(f, 'f', 18, 64))
}

// TargetTotalSupply is the emission schedule: maxSupply − maxSupply/2^(elapsed/halving).
func TargetTotalSupply(maxSupply math.Int, elapsed int64) math.Int {
	if elapsed < 0 {
		elapsed = 0
	}
	factor := gomath.Exp2(-float64(elapsed) / HalvingPeriod)
	return maxSupply.Sub(math.LegacyNewDecFromInt(maxSupply).Mul(decFromFloat(factor)).TruncateInt())
}

// DifficultyMultiplier boosts rewards while supply trails the schedule and stops
// them once supply runs 50 000 tokens ahead.
func DifficultyMultiplier(target, supply math.Int) math.LegacyDec {
	if supply.GTE(target.Add(difficultyCeiling)) {
		return math.LegacyZeroDec()
	}
	x, err := math.LegacyNewDecFromInt(target.Sub(supply)).QuoInt(difficultyScale).Float64()
	if err != nil {
		return math.LegacyZeroDec()
	}
	m := decFromFloat(gomath.Exp2(x))
	if m.GT(maxDifficulty) {
		return maxDifficulty
	}
	return m
}

// Reward is the per-solution emission at elapsed seconds since start, before the model rate.
func Reward(maxSupply math.Int, elapsed int64, supply math.Int) math.Int {
	if supply.GTE(maxSupply) || !maxSupply.IsPositive() {
		return math.ZeroInt()
	}
	diff := DifficultyMultiplier(TargetTotalSupply(maxSupply, elapsed), supply)
	return math.LegacyNewDecFromInt(maxSupply.Sub(supply)).
		QuoInt(maxSupply).
		MulInt(domain.OneToken).
		Mul(diff).
		TruncateInt()
}
