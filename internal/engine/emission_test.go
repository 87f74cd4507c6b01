package engine_test

import (
	"testing"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"taskmarket/internal/config"
	"taskmarket/internal/domain"
	"taskmarket/internal/engine"
)

var maxSupply = domain.Tokens(600000)

func TestTargetTotalSupplyHalves(t *testing.T) {
	require.True(t, engine.TargetTotalSupply(maxSupply, 0).IsZero())
	require.Equal(t, domain.Tokens(300000).String(), engine.TargetTotalSupply(maxSupply, engine.HalvingPeriod).String())
	require.Equal(t, domain.Tokens(450000).String(), engine.TargetTotalSupply(maxSupply, 2*engine.HalvingPeriod).String())
	require.True(t, engine.TargetTotalSupply(maxSupply, -5).IsZero())
}

func TestDifficultyMultiplier(t *testing.T) {
	target := domain.Tokens(100000)
	cases := []struct {
		name   string
		supply math.Int
		want   string
	}{
		{"on schedule", target, "1"},
		{"behind by one scale", domain.Tokens(90000), "2"},
		{"far behind caps", domain.Tokens(0), "100"},
		{"ahead below ceiling", domain.Tokens(120000), "0.25"},
		{"at ceiling", domain.Tokens(150000), "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := engine.DifficultyMultiplier(target, tc.supply)
			require.True(t, math.LegacyMustNewDecFromStr(tc.want).Equal(got), "got %s", got)
		})
	}
}

func TestRewardDecaysWithSupply(t *testing.T) {
	require.Equal(t, domain.OneToken.String(), engine.Reward(maxSupply, 0, math.ZeroInt()).String())
	require.True(t, engine.Reward(maxSupply, 0, maxSupply).IsZero())
	require.True(t, engine.Reward(maxSupply, 0, domain.Tokens(60000)).IsZero())

	early := engine.Reward(maxSupply, engine.HalvingPeriod, domain.Tokens(290000))
	late := engine.Reward(maxSupply, engine.HalvingPeriod, domain.Tokens(310000))
	require.True(t, early.GT(late))
}

func TestStepSlashingCurve(t *testing.T) {
	p, err := config.Default().Params()
	require.NoError(t, err)
	curve := engine.StepSlashingCurve(p)

	require.True(t, curve(maxSupply).IsZero())
	require.True(t, p.SlashAmountPercentage.Equal(curve(maxSupply.Sub(p.SlashingThreshold))))

	require.True(t, engine.SlashAmount(domain.Tokens(1000), p.MaxSupply, curve).IsZero())
	require.Equal(t, domain.MustAmount("0.3").String(), engine.SlashAmount(domain.Tokens(3000), p.MaxSupply, curve).String())
	require.False(t, engine.InSlashingMode(domain.Tokens(1999), p))
	require.True(t, engine.InSlashingMode(domain.Tokens(2000), p))

	flat := func(math.Int) math.LegacyDec { return math.LegacyMustNewDecFromStr("0.5") }
	require.Equal(t, domain.Tokens(5).String(), engine.SlashAmount(domain.Tokens(10), p.MaxSupply, flat).String())
}
