package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"taskmarket/internal/config"
	"taskmarket/internal/domain"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())

	p, err := cfg.Params()
	require.NoError(t, err)
	require.Equal(t, domain.MustAmount("0.001").String(), p.SolutionStakeAmount.String())
	require.Equal(t, domain.Tokens(600000).String(), p.MaxSupply.String())
	require.Equal(t, "0.100000000000000000", p.SolutionModelFeePercentage.String())
	require.EqualValues(t, 3600, p.MinClaimSolutionTime)

	d, err := cfg.EpochDuration()
	require.NoError(t, err)
	require.Equal(t, 7*24*time.Hour, d)
	require.Equal(t, 3, cfg.Election.Count)
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
market:
  solution_stake_amount: "0.5"
election:
  count: 2
`))
	require.NoError(t, err)
	p, err := cfg.Params()
	require.NoError(t, err)
	require.Equal(t, domain.MustAmount("0.5").String(), p.SolutionStakeAmount.String())
	require.Equal(t, 2, cfg.Election.Count)
	require.Equal(t, 100, cfg.Election.MaxCount)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"percentage above one": "market:\n  solution_fee_percentage: \"1.5\"\n",
		"bad treasury":         "market:\n  treasury: nope\n",
		"count above max":      "election:\n  count: 101\n",
		"bad epoch":            "election:\n  epoch_duration: soon\n",
		"kafka without topic":  "kafka:\n  brokers: [\"localhost:9092\"]\n  topic: \"\"\n",
		"threshold over max":   "market:\n  slashing_threshold: \"700000\"\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.FromYAML([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestLoadFromWorkspace(t *testing.T) {
	dir := t.TempDir()
	_, err := config.Load(dir)
	require.Error(t, err)

	cfg, err := config.LoadOptional(dir)
	require.NoError(t, err)
	require.Equal(t, config.DefaultOwner, cfg.Market.Owner)

	owner := "0x0000000000000000000000000000000000000B0B"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "taskmarket.yml"), []byte(config.GenerateDefault(owner)), 0o644))
	cfg, err = config.Load(dir)
	require.NoError(t, err)
	require.Equal(t, owner, cfg.Market.Owner)
}
