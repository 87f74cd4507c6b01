package domain

import (
	"fmt"
	"sort"
	"strconv"

	"cosmossdk.io/math"
)

const (
	ParamSolutionStakeAmount                = "solution_stake_amount"
	ParamMasterContesterVoteAdder           = "master_contester_vote_adder"
	ParamMinClaimSolutionTime               = "min_claim_solution_time"
	ParamMinContestationVotePeriodTime      = "min_contestation_vote_period_time"
	ParamContestationVoteExtensionTime      = "contestation_vote_extension_time"
	ParamMaxContestationValidatorStakeSince = "max_contestation_validator_stake_since"
	ParamExitValidatorMinUnlockTime         = "exit_validator_min_unlock_time"
	ParamSolutionRateLimit                  = "solution_rate_limit"
	ParamSolutionFeePercentage              = "solution_fee_percentage"
	ParamSolutionModelFeePercentage         = "solution_model_fee_percentage"
	ParamTreasuryRewardPercentage           = "treasury_reward_percentage"
	ParamTaskOwnerRewardPercentage          = "task_owner_reward_percentage"
	ParamValidatorMinimumPercentage         = "validator_minimum_percentage"
	ParamSlashAmountPercentage              = "slash_amount_percentage"
	ParamSlashingThreshold                  = "slashing_threshold"
	ParamMaxSupply                          = "max_supply"
	ParamTreasury                           = "treasury"
	ParamPaused                             = "paused"
)

// MaxMasterContesterVoteAdder bounds the extra weight of a master contester vote.
const MaxMasterContesterVoteAdder = 500

type paramKind int

const (
	kindAmount paramKind = iota
	kindSeconds
	kindCount
	kindPercent
	kindAddress
	kindBool
)

var paramKinds = map[string]paramKind{
	ParamSolutionStakeAmount:                kindAmount,
	ParamMasterContesterVoteAdder:           kindCount,
	ParamMinClaimSolutionTime:               kindSeconds,
	ParamMinContestationVotePeriodTime:      kindSeconds,
	ParamContestationVoteExtensionTime:      kindSeconds,
	ParamMaxContestationValidatorStakeSince: kindSeconds,
	ParamExitValidatorMinUnlockTime:         kindSeconds,
	ParamSolutionRateLimit:                  kindSeconds,
	ParamSolutionFeePercentage:              kindPercent,
	ParamSolutionModelFeePercentage:         kindPercent,
	ParamTreasuryRewardPercentage:           kindPercent,
	ParamTaskOwnerRewardPercentage:          kindPercent,
	ParamValidatorMinimumPercentage:         kindPercent,
	ParamSlashAmountPercentage:              kindPercent,
	ParamSlashingThreshold:                  kindAmount,
	ParamMaxSupply:                          kindAmount,
	ParamTreasury:                           kindAddress,
	ParamPaused:                             kindBool,
}

// ParamKeys lists every known parameter key in sorted order.
func ParamKeys() []string {
	keys := make([]string, 0, len(paramKinds))
	for k := range paramKinds {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NormalizeParam validates a stored value for key and returns its canonical form.
// Amounts are stored in base units, percentages as decimals in [0,1].
func NormalizeParam(key, value string) (string, error) {
	kind, ok := paramKinds[key]
	if !ok {
		return "", fmt.Errorf("unknown parameter %s", key)
	}
	switch kind {
	case kindAmount:
		v, ok := math.NewIntFromString(value)
		if !ok || v.IsNegative() {
			return "", fmt.Errorf("parameter %s: invalid amount %q", key, value)
		}
		return v.String(), nil
	case kindSeconds, kindCount:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil || n < 0 {
			return "", fmt.Errorf("parameter %s: invalid non-negative integer %q", key, value)
		}
		if key == ParamMasterContesterVoteAdder && n > MaxMasterContesterVoteAdder {
			return "", fmt.Errorf("parameter %s: %d exceeds %d", key, n, MaxMasterContesterVoteAdder)
		}
		return strconv.FormatInt(n, 10), nil
	case kindPercent:
		d, err := math.LegacyNewDecFromStr(value)
		if err != nil || d.IsNegative() || d.GT(math.LegacyOneDec()) {
			return "", fmt.Errorf("parameter %s: percentage must be within [0,1], got %q", key, value)
		}
		return d.String(), nil
	case kindAddress:
		return NormalizeAddress(value)
	case kindBool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return "", fmt.Errorf("parameter %s: invalid bool %q", key, value)
		}
		return strconv.FormatBool(b), nil
	}
	return "", fmt.Errorf("unknown parameter %s", key)
}

// Map renders params as canonical stored values.
func (p Params) Map() map[string]string {
	return map[string]string{
		ParamSolutionStakeAmount:                p.SolutionStakeAmount.String(),
		ParamMasterContesterVoteAdder:           strconv.FormatInt(p.MasterContesterVoteAdder, 10),
		ParamMinClaimSolutionTime:               strconv.FormatInt(p.MinClaimSolutionTime, 10),
		ParamMinContestationVotePeriodTime:      strconv.FormatInt(p.MinContestationVotePeriodTime, 10),
		ParamContestationVoteExtensionTime:      strconv.FormatInt(p.ContestationVoteExtensionTime, 10),
		ParamMaxContestationValidatorStakeSince: strconv.FormatInt(p.MaxContestationValidatorStakeSince, 10),
		ParamExitValidatorMinUnlockTime:         strconv.FormatInt(p.ExitValidatorMinUnlockTime, 10),
		ParamSolutionRateLimit:                  strconv.FormatInt(p.SolutionRateLimit, 10),
		ParamSolutionFeePercentage:              p.SolutionFeePercentage.String(),
		ParamSolutionModelFeePercentage:         p.SolutionModelFeePercentage.String(),
		ParamTreasuryRewardPercentage:           p.TreasuryRewardPercentage.String(),
		ParamTaskOwnerRewardPercentage:          p.TaskOwnerRewardPercentage.String(),
		ParamValidatorMinimumPercentage:         p.ValidatorMinimumPercentage.String(),
		ParamSlashAmountPercentage:              p.SlashAmountPercentage.String(),
		ParamSlashingThreshold:                  p.SlashingThreshold.String(),
		ParamMaxSupply:                          p.MaxSupply.String(),
		ParamTreasury:                           p.Treasury,
		ParamPaused:                             strconv.FormatBool(p.Paused),
	}
}

// ParamsFromMap decodes stored values. Every key must be present.
func ParamsFromMap(m map[string]string) (Params, error) {
	var p Params
	for _, key := range ParamKeys() {
		raw, ok := m[key]
		if !ok {
			return Params{}, fmt.Errorf("parameter %s not set", key)
		}
		v, err := NormalizeParam(key, raw)
		if err != nil {
			return Params{}, err
		}
		switch paramKinds[key] {
		case kindAmount:
			n, _ := math.NewIntFromString(v)
			switch key {
			case ParamSolutionStakeAmount:
				p.SolutionStakeAmount = n
			case ParamSlashingThreshold:
				p.SlashingThreshold = n
			case ParamMaxSupply:
				p.MaxSupply = n
			}
		case kindSeconds, kindCount:
			n, _ := strconv.ParseInt(v, 10, 64)
			switch key {
			case ParamMasterContesterVoteAdder:
				p.MasterContesterVoteAdder = n
			case ParamMinClaimSolutionTime:
				p.MinClaimSolutionTime = n
			case ParamMinContestationVotePeriodTime:
				p.MinContestationVotePeriodTime = n
			case ParamContestationVoteExtensionTime:
				p.ContestationVoteExtensionTime = n
			case ParamMaxContestationValidatorStakeSince:
				p.MaxContestationValidatorStakeSince = n
			case ParamExitValidatorMinUnlockTime:
				p.ExitValidatorMinUnlockTime = n
			case ParamSolutionRateLimit:
				p.SolutionRateLimit = n
			}
		case kindPercent:
			d := math.LegacyMustNewDecFromStr(v)
			switch key {
			case ParamSolutionFeePercentage:
				p.SolutionFeePercentage = d
			case ParamSolutionModelFeePercentage:
				p.SolutionModelFeePercentage = d
			case ParamTreasuryRewardPercentage:
				p.TreasuryRewardPercentage = d
			case ParamTaskOwnerRewardPercentage:
				p.TaskOwnerRewardPercentage = d
			case ParamValidatorMinimumPercentage:
				p.ValidatorMinimumPercentage = d
			case ParamSlashAmountPercentage:
				p.SlashAmountPercentage = d
			}
		case kindAddress:
			p.Treasury = v
		case kindBool:
			p.Paused = v == "true"
		}
	}
	return p, nil
}
