package engine

import (
	"context"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/math"

	"taskmarket/internal/domain"
	"taskmarket/internal/events"
)

// ClaimSolution pays out an uncontested solution once the claim delay has passed.
// Anyone may call it.
func (e Engine) ClaimSolution(ctx context.Context, actor, taskID string) error {
	return e.run(ctx, "solution.claim", actor, runOpts{}, func(s *session) error {
		sol, err := s.solution(taskID)
		if err != nil {
			return err
		}
		if sol.Claimed {
			return errorsmod.Wrap(ErrAlreadyClaimed, taskID)
		}
		contested, err := e.Repo.ContestationExists(s.ctx, s.tx, taskID)
		if err != nil {
			return err
		}
		if contested {
			return errorsmod.Wrap(ErrContestationExists, taskID)
		}
		if s.now < sol.SubmittedAt+s.params.MinClaimSolutionTime {
			return errorsmod.Wrapf(ErrClaimTooEarly, "claimable at %d", sol.SubmittedAt+s.params.MinClaimSolutionTime)
		}
		solver, err := e.Repo.GetValidator(s.ctx, s.tx, sol.Validator)
		if err != nil {
			return err
		}
		if solver.LastContestationLossAt >= sol.SubmittedAt {
			return errorsmod.Wrapf(ErrRecentContestationLoss, "%s lost a contestation at %d", sol.Validator, solver.LastContestationLossAt)
		}
		t, err := s.task(taskID)
		if err != nil {
			return err
		}
		if err := e.Repo.UpdateSolutionStatus(s.ctx, s.tx, taskID, domain.SolutionClaimed, true); err != nil {
			return err
		}
		if err := s.distribute(t, sol); err != nil {
			return err
		}
		s.emit("solution.claimed", "solution", taskID, events.EventPayload{"validator": sol.Validator})
		return nil
	})
}

// distribute returns the solver's stake and splits the task fee and emission reward.
// Fees use the model's fee and percentage at this moment.
func (s *session) distribute(t domain.Task, sol domain.Solution) error {
	r := s.e.Repo
	solver, err := r.GetValidator(s.ctx, s.tx, sol.Validator)
	if err != nil {
		return err
	}
	solver.Staked = solver.Staked.Add(sol.Stake)

	m, err := s.model(t.ModelID)
	if err != nil {
		return err
	}
	modelFee := minInt(m.Fee, t.Fee)
	modelCut := mulTrunc(modelFee, modelFeePercentage(m, s.params))
	ownerPay := modelFee.Sub(modelCut)
	remaining := t.Fee.Sub(modelFee)
	treasuryCut := mulTrunc(remaining, s.params.SolutionFeePercentage)
	validatorPay := remaining.Sub(treasuryCut)
	s.state.AccruedFees = s.state.AccruedFees.Add(modelCut).Add(treasuryCut)
	s.pay(m.Owner, ownerPay)
	s.pay(sol.Validator, validatorPay)
	s.emit("fees.paid", "task", t.ID, events.EventPayload{
		"model_owner":   m.Owner,
		"model_fee":     ownerPay.String(),
		"validator":     sol.Validator,
		"validator_fee": validatorPay.String(),
		"treasury_fee":  modelCut.Add(treasuryCut).String(),
	})

	if m.Rate.IsPositive() {
		supply, err := s.supply()
		if err != nil {
			return err
		}
		total := math.LegacyNewDecFromInt(Reward(s.params.MaxSupply, s.now-s.state.StartTime, supply)).Mul(m.Rate).TruncateInt()
		// Mints already queued in this session count against the cap.
		if room := s.params.MaxSupply.Sub(supply).Sub(s.minted); total.GT(room) {
			total = room
		}
		if total.IsPositive() {
			treasuryReward := mulTrunc(total, s.params.TreasuryRewardPercentage)
			ownerReward := mulTrunc(total, s.params.TaskOwnerRewardPercentage)
			validatorReward := total.Sub(treasuryReward).Sub(ownerReward)
			s.mint(s.params.Treasury, treasuryReward)
			s.mint(t.Owner, ownerReward)
			s.mint(s.e.Address, validatorReward)
			solver.Staked = solver.Staked.Add(validatorReward)
			s.emit("rewards.paid", "task", t.ID, events.EventPayload{
				"total":      total.String(),
				"treasury":   treasuryReward.String(),
				"task_owner": ownerReward.String(),
				"validator":  validatorReward.String(),
			})
		}
	}
	return r.UpsertValidator(s.ctx, s.tx, solver)
}

func mulTrunc(v math.Int, pct math.LegacyDec) math.Int {
	if v.IsZero() || pct.IsNil() || pct.IsZero() {
		return math.ZeroInt()
	}
	return math.LegacyNewDecFromInt(v).Mul(pct).TruncateInt()
}
