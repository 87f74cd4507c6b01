package engine

import (
	"context"
	"errors"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/math"

	"taskmarket/internal/db"
	"taskmarket/internal/domain"
	"taskmarket/internal/events"
	"taskmarket/internal/repo"
)

// SubmitContestation disputes a solution. The contestor is recorded as a yea
// voter and the solver as a nay voter; both are slashed the current slash amount.
func (e Engine) SubmitContestation(ctx context.Context, actor, taskID string) (domain.Contestation, error) {
	var c domain.Contestation
	err := e.run(ctx, "contestation.submit", actor, runOpts{}, func(s *session) error {
		sol, err := s.solution(taskID)
		if err != nil {
			return err
		}
		if sol.Claimed {
			return errorsmod.Wrap(ErrAlreadyClaimed, taskID)
		}
		exists, err := e.Repo.ContestationExists(s.ctx, s.tx, taskID)
		if err != nil {
			return err
		}
		if exists {
			return errorsmod.Wrap(ErrContestationExists, taskID)
		}
		closes := sol.SubmittedAt + s.params.MinClaimSolutionTime - s.params.MinContestationVotePeriodTime
		if s.now >= closes {
			return errorsmod.Wrapf(ErrContestationWindowClosed, "window closed at %d", closes)
		}
		if actor == sol.Validator {
			return errorsmod.Wrap(ErrSelfContestation, taskID)
		}
		master, err := s.eligibleVoter(actor)
		if err != nil {
			return err
		}
		supply, err := s.supply()
		if err != nil {
			return err
		}
		c = domain.Contestation{
			TaskID:      taskID,
			Contestor:   actor,
			BlockNumber: s.block,
			CreatedAt:   s.now,
			SlashAmount: SlashAmount(supply, s.params.MaxSupply, e.curve(s.params)),
			YeaSlashed:  math.ZeroInt(),
			NaySlashed:  math.ZeroInt(),
		}
		if err := e.Repo.InsertContestation(s.ctx, s.tx, c); err != nil {
			return err
		}
		if err := e.Repo.UpdateSolutionStatus(s.ctx, s.tx, taskID, domain.SolutionContested, false); err != nil {
			return err
		}
		s.emit("contestation.submitted", "contestation", taskID, events.EventPayload{
			"contestor": actor, "validator": sol.Validator, "slash_amount": c.SlashAmount.String(),
		})
		if err := s.castVote(c, actor, true, s.voteWeight(master), true); err != nil {
			return err
		}
		return s.castVote(c, sol.Validator, false, 1, true)
	})
	if err != nil {
		return domain.Contestation{}, err
	}
	return c, nil
}

// eligibleVoter accepts active validators and master contesters. It reports
// whether addr is a master contester.
func (s *session) eligibleVoter(addr string) (bool, error) {
	master, err := s.isMasterContester(addr)
	if err != nil {
		return false, err
	}
	if master {
		return true, nil
	}
	v, err := s.e.Repo.GetValidator(s.ctx, s.tx, addr)
	if err != nil {
		return false, err
	}
	minimum, err := s.validatorMinimum()
	if err != nil {
		return false, err
	}
	if !isActive(v, minimum) {
		return false, errorsmod.Wrapf(ErrNotValidator, "%s has %s available, minimum %s", addr, v.Available(), minimum)
	}
	return false, nil
}

func (s *session) voteWeight(master bool) int64 {
	if master {
		return 1 + s.params.MasterContesterVoteAdder
	}
	return 1
}

// castVote records a vote and slashes the voter up to the contestation's slash amount.
func (s *session) castVote(c domain.Contestation, voter string, yea bool, weight int64, auto bool) error {
	v, err := s.e.Repo.GetValidator(s.ctx, s.tx, voter)
	if err != nil {
		return err
	}
	slashed := minInt(v.Staked, c.SlashAmount)
	if slashed.IsPositive() {
		v.Staked = v.Staked.Sub(slashed)
		if err := s.e.Repo.UpsertValidator(s.ctx, s.tx, v); err != nil {
			return err
		}
		s.slashed = s.slashed.Add(slashed)
	}
	vote, err := s.e.Repo.AppendVote(s.ctx, s.tx, domain.ContestationVote{
		TaskID:  c.TaskID,
		Voter:   voter,
		Yea:     yea,
		Weight:  weight,
		Slashed: slashed,
		Auto:    auto,
		VotedAt: s.now,
	})
	if err != nil {
		return err
	}
	s.emit("contestation.vote", "contestation", c.TaskID, events.EventPayload{
		"voter": voter, "yea": yea, "weight": weight, "slashed": slashed.String(), "auto": auto, "index": vote.Index,
	})
	return nil
}

// SuggestContestation flags a solution for master contesters without disputing it.
// Anyone may suggest while no contestation exists.
func (e Engine) SuggestContestation(ctx context.Context, actor, taskID string) error {
	return e.run(ctx, "contestation.suggest", actor, runOpts{}, func(s *session) error {
		sol, err := s.solution(taskID)
		if err != nil {
			return err
		}
		exists, err := e.Repo.ContestationExists(s.ctx, s.tx, taskID)
		if err != nil {
			return err
		}
		if exists {
			return errorsmod.Wrap(ErrContestationExists, taskID)
		}
		s.emit("contestation.suggested", "solution", taskID, events.EventPayload{"validator": sol.Validator})
		return nil
	})
}

// batchEnd returns start+budget capped at total without overflowing.
func batchEnd(start, budget, total int64) int64 {
	if budget < total-start {
		return start + budget
	}
	return total
}

// votingEnds is when voting closes: the minimum period plus one extension per
// non-automatic vote.
func votingEnds(c domain.Contestation, votes int64, p domain.Params) int64 {
	extra := votes - 2
	if extra < 0 {
		extra = 0
	}
	return c.CreatedAt + p.MinContestationVotePeriodTime + extra*p.ContestationVoteExtensionTime
}

// ValidatorCanVote returns CanVote or the first reason addr cannot vote on taskID.
func (e Engine) ValidatorCanVote(ctx context.Context, addr, taskID string) (int, error) {
	addr, err := normalizeAddress(addr)
	if err != nil {
		return 0, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	p, err := e.Repo.GetParams(ctx, tx)
	if err != nil {
		return 0, err
	}
	s := &session{e: e, ctx: db.ContextWithTx(ctx, tx), tx: tx, actor: addr, now: e.now().Unix(), params: p}
	return s.canVote(addr, taskID)
}

func (s *session) canVote(addr, taskID string) (int, error) {
	r := s.e.Repo
	master, err := s.isMasterContester(addr)
	if err != nil {
		return 0, err
	}
	v, err := r.GetValidator(s.ctx, s.tx, addr)
	if err != nil {
		return 0, err
	}
	if !master {
		minimum, err := s.validatorMinimum()
		if err != nil {
			return 0, err
		}
		if !isActive(v, minimum) {
			return CannotVoteStake, nil
		}
	}
	c, err := r.GetContestation(s.ctx, s.tx, taskID)
	if errors.Is(err, repo.ErrNotFound) {
		return CannotVoteNoContest, nil
	}
	if err != nil {
		return 0, err
	}
	voted, err := r.HasVotedOnContestation(s.ctx, s.tx, taskID, addr)
	if err != nil {
		return 0, err
	}
	if voted {
		return CannotVoteVoted, nil
	}
	votes, err := r.CountVotes(s.ctx, s.tx, taskID)
	if err != nil {
		return 0, err
	}
	if s.now >= votingEnds(c, votes, s.params) {
		return CannotVoteClosed, nil
	}
	if v.Since > c.CreatedAt+s.params.MaxContestationValidatorStakeSince {
		return CannotVoteTooRecent, nil
	}
	return CanVote, nil
}

func (e Engine) VoteOnContestation(ctx context.Context, actor, taskID string, yea bool) error {
	return e.run(ctx, "contestation.vote", actor, runOpts{}, func(s *session) error {
		code, err := s.canVote(actor, taskID)
		if err != nil {
			return err
		}
		if err := canVoteError(code); err != nil {
			return errorsmod.Wrap(err, taskID)
		}
		c, err := s.contestation(taskID)
		if err != nil {
			return err
		}
		master, err := s.isMasterContester(actor)
		if err != nil {
			return err
		}
		return s.castVote(c, actor, yea, s.voteWeight(master), false)
	})
}

// FinishResult reports the progress of one ContestationVoteFinish call.
type FinishResult struct {
	Start    int64  `json:"start"`
	End      int64  `json:"end"`
	Outcome  string `json:"outcome,omitempty"`
	Resolved bool   `json:"resolved"`
}

// ContestationVoteFinish resolves a closed contestation in batches of at most
// maxIterations votes. The first pass tallies votes and fixes the outcome; the
// second returns slashed stake to winners and shares the losers' slashed pool.
func (e Engine) ContestationVoteFinish(ctx context.Context, actor, taskID string, maxIterations int64) (FinishResult, error) {
	if maxIterations <= 0 {
		return FinishResult{}, errorsmod.Wrapf(ErrInvalidIterations, "%d", maxIterations)
	}
	var res FinishResult
	err := e.run(ctx, "contestation.finish", actor, runOpts{}, func(s *session) error {
		r := e.Repo
		c, err := s.contestation(taskID)
		if err != nil {
			return err
		}
		if c.Resolved {
			return errorsmod.Wrap(ErrContestationResolved, taskID)
		}
		total, err := r.CountVotes(s.ctx, s.tx, taskID)
		if err != nil {
			return err
		}
		if ends := votingEnds(c, total, s.params); s.now < ends {
			return errorsmod.Wrapf(ErrVotingOpen, "voting closes at %d", ends)
		}
		budget := maxIterations
		res.Start = c.FinishStartIndex + c.SettleIndex

		if c.FinishStartIndex < total {
			end := batchEnd(c.FinishStartIndex, budget, total)
			votes, err := r.VotesRange(s.ctx, s.tx, taskID, c.FinishStartIndex, end)
			if err != nil {
				return err
			}
			for _, v := range votes {
				if v.Yea {
					c.YeaWeight += v.Weight
					c.YeaCount++
					c.YeaSlashed = c.YeaSlashed.Add(v.Slashed)
				} else {
					c.NayWeight += v.Weight
					c.NayCount++
					c.NaySlashed = c.NaySlashed.Add(v.Slashed)
				}
			}
			budget -= end - c.FinishStartIndex
			c.FinishStartIndex = end
			if c.FinishStartIndex == total {
				if err := s.decide(&c); err != nil {
					return err
				}
			}
		}

		if c.FinishStartIndex == total && budget > 0 && c.SettleIndex < total {
			end := batchEnd(c.SettleIndex, budget, total)
			votes, err := r.VotesRange(s.ctx, s.tx, taskID, c.SettleIndex, end)
			if err != nil {
				return err
			}
			for _, v := range votes {
				if err := s.settle(c, v); err != nil {
					return err
				}
			}
			c.SettleIndex = end
		}

		res.End = c.FinishStartIndex + c.SettleIndex
		s.emit("contestation.finish", "contestation", taskID, events.EventPayload{"start": res.Start, "end": res.End})
		if c.FinishStartIndex == total && c.SettleIndex == total {
			c.Resolved = true
			s.emit("contestation.resolved", "contestation", taskID, events.EventPayload{
				"outcome":     c.Outcome,
				"yea_weight":  c.YeaWeight,
				"nay_weight":  c.NayWeight,
				"yea_slashed": c.YeaSlashed.String(),
				"nay_slashed": c.NaySlashed.String(),
			})
		}
		res.Outcome = c.Outcome
		res.Resolved = c.Resolved
		return r.UpdateContestationProgress(s.ctx, s.tx, c)
	})
	if err != nil {
		return FinishResult{}, err
	}
	if res.Resolved && e.Metrics != nil {
		e.Metrics.ContestationOutcomes.WithLabelValues(res.Outcome).Inc()
	}
	return res, nil
}

// decide fixes the outcome once every vote is tallied. Auto votes weigh one
// each, so yea only outweighs nay when another voter joined or the contestor
// carried master contester weight.
func (s *session) decide(c *domain.Contestation) error {
	r := s.e.Repo
	t, err := s.task(c.TaskID)
	if err != nil {
		return err
	}
	sol, err := s.solution(c.TaskID)
	if err != nil {
		return err
	}
	if c.YeaWeight > c.NayWeight {
		c.Outcome = domain.OutcomeUpheld
		contestor, err := r.GetValidator(s.ctx, s.tx, c.Contestor)
		if err != nil {
			return err
		}
		contestor.Staked = contestor.Staked.Add(sol.Stake)
		if err := r.UpsertValidator(s.ctx, s.tx, contestor); err != nil {
			return err
		}
		solver, err := r.GetValidator(s.ctx, s.tx, sol.Validator)
		if err != nil {
			return err
		}
		solver.LastContestationLossAt = s.now
		if err := r.UpsertValidator(s.ctx, s.tx, solver); err != nil {
			return err
		}
		s.pay(t.Owner, t.Fee)
		if err := r.UpdateSolutionStatus(s.ctx, s.tx, c.TaskID, domain.SolutionContestUpheld, true); err != nil {
			return err
		}
	} else {
		c.Outcome = domain.OutcomeRejected
		if err := r.UpdateSolutionStatus(s.ctx, s.tx, c.TaskID, domain.SolutionContestRejected, true); err != nil {
			return err
		}
		if err := s.distribute(t, sol); err != nil {
			return err
		}
	}
	_, _, dust := shares(*c)
	s.state.AccruedFees = s.state.AccruedFees.Add(dust)
	return nil
}

// shares splits the losers' slashed pool: the first winner takes it all when
// alone, else half, and the other winners split the rest equally.
func shares(c domain.Contestation) (first, other, dust math.Int) {
	pool, winners := c.NaySlashed, c.YeaCount
	if c.Outcome == domain.OutcomeRejected {
		pool, winners = c.YeaSlashed, c.NayCount
	}
	if winners <= 1 {
		return pool, math.ZeroInt(), math.ZeroInt()
	}
	first = pool.QuoRaw(2)
	rest := pool.Sub(first)
	other = rest.QuoRaw(winners - 1)
	dust = rest.Sub(other.MulRaw(winners - 1))
	return first, other, dust
}

func (s *session) settle(c domain.Contestation, v domain.ContestationVote) error {
	winner := v.Yea == (c.Outcome == domain.OutcomeUpheld)
	if !winner {
		return nil
	}
	r := s.e.Repo
	val, err := r.GetValidator(s.ctx, s.tx, v.Voter)
	if err != nil {
		return err
	}
	if v.Slashed.IsPositive() {
		val.Staked = val.Staked.Add(v.Slashed)
		if err := r.UpsertValidator(s.ctx, s.tx, val); err != nil {
			return err
		}
	}
	first, other, _ := shares(c)
	firstIndex := int64(0)
	if c.Outcome == domain.OutcomeRejected {
		firstIndex = 1
	}
	if v.Index == firstIndex {
		s.pay(v.Voter, first)
	} else {
		s.pay(v.Voter, other)
	}
	return nil
}

func (e Engine) GetContestation(ctx context.Context, taskID string) (domain.Contestation, error) {
	c, err := e.Repo.GetContestation(ctx, nil, taskID)
	if errors.Is(err, repo.ErrNotFound) {
		return c, errorsmod.Wrap(ErrContestationNotFound, taskID)
	}
	return c, err
}

func (e Engine) ListContestationVotes(ctx context.Context, taskID string) ([]domain.ContestationVote, error) {
	c, err := e.GetContestation(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return e.Repo.VotesRange(ctx, nil, c.TaskID, 0, 1<<62)
}
