package engine

import (
	"context"
	"errors"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/math"

	"taskmarket/internal/domain"
	"taskmarket/internal/events"
	"taskmarket/internal/repo"
)

// MaxBulk bounds the number of tasks or solutions in one bulk call.
const MaxBulk = 256

type SubmitTaskOptions struct {
	// Owner receives refunds and task-owner rewards. Defaults to the actor.
	Owner string
	Model string
	Fee   math.Int
	Input []byte
}

func (e Engine) SubmitTask(ctx context.Context, actor string, opts SubmitTaskOptions) (domain.Task, error) {
	tasks, err := e.submitTasks(ctx, "task.submit", actor, opts, 1)
	if err != nil {
		return domain.Task{}, err
	}
	return tasks[0], nil
}

// BulkSubmitTask submits n identical tasks in one block.
func (e Engine) BulkSubmitTask(ctx context.Context, actor string, opts SubmitTaskOptions, n int) ([]domain.Task, error) {
	return e.submitTasks(ctx, "task.bulk_submit", actor, opts, n)
}

func (e Engine) submitTasks(ctx context.Context, name, actor string, opts SubmitTaskOptions, n int) ([]domain.Task, error) {
	if n < 1 || n > MaxBulk {
		return nil, errorsmod.Wrapf(ErrInvalidCount, "count %d not in 1..%d", n, MaxBulk)
	}
	if err := requireNonNegative("task fee", opts.Fee); err != nil {
		return nil, err
	}
	owner := actor
	if opts.Owner != "" {
		var err error
		if owner, err = normalizeAddress(opts.Owner); err != nil {
			return nil, err
		}
	}
	var out []domain.Task
	err := e.run(ctx, name, actor, runOpts{}, func(s *session) error {
		m, err := s.model(opts.Model)
		if err != nil {
			return err
		}
		if opts.Fee.LT(m.Fee) {
			return errorsmod.Wrapf(ErrFeeBelowModelFee, "fee %s below model fee %s", opts.Fee, m.Fee)
		}
		out = make([]domain.Task, 0, n)
		for i := 0; i < n; i++ {
			t := domain.Task{
				ID:          TaskID(m.ID, opts.Fee, owner, s.block, opts.Input, s.state.LastTaskID),
				ModelID:     m.ID,
				Owner:       owner,
				Sender:      actor,
				Fee:         opts.Fee,
				Input:       opts.Input,
				BlockNumber: s.block,
				SubmittedAt: s.now,
			}
			if err := e.Repo.InsertTask(s.ctx, s.tx, t); err != nil {
				return err
			}
			s.state.LastTaskID = t.ID
			s.emit("task.submitted", "task", t.ID, events.EventPayload{
				"model": m.ID, "owner": owner, "fee": t.Fee.String(), "block": s.block,
			})
			out = append(out, t)
		}
		s.pull(actor, opts.Fee.MulRaw(int64(n)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, nil, id)
	if errors.Is(err, repo.ErrNotFound) {
		return t, errorsmod.Wrap(ErrTaskNotFound, id)
	}
	return t, err
}

func (e Engine) ListTasks(ctx context.Context, f repo.TaskFilter) ([]domain.Task, error) {
	return e.Repo.ListTasks(ctx, f)
}

// SignalCommitment records a commitment hash at the current block.
func (e Engine) SignalCommitment(ctx context.Context, actor, hash string) (domain.Commitment, error) {
	hash, err := NormalizeHash(hash)
	if err != nil {
		return domain.Commitment{}, err
	}
	var c domain.Commitment
	err = e.run(ctx, "commitment.signal", actor, runOpts{}, func(s *session) error {
		c = domain.Commitment{Hash: hash, Validator: actor, BlockNumber: s.block}
		ok, err := e.Repo.InsertCommitment(s.ctx, s.tx, c)
		if err != nil {
			return err
		}
		if !ok {
			return errorsmod.Wrap(ErrCommitmentExists, hash)
		}
		s.emit("commitment.signaled", "commitment", hash, events.EventPayload{"validator": actor, "block": s.block})
		return nil
	})
	if err != nil {
		return domain.Commitment{}, err
	}
	return c, nil
}

func (e Engine) SubmitSolution(ctx context.Context, actor, taskID, cid string) (domain.Solution, error) {
	sols, err := e.submitSolutions(ctx, "solution.submit", actor, []string{taskID}, []string{cid})
	if err != nil {
		return domain.Solution{}, err
	}
	return sols[0], nil
}

// BulkSubmitSolution reveals several solutions; the rate limit scales with the count.
func (e Engine) BulkSubmitSolution(ctx context.Context, actor string, taskIDs, cids []string) ([]domain.Solution, error) {
	return e.submitSolutions(ctx, "solution.bulk_submit", actor, taskIDs, cids)
}

func (e Engine) submitSolutions(ctx context.Context, name, actor string, taskIDs, cids []string) ([]domain.Solution, error) {
	if len(taskIDs) == 0 || len(taskIDs) != len(cids) {
		return nil, errorsmod.Wrapf(ErrInvalidCount, "%d tasks, %d cids", len(taskIDs), len(cids))
	}
	if len(taskIDs) > MaxBulk {
		return nil, errorsmod.Wrapf(ErrInvalidCount, "count %d above %d", len(taskIDs), MaxBulk)
	}
	var out []domain.Solution
	err := e.run(ctx, name, actor, runOpts{}, func(s *session) error {
		v, err := e.Repo.GetValidator(s.ctx, s.tx, actor)
		if err != nil {
			return err
		}
		minimum, err := s.validatorMinimum()
		if err != nil {
			return err
		}
		if !isActive(v, minimum) {
			return errorsmod.Wrapf(ErrNotValidator, "%s has %s available, minimum %s", actor, v.Available(), minimum)
		}
		count := int64(len(taskIDs))
		if s.now-v.LastSolutionAt < s.params.SolutionRateLimit*count {
			return errorsmod.Wrapf(ErrRateLimited, "last solution at %d", v.LastSolutionAt)
		}
		stake := s.params.SolutionStakeAmount
		out = make([]domain.Solution, 0, len(taskIDs))
		for i, taskID := range taskIDs {
			sol, err := s.submitSolution(&v, taskID, cids[i], stake)
			if err != nil {
				return err
			}
			out = append(out, sol)
		}
		v.LastSolutionAt = s.now
		return e.Repo.UpsertValidator(s.ctx, s.tx, v)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *session) submitSolution(v *domain.Validator, taskID, cid string, stake math.Int) (domain.Solution, error) {
	r := s.e.Repo
	t, err := s.task(taskID)
	if err != nil {
		return domain.Solution{}, err
	}
	exists, err := r.SolutionExists(s.ctx, s.tx, t.ID)
	if err != nil {
		return domain.Solution{}, err
	}
	if exists {
		return domain.Solution{}, errorsmod.Wrap(ErrSolutionExists, t.ID)
	}
	m, err := s.model(t.ModelID)
	if err != nil {
		return domain.Solution{}, err
	}
	if m.AllowListRequired {
		ok, err := r.IsOnAllowList(s.ctx, s.tx, m.ID, v.Address)
		if err != nil {
			return domain.Solution{}, err
		}
		if !ok {
			return domain.Solution{}, errorsmod.Wrapf(ErrNotAllowed, "%s not on allow list of %s", v.Address, m.ID)
		}
	}
	hash := GenerateCommitment(v.Address, t.ID, cid)
	c, err := r.GetCommitment(s.ctx, s.tx, hash)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Solution{}, errorsmod.Wrap(ErrCommitmentNotFound, hash)
	}
	if err != nil {
		return domain.Solution{}, err
	}
	if c.BlockNumber >= s.block {
		return domain.Solution{}, errorsmod.Wrapf(ErrCommitmentTooRecent, "commitment at block %d", c.BlockNumber)
	}
	if v.Staked.LT(stake) {
		return domain.Solution{}, errorsmod.Wrapf(ErrInsufficientStake, "staked %s below %s", v.Staked, stake)
	}
	v.Staked = v.Staked.Sub(stake)
	sol := domain.Solution{
		TaskID:      t.ID,
		Validator:   v.Address,
		CID:         cid,
		BlockNumber: s.block,
		SubmittedAt: s.now,
		Stake:       stake,
		Status:      domain.SolutionSubmitted,
	}
	if err := r.InsertSolution(s.ctx, s.tx, sol); err != nil {
		return domain.Solution{}, err
	}
	s.emit("solution.submitted", "solution", t.ID, events.EventPayload{"validator": v.Address, "cid": cid, "stake": stake.String()})
	return sol, nil
}

func (e Engine) GetSolution(ctx context.Context, taskID string) (domain.Solution, error) {
	sol, err := e.Repo.GetSolution(ctx, nil, taskID)
	if errors.Is(err, repo.ErrNotFound) {
		return sol, errorsmod.Wrap(ErrSolutionNotFound, taskID)
	}
	return sol, err
}

func (e Engine) ListSolutionsByValidator(ctx context.Context, validator string, limit int) ([]domain.Solution, error) {
	if limit <= 0 {
		limit = 50
	}
	return e.Repo.ListSolutionsByValidator(ctx, validator, limit)
}
