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

// ValidatorDeposit escrows amount from the actor and credits it to validator.
func (e Engine) ValidatorDeposit(ctx context.Context, actor, validator string, amount math.Int) (domain.Validator, error) {
	validator, err := normalizeAddress(validator)
	if err != nil {
		return domain.Validator{}, err
	}
	if err := requirePositive("deposit", amount); err != nil {
		return domain.Validator{}, err
	}
	var v domain.Validator
	err = e.run(ctx, "validator.deposit", actor, runOpts{}, func(s *session) error {
		var err error
		if v, err = e.Repo.GetValidator(s.ctx, s.tx, validator); err != nil {
			return err
		}
		if v.Since == 0 {
			v.Since = s.now
		}
		v.Staked = v.Staked.Add(amount)
		if err := e.Repo.UpsertValidator(s.ctx, s.tx, v); err != nil {
			return err
		}
		s.pull(actor, amount)
		s.emit("validator.deposit", "validator", validator, events.EventPayload{"amount": amount.String(), "staked": v.Staked.String()})
		return nil
	})
	if err != nil {
		return domain.Validator{}, err
	}
	return v, nil
}

// InitiateValidatorWithdraw earmarks amount of the actor's stake for withdrawal
// after the exit delay.
func (e Engine) InitiateValidatorWithdraw(ctx context.Context, actor string, amount math.Int) (domain.PendingWithdrawal, error) {
	if err := requirePositive("withdrawal", amount); err != nil {
		return domain.PendingWithdrawal{}, err
	}
	var w domain.PendingWithdrawal
	err := e.run(ctx, "validator.withdraw_initiate", actor, runOpts{}, func(s *session) error {
		v, err := e.Repo.GetValidator(s.ctx, s.tx, actor)
		if err != nil {
			return err
		}
		if amount.GT(v.Available()) {
			return errorsmod.Wrapf(ErrInsufficientStake, "%s available", v.Available())
		}
		v.PendingWithdraw = v.PendingWithdraw.Add(amount)
		if err := e.Repo.UpsertValidator(s.ctx, s.tx, v); err != nil {
			return err
		}
		w, err = e.Repo.InsertWithdrawal(s.ctx, s.tx, domain.PendingWithdrawal{
			Validator: actor,
			Amount:    amount,
			UnlockAt:  s.now + s.params.ExitValidatorMinUnlockTime,
		})
		if err != nil {
			return err
		}
		s.emit("validator.withdraw_initiated", "validator", actor, events.EventPayload{
			"count": w.Count, "amount": amount.String(), "unlock_at": w.UnlockAt,
		})
		return nil
	})
	if err != nil {
		return domain.PendingWithdrawal{}, err
	}
	return w, nil
}

func (s *session) withdrawal(validator string, count int64) (domain.PendingWithdrawal, error) {
	w, err := s.e.Repo.GetWithdrawal(s.ctx, s.tx, validator, count)
	if errors.Is(err, repo.ErrNotFound) {
		return w, errorsmod.Wrapf(ErrWithdrawalNotFound, "%s #%d", validator, count)
	}
	return w, err
}

// releaseWithdrawal drops the pending record and its earmark.
func (s *session) releaseWithdrawal(v *domain.Validator, w domain.PendingWithdrawal) error {
	v.PendingWithdraw = v.PendingWithdraw.Sub(w.Amount)
	if v.PendingWithdraw.IsNegative() {
		v.PendingWithdraw = math.ZeroInt()
	}
	return s.e.Repo.DeleteWithdrawal(s.ctx, s.tx, w.Validator, w.Count)
}

func (e Engine) CancelValidatorWithdraw(ctx context.Context, actor string, count int64) error {
	return e.run(ctx, "validator.withdraw_cancel", actor, runOpts{}, func(s *session) error {
		w, err := s.withdrawal(actor, count)
		if err != nil {
			return err
		}
		v, err := e.Repo.GetValidator(s.ctx, s.tx, actor)
		if err != nil {
			return err
		}
		if err := s.releaseWithdrawal(&v, w); err != nil {
			return err
		}
		if err := e.Repo.UpsertValidator(s.ctx, s.tx, v); err != nil {
			return err
		}
		s.emit("validator.withdraw_cancelled", "validator", actor, events.EventPayload{"count": count, "amount": w.Amount.String()})
		return nil
	})
}

// ValidatorWithdraw completes an unlocked withdrawal. Stake lost to slashing
// since initiation reduces the payout.
func (e Engine) ValidatorWithdraw(ctx context.Context, actor string, count int64, to string) (math.Int, error) {
	to, err := normalizeAddress(to)
	if err != nil {
		return math.Int{}, err
	}
	var paid math.Int
	err = e.run(ctx, "validator.withdraw", actor, runOpts{}, func(s *session) error {
		w, err := s.withdrawal(actor, count)
		if err != nil {
			return err
		}
		if s.now < w.UnlockAt {
			return errorsmod.Wrapf(ErrWithdrawalLocked, "unlocks at %d", w.UnlockAt)
		}
		v, err := e.Repo.GetValidator(s.ctx, s.tx, actor)
		if err != nil {
			return err
		}
		if err := s.releaseWithdrawal(&v, w); err != nil {
			return err
		}
		paid = minInt(w.Amount, v.Staked)
		v.Staked = v.Staked.Sub(paid)
		if err := e.Repo.UpsertValidator(s.ctx, s.tx, v); err != nil {
			return err
		}
		s.pay(to, paid)
		s.emit("validator.withdraw", "validator", actor, events.EventPayload{"count": count, "amount": paid.String(), "to": to})
		return nil
	})
	if err != nil {
		return math.Int{}, err
	}
	return paid, nil
}

func (e Engine) GetValidator(ctx context.Context, addr string) (domain.Validator, error) {
	return e.Repo.GetValidator(ctx, nil, addr)
}

func (e Engine) ListValidators(ctx context.Context) ([]domain.Validator, error) {
	return e.Repo.ListValidators(ctx)
}

func (e Engine) ListWithdrawals(ctx context.Context, validator string) ([]domain.PendingWithdrawal, error) {
	return e.Repo.ListWithdrawals(ctx, validator)
}

// ValidatorMinimum is the available stake required to count as active.
func (e Engine) ValidatorMinimum(ctx context.Context) (math.Int, error) {
	p, err := e.Repo.GetParams(ctx, nil)
	if err != nil {
		return math.Int{}, err
	}
	supply, err := e.Token.TotalSupply(ctx)
	if err != nil {
		return math.Int{}, errorsmod.Wrapf(ErrLedger, "total supply: %v", err)
	}
	return validatorMinimum(supply, p), nil
}

func (e Engine) IsActiveValidator(ctx context.Context, addr string) (bool, error) {
	minimum, err := e.ValidatorMinimum(ctx)
	if err != nil {
		return false, err
	}
	v, err := e.GetValidator(ctx, addr)
	if err != nil {
		return false, err
	}
	return isActive(v, minimum), nil
}
