package engine

import (
	"context"
	"fmt"
	"strconv"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/math"

	"taskmarket/internal/domain"
	"taskmarket/internal/engine/auth"
	"taskmarket/internal/events"
)

// SetParameter updates one market parameter. Owner only.
func (e Engine) SetParameter(ctx context.Context, actor, key, value string) error {
	normalized, err := domain.NormalizeParam(key, value)
	if err != nil {
		return errorsmod.Wrap(ErrInvalidParameter, err.Error())
	}
	return e.run(ctx, "params.set", actor, runOpts{allowPaused: true}, func(s *session) error {
		if err := s.requireRole(auth.RoleOwner); err != nil {
			return err
		}
		return s.setParam(key, normalized)
	})
}

func (s *session) setParam(key, value string) error {
	old := s.params.Map()[key]
	if err := s.e.Repo.SetParam(s.ctx, s.tx, key, value); err != nil {
		return err
	}
	s.emit("params.changed", "params", key, events.EventPayload{"key": key, "old": old, "new": value})
	return nil
}

func (e Engine) SetSolutionStakeAmount(ctx context.Context, actor string, amount math.Int) error {
	if err := requireNonNegative("stake amount", amount); err != nil {
		return err
	}
	return e.run(ctx, "params.set_stake_amount", actor, runOpts{allowPaused: true}, func(s *session) error {
		if err := s.requireRole(auth.RoleOwner); err != nil {
			return err
		}
		return s.setParam(domain.ParamSolutionStakeAmount, amount.String())
	})
}

func (e Engine) SetMasterContesterVoteAdder(ctx context.Context, actor string, adder int64) error {
	if adder < 0 || adder > domain.MaxMasterContesterVoteAdder {
		return errorsmod.Wrapf(ErrInvalidParameter, "vote adder %d outside [0,%d]", adder, domain.MaxMasterContesterVoteAdder)
	}
	return e.run(ctx, "params.set_vote_adder", actor, runOpts{allowPaused: true}, func(s *session) error {
		if err := s.requireRole(auth.RoleOwner); err != nil {
			return err
		}
		return s.setParam(domain.ParamMasterContesterVoteAdder, strconv.FormatInt(adder, 10))
	})
}

// SetPaused stops or resumes every market operation except administration.
func (e Engine) SetPaused(ctx context.Context, actor string, paused bool) error {
	return e.run(ctx, "market.pause", actor, runOpts{allowPaused: true}, func(s *session) error {
		if err := s.requireRole(auth.RoleOwner, auth.RolePauser); err != nil {
			return err
		}
		if err := e.Repo.SetParam(s.ctx, s.tx, domain.ParamPaused, strconv.FormatBool(paused)); err != nil {
			return err
		}
		s.emit("market.paused", "market", "", events.EventPayload{"paused": paused})
		return nil
	})
}

// WithdrawAccruedFees sends the treasury its accrued share of fees. Anyone may call it.
func (e Engine) WithdrawAccruedFees(ctx context.Context, actor string) (math.Int, error) {
	var amount math.Int
	err := e.run(ctx, "fees.withdraw", actor, runOpts{}, func(s *session) error {
		amount = s.state.AccruedFees
		if !amount.IsPositive() {
			return ErrNoFeesAccrued
		}
		s.state.AccruedFees = math.ZeroInt()
		s.pay(s.params.Treasury, amount)
		s.emit("fees.withdrawn", "market", "", events.EventPayload{"treasury": s.params.Treasury, "amount": amount.String()})
		return nil
	})
	if err != nil {
		return math.Int{}, err
	}
	return amount, nil
}

func (e Engine) GrantRole(ctx context.Context, actor, addr, role string) error {
	addr, err := normalizeAddress(addr)
	if err != nil {
		return err
	}
	if !auth.ValidRole(role) {
		return errorsmod.Wrapf(ErrInvalidParameter, "unknown role %q", role)
	}
	return e.run(ctx, "role.grant", actor, runOpts{allowPaused: true}, func(s *session) error {
		if err := s.requireRole(auth.RoleOwner); err != nil {
			return err
		}
		granted, err := e.Auth.Grant(s.ctx, s.tx, addr, role)
		if err != nil {
			return err
		}
		if granted {
			s.emit("role.granted", "role", role, events.EventPayload{"address": addr, "role": role})
		}
		return nil
	})
}

// RevokeRole removes a role. The last owner cannot be revoked.
func (e Engine) RevokeRole(ctx context.Context, actor, addr, role string) error {
	addr, err := normalizeAddress(addr)
	if err != nil {
		return err
	}
	if !auth.ValidRole(role) {
		return errorsmod.Wrapf(ErrInvalidParameter, "unknown role %q", role)
	}
	return e.run(ctx, "role.revoke", actor, runOpts{allowPaused: true}, func(s *session) error {
		if err := s.requireRole(auth.RoleOwner); err != nil {
			return err
		}
		if role == auth.RoleOwner {
			holders, err := e.Auth.Holders(s.ctx, s.tx, auth.RoleOwner)
			if err != nil {
				return err
			}
			if len(holders) == 1 && holders[0] == addr {
				return errorsmod.Wrap(ErrInvalidParameter, "cannot revoke the last owner")
			}
		}
		revoked, err := e.Auth.Revoke(s.ctx, s.tx, addr, role)
		if err != nil {
			return err
		}
		if revoked {
			s.emit("role.revoked", "role", role, events.EventPayload{"address": addr, "role": role})
		}
		return nil
	})
}

func (e Engine) Roles(ctx context.Context, addr string) ([]string, error) {
	return e.Auth.Roles(ctx, nil, addr)
}

func (e Engine) Params(ctx context.Context) (domain.Params, error) {
	return e.Repo.GetParams(ctx, nil)
}

func (e Engine) MarketState(ctx context.Context) (domain.MarketState, error) {
	return e.Repo.GetMarketState(ctx, nil)
}

// Status is a snapshot of market economics derived from ledger totals.
type Status struct {
	Height           int64    `json:"height"`
	TotalSupply      math.Int `json:"total_supply"`
	TargetSupply     math.Int `json:"target_supply"`
	SlashingMode     bool     `json:"slashing_mode"`
	SlashAmount      math.Int `json:"slash_amount"`
	Reward           math.Int `json:"reward"`
	ValidatorMinimum math.Int `json:"validator_minimum"`
	AccruedFees      math.Int `json:"accrued_fees"`
	TotalHeld        math.Int `json:"total_held"`
	EngineBalance    math.Int `json:"engine_balance"`
	Paused           bool     `json:"paused"`
}

func (e Engine) Status(ctx context.Context) (Status, error) {
	p, err := e.Repo.GetParams(ctx, nil)
	if err != nil {
		return Status{}, err
	}
	st, err := e.Repo.GetMarketState(ctx, nil)
	if err != nil {
		return Status{}, err
	}
	supply, err := e.Token.TotalSupply(ctx)
	if err != nil {
		return Status{}, errorsmod.Wrapf(ErrLedger, "total supply: %v", err)
	}
	bal, err := e.Token.BalanceOf(ctx, e.Address)
	if err != nil {
		return Status{}, errorsmod.Wrapf(ErrLedger, "engine balance: %v", err)
	}
	elapsed := e.now().Unix() - st.StartTime
	return Status{
		Height:           st.Height,
		TotalSupply:      supply,
		TargetSupply:     TargetTotalSupply(p.MaxSupply, elapsed),
		SlashingMode:     InSlashingMode(supply, p),
		SlashAmount:      SlashAmount(supply, p.MaxSupply, e.curve(p)),
		Reward:           Reward(p.MaxSupply, elapsed, supply),
		ValidatorMinimum: validatorMinimum(supply, p),
		AccruedFees:      st.AccruedFees,
		TotalHeld:        st.TotalHeld,
		EngineBalance:    bal,
		Paused:           p.Paused,
	}, nil
}

// CheckHeld reports an error when the engine's ledger balance differs from the
// amount it accounts for.
func (e Engine) CheckHeld(ctx context.Context) error {
	s, err := e.Status(ctx)
	if err != nil {
		return err
	}
	if !s.EngineBalance.Equal(s.TotalHeld) {
		return fmt.Errorf("engine balance %s differs from total held %s", s.EngineBalance, s.TotalHeld)
	}
	return nil
}
