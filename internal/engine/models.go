package engine

import (
	"context"
	"errors"
	"time"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/math"

	"taskmarket/internal/domain"
	"taskmarket/internal/engine/auth"
	"taskmarket/internal/events"
	"taskmarket/internal/repo"
)

// RegisterModel creates a model owned by owner. The id is derived from owner,
// fee and template; registering the same triple twice fails.
func (e Engine) RegisterModel(ctx context.Context, actor, owner string, fee math.Int, template []byte) (domain.Model, error) {
	return e.registerModel(ctx, actor, owner, fee, template, nil, false)
}

// RegisterModelWithAllowList registers a model whose solutions are restricted to allowList.
func (e Engine) RegisterModelWithAllowList(ctx context.Context, actor, owner string, fee math.Int, template []byte, allowList []string) (domain.Model, error) {
	return e.registerModel(ctx, actor, owner, fee, template, allowList, true)
}

func (e Engine) registerModel(ctx context.Context, actor, owner string, fee math.Int, template []byte, allowList []string, restricted bool) (domain.Model, error) {
	owner, err := normalizeAddress(owner)
	if err != nil {
		return domain.Model{}, err
	}
	if err := requireNonNegative("model fee", fee); err != nil {
		return domain.Model{}, err
	}
	allowed, err := normalizeAll(allowList)
	if err != nil {
		return domain.Model{}, err
	}
	m := domain.Model{
		ID:                ModelID(owner, fee, template),
		Owner:             owner,
		Fee:               fee,
		Rate:              math.LegacyZeroDec(),
		CID:               ModelCID(template),
		AllowListRequired: restricted,
		CreatedAt:         e.now().UTC().Format(time.RFC3339),
	}
	err = e.run(ctx, "model.register", actor, runOpts{}, func(s *session) error {
		exists, err := e.Repo.ModelExists(s.ctx, s.tx, m.ID)
		if err != nil {
			return err
		}
		if exists {
			return errorsmod.Wrap(ErrModelExists, m.ID)
		}
		if err := e.Repo.InsertModel(s.ctx, s.tx, m); err != nil {
			return err
		}
		for _, addr := range allowed {
			if _, err := e.Repo.AddToAllowList(s.ctx, s.tx, m.ID, addr); err != nil {
				return err
			}
		}
		s.emit("model.registered", "model", m.ID, events.EventPayload{
			"owner": owner, "fee": m.Fee.String(), "cid": m.CID, "allow_list_required": restricted, "allow_list": allowed,
		})
		return nil
	})
	if err != nil {
		return domain.Model{}, err
	}
	return m, nil
}

func normalizeAll(addrs []string) ([]string, error) {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		n, err := normalizeAddress(a)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// modelForUpdate loads a model the actor may administer: its owner or an engine owner.
func (s *session) modelForUpdate(id string) (domain.Model, error) {
	m, err := s.model(id)
	if err != nil {
		return m, err
	}
	if m.Owner == s.actor {
		return m, nil
	}
	err = s.requireRole(auth.RoleOwner)
	var forbidden auth.ForbiddenError
	if errors.As(err, &forbidden) {
		return m, errorsmod.Wrap(ErrNotModelOwner, id)
	}
	return m, err
}

func (e Engine) SetModelFee(ctx context.Context, actor, modelID string, fee math.Int) error {
	if err := requireNonNegative("model fee", fee); err != nil {
		return err
	}
	return e.run(ctx, "model.set_fee", actor, runOpts{}, func(s *session) error {
		m, err := s.modelForUpdate(modelID)
		if err != nil {
			return err
		}
		if err := e.Repo.UpdateModelFee(s.ctx, s.tx, modelID, fee); err != nil {
			return err
		}
		s.emit("model.fee_changed", "model", modelID, events.EventPayload{"old": m.Fee.String(), "new": fee.String()})
		return nil
	})
}

func (e Engine) SetModelAddr(ctx context.Context, actor, modelID, newOwner string) error {
	newOwner, err := normalizeAddress(newOwner)
	if err != nil {
		return err
	}
	return e.run(ctx, "model.set_addr", actor, runOpts{}, func(s *session) error {
		m, err := s.modelForUpdate(modelID)
		if err != nil {
			return err
		}
		if err := e.Repo.UpdateModelOwner(s.ctx, s.tx, modelID, newOwner); err != nil {
			return err
		}
		s.emit("model.addr_changed", "model", modelID, events.EventPayload{"old": m.Owner, "new": newOwner})
		return nil
	})
}

// SetSolutionMineableRate sets the reward multiplier for solutions of a model.
func (e Engine) SetSolutionMineableRate(ctx context.Context, actor, modelID string, rate math.LegacyDec) error {
	if rate.IsNil() || rate.IsNegative() {
		return errorsmod.Wrap(ErrInvalidParameter, "rate must not be negative")
	}
	return e.run(ctx, "model.set_rate", actor, runOpts{}, func(s *session) error {
		if err := s.requireRole(auth.RoleOwner); err != nil {
			return err
		}
		m, err := s.model(modelID)
		if err != nil {
			return err
		}
		if err := e.Repo.UpdateModelRate(s.ctx, s.tx, modelID, rate); err != nil {
			return err
		}
		s.emit("model.rate_changed", "model", modelID, events.EventPayload{"old": m.Rate.String(), "new": rate.String()})
		return nil
	})
}

func (e Engine) SetModelAllowListRequired(ctx context.Context, actor, modelID string, required bool) error {
	return e.run(ctx, "model.set_allow_list_required", actor, runOpts{}, func(s *session) error {
		if _, err := s.modelForUpdate(modelID); err != nil {
			return err
		}
		if err := e.Repo.UpdateModelAllowListRequired(s.ctx, s.tx, modelID, required); err != nil {
			return err
		}
		s.emit("model.allow_list_required", "model", modelID, events.EventPayload{"required": required})
		return nil
	})
}

// AddToModelAllowList returns the addresses that were not already listed.
func (e Engine) AddToModelAllowList(ctx context.Context, actor, modelID string, addrs []string) ([]string, error) {
	return e.changeAllowList(ctx, actor, modelID, addrs, true)
}

// RemoveFromModelAllowList returns the addresses that were listed.
func (e Engine) RemoveFromModelAllowList(ctx context.Context, actor, modelID string, addrs []string) ([]string, error) {
	return e.changeAllowList(ctx, actor, modelID, addrs, false)
}

func (e Engine) changeAllowList(ctx context.Context, actor, modelID string, addrs []string, add bool) ([]string, error) {
	normalized, err := normalizeAll(addrs)
	if err != nil {
		return nil, err
	}
	name, evt := "model.allow_list_remove", "model.allow_list_removed"
	if add {
		name, evt = "model.allow_list_add", "model.allow_list_added"
	}
	var changed []string
	err = e.run(ctx, name, actor, runOpts{}, func(s *session) error {
		if _, err := s.modelForUpdate(modelID); err != nil {
			return err
		}
		for _, addr := range normalized {
			var ok bool
			var err error
			if add {
				ok, err = e.Repo.AddToAllowList(s.ctx, s.tx, modelID, addr)
			} else {
				ok, err = e.Repo.RemoveFromAllowList(s.ctx, s.tx, modelID, addr)
			}
			if err != nil {
				return err
			}
			if ok {
				changed = append(changed, addr)
			}
		}
		if len(changed) > 0 {
			s.emit(evt, "model", modelID, events.EventPayload{"addresses": changed})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changed, nil
}

// SetSolutionModelFeePercentageOverride replaces the global model fee cut for one model.
func (e Engine) SetSolutionModelFeePercentageOverride(ctx context.Context, actor, modelID string, pct math.LegacyDec) error {
	if pct.IsNil() || pct.IsNegative() {
		return errorsmod.Wrap(ErrInvalidParameter, "percentage must not be negative")
	}
	if pct.GT(math.LegacyOneDec()) {
		return errorsmod.Wrapf(ErrPercentageTooHigh, "%s", pct)
	}
	return e.run(ctx, "model.set_fee_override", actor, runOpts{}, func(s *session) error {
		if err := s.requireRole(auth.RoleOwner); err != nil {
			return err
		}
		if _, err := s.model(modelID); err != nil {
			return err
		}
		if err := e.Repo.UpdateModelFeeOverride(s.ctx, s.tx, modelID, &pct); err != nil {
			return err
		}
		s.emit("model.fee_override_set", "model", modelID, events.EventPayload{"percentage": pct.String()})
		return nil
	})
}

func (e Engine) ClearSolutionModelFeePercentageOverride(ctx context.Context, actor, modelID string) error {
	return e.run(ctx, "model.clear_fee_override", actor, runOpts{}, func(s *session) error {
		if err := s.requireRole(auth.RoleOwner); err != nil {
			return err
		}
		if _, err := s.model(modelID); err != nil {
			return err
		}
		if err := e.Repo.UpdateModelFeeOverride(s.ctx, s.tx, modelID, nil); err != nil {
			return err
		}
		s.emit("model.fee_override_cleared", "model", modelID, nil)
		return nil
	})
}

func (e Engine) GetModel(ctx context.Context, id string) (domain.Model, error) {
	m, err := e.Repo.GetModel(ctx, nil, id)
	if errors.Is(err, repo.ErrNotFound) {
		return m, errorsmod.Wrap(ErrModelNotFound, id)
	}
	return m, err
}

func (e Engine) ListModels(ctx context.Context, owner string) ([]domain.Model, error) {
	return e.Repo.ListModels(ctx, owner)
}

func (e Engine) ModelAllowList(ctx context.Context, id string) ([]string, error) {
	if _, err := e.GetModel(ctx, id); err != nil {
		return nil, err
	}
	return e.Repo.ListAllowList(ctx, id)
}

// IsAllowedForModel is true for everyone unless the model requires an allow list.
func (e Engine) IsAllowedForModel(ctx context.Context, modelID, addr string) (bool, error) {
	m, err := e.GetModel(ctx, modelID)
	if err != nil {
		return false, err
	}
	if !m.AllowListRequired {
		return true, nil
	}
	return e.Repo.IsOnAllowList(ctx, nil, modelID, addr)
}

func (e Engine) HasSolutionModelFeePercentageOverride(ctx context.Context, modelID string) (bool, error) {
	m, err := e.GetModel(ctx, modelID)
	if err != nil {
		return false, err
	}
	return m.FeePercentOverride != nil, nil
}

// ModelFeePercentage is the cut the treasury takes from the model fee at claim time.
func (e Engine) ModelFeePercentage(ctx context.Context, modelID string) (math.LegacyDec, error) {
	m, err := e.GetModel(ctx, modelID)
	if err != nil {
		return math.LegacyDec{}, err
	}
	p, err := e.Repo.GetParams(ctx, nil)
	if err != nil {
		return math.LegacyDec{}, err
	}
	return modelFeePercentage(m, p), nil
}

func modelFeePercentage(m domain.Model, p domain.Params) math.LegacyDec {
	if m.FeePercentOverride != nil {
		return *m.FeePercentOverride
	}
	return p.SolutionModelFeePercentage
}
