package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/math"
	"github.com/rs/zerolog"

	"taskmarket/internal/config"
	"taskmarket/internal/db"
	"taskmarket/internal/domain"
	"taskmarket/internal/engine/auth"
	"taskmarket/internal/events"
	"taskmarket/internal/metrics"
	"taskmarket/internal/repo"
)

// TokenLedger is the fungible token the market escrows, pays and mints.
type TokenLedger interface {
	BalanceOf(ctx context.Context, addr string) (math.Int, error)
	TotalSupply(ctx context.Context) (math.Int, error)
	Transfer(ctx context.Context, from, to string, amount math.Int) error
	TransferFrom(ctx context.Context, spender, from, to string, amount math.Int) error
	Mint(ctx context.Context, minter, to string, amount math.Int) error
}

// MasterContesters answers whether an address is an elected arbitrator.
type MasterContesters interface {
	IsMasterContester(ctx context.Context, addr string) (bool, error)
}

type Engine struct {
	DB         *sql.DB
	Repo       repo.Repo
	Events     events.Writer
	Auth       auth.Service
	Config     *config.Config
	Token      TokenLedger
	Contesters MasterContesters
	Slashing   SlashingCurve
	Metrics    *metrics.Metrics
	Log        zerolog.Logger
	// Address is the engine's own ledger account.
	Address string
	Now     func() time.Time
}

func New(conn *sql.DB, cfg *config.Config, token TokenLedger, contesters MasterContesters) Engine {
	e := Engine{
		DB:         conn,
		Repo:       repo.Repo{DB: conn},
		Events:     events.Writer{DB: conn},
		Auth:       auth.Service{DB: conn},
		Config:     cfg,
		Token:      token,
		Contesters: contesters,
		Metrics:    metrics.Default(),
		Log:        zerolog.Nop(),
		Now:        time.Now,
	}
	if cfg != nil {
		e.Address, _ = domain.NormalizeAddress(cfg.Market.EngineAddress)
	}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Bootstrap seeds parameters, market state and the owner role. It is idempotent:
// existing parameter values are kept.
func (e Engine) Bootstrap(ctx context.Context) error {
	if e.Config == nil {
		return errors.New("config not loaded")
	}
	params, err := e.Config.Params()
	if err != nil {
		return err
	}
	owner, err := domain.NormalizeAddress(e.Config.Market.Owner)
	if err != nil {
		return fmt.Errorf("market owner: %w", err)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureMarketState(ctx, tx, e.now().Unix()); err != nil {
		return fmt.Errorf("market state: %w", err)
	}
	if err := e.Repo.SeedParams(ctx, tx, params.Map()); err != nil {
		return err
	}
	if _, err := e.Auth.Grant(ctx, tx, owner, auth.RoleOwner); err != nil {
		return fmt.Errorf("grant owner: %w", err)
	}
	if m, ok := e.Token.(interface {
		AddMinter(ctx context.Context, addr string) error
	}); ok {
		if err := m.AddMinter(db.ContextWithTx(ctx, tx), e.Address); err != nil {
			return fmt.Errorf("register engine minter: %w", err)
		}
	}
	return tx.Commit()
}

type effectKind int

const (
	effectPull effectKind = iota
	effectPay
	effectMint
)

type effect struct {
	kind   effectKind
	addr   string
	amount math.Int
}

// session is the state of one engine transaction. Token movements are queued
// and applied after all state changes.
type session struct {
	e       Engine
	ctx     context.Context
	tx      *sql.Tx
	actor   string
	block   int64
	now     int64
	params  domain.Params
	state   domain.MarketState
	effects []effect
	evts    []events.Event
	slashed math.Int
	minted  math.Int
}

type runOpts struct {
	allowPaused bool
}

func (e Engine) run(ctx context.Context, name, actor string, opts runOpts, fn func(s *session) error) (err error) {
	defer func() { e.Metrics.ObserveOp(name, err) }()
	if e.Token == nil {
		return errors.New("token ledger not configured")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	s := &session{
		e:       e,
		ctx:     db.ContextWithTx(ctx, tx),
		tx:      tx,
		actor:   actor,
		now:     e.now().Unix(),
		slashed: math.ZeroInt(),
		minted:  math.ZeroInt(),
	}
	if s.params, err = e.Repo.GetParams(ctx, tx); err != nil {
		return fmt.Errorf("load params: %w", err)
	}
	if s.params.Paused && !opts.allowPaused {
		return ErrPaused
	}
	if s.block, err = e.Repo.NextBlock(ctx, tx); err != nil {
		return err
	}
	if s.state, err = e.Repo.GetMarketState(ctx, tx); err != nil {
		return err
	}
	if err := fn(s); err != nil {
		return err
	}
	if err := s.applyEffects(); err != nil {
		return err
	}
	if err := e.Repo.UpdateMarketState(ctx, tx, s.state); err != nil {
		return err
	}
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	for _, evt := range s.evts {
		if err := w.Append(ctx, tx, evt); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if e.Metrics != nil {
		e.Metrics.BlockHeight.Set(float64(s.block))
		e.Metrics.TotalHeldTokens.Set(metrics.Tokens(s.state.TotalHeld))
		e.Metrics.SlashedTokens.Add(metrics.Tokens(s.slashed))
		e.Metrics.RewardedTokens.Add(metrics.Tokens(s.minted))
	}
	e.Log.Debug().Str("op", name).Str("actor", actor).Int64("block", s.block).Int("events", len(s.evts)).Msg("committed")
	return nil
}

func (s *session) emit(typ, kind, id string, payload events.EventPayload) {
	s.evts = append(s.evts, events.Event{Type: typ, Block: s.block, EntityKind: kind, EntityID: id, Actor: s.actor, Payload: payload})
}

// pull escrows amount from addr into the engine.
func (s *session) pull(from string, amount math.Int) {
	if amount.IsPositive() {
		s.effects = append(s.effects, effect{kind: effectPull, addr: from, amount: amount})
	}
}

// pay transfers amount held by the engine to addr.
func (s *session) pay(to string, amount math.Int) {
	if amount.IsPositive() {
		s.effects = append(s.effects, effect{kind: effectPay, addr: to, amount: amount})
	}
}

func (s *session) mint(to string, amount math.Int) {
	if amount.IsPositive() {
		s.effects = append(s.effects, effect{kind: effectMint, addr: to, amount: amount})
		s.minted = s.minted.Add(amount)
	}
}

func (s *session) applyEffects() error {
	engine := s.e.Address
	for _, eff := range s.effects {
		var err error
		switch eff.kind {
		case effectPull:
			err = s.e.Token.TransferFrom(s.ctx, engine, eff.addr, engine, eff.amount)
			if err == nil {
				s.state.TotalHeld = s.state.TotalHeld.Add(eff.amount)
			}
		case effectPay:
			err = s.e.Token.Transfer(s.ctx, engine, eff.addr, eff.amount)
			if err == nil {
				s.state.TotalHeld = s.state.TotalHeld.Sub(eff.amount)
			}
		case effectMint:
			err = s.e.Token.Mint(s.ctx, engine, eff.addr, eff.amount)
			if err == nil && eff.addr == engine {
				s.state.TotalHeld = s.state.TotalHeld.Add(eff.amount)
			}
		}
		if err != nil {
			return errorsmod.Wrapf(ErrLedger, "%s %s for %s: %v", effectName(eff.kind), domain.FormatAmount(eff.amount), eff.addr, err)
		}
	}
	s.effects = nil
	return nil
}

func effectName(k effectKind) string {
	switch k {
	case effectPull:
		return "escrow"
	case effectPay:
		return "transfer"
	default:
		return "mint"
	}
}

func (s *session) supply() (math.Int, error) {
	v, err := s.e.Token.TotalSupply(s.ctx)
	if err != nil {
		return math.Int{}, errorsmod.Wrapf(ErrLedger, "total supply: %v", err)
	}
	return v, nil
}

func validatorMinimum(supply math.Int, p domain.Params) math.Int {
	return math.LegacyNewDecFromInt(supply).Mul(p.ValidatorMinimumPercentage).TruncateInt()
}

func isActive(v domain.Validator, minimum math.Int) bool {
	avail := v.Available()
	return avail.IsPositive() && avail.GTE(minimum)
}

func (s *session) validatorMinimum() (math.Int, error) {
	supply, err := s.supply()
	if err != nil {
		return math.Int{}, err
	}
	return validatorMinimum(supply, s.params), nil
}

func (s *session) isMasterContester(addr string) (bool, error) {
	if s.e.Contesters == nil {
		return false, nil
	}
	return s.e.Contesters.IsMasterContester(s.ctx, addr)
}

func (s *session) requireRole(roles ...string) error {
	return s.e.Auth.Require(s.ctx, s.tx, s.actor, roles...)
}

func (s *session) model(id string) (domain.Model, error) {
	m, err := s.e.Repo.GetModel(s.ctx, s.tx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return m, errorsmod.Wrap(ErrModelNotFound, id)
	}
	return m, err
}

func (s *session) task(id string) (domain.Task, error) {
	t, err := s.e.Repo.GetTask(s.ctx, s.tx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return t, errorsmod.Wrap(ErrTaskNotFound, id)
	}
	return t, err
}

func (s *session) solution(taskID string) (domain.Solution, error) {
	sol, err := s.e.Repo.GetSolution(s.ctx, s.tx, taskID)
	if errors.Is(err, repo.ErrNotFound) {
		return sol, errorsmod.Wrap(ErrSolutionNotFound, taskID)
	}
	return sol, err
}

func (s *session) contestation(taskID string) (domain.Contestation, error) {
	c, err := s.e.Repo.GetContestation(s.ctx, s.tx, taskID)
	if errors.Is(err, repo.ErrNotFound) {
		return c, errorsmod.Wrap(ErrContestationNotFound, taskID)
	}
	return c, err
}

func normalizeAddress(s string) (string, error) {
	addr, err := domain.NormalizeAddress(s)
	if err != nil {
		return "", errorsmod.Wrap(ErrInvalidAddress, s)
	}
	return addr, nil
}

func requirePositive(what string, v math.Int) error {
	if v.IsNil() || !v.IsPositive() {
		return errorsmod.Wrapf(ErrInvalidAmount, "%s must be positive", what)
	}
	return nil
}

func requireNonNegative(what string, v math.Int) error {
	if v.IsNil() || v.IsNegative() {
		return errorsmod.Wrapf(ErrInvalidAmount, "%s must not be negative", what)
	}
	return nil
}

func minInt(a, b math.Int) math.Int {
	if a.LT(b) {
		return a
	}
	return b
}
