package engine_test

import (
	"context"
	"testing"
	"time"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"taskmarket/internal/config"
	"taskmarket/internal/db"
	"taskmarket/internal/domain"
	"taskmarket/internal/election"
	"taskmarket/internal/engine"
	"taskmarket/internal/ledger"
	"taskmarket/internal/migrate"
)

var (
	owner     = domain.MustAddress(config.DefaultOwner)
	faucet    = domain.MustAddress("0x000000000000000000000000000000000000fa0c")
	filler    = domain.MustAddress("0x000000000000000000000000000000000000f111")
	modelOwn  = domain.MustAddress("0x0000000000000000000000000000000000000a0d")
	user      = domain.MustAddress("0x0000000000000000000000000000000000000b0b")
	valA      = domain.MustAddress("0x000000000000000000000000000000000000000a")
	valB      = domain.MustAddress("0x000000000000000000000000000000000000000b")
	valC      = domain.MustAddress("0x000000000000000000000000000000000000000c")
	stranger  = domain.MustAddress("0x0000000000000000000000000000000000000bad")
	template  = []byte(`{"model":"sdxl"}`)
	solutionC = "0x1220aaaa"
)

type market struct {
	ctx   context.Context
	eng   engine.Engine
	reg   *election.Registry
	token ledger.Token
	clock *time.Time
}

func newMarket(t require.TestingT, dir string) market {
	conn, err := db.Open(db.Config{Workspace: dir})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(conn))

	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }
	cfg := config.Default()
	token := ledger.Token{DB: conn}
	reg := election.New(conn, ledger.Positions{DB: conn}, 7*24*time.Hour, 3, 100)
	reg.Now = now
	eng := engine.New(conn, cfg, token, reg)
	eng.Now = now

	ctx := context.Background()
	require.NoError(t, eng.Bootstrap(ctx))
	require.NoError(t, reg.Bootstrap(ctx))
	require.NoError(t, token.AddMinter(ctx, faucet))
	return market{ctx: ctx, eng: eng, reg: reg, token: token, clock: &clock}
}

func newTestMarket(t *testing.T) market {
	t.Helper()
	m := newMarket(t, t.TempDir())
	t.Cleanup(func() { m.eng.DB.Close() })
	return m
}

func (m market) advance(d time.Duration) {
	*m.clock = m.clock.Add(d)
}

// fund mints amount to addr and approves the engine to spend it.
func (m market) fund(t require.TestingT, addr, amount string) {
	v := domain.MustAmount(amount)
	require.NoError(t, m.token.Mint(m.ctx, faucet, addr, v))
	allowance, err := m.token.Allowance(m.ctx, addr, m.eng.Address)
	require.NoError(t, err)
	require.NoError(t, m.token.Approve(m.ctx, addr, m.eng.Address, allowance.Add(v)))
}

// fillSupply mints to a bystander until total supply equals total tokens.
func (m market) fillSupply(t require.TestingT, total int64) {
	supply, err := m.token.TotalSupply(m.ctx)
	require.NoError(t, err)
	require.NoError(t, m.token.Mint(m.ctx, faucet, filler, domain.Tokens(total).Sub(supply)))
}

func (m market) balance(t require.TestingT, addr string) math.Int {
	b, err := m.token.BalanceOf(m.ctx, addr)
	require.NoError(t, err)
	return b
}

func (m market) staked(t require.TestingT, addr string) math.Int {
	v, err := m.eng.GetValidator(m.ctx, addr)
	require.NoError(t, err)
	return v.Staked
}

func (m market) deposit(t require.TestingT, addr, amount string) {
	_, err := m.eng.ValidatorDeposit(m.ctx, addr, addr, domain.MustAmount(amount))
	require.NoError(t, err)
}

func (m market) registerModel(t require.TestingT, fee string) domain.Model {
	model, err := m.eng.RegisterModel(m.ctx, modelOwn, modelOwn, domain.MustAmount(fee), template)
	require.NoError(t, err)
	return model
}

func (m market) submitTask(t require.TestingT, modelID, fee string) domain.Task {
	task, err := m.eng.SubmitTask(m.ctx, user, engine.SubmitTaskOptions{Model: modelID, Fee: domain.MustAmount(fee), Input: []byte(`{"prompt":"cat"}`)})
	require.NoError(t, err)
	return task
}

// solve commits and reveals a solution one second apart.
func (m market) solve(t require.TestingT, validator, taskID string) domain.Solution {
	_, err := m.eng.SignalCommitment(m.ctx, validator, engine.GenerateCommitment(validator, taskID, solutionC))
	require.NoError(t, err)
	m.advance(time.Second)
	sol, err := m.eng.SubmitSolution(m.ctx, validator, taskID, solutionC)
	require.NoError(t, err)
	return sol
}

func (m market) requireHeld(t require.TestingT) {
	require.NoError(t, m.eng.CheckHeld(m.ctx))
}

func amt(s string) math.Int { return domain.MustAmount(s) }

func requireAmount(t require.TestingT, want string, got math.Int) {
	require.True(t, amt(want).Equal(got), "want %s, got %s", want, domain.FormatAmount(got))
}

func TestUncontestedClaimSplitsFees(t *testing.T) {
	m := newTestMarket(t)
	m.fund(t, user, "1")
	m.fund(t, valA, "10")
	m.deposit(t, valA, "2.4")
	model := m.registerModel(t, "0.1")
	task := m.submitTask(t, model.ID, "0.3")
	requireAmount(t, "0.7", m.balance(t, user))

	sol := m.solve(t, valA, task.ID)
	require.Equal(t, domain.SolutionSubmitted, sol.Status)
	requireAmount(t, "2.399", m.staked(t, valA))

	code, err := m.eng.ValidatorCanVote(m.ctx, valA, task.ID)
	require.NoError(t, err)
	require.Equal(t, engine.CannotVoteNoContest, code)

	err = m.eng.ClaimSolution(m.ctx, stranger, task.ID)
	require.ErrorIs(t, err, engine.ErrClaimTooEarly)

	m.advance(time.Hour)
	require.NoError(t, m.eng.ClaimSolution(m.ctx, stranger, task.ID))

	requireAmount(t, "0.09", m.balance(t, modelOwn))
	requireAmount(t, "7.78", m.balance(t, valA))
	requireAmount(t, "2.4", m.staked(t, valA))
	st, err := m.eng.MarketState(m.ctx)
	require.NoError(t, err)
	requireAmount(t, "0.03", st.AccruedFees)
	m.requireHeld(t)

	err = m.eng.ClaimSolution(m.ctx, stranger, task.ID)
	require.ErrorIs(t, err, engine.ErrAlreadyClaimed)

	got, err := m.eng.GetSolution(m.ctx, task.ID)
	require.NoError(t, err)
	require.True(t, got.Claimed)
	require.Equal(t, domain.SolutionClaimed, got.Status)

	paid, err := m.eng.WithdrawAccruedFees(m.ctx, stranger)
	require.NoError(t, err)
	requireAmount(t, "0.03", paid)
	p, err := m.eng.Params(m.ctx)
	require.NoError(t, err)
	requireAmount(t, "0.03", m.balance(t, p.Treasury))
	_, err = m.eng.WithdrawAccruedFees(m.ctx, stranger)
	require.ErrorIs(t, err, engine.ErrNoFeesAccrued)
	m.requireHeld(t)
}

func TestClaimUsesFeeAtClaimTime(t *testing.T) {
	m := newTestMarket(t)
	m.fund(t, user, "1")
	m.fund(t, valA, "10")
	m.deposit(t, valA, "2.4")
	model := m.registerModel(t, "0.1")
	task := m.submitTask(t, model.ID, "0.3")
	m.solve(t, valA, task.ID)

	require.NoError(t, m.eng.SetModelFee(m.ctx, modelOwn, model.ID, amt("0.2")))
	m.advance(time.Hour)
	require.NoError(t, m.eng.ClaimSolution(m.ctx, valA, task.ID))

	requireAmount(t, "0.18", m.balance(t, modelOwn))
	requireAmount(t, "7.69", m.balance(t, valA))
	m.requireHeld(t)
}

func TestFeeOverrideAppliesToModelCut(t *testing.T) {
	m := newTestMarket(t)
	m.fund(t, user, "1")
	m.fund(t, valA, "10")
	m.deposit(t, valA, "2.4")
	model := m.registerModel(t, "0.1")

	err := m.eng.SetSolutionModelFeePercentageOverride(m.ctx, owner, model.ID, math.LegacyMustNewDecFromStr("1.5"))
	require.ErrorIs(t, err, engine.ErrPercentageTooHigh)
	require.NoError(t, m.eng.SetSolutionModelFeePercentageOverride(m.ctx, owner, model.ID, math.LegacyMustNewDecFromStr("0.5")))
	has, err := m.eng.HasSolutionModelFeePercentageOverride(m.ctx, model.ID)
	require.NoError(t, err)
	require.True(t, has)

	task := m.submitTask(t, model.ID, "0.1")
	m.solve(t, valA, task.ID)
	m.advance(time.Hour)
	require.NoError(t, m.eng.ClaimSolution(m.ctx, valA, task.ID))
	requireAmount(t, "0.05", m.balance(t, modelOwn))

	require.NoError(t, m.eng.ClearSolutionModelFeePercentageOverride(m.ctx, owner, model.ID))
	pct, err := m.eng.ModelFeePercentage(m.ctx, model.ID)
	require.NoError(t, err)
	require.True(t, math.LegacyMustNewDecFromStr("0.1").Equal(pct))
}

func TestMineableRateMintsRewards(t *testing.T) {
	m := newTestMarket(t)
	m.fund(t, user, "1")
	m.fund(t, valA, "10")
	m.deposit(t, valA, "2.4")
	model := m.registerModel(t, "0")
	require.NoError(t, m.eng.SetSolutionMineableRate(m.ctx, owner, model.ID, math.LegacyOneDec()))
	task := m.submitTask(t, model.ID, "0")
	m.solve(t, valA, task.ID)
	m.advance(time.Hour)

	before, err := m.token.TotalSupply(m.ctx)
	require.NoError(t, err)
	require.NoError(t, m.eng.ClaimSolution(m.ctx, valA, task.ID))
	after, err := m.token.TotalSupply(m.ctx)
	require.NoError(t, err)

	minted := after.Sub(before)
	require.True(t, minted.IsPositive())
	p, err := m.eng.Params(m.ctx)
	require.NoError(t, err)
	treasury := m.balance(t, p.Treasury)
	taskOwner := m.balance(t, user).Sub(amt("1"))
	validator := m.staked(t, valA).Sub(amt("2.4"))
	require.True(t, treasury.IsPositive())
	require.True(t, treasury.Equal(taskOwner))
	require.True(t, minted.Equal(treasury.Add(taskOwner).Add(validator)))
	m.requireHeld(t)
}

func TestRateChangeRequiresOwner(t *testing.T) {
	m := newTestMarket(t)
	model := m.registerModel(t, "0.1")
	err := m.eng.SetSolutionMineableRate(m.ctx, modelOwn, model.ID, math.LegacyOneDec())
	require.Error(t, err)
	require.ErrorContains(t, err, "role owner required")

	err = m.eng.SetModelFee(m.ctx, stranger, model.ID, amt("1"))
	require.ErrorIs(t, err, engine.ErrNotModelOwner)
	require.NoError(t, m.eng.SetModelFee(m.ctx, owner, model.ID, amt("1")))

	require.NoError(t, m.eng.SetModelAddr(m.ctx, modelOwn, model.ID, stranger))
	got, err := m.eng.GetModel(m.ctx, model.ID)
	require.NoError(t, err)
	require.Equal(t, stranger, got.Owner)
	requireAmount(t, "1", got.Fee)

	_, err = m.eng.RegisterModel(m.ctx, modelOwn, modelOwn, amt("0.1"), template)
	require.ErrorIs(t, err, engine.ErrModelExists)
}

func TestSolutionRequiresAgedCommitment(t *testing.T) {
	m := newTestMarket(t)
	m.fund(t, user, "1")
	m.fund(t, valA, "10")
	m.deposit(t, valA, "2.4")
	model := m.registerModel(t, "0")
	task := m.submitTask(t, model.ID, "0")

	_, err := m.eng.SubmitSolution(m.ctx, valA, task.ID, solutionC)
	require.ErrorIs(t, err, engine.ErrCommitmentNotFound)

	hash := engine.GenerateCommitment(valA, task.ID, "0xother")
	_, err = m.eng.SignalCommitment(m.ctx, valA, hash)
	require.NoError(t, err)
	_, err = m.eng.SignalCommitment(m.ctx, valA, hash)
	require.ErrorIs(t, err, engine.ErrCommitmentExists)
	m.advance(time.Second)
	_, err = m.eng.SubmitSolution(m.ctx, valA, task.ID, solutionC)
	require.ErrorIs(t, err, engine.ErrCommitmentNotFound)

	_, err = m.eng.SubmitSolution(m.ctx, valA, task.ID, "0xother")
	require.NoError(t, err)
	m.advance(time.Second)
	_, err = m.eng.SubmitSolution(m.ctx, valA, task.ID, "0xother")
	require.ErrorIs(t, err, engine.ErrSolutionExists)
	require.NoError(t, m.eng.SuggestContestation(m.ctx, valA, task.ID))
}

func TestSolutionPreconditions(t *testing.T) {
	m := newTestMarket(t)
	m.fund(t, user, "1")
	m.fund(t, valA, "10")
	model := m.registerModel(t, "0")
	task := m.submitTask(t, model.ID, "0")

	_, err := m.eng.SubmitSolution(m.ctx, valA, task.ID, solutionC)
	require.ErrorIs(t, err, engine.ErrNotValidator)

	m.deposit(t, valA, "2.4")
	_, err = m.eng.SubmitSolution(m.ctx, valA, "0x00", solutionC)
	require.ErrorIs(t, err, engine.ErrTaskNotFound)

	m.solve(t, valA, task.ID)
	other := m.submitTask(t, model.ID, "0")
	_, err = m.eng.SignalCommitment(m.ctx, valA, engine.GenerateCommitment(valA, other.ID, solutionC))
	require.NoError(t, err)
	_, err = m.eng.SubmitSolution(m.ctx, valA, other.ID, solutionC)
	require.ErrorIs(t, err, engine.ErrRateLimited)
	m.advance(time.Second)
	_, err = m.eng.SubmitSolution(m.ctx, valA, other.ID, solutionC)
	require.NoError(t, err)
}

func TestAllowListGatesSolutions(t *testing.T) {
	m := newTestMarket(t)
	m.fund(t, user, "1")
	m.fund(t, valA, "10")
	m.deposit(t, valA, "2.4")
	model, err := m.eng.RegisterModelWithAllowList(m.ctx, modelOwn, modelOwn, amt("0"), template, nil)
	require.NoError(t, err)
	task := m.submitTask(t, model.ID, "0")

	_, err = m.eng.SignalCommitment(m.ctx, valA, engine.GenerateCommitment(valA, task.ID, solutionC))
	require.NoError(t, err)
	m.advance(time.Second)
	_, err = m.eng.SubmitSolution(m.ctx, valA, task.ID, solutionC)
	require.ErrorIs(t, err, engine.ErrNotAllowed)

	added, err := m.eng.AddToModelAllowList(m.ctx, modelOwn, model.ID, []string{valA})
	require.NoError(t, err)
	require.Equal(t, []string{valA}, added)
	added, err = m.eng.AddToModelAllowList(m.ctx, modelOwn, model.ID, []string{valA})
	require.NoError(t, err)
	require.Empty(t, added)

	ok, err := m.eng.IsAllowedForModel(m.ctx, model.ID, valA)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = m.eng.IsAllowedForModel(m.ctx, model.ID, valB)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = m.eng.SubmitSolution(m.ctx, valA, task.ID, solutionC)
	require.NoError(t, err)

	removed, err := m.eng.RemoveFromModelAllowList(m.ctx, modelOwn, model.ID, []string{valA, valB})
	require.NoError(t, err)
	require.Equal(t, []string{valA}, removed)
	list, err := m.eng.ModelAllowList(m.ctx, model.ID)
	require.NoError(t, err)
	require.Empty(t, list)

	require.NoError(t, m.eng.SetModelAllowListRequired(m.ctx, modelOwn, model.ID, false))
	ok, err = m.eng.IsAllowedForModel(m.ctx, model.ID, valB)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestBulkSubmitTaskChainsIDs(t *testing.T) {
	m := newTestMarket(t)
	m.fund(t, user, "1")
	model := m.registerModel(t, "0.1")

	_, err := m.eng.BulkSubmitTask(m.ctx, user, engine.SubmitTaskOptions{Model: model.ID, Fee: amt("0.1")}, 0)
	require.ErrorIs(t, err, engine.ErrInvalidCount)
	_, err = m.eng.SubmitTask(m.ctx, user, engine.SubmitTaskOptions{Model: model.ID, Fee: amt("0.05")})
	require.ErrorIs(t, err, engine.ErrFeeBelowModelFee)

	tasks, err := m.eng.BulkSubmitTask(m.ctx, user, engine.SubmitTaskOptions{Model: model.ID, Fee: amt("0.1")}, 5)
	require.NoError(t, err)
	require.Len(t, tasks, 5)
	seen := map[string]bool{}
	for _, task := range tasks {
		require.False(t, seen[task.ID])
		seen[task.ID] = true
		require.Equal(t, user, task.Owner)
	}
	requireAmount(t, "0.5", m.balance(t, user))
	st, err := m.eng.MarketState(m.ctx)
	require.NoError(t, err)
	require.Equal(t, tasks[4].ID, st.LastTaskID)
	m.requireHeld(t)
}

func TestBulkSubmitSolutionScalesRateLimit(t *testing.T) {
	m := newTestMarket(t)
	m.fund(t, user, "1")
	m.fund(t, valA, "10")
	m.deposit(t, valA, "2.4")
	require.NoError(t, m.eng.SetParameter(m.ctx, owner, domain.ParamSolutionRateLimit, "10"))
	model := m.registerModel(t, "0")
	tasks, err := m.eng.BulkSubmitTask(m.ctx, user, engine.SubmitTaskOptions{Model: model.ID, Fee: amt("0")}, 3)
	require.NoError(t, err)
	ids := make([]string, 0, len(tasks))
	cids := make([]string, 0, len(tasks))
	for _, task := range tasks {
		_, err := m.eng.SignalCommitment(m.ctx, valA, engine.GenerateCommitment(valA, task.ID, solutionC))
		require.NoError(t, err)
		ids = append(ids, task.ID)
		cids = append(cids, solutionC)
	}
	m.advance(20 * time.Second)
	sols, err := m.eng.BulkSubmitSolution(m.ctx, valA, ids[:2], cids[:2])
	require.NoError(t, err)
	require.Len(t, sols, 2)

	m.advance(15 * time.Second)
	_, err = m.eng.BulkSubmitSolution(m.ctx, valA, ids[2:], cids[:2])
	require.ErrorIs(t, err, engine.ErrInvalidCount)
	_, err = m.eng.BulkSubmitSolution(m.ctx, valA, append(ids[2:], ids[2]), cids[:2])
	require.ErrorIs(t, err, engine.ErrRateLimited)
	_, err = m.eng.BulkSubmitSolution(m.ctx, valA, ids[2:], cids[2:])
	require.NoError(t, err)
	requireAmount(t, "2.397", m.staked(t, valA))
}

// contested sets up three 2.4-token validators in a 3000-token supply, with A
// solving a task and B contesting it.
func contested(t require.TestingT, m market) domain.Task {
	m.fund(t, user, "1")
	for _, v := range []string{valA, valB, valC} {
		m.fund(t, v, "2.4")
		m.deposit(t, v, "2.4")
	}
	m.fillSupply(t, 3000)
	model := m.registerModel(t, "0.1")
	task := m.submitTask(t, model.ID, "0.3")
	m.solve(t, valA, task.ID)
	m.advance(10 * time.Second)
	_, err := m.eng.SubmitContestation(m.ctx, valB, task.ID)
	require.NoError(t, err)
	return task
}

func TestContestationUpheld(t *testing.T) {
	m := newTestMarket(t)
	task := contested(t, m)

	st, err := m.eng.Status(m.ctx)
	require.NoError(t, err)
	require.True(t, st.SlashingMode)
	requireAmount(t, "0.3", st.SlashAmount)

	err = m.eng.ClaimSolution(m.ctx, valA, task.ID)
	require.ErrorIs(t, err, engine.ErrContestationExists)

	m.advance(10 * time.Second)
	code, err := m.eng.ValidatorCanVote(m.ctx, valC, task.ID)
	require.NoError(t, err)
	require.Equal(t, engine.CanVote, code)
	require.NoError(t, m.eng.VoteOnContestation(m.ctx, valC, task.ID, true))
	code, err = m.eng.ValidatorCanVote(m.ctx, valC, task.ID)
	require.NoError(t, err)
	require.Equal(t, engine.CannotVoteVoted, code)

	_, err = m.eng.ContestationVoteFinish(m.ctx, stranger, task.ID, 10)
	require.ErrorIs(t, err, engine.ErrVotingOpen)

	m.advance(10 * time.Minute)
	res, err := m.eng.ContestationVoteFinish(m.ctx, stranger, task.ID, 10)
	require.NoError(t, err)
	require.True(t, res.Resolved)
	require.Equal(t, domain.OutcomeUpheld, res.Outcome)

	requireAmount(t, "2.099", m.staked(t, valA))
	requireAmount(t, "2.401", m.staked(t, valB))
	requireAmount(t, "2.4", m.staked(t, valC))
	requireAmount(t, "0.15", m.balance(t, valB))
	requireAmount(t, "0.15", m.balance(t, valC))
	requireAmount(t, "1", m.balance(t, user))

	sol, err := m.eng.GetSolution(m.ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SolutionContestUpheld, sol.Status)
	solver, err := m.eng.GetValidator(m.ctx, valA)
	require.NoError(t, err)
	require.Equal(t, m.clock.Unix(), solver.LastContestationLossAt)

	_, err = m.eng.ContestationVoteFinish(m.ctx, stranger, task.ID, 10)
	require.ErrorIs(t, err, engine.ErrContestationResolved)
	m.requireHeld(t)
}

func TestContestationRejectedWithoutQuorum(t *testing.T) {
	m := newTestMarket(t)
	task := contested(t, m)
	m.advance(10 * time.Minute)

	code, err := m.eng.ValidatorCanVote(m.ctx, valC, task.ID)
	require.NoError(t, err)
	require.Equal(t, engine.CannotVoteClosed, code)
	err = m.eng.VoteOnContestation(m.ctx, valC, task.ID, true)
	require.ErrorIs(t, err, engine.ErrVotingClosed)

	res, err := m.eng.ContestationVoteFinish(m.ctx, stranger, task.ID, 100)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeRejected, res.Outcome)

	// Solver gets its slash back plus the contestor's slash, and the claim payout.
	requireAmount(t, "2.4", m.staked(t, valA))
	requireAmount(t, "0.48", m.balance(t, valA))
	requireAmount(t, "2.1", m.staked(t, valB))
	requireAmount(t, "0.09", m.balance(t, modelOwn))
	sol, err := m.eng.GetSolution(m.ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SolutionContestRejected, sol.Status)
	m.requireHeld(t)
}

func TestContestationPreconditions(t *testing.T) {
	m := newTestMarket(t)
	task := contested(t, m)

	_, err := m.eng.SubmitContestation(m.ctx, valC, task.ID)
	require.ErrorIs(t, err, engine.ErrContestationExists)

	model := m.registerModel(t, "0")
	other := m.submitTask(t, model.ID, "0")
	m.advance(time.Second)
	m.solve(t, valC, other.ID)
	_, err = m.eng.SubmitContestation(m.ctx, valC, other.ID)
	require.ErrorIs(t, err, engine.ErrSelfContestation)
	_, err = m.eng.SubmitContestation(m.ctx, stranger, other.ID)
	require.ErrorIs(t, err, engine.ErrNotValidator)
	require.NoError(t, m.eng.SuggestContestation(m.ctx, stranger, other.ID))
	err = m.eng.SuggestContestation(m.ctx, stranger, task.ID)
	require.ErrorIs(t, err, engine.ErrContestationExists)

	m.advance(time.Hour)
	_, err = m.eng.SubmitContestation(m.ctx, valB, other.ID)
	require.ErrorIs(t, err, engine.ErrContestationWindowClosed)

	_, err = m.eng.ContestationVoteFinish(m.ctx, stranger, task.ID, 0)
	require.ErrorIs(t, err, engine.ErrInvalidIterations)
	code, err := m.eng.ValidatorCanVote(m.ctx, valC, other.ID)
	require.NoError(t, err)
	require.Equal(t, engine.CannotVoteStake, code)
}

func TestMasterContesterWeight(t *testing.T) {
	m := newTestMarket(t)
	m.fund(t, user, "1")
	for _, v := range []string{valA, valB} {
		m.fund(t, v, "2.4")
		m.deposit(t, v, "2.4")
	}
	m.fillSupply(t, 3000)
	require.NoError(t, m.reg.EmergencyAddMasterContester(m.ctx, owner, stranger))

	model := m.registerModel(t, "0")
	task := m.submitTask(t, model.ID, "0.3")
	m.solve(t, valA, task.ID)
	_, err := m.eng.SubmitContestation(m.ctx, stranger, task.ID)
	require.NoError(t, err)

	votes, err := m.eng.ListContestationVotes(m.ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, votes, 2)
	require.Equal(t, int64(11), votes[0].Weight)
	require.True(t, votes[0].Auto)
	require.Equal(t, int64(1), votes[1].Weight)

	m.advance(10 * time.Minute)
	res, err := m.eng.ContestationVoteFinish(m.ctx, stranger, task.ID, 100)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeUpheld, res.Outcome)
	requireAmount(t, "1", m.balance(t, user))
	m.requireHeld(t)
}

func TestRecentLossBlocksClaim(t *testing.T) {
	m := newTestMarket(t)
	m.fund(t, user, "2")
	m.fund(t, valA, "2.5")
	m.deposit(t, valA, "2.5")
	for _, v := range []string{valB, valC} {
		m.fund(t, v, "2.4")
		m.deposit(t, v, "2.4")
	}
	m.fillSupply(t, 3000)
	model := m.registerModel(t, "0")
	first := m.submitTask(t, model.ID, "0")
	second := m.submitTask(t, model.ID, "0")
	m.solve(t, valA, first.ID)
	m.advance(time.Second)
	m.solve(t, valA, second.ID)

	_, err := m.eng.SubmitContestation(m.ctx, valB, first.ID)
	require.NoError(t, err)
	require.NoError(t, m.eng.VoteOnContestation(m.ctx, valC, first.ID, true))
	m.advance(10 * time.Minute)
	res, err := m.eng.ContestationVoteFinish(m.ctx, stranger, first.ID, 100)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeUpheld, res.Outcome)

	m.advance(time.Hour)
	err = m.eng.ClaimSolution(m.ctx, stranger, second.ID)
	require.ErrorIs(t, err, engine.ErrRecentContestationLoss)
}

func TestValidatorWithdrawFlow(t *testing.T) {
	m := newTestMarket(t)
	m.fund(t, valA, "5")
	m.deposit(t, valA, "5")

	_, err := m.eng.InitiateValidatorWithdraw(m.ctx, valA, amt("6"))
	require.ErrorIs(t, err, engine.ErrInsufficientStake)
	w, err := m.eng.InitiateValidatorWithdraw(m.ctx, valA, amt("3"))
	require.NoError(t, err)
	require.Equal(t, int64(1), w.Count)
	v, err := m.eng.GetValidator(m.ctx, valA)
	require.NoError(t, err)
	requireAmount(t, "2", v.Available())

	_, err = m.eng.ValidatorWithdraw(m.ctx, valA, w.Count, valA)
	require.ErrorIs(t, err, engine.ErrWithdrawalLocked)
	require.NoError(t, m.eng.CancelValidatorWithdraw(m.ctx, valA, w.Count))
	v, err = m.eng.GetValidator(m.ctx, valA)
	require.NoError(t, err)
	requireAmount(t, "5", v.Available())
	err = m.eng.CancelValidatorWithdraw(m.ctx, valA, w.Count)
	require.ErrorIs(t, err, engine.ErrWithdrawalNotFound)

	w, err = m.eng.InitiateValidatorWithdraw(m.ctx, valA, amt("1"))
	require.NoError(t, err)
	m.advance(72 * time.Hour)
	paid, err := m.eng.ValidatorWithdraw(m.ctx, valA, w.Count, stranger)
	require.NoError(t, err)
	requireAmount(t, "1", paid)
	requireAmount(t, "1", m.balance(t, stranger))
	requireAmount(t, "4", m.staked(t, valA))
	list, err := m.eng.ListWithdrawals(m.ctx, valA)
	require.NoError(t, err)
	require.Empty(t, list)
	m.requireHeld(t)
}

func TestPauseBlocksMarket(t *testing.T) {
	m := newTestMarket(t)
	m.fund(t, user, "1")
	model := m.registerModel(t, "0")

	err := m.eng.SetPaused(m.ctx, stranger, true)
	require.ErrorContains(t, err, "role owner required")
	require.NoError(t, m.eng.GrantRole(m.ctx, owner, stranger, "pauser"))
	require.NoError(t, m.eng.SetPaused(m.ctx, stranger, true))

	_, err = m.eng.SubmitTask(m.ctx, user, engine.SubmitTaskOptions{Model: model.ID, Fee: amt("0")})
	require.ErrorIs(t, err, engine.ErrPaused)
	require.NoError(t, m.eng.SetPaused(m.ctx, owner, false))
	_, err = m.eng.SubmitTask(m.ctx, user, engine.SubmitTaskOptions{Model: model.ID, Fee: amt("0")})
	require.NoError(t, err)

	err = m.eng.RevokeRole(m.ctx, owner, owner, "owner")
	require.ErrorIs(t, err, engine.ErrInvalidParameter)
}

func TestSetParameterValidates(t *testing.T) {
	m := newTestMarket(t)
	err := m.eng.SetParameter(m.ctx, owner, domain.ParamSolutionFeePercentage, "1.2")
	require.ErrorIs(t, err, engine.ErrInvalidParameter)
	err = m.eng.SetParameter(m.ctx, owner, "bogus", "1")
	require.ErrorIs(t, err, engine.ErrInvalidParameter)

	require.NoError(t, m.eng.SetSolutionStakeAmount(m.ctx, owner, amt("0.5")))
	require.NoError(t, m.eng.SetMasterContesterVoteAdder(m.ctx, owner, 3))
	p, err := m.eng.Params(m.ctx)
	require.NoError(t, err)
	requireAmount(t, "0.5", p.SolutionStakeAmount)
	require.Equal(t, int64(3), p.MasterContesterVoteAdder)

	err = m.eng.SetMasterContesterVoteAdder(m.ctx, owner, domain.MaxMasterContesterVoteAdder+1)
	require.ErrorIs(t, err, engine.ErrInvalidParameter)
	err = m.eng.SetParameter(m.ctx, owner, domain.ParamMasterContesterVoteAdder, "501")
	require.ErrorIs(t, err, engine.ErrInvalidParameter)
	require.NoError(t, m.eng.SetMasterContesterVoteAdder(m.ctx, owner, domain.MaxMasterContesterVoteAdder))

	err = m.eng.SetSolutionStakeAmount(m.ctx, stranger, amt("1"))
	require.Error(t, err)
}

func TestEveryOperationAdvancesHeight(t *testing.T) {
	m := newTestMarket(t)
	before, err := m.eng.MarketState(m.ctx)
	require.NoError(t, err)
	m.registerModel(t, "0")
	_, err = m.eng.SignalCommitment(m.ctx, valA, engine.GenerateCommitment(valA, "0x01", solutionC))
	require.NoError(t, err)
	after, err := m.eng.MarketState(m.ctx)
	require.NoError(t, err)
	require.Equal(t, before.Height+2, after.Height)

	_, err = m.eng.SignalCommitment(m.ctx, valA, "0x1234")
	require.ErrorIs(t, err, engine.ErrInvalidHash)
	unchanged, err := m.eng.MarketState(m.ctx)
	require.NoError(t, err)
	require.Equal(t, after.Height, unchanged.Height)
}
