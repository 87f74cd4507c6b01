package engine_test

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"taskmarket/internal/domain"
	"taskmarket/internal/engine"
)

func voterAddr(i int) string {
	return domain.MustAddress(fmt.Sprintf("0x%040x", 0xe000+i))
}

type resolution struct {
	outcome    string
	yeaWeight  int64
	nayWeight  int64
	accrued    string
	stakes     map[string]string
	balances   map[string]string
	finishRuns int
}

// resolve contests a solution, adds one voter per entry of votes and finishes
// the contestation in batches of at most batch votes.
func resolve(t require.TestingT, m market, votes []bool, batch int64) resolution {
	voters := []string{valA, valB}
	for i := range votes {
		voters = append(voters, voterAddr(i))
	}
	m.fund(t, user, "1")
	for _, v := range voters {
		m.fund(t, v, "2.4")
		m.deposit(t, v, "2.4")
	}
	m.fillSupply(t, 3000)
	model := m.registerModel(t, "0.1")
	task := m.submitTask(t, model.ID, "0.3")
	m.solve(t, valA, task.ID)
	_, err := m.eng.SubmitContestation(m.ctx, valB, task.ID)
	require.NoError(t, err)
	for i, yea := range votes {
		require.NoError(t, m.eng.VoteOnContestation(m.ctx, voterAddr(i), task.ID, yea))
	}
	m.advance(time.Hour)

	res := resolution{stakes: map[string]string{}, balances: map[string]string{}}
	for {
		r, err := m.eng.ContestationVoteFinish(m.ctx, stranger, task.ID, batch)
		require.NoError(t, err)
		require.LessOrEqual(t, r.End-r.Start, batch)
		res.finishRuns++
		if r.Resolved {
			break
		}
	}
	c, err := m.eng.GetContestation(m.ctx, task.ID)
	require.NoError(t, err)
	res.outcome, res.yeaWeight, res.nayWeight = c.Outcome, c.YeaWeight, c.NayWeight
	st, err := m.eng.MarketState(m.ctx)
	require.NoError(t, err)
	res.accrued = st.AccruedFees.String()
	for _, v := range append(voters, user, modelOwn) {
		res.stakes[v] = m.staked(t, v).String()
		res.balances[v] = m.balance(t, v).String()
	}
	m.requireHeld(t)
	return res
}

func TestResolutionIndependentOfBatchSize(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		votes := rapid.SliceOfN(rapid.Bool(), 0, 4).Draw(rt, "votes")
		batch := rapid.Int64Range(1, 5).Draw(rt, "batch")

		single := newMarket(rt, t.TempDir())
		defer single.eng.DB.Close()
		batched := newMarket(rt, t.TempDir())
		defer batched.eng.DB.Close()

		want := resolve(rt, single, votes, 1000)
		got := resolve(rt, batched, votes, batch)
		require.Equal(rt, 1, want.finishRuns)
		want.finishRuns, got.finishRuns = 0, 0
		require.Equal(rt, want, got)
	})
}

func TestResolutionAcceptsUnboundedBatchAfterPartialRun(t *testing.T) {
	m := newTestMarket(t)
	m.fund(t, user, "1")
	for _, v := range []string{valA, valB, voterAddr(0)} {
		m.fund(t, v, "2.4")
		m.deposit(t, v, "2.4")
	}
	m.fillSupply(t, 3000)
	model := m.registerModel(t, "0.1")
	task := m.submitTask(t, model.ID, "0.3")
	m.solve(t, valA, task.ID)
	_, err := m.eng.SubmitContestation(m.ctx, valB, task.ID)
	require.NoError(t, err)
	require.NoError(t, m.eng.VoteOnContestation(m.ctx, voterAddr(0), task.ID, true))
	m.advance(time.Hour)

	r, err := m.eng.ContestationVoteFinish(m.ctx, stranger, task.ID, 1)
	require.NoError(t, err)
	require.False(t, r.Resolved)
	require.Equal(t, int64(1), r.End)

	r, err = m.eng.ContestationVoteFinish(m.ctx, stranger, task.ID, math.MaxInt64)
	require.NoError(t, err)
	require.True(t, r.Resolved)
	require.Equal(t, int64(1), r.Start)
	require.Equal(t, int64(6), r.End)

	c, err := m.eng.GetContestation(m.ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeUpheld, c.Outcome)
	require.Equal(t, int64(2), c.YeaWeight)
	require.Equal(t, int64(1), c.NayWeight)
	m.requireHeld(t)

	_, err = m.eng.ContestationVoteFinish(m.ctx, stranger, task.ID, math.MaxInt64)
	require.ErrorIs(t, err, engine.ErrContestationResolved)
}

func TestResolutionSplitsPoolAmongWinners(t *testing.T) {
	m := newTestMarket(t)
	// Three extra yea voters: contestor takes half the solver's slash, the
	// other three split the rest.
	res := resolve(t, m, []bool{true, true, true}, 2)
	require.Equal(t, domain.OutcomeUpheld, res.outcome)
	require.Equal(t, int64(4), res.yeaWeight)
	require.Equal(t, int64(1), res.nayWeight)
	require.Equal(t, 5, res.finishRuns)
	requireAmount(t, "0.15", m.balance(t, valB))
	requireAmount(t, "0.05", m.balance(t, voterAddr(0)))
	requireAmount(t, "0.05", m.balance(t, voterAddr(2)))
	requireAmount(t, "2.099", m.staked(t, valA))
}

func TestResolutionAccruesDust(t *testing.T) {
	m := newTestMarket(t)
	// 0.3 tokens: half to the contestor, 0.15 split seven ways leaves dust.
	res := resolve(t, m, []bool{true, true, true, true, true, true, true}, 3)
	require.Equal(t, domain.OutcomeUpheld, res.outcome)
	share := domain.MustAmount("0.15").QuoRaw(7)
	dust := domain.MustAmount("0.15").Sub(share.MulRaw(7))
	require.True(t, dust.IsPositive())
	require.Equal(t, share.String(), m.balance(t, voterAddr(6)).String())
	st, err := m.eng.MarketState(m.ctx)
	require.NoError(t, err)
	// 0.3 task fee refunded, so accrued fees are exactly the dust.
	require.Equal(t, dust.String(), st.AccruedFees.String())
	require.NoError(t, m.eng.CheckHeld(m.ctx))
}
