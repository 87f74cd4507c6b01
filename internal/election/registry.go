// Package election runs the epoch-based Master Contester election: token-weighted
// plurality voting whose top-K candidates become the elected set at each epoch end.
package election

import (
	"context"
	"database/sql"
	"errors"
	"time"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/math"
	"github.com/rs/zerolog"

	"taskmarket/internal/db"
	"taskmarket/internal/domain"
	"taskmarket/internal/engine/auth"
	"taskmarket/internal/events"
	"taskmarket/internal/metrics"
	"taskmarket/internal/repo"
)

const (
	SourceElection  = "election"
	SourceEmergency = "emergency"
)

// VotingPower reports weight and ownership of lock positions.
type VotingPower interface {
	BalanceOfPosition(ctx context.Context, id uint64) (math.Int, error)
	OwnerOfPosition(ctx context.Context, id uint64) (string, error)
}

type Registry struct {
	DB            *sql.DB
	Repo          repo.Repo
	Auth          auth.Service
	Events        events.Writer
	Power         VotingPower
	EpochDuration time.Duration
	InitialCount  int
	MaxCount      int
	Metrics       *metrics.Metrics
	Log           zerolog.Logger
	Now           func() time.Time
}

func New(conn *sql.DB, power VotingPower, epoch time.Duration, count, maxCount int) *Registry {
	return &Registry{
		DB:            conn,
		Repo:          repo.Repo{DB: conn},
		Auth:          auth.Service{DB: conn},
		Events:        events.Writer{DB: conn},
		Power:         power,
		EpochDuration: epoch,
		InitialCount:  count,
		MaxCount:      maxCount,
		Metrics:       metrics.Default(),
		Log:           zerolog.Nop(),
		Now:           time.Now,
	}
}

func (r *Registry) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Bootstrap creates the epoch-1 state on first use.
func (r *Registry) Bootstrap(ctx context.Context) error {
	now := r.now().Unix()
	if err := r.Repo.EnsureMarketState(ctx, nil, now); err != nil {
		return err
	}
	return r.Repo.EnsureElectionState(ctx, nil, now, r.InitialCount)
}

// op is the state shared by one registry transaction.
type op struct {
	ctx   context.Context
	tx    *sql.Tx
	block int64
	now   int64
	actor string
	state domain.ElectionState
	evts  []events.Event
}

func (o *op) emit(typ, kind, id string, payload events.EventPayload) {
	o.evts = append(o.evts, events.Event{Type: typ, Block: o.block, EntityKind: kind, EntityID: id, Actor: o.actor, Payload: payload})
}

func (r *Registry) run(ctx context.Context, name, actor string, fn func(o *op) error) (err error) {
	defer func() { r.Metrics.ObserveOp(name, err) }()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	o := &op{ctx: db.ContextWithTx(ctx, tx), tx: tx, now: r.now().Unix(), actor: actor}
	if o.block, err = r.Repo.NextBlock(ctx, tx); err != nil {
		return err
	}
	if o.state, err = r.Repo.GetElectionState(ctx, tx); err != nil {
		return err
	}
	if err := fn(o); err != nil {
		return err
	}
	if err := r.Repo.UpdateElectionState(ctx, tx, o.state); err != nil {
		return err
	}
	w := r.Events
	if w.Now == nil {
		w.Now = r.now
	}
	for _, evt := range o.evts {
		if err := w.Append(ctx, tx, evt); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if r.Metrics != nil {
		r.Metrics.ElectionEpoch.Set(float64(o.state.Epoch))
	}
	r.Log.Debug().Str("op", name).Str("actor", actor).Int64("block", o.block).Msg("election op committed")
	return nil
}

func (r *Registry) epochElapsed(st domain.ElectionState, now int64) bool {
	return now >= st.EpochStart+int64(r.EpochDuration/time.Second)
}

func (r *Registry) loadHeap(o *op) (*TopK, error) {
	stored, err := r.Repo.HeapEntries(o.ctx, o.tx)
	if err != nil {
		return nil, err
	}
	return LoadTopK(o.state.Count, stored), nil
}

func normalizeCandidates(candidates []string) ([]string, error) {
	if len(candidates) == 0 {
		return nil, ErrEmptyCandidates
	}
	seen := make(map[string]bool, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		addr, err := domain.NormalizeAddress(c)
		if err != nil {
			return nil, errorsmod.Wrap(ErrInvalidCandidate, c)
		}
		if seen[addr] {
			return nil, errorsmod.Wrap(ErrDuplicateCandidate, addr)
		}
		seen[addr] = true
		out = append(out, addr)
	}
	return out, nil
}

// Vote casts the weight of one position, split evenly across candidates.
func (r *Registry) Vote(ctx context.Context, actor string, candidates []string, positionID uint64) (domain.Ballot, error) {
	return r.cast(ctx, actor, candidates, []uint64{positionID})
}

// VoteMultiple casts the summed weight of several positions. No positions is a no-op.
func (r *Registry) VoteMultiple(ctx context.Context, actor string, candidates []string, positionIDs []uint64) (domain.Ballot, error) {
	if len(positionIDs) == 0 {
		return domain.Ballot{}, nil
	}
	return r.cast(ctx, actor, candidates, positionIDs)
}

func (r *Registry) cast(ctx context.Context, actor string, candidates []string, positionIDs []uint64) (domain.Ballot, error) {
	cands, err := normalizeCandidates(candidates)
	if err != nil {
		return domain.Ballot{}, err
	}
	var ballot domain.Ballot
	err = r.run(ctx, "election.vote", actor, func(o *op) error {
		if r.epochElapsed(o.state, o.now) {
			if err := r.finalize(o); err != nil {
				return err
			}
		}
		weight := math.ZeroInt()
		seen := map[uint64]bool{}
		for _, id := range positionIDs {
			if seen[id] {
				return errorsmod.Wrapf(ErrDuplicatePosition, "position %d", id)
			}
			seen[id] = true
			owner, err := r.Power.OwnerOfPosition(o.ctx, id)
			if err != nil {
				return errorsmod.Wrapf(ErrVotingPower, "owner of position %d: %v", id, err)
			}
			if owner != actor {
				return errorsmod.Wrapf(ErrNotTokenOwner, "position %d", id)
			}
			w, err := r.Power.BalanceOfPosition(o.ctx, id)
			if err != nil {
				return errorsmod.Wrapf(ErrVotingPower, "weight of position %d: %v", id, err)
			}
			weight = weight.Add(w)
		}
		if _, err := r.Repo.GetBallot(o.ctx, o.tx, o.state.Epoch, actor); err == nil {
			return errorsmod.Wrapf(ErrAlreadyVotedThisEpoch, "epoch %d", o.state.Epoch)
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		if !weight.IsPositive() {
			return ErrNoVotingPower
		}
		h, err := r.loadHeap(o)
		if err != nil {
			return err
		}
		if err := r.undo(o, h); err != nil {
			return err
		}
		share := weight.QuoRaw(int64(len(cands)))
		for _, c := range cands {
			cur, err := r.Repo.CandidateWeight(o.ctx, o.tx, c)
			if err != nil {
				return err
			}
			next := cur.Add(share)
			if err := r.Repo.SetCandidateWeight(o.ctx, o.tx, c, next); err != nil {
				return err
			}
			h.Update(c, next)
		}
		if err := r.Repo.ReplaceHeap(o.ctx, o.tx, h.Entries()); err != nil {
			return err
		}
		ballot = domain.Ballot{Epoch: o.state.Epoch, Voter: actor, Candidates: cands, Positions: positionIDs, Weight: weight, CastAt: o.now}
		if err := r.Repo.InsertBallot(o.ctx, o.tx, ballot); err != nil {
			return err
		}
		if err := r.Repo.SetLastBallot(o.ctx, o.tx, ballot); err != nil {
			return err
		}
		o.emit("election.vote_cast", "ballot", actor, events.EventPayload{
			"epoch": o.state.Epoch, "candidates": cands, "positions": positionIDs,
			"weight": weight.String(), "share": share.String(),
		})
		return nil
	})
	if err != nil {
		return domain.Ballot{}, err
	}
	if r.Metrics != nil {
		r.Metrics.ElectionVotes.Inc()
	}
	return ballot, nil
}

// undo subtracts the voter's previous ballot from its candidates.
func (r *Registry) undo(o *op, h *TopK) error {
	last, err := r.Repo.GetLastBallot(o.ctx, o.tx, o.actor)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(last.Candidates) == 0 {
		return nil
	}
	share := last.Weight.QuoRaw(int64(len(last.Candidates)))
	for _, c := range last.Candidates {
		cur, err := r.Repo.CandidateWeight(o.ctx, o.tx, c)
		if err != nil {
			return err
		}
		next := cur.Sub(share)
		if next.IsNegative() {
			next = math.ZeroInt()
		}
		if err := r.Repo.SetCandidateWeight(o.ctx, o.tx, c, next); err != nil {
			return err
		}
		h.Update(c, next)
	}
	o.emit("election.vote_undone", "ballot", o.actor, events.EventPayload{
		"epoch": last.Epoch, "candidates": last.Candidates, "weight": last.Weight.String(), "share": share.String(),
	})
	return nil
}

// FinalizeEpoch installs the heap members as the elected set and opens the next epoch.
func (r *Registry) FinalizeEpoch(ctx context.Context, actor string) (domain.ElectionState, error) {
	var st domain.ElectionState
	err := r.run(ctx, "election.finalize", actor, func(o *op) error {
		if !r.epochElapsed(o.state, o.now) {
			return errorsmod.Wrapf(ErrEpochNotEnded, "epoch %d ends at %d", o.state.Epoch, o.state.EpochStart+int64(r.EpochDuration/time.Second))
		}
		if err := r.finalize(o); err != nil {
			return err
		}
		st = o.state
		return nil
	})
	return st, err
}

func (r *Registry) finalize(o *op) error {
	h, err := r.loadHeap(o)
	if err != nil {
		return err
	}
	members := h.Members()
	if err := r.Repo.ClearMasterContesters(o.ctx, o.tx); err != nil {
		return err
	}
	elected := make([]string, 0, len(members))
	addedAt := time.Unix(o.now, 0).UTC().Format(time.RFC3339)
	for _, m := range members {
		if err := r.Repo.InsertMasterContester(o.ctx, o.tx, domain.MasterContester{
			Address: m.Address, Source: SourceElection, Epoch: o.state.Epoch, AddedAt: addedAt,
		}); err != nil {
			return err
		}
		elected = append(elected, m.Address)
	}
	if err := r.Repo.ReplaceHeap(o.ctx, o.tx, nil); err != nil {
		return err
	}
	o.emit("election.epoch_finalized", "epoch", "", events.EventPayload{
		"epoch": o.state.Epoch, "elected": elected, "next_epoch": o.state.Epoch + 1,
	})
	o.state.Epoch++
	o.state.EpochStart = o.now
	if r.Metrics != nil {
		r.Metrics.MasterContesters.Set(float64(len(elected)))
	}
	return nil
}

// SetMasterContesterCount changes K, evicting the lightest heap entries when shrinking.
func (r *Registry) SetMasterContesterCount(ctx context.Context, actor string, n int) error {
	if n < 0 || n > r.MaxCount {
		return errorsmod.Wrapf(ErrCountOutOfBounds, "%d not within [0,%d]", n, r.MaxCount)
	}
	return r.run(ctx, "election.set_count", actor, func(o *op) error {
		if err := r.Auth.Require(o.ctx, o.tx, actor, auth.RoleOwner); err != nil {
			return err
		}
		h, err := r.loadHeap(o)
		if err != nil {
			return err
		}
		evicted := h.Resize(n)
		if err := r.Repo.ReplaceHeap(o.ctx, o.tx, h.Entries()); err != nil {
			return err
		}
		o.emit("election.count_changed", "election", "", events.EventPayload{"old": o.state.Count, "new": n, "evicted": evicted})
		o.state.Count = n
		return nil
	})
}

func (r *Registry) EmergencyAddMasterContester(ctx context.Context, actor, addr string) error {
	addr, err := domain.NormalizeAddress(addr)
	if err != nil {
		return errorsmod.Wrap(ErrInvalidCandidate, err.Error())
	}
	return r.run(ctx, "election.emergency_add", actor, func(o *op) error {
		if err := r.Auth.Require(o.ctx, o.tx, actor, auth.RoleOwner); err != nil {
			return err
		}
		ok, err := r.Repo.IsMasterContester(o.ctx, o.tx, addr)
		if err != nil {
			return err
		}
		if ok {
			return errorsmod.Wrap(ErrAlreadyMasterContester, addr)
		}
		if err := r.Repo.InsertMasterContester(o.ctx, o.tx, domain.MasterContester{
			Address: addr, Source: SourceEmergency, Epoch: o.state.Epoch, AddedAt: time.Unix(o.now, 0).UTC().Format(time.RFC3339),
		}); err != nil {
			return err
		}
		o.emit("election.emergency_added", "master_contester", addr, events.EventPayload{"epoch": o.state.Epoch})
		return nil
	})
}

func (r *Registry) EmergencyRemoveMasterContester(ctx context.Context, actor, addr string) error {
	addr, err := domain.NormalizeAddress(addr)
	if err != nil {
		return errorsmod.Wrap(ErrInvalidCandidate, err.Error())
	}
	return r.run(ctx, "election.emergency_remove", actor, func(o *op) error {
		if err := r.Auth.Require(o.ctx, o.tx, actor, auth.RoleOwner); err != nil {
			return err
		}
		ok, err := r.Repo.IsMasterContester(o.ctx, o.tx, addr)
		if err != nil {
			return err
		}
		if !ok {
			return errorsmod.Wrap(ErrNotMasterContester, addr)
		}
		if err := r.Repo.DeleteMasterContester(o.ctx, o.tx, addr); err != nil {
			return err
		}
		o.emit("election.emergency_removed", "master_contester", addr, events.EventPayload{"epoch": o.state.Epoch})
		return nil
	})
}

// IsMasterContester joins the transaction carried by ctx, if any.
func (r *Registry) IsMasterContester(ctx context.Context, addr string) (bool, error) {
	tx, _ := db.TxFromContext(ctx)
	return r.Repo.IsMasterContester(ctx, tx, addr)
}

func (r *Registry) MasterContesters(ctx context.Context) ([]domain.MasterContester, error) {
	return r.Repo.ListMasterContesters(ctx, nil)
}

// TopCandidates returns the heap members sorted by weight descending.
func (r *Registry) TopCandidates(ctx context.Context) ([]domain.Candidate, error) {
	st, err := r.Repo.GetElectionState(ctx, nil)
	if err != nil {
		return nil, err
	}
	stored, err := r.Repo.HeapEntries(ctx, nil)
	if err != nil {
		return nil, err
	}
	return LoadTopK(st.Count, stored).Members(), nil
}

func (r *Registry) CandidateVotes(ctx context.Context, candidate string) (math.Int, error) {
	addr, err := domain.NormalizeAddress(candidate)
	if err != nil {
		return math.Int{}, errorsmod.Wrap(ErrInvalidCandidate, err.Error())
	}
	return r.Repo.CandidateWeight(ctx, nil, addr)
}

// LastVoteWeight is the weight of the voter's most recent ballot, zero if none.
func (r *Registry) LastVoteWeight(ctx context.Context, voter string) (math.Int, error) {
	b, err := r.Repo.GetLastBallot(ctx, nil, voter)
	if errors.Is(err, repo.ErrNotFound) {
		return math.ZeroInt(), nil
	}
	if err != nil {
		return math.Int{}, err
	}
	return b.Weight, nil
}

// VotesCast returns the voter's ballot for epoch.
func (r *Registry) VotesCast(ctx context.Context, epoch int64, voter string) (domain.Ballot, error) {
	return r.Repo.GetBallot(ctx, nil, epoch, voter)
}

func (r *Registry) HasVoted(ctx context.Context, epoch int64, voter string) (bool, error) {
	_, err := r.Repo.GetBallot(ctx, nil, epoch, voter)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (r *Registry) CurrentEpoch(ctx context.Context) (domain.ElectionState, error) {
	return r.Repo.GetElectionState(ctx, nil)
}

// TimeUntilNextEpoch is zero once the current epoch has elapsed.
func (r *Registry) TimeUntilNextEpoch(ctx context.Context) (time.Duration, error) {
	st, err := r.Repo.GetElectionState(ctx, nil)
	if err != nil {
		return 0, err
	}
	end := time.Unix(st.EpochStart, 0).Add(r.EpochDuration)
	left := end.Sub(r.now())
	if left < 0 {
		return 0, nil
	}
	return left.Truncate(time.Second), nil
}

// IsNewEpoch reports whether the current epoch has elapsed and awaits finalization.
func (r *Registry) IsNewEpoch(ctx context.Context) (bool, error) {
	st, err := r.Repo.GetElectionState(ctx, nil)
	if err != nil {
		return false, err
	}
	return r.epochElapsed(st, r.now().Unix()), nil
}
