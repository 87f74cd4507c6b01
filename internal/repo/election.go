package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"cosmossdk.io/math"

	"taskmarket/internal/domain"
)

func (r Repo) EnsureElectionState(ctx context.Context, tx *sql.Tx, epochStart int64, count int) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO election_state(id,epoch,epoch_start,count) VALUES (1,1,?,?)`, epochStart, count)
	return err
}

func (r Repo) GetElectionState(ctx context.Context, tx *sql.Tx) (domain.ElectionState, error) {
	var st domain.ElectionState
	err := r.q(tx).QueryRowContext(ctx, `SELECT epoch,epoch_start,count FROM election_state WHERE id=1`).Scan(&st.Epoch, &st.EpochStart, &st.Count)
	if err == sql.ErrNoRows {
		return st, fmt.Errorf("election state: %w", ErrNotFound)
	}
	return st, err
}

func (r Repo) UpdateElectionState(ctx context.Context, tx *sql.Tx, st domain.ElectionState) error {
	_, err := tx.ExecContext(ctx, `UPDATE election_state SET epoch=?, epoch_start=?, count=? WHERE id=1`, st.Epoch, st.EpochStart, st.Count)
	return err
}

// CandidateWeight returns zero for candidates that never received votes.
func (r Repo) CandidateWeight(ctx context.Context, tx *sql.Tx, candidate string) (math.Int, error) {
	var w string
	err := r.q(tx).QueryRowContext(ctx, `SELECT weight FROM candidate_votes WHERE candidate=?`, candidate).Scan(&w)
	if err == sql.ErrNoRows {
		return math.ZeroInt(), nil
	}
	if err != nil {
		return math.Int{}, err
	}
	return parseInt("candidate weight", w)
}

func (r Repo) SetCandidateWeight(ctx context.Context, tx *sql.Tx, candidate string, weight math.Int) error {
	if weight.IsZero() {
		_, err := tx.ExecContext(ctx, `DELETE FROM candidate_votes WHERE candidate=?`, candidate)
		return err
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO candidate_votes(candidate,weight) VALUES (?,?)
ON CONFLICT(candidate) DO UPDATE SET weight=excluded.weight`, candidate, weight.String())
	return err
}

func (r Repo) ListCandidateWeights(ctx context.Context) ([]domain.Candidate, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT candidate,weight FROM candidate_votes ORDER BY candidate`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Candidate
	for rows.Next() {
		var c domain.Candidate
		var w string
		if err := rows.Scan(&c.Address, &w); err != nil {
			return nil, err
		}
		if c.Weight, err = parseInt("candidate weight", w); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// HeapEntries returns the persisted heap array in index order.
func (r Repo) HeapEntries(ctx context.Context, tx *sql.Tx) ([]domain.Candidate, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT candidate,weight FROM election_heap ORDER BY idx`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Candidate
	for rows.Next() {
		var c domain.Candidate
		var w string
		if err := rows.Scan(&c.Address, &w); err != nil {
			return nil, err
		}
		if c.Weight, err = parseInt("heap weight", w); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// ReplaceHeap rewrites the heap array; entries[i] is stored at index i.
func (r Repo) ReplaceHeap(ctx context.Context, tx *sql.Tx, entries []domain.Candidate) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM election_heap`); err != nil {
		return err
	}
	for i, c := range entries {
		if _, err := tx.ExecContext(ctx, `INSERT INTO election_heap(idx,candidate,weight) VALUES (?,?,?)`, i, c.Address, c.Weight.String()); err != nil {
			return fmt.Errorf("store heap entry %d: %w", i, err)
		}
	}
	return nil
}

func (r Repo) InsertBallot(ctx context.Context, tx *sql.Tx, b domain.Ballot) error {
	cands, err := json.Marshal(b.Candidates)
	if err != nil {
		return err
	}
	positions, err := json.Marshal(b.Positions)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO ballots(epoch,voter,candidates_json,positions_json,weight,cast_at) VALUES (?,?,?,?,?,?)`,
		b.Epoch, b.Voter, string(cands), string(positions), b.Weight.String(), b.CastAt)
	return err
}

func (r Repo) GetBallot(ctx context.Context, tx *sql.Tx, epoch int64, voter string) (domain.Ballot, error) {
	b := domain.Ballot{Epoch: epoch, Voter: voter}
	var cands, positions, weight string
	err := r.q(tx).QueryRowContext(ctx, `SELECT candidates_json,positions_json,weight,cast_at FROM ballots WHERE epoch=? AND voter=?`, epoch, voter).
		Scan(&cands, &positions, &weight, &b.CastAt)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	if err != nil {
		return b, err
	}
	if err := json.Unmarshal([]byte(cands), &b.Candidates); err != nil {
		return b, fmt.Errorf("decode ballot candidates: %w", err)
	}
	if err := json.Unmarshal([]byte(positions), &b.Positions); err != nil {
		return b, fmt.Errorf("decode ballot positions: %w", err)
	}
	b.Weight, err = parseInt("ballot weight", weight)
	return b, err
}

// GetLastBallot returns the voter's most recent ballot, the one a new vote undoes.
func (r Repo) GetLastBallot(ctx context.Context, tx *sql.Tx, voter string) (domain.Ballot, error) {
	b := domain.Ballot{Voter: voter}
	var cands, weight string
	err := r.q(tx).QueryRowContext(ctx, `SELECT epoch,candidates_json,weight FROM last_ballots WHERE voter=?`, voter).Scan(&b.Epoch, &cands, &weight)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	if err != nil {
		return b, err
	}
	if err := json.Unmarshal([]byte(cands), &b.Candidates); err != nil {
		return b, fmt.Errorf("decode last ballot: %w", err)
	}
	b.Weight, err = parseInt("last ballot weight", weight)
	return b, err
}

func (r Repo) SetLastBallot(ctx context.Context, tx *sql.Tx, b domain.Ballot) error {
	cands, err := json.Marshal(b.Candidates)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO last_ballots(voter,epoch,candidates_json,weight) VALUES (?,?,?,?)
ON CONFLICT(voter) DO UPDATE SET epoch=excluded.epoch, candidates_json=excluded.candidates_json, weight=excluded.weight`,
		b.Voter, b.Epoch, string(cands), b.Weight.String())
	return err
}

func (r Repo) IsMasterContester(ctx context.Context, tx *sql.Tx, addr string) (bool, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT 1 FROM master_contesters WHERE address=?`, addr).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) ListMasterContesters(ctx context.Context, tx *sql.Tx) ([]domain.MasterContester, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT address,source,epoch,added_at FROM master_contesters ORDER BY address`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.MasterContester
	for rows.Next() {
		var m domain.MasterContester
		if err := rows.Scan(&m.Address, &m.Source, &m.Epoch, &m.AddedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) InsertMasterContester(ctx context.Context, tx *sql.Tx, m domain.MasterContester) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO master_contesters(address,source,epoch,added_at) VALUES (?,?,?,?)`, m.Address, m.Source, m.Epoch, m.AddedAt)
	return err
}

func (r Repo) DeleteMasterContester(ctx context.Context, tx *sql.Tx, addr string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM master_contesters WHERE address=?`, addr)
	return err
}

func (r Repo) ClearMasterContesters(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM master_contesters`)
	return err
}
