package repo

import (
	"context"
	"database/sql"
	"fmt"

	"taskmarket/internal/domain"
)

const solutionColumns = `task_id,validator,cid,block_number,submitted_at,stake,claimed,status`

func scanSolution(row rowScanner) (domain.Solution, error) {
	var s domain.Solution
	var stake string
	var claimed int
	err := row.Scan(&s.TaskID, &s.Validator, &s.CID, &s.BlockNumber, &s.SubmittedAt, &stake, &claimed, &s.Status)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.Claimed = claimed == 1
	s.Stake, err = parseInt("solution stake", stake)
	return s, err
}

func (r Repo) InsertSolution(ctx context.Context, tx *sql.Tx, s domain.Solution) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO solutions(`+solutionColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		s.TaskID, s.Validator, s.CID, s.BlockNumber, s.SubmittedAt, s.Stake.String(), boolInt(s.Claimed), s.Status)
	return err
}

func (r Repo) GetSolution(ctx context.Context, tx *sql.Tx, taskID string) (domain.Solution, error) {
	s, err := scanSolution(r.q(tx).QueryRowContext(ctx, `SELECT `+solutionColumns+` FROM solutions WHERE task_id=?`, taskID))
	if err == ErrNotFound {
		return s, fmt.Errorf("solution for task %s: %w", taskID, ErrNotFound)
	}
	return s, err
}

func (r Repo) SolutionExists(ctx context.Context, tx *sql.Tx, taskID string) (bool, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT 1 FROM solutions WHERE task_id=?`, taskID).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) UpdateSolutionStatus(ctx context.Context, tx *sql.Tx, taskID, status string, claimed bool) error {
	_, err := tx.ExecContext(ctx, `UPDATE solutions SET status=?, claimed=? WHERE task_id=?`, status, boolInt(claimed), taskID)
	return err
}

func (r Repo) ListSolutionsByValidator(ctx context.Context, validator string, limit int) ([]domain.Solution, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+solutionColumns+` FROM solutions WHERE validator=? ORDER BY block_number DESC LIMIT ?`, validator, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Solution
	for rows.Next() {
		s, err := scanSolution(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

const contestationColumns = `task_id,contestor,block_number,created_at,slash_amount,finish_start_index,settle_index,
yea_weight,nay_weight,yea_count,nay_count,yea_slashed,nay_slashed,outcome,resolved`

func scanContestation(row rowScanner) (domain.Contestation, error) {
	var c domain.Contestation
	var slash, yeaSlashed, naySlashed string
	var resolved int
	err := row.Scan(&c.TaskID, &c.Contestor, &c.BlockNumber, &c.CreatedAt, &slash, &c.FinishStartIndex, &c.SettleIndex,
		&c.YeaWeight, &c.NayWeight, &c.YeaCount, &c.NayCount, &yeaSlashed, &naySlashed, &c.Outcome, &resolved)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.Resolved = resolved == 1
	if c.SlashAmount, err = parseInt("slash_amount", slash); err != nil {
		return c, err
	}
	if c.YeaSlashed, err = parseInt("yea_slashed", yeaSlashed); err != nil {
		return c, err
	}
	c.NaySlashed, err = parseInt("nay_slashed", naySlashed)
	return c, err
}

func (r Repo) InsertContestation(ctx context.Context, tx *sql.Tx, c domain.Contestation) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO contestations(task_id,contestor,block_number,created_at,slash_amount) VALUES (?,?,?,?,?)`,
		c.TaskID, c.Contestor, c.BlockNumber, c.CreatedAt, c.SlashAmount.String())
	return err
}

func (r Repo) GetContestation(ctx context.Context, tx *sql.Tx, taskID string) (domain.Contestation, error) {
	c, err := scanContestation(r.q(tx).QueryRowContext(ctx, `SELECT `+contestationColumns+` FROM contestations WHERE task_id=?`, taskID))
	if err == ErrNotFound {
		return c, fmt.Errorf("contestation for task %s: %w", taskID, ErrNotFound)
	}
	return c, err
}

func (r Repo) ContestationExists(ctx context.Context, tx *sql.Tx, taskID string) (bool, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT 1 FROM contestations WHERE task_id=?`, taskID).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// UpdateContestationProgress persists cursors, tallies and outcome.
func (r Repo) UpdateContestationProgress(ctx context.Context, tx *sql.Tx, c domain.Contestation) error {
	_, err := tx.ExecContext(ctx, `UPDATE contestations SET finish_start_index=?, settle_index=?, yea_weight=?, nay_weight=?,
yea_count=?, nay_count=?, yea_slashed=?, nay_slashed=?, outcome=?, resolved=? WHERE task_id=?`,
		c.FinishStartIndex, c.SettleIndex, c.YeaWeight, c.NayWeight, c.YeaCount, c.NayCount,
		c.YeaSlashed.String(), c.NaySlashed.String(), c.Outcome, boolInt(c.Resolved), c.TaskID)
	return err
}

const voteColumns = `task_id,idx,voter,yea,weight,slashed,auto,voted_at`

func scanVote(row rowScanner) (domain.ContestationVote, error) {
	var v domain.ContestationVote
	var yea, auto int
	var slashed string
	err := row.Scan(&v.TaskID, &v.Index, &v.Voter, &yea, &v.Weight, &slashed, &auto, &v.VotedAt)
	if err != nil {
		return v, err
	}
	v.Yea = yea == 1
	v.Auto = auto == 1
	v.Slashed, err = parseInt("vote slashed", slashed)
	return v, err
}

// AppendVote assigns the next index for the contestation.
func (r Repo) AppendVote(ctx context.Context, tx *sql.Tx, v domain.ContestationVote) (domain.ContestationVote, error) {
	var next int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(idx)+1,0) FROM contestation_votes WHERE task_id=?`, v.TaskID).Scan(&next); err != nil {
		return v, err
	}
	v.Index = next
	_, err := tx.ExecContext(ctx, `INSERT INTO contestation_votes(`+voteColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		v.TaskID, v.Index, v.Voter, boolInt(v.Yea), v.Weight, v.Slashed.String(), boolInt(v.Auto), v.VotedAt)
	return v, err
}

func (r Repo) HasVotedOnContestation(ctx context.Context, tx *sql.Tx, taskID, voter string) (bool, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT 1 FROM contestation_votes WHERE task_id=? AND voter=?`, taskID, voter).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) CountVotes(ctx context.Context, tx *sql.Tx, taskID string) (int64, error) {
	var n int64
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM contestation_votes WHERE task_id=?`, taskID).Scan(&n)
	return n, err
}

// VotesRange returns votes with start <= idx < end in index order.
func (r Repo) VotesRange(ctx context.Context, tx *sql.Tx, taskID string, start, end int64) ([]domain.ContestationVote, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+voteColumns+` FROM contestation_votes WHERE task_id=? AND idx>=? AND idx<? ORDER BY idx`, taskID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ContestationVote
	for rows.Next() {
		v, err := scanVote(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}
