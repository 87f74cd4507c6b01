package repo

import (
	"context"
	"database/sql"
	"fmt"

	"cosmossdk.io/math"

	"taskmarket/internal/domain"
)

// GetValidator returns a zero-stake record for unknown addresses.
func (r Repo) GetValidator(ctx context.Context, tx *sql.Tx, addr string) (domain.Validator, error) {
	v := domain.Validator{Address: addr, Staked: math.ZeroInt(), PendingWithdraw: math.ZeroInt()}
	var staked, pending string
	err := r.q(tx).QueryRowContext(ctx, `SELECT staked,since,pending_withdraw,last_solution_at,last_contestation_loss_at FROM validators WHERE address=?`, addr).
		Scan(&staked, &v.Since, &pending, &v.LastSolutionAt, &v.LastContestationLossAt)
	if err == sql.ErrNoRows {
		return v, nil
	}
	if err != nil {
		return v, err
	}
	if v.Staked, err = parseInt("staked", staked); err != nil {
		return v, err
	}
	v.PendingWithdraw, err = parseInt("pending_withdraw", pending)
	return v, err
}

func (r Repo) UpsertValidator(ctx context.Context, tx *sql.Tx, v domain.Validator) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO validators(address,staked,since,pending_withdraw,last_solution_at,last_contestation_loss_at)
VALUES (?,?,?,?,?,?)
ON CONFLICT(address) DO UPDATE SET staked=excluded.staked, since=excluded.since, pending_withdraw=excluded.pending_withdraw,
last_solution_at=excluded.last_solution_at, last_contestation_loss_at=excluded.last_contestation_loss_at`,
		v.Address, v.Staked.String(), v.Since, v.PendingWithdraw.String(), v.LastSolutionAt, v.LastContestationLossAt)
	return err
}

func (r Repo) ListValidators(ctx context.Context) ([]domain.Validator, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT address,staked,since,pending_withdraw,last_solution_at,last_contestation_loss_at FROM validators ORDER BY address`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Validator
	for rows.Next() {
		var v domain.Validator
		var staked, pending string
		if err := rows.Scan(&v.Address, &staked, &v.Since, &pending, &v.LastSolutionAt, &v.LastContestationLossAt); err != nil {
			return nil, err
		}
		if v.Staked, err = parseInt("staked", staked); err != nil {
			return nil, err
		}
		if v.PendingWithdraw, err = parseInt("pending_withdraw", pending); err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

// InsertWithdrawal assigns the next per-validator count.
func (r Repo) InsertWithdrawal(ctx context.Context, tx *sql.Tx, w domain.PendingWithdrawal) (domain.PendingWithdrawal, error) {
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(count)+1,1) FROM validator_withdrawals WHERE validator=?`, w.Validator).Scan(&w.Count); err != nil {
		return w, err
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO validator_withdrawals(validator,count,amount,unlock_at) VALUES (?,?,?,?)`,
		w.Validator, w.Count, w.Amount.String(), w.UnlockAt)
	return w, err
}

func (r Repo) GetWithdrawal(ctx context.Context, tx *sql.Tx, validator string, count int64) (domain.PendingWithdrawal, error) {
	w := domain.PendingWithdrawal{Validator: validator, Count: count}
	var amount string
	err := r.q(tx).QueryRowContext(ctx, `SELECT amount,unlock_at FROM validator_withdrawals WHERE validator=? AND count=?`, validator, count).
		Scan(&amount, &w.UnlockAt)
	if err == sql.ErrNoRows {
		return w, fmt.Errorf("withdrawal %d for %s: %w", count, validator, ErrNotFound)
	}
	if err != nil {
		return w, err
	}
	w.Amount, err = parseInt("withdrawal amount", amount)
	return w, err
}

func (r Repo) DeleteWithdrawal(ctx context.Context, tx *sql.Tx, validator string, count int64) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM validator_withdrawals WHERE validator=? AND count=?`, validator, count)
	return err
}

func (r Repo) ListWithdrawals(ctx context.Context, validator string) ([]domain.PendingWithdrawal, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT count,amount,unlock_at FROM validator_withdrawals WHERE validator=? ORDER BY count`, validator)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PendingWithdrawal
	for rows.Next() {
		w := domain.PendingWithdrawal{Validator: validator}
		var amount string
		if err := rows.Scan(&w.Count, &amount, &w.UnlockAt); err != nil {
			return nil, err
		}
		if w.Amount, err = parseInt("withdrawal amount", amount); err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}
