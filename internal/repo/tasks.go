package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"taskmarket/internal/domain"
)

const taskColumns = `id,model_id,owner,sender,fee,input,block_number,submitted_at`

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var fee string
	err := row.Scan(&t.ID, &t.ModelID, &t.Owner, &t.Sender, &fee, &t.Input, &t.BlockNumber, &t.SubmittedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Fee, err = parseInt("task fee", fee)
	return t, err
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		t.ID, t.ModelID, t.Owner, t.Sender, t.Fee.String(), t.Input, t.BlockNumber, t.SubmittedAt)
	return err
}

func (r Repo) GetTask(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	t, err := scanTask(r.q(tx).QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
	if err == ErrNotFound {
		return t, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return t, err
}

// TaskFilter narrows ListTasks. Cursor is "block|id" of the last item seen.
type TaskFilter struct {
	ModelID string
	Owner   string
	Limit   int
	Cursor  string
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilter) ([]domain.Task, error) {
	var (
		where []string
		args  []any
	)
	if f.ModelID != "" {
		where = append(where, "model_id=?")
		args = append(args, f.ModelID)
	}
	if f.Owner != "" {
		where = append(where, "owner=?")
		args = append(args, f.Owner)
	}
	if f.Cursor != "" {
		parts := strings.SplitN(f.Cursor, "|", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid cursor")
		}
		block, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor")
		}
		where = append(where, "(block_number > ? OR (block_number = ? AND id > ?))")
		args = append(args, block, block, parts[1])
	}
	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY block_number, id`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// InsertCommitment reports false when the hash is already recorded.
func (r Repo) InsertCommitment(ctx context.Context, tx *sql.Tx, c domain.Commitment) (bool, error) {
	res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO commitments(hash,validator,block_number) VALUES (?,?,?)`,
		c.Hash, c.Validator, c.BlockNumber)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) GetCommitment(ctx context.Context, tx *sql.Tx, hash string) (domain.Commitment, error) {
	var c domain.Commitment
	err := r.q(tx).QueryRowContext(ctx, `SELECT hash,validator,block_number FROM commitments WHERE hash=?`, hash).
		Scan(&c.Hash, &c.Validator, &c.BlockNumber)
	if err == sql.ErrNoRows {
		return c, fmt.Errorf("commitment %s: %w", hash, ErrNotFound)
	}
	return c, err
}
