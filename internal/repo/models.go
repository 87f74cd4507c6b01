package repo

import (
	"context"
	"database/sql"
	"fmt"

	"cosmossdk.io/math"

	"taskmarket/internal/domain"
)

const modelColumns = `id,owner,fee,rate,cid,allow_list_required,fee_percent_override,created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanModel(row rowScanner) (domain.Model, error) {
	var m domain.Model
	var fee, rate string
	var allow int
	var override sql.NullString
	err := row.Scan(&m.ID, &m.Owner, &fee, &rate, &m.CID, &allow, &override, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	if m.Fee, err = parseInt("model fee", fee); err != nil {
		return m, err
	}
	if m.Rate, err = parseDec("model rate", rate); err != nil {
		return m, err
	}
	m.AllowListRequired = allow == 1
	if override.Valid {
		d, err := parseDec("model fee override", override.String)
		if err != nil {
			return m, err
		}
		m.FeePercentOverride = &d
	}
	return m, nil
}

func (r Repo) InsertModel(ctx context.Context, tx *sql.Tx, m domain.Model) error {
	var override any
	if m.FeePercentOverride != nil {
		override = m.FeePercentOverride.String()
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO models(`+modelColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		m.ID, m.Owner, m.Fee.String(), m.Rate.String(), m.CID, boolInt(m.AllowListRequired), override, m.CreatedAt)
	return err
}

func (r Repo) GetModel(ctx context.Context, tx *sql.Tx, id string) (domain.Model, error) {
	m, err := scanModel(r.q(tx).QueryRowContext(ctx, `SELECT `+modelColumns+` FROM models WHERE id=?`, id))
	if err == ErrNotFound {
		return m, fmt.Errorf("model %s: %w", id, ErrNotFound)
	}
	return m, err
}

func (r Repo) ModelExists(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT 1 FROM models WHERE id=?`, id).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) ListModels(ctx context.Context, owner string) ([]domain.Model, error) {
	query := `SELECT ` + modelColumns + ` FROM models`
	var args []any
	if owner != "" {
		query += ` WHERE owner=?`
		args = append(args, owner)
	}
	query += ` ORDER BY created_at, id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Model
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) UpdateModelFee(ctx context.Context, tx *sql.Tx, id string, fee math.Int) error {
	_, err := tx.ExecContext(ctx, `UPDATE models SET fee=? WHERE id=?`, fee.String(), id)
	return err
}

func (r Repo) UpdateModelOwner(ctx context.Context, tx *sql.Tx, id, owner string) error {
	_, err := tx.ExecContext(ctx, `UPDATE models SET owner=? WHERE id=?`, owner, id)
	return err
}

func (r Repo) UpdateModelRate(ctx context.Context, tx *sql.Tx, id string, rate math.LegacyDec) error {
	_, err := tx.ExecContext(ctx, `UPDATE models SET rate=? WHERE id=?`, rate.String(), id)
	return err
}

func (r Repo) UpdateModelAllowListRequired(ctx context.Context, tx *sql.Tx, id string, required bool) error {
	_, err := tx.ExecContext(ctx, `UPDATE models SET allow_list_required=? WHERE id=?`, boolInt(required), id)
	return err
}

// UpdateModelFeeOverride sets the override; nil clears it.
func (r Repo) UpdateModelFeeOverride(ctx context.Context, tx *sql.Tx, id string, pct *math.LegacyDec) error {
	var v any
	if pct != nil {
		v = pct.String()
	}
	_, err := tx.ExecContext(ctx, `UPDATE models SET fee_percent_override=? WHERE id=?`, v, id)
	return err
}

// AddToAllowList reports whether the address was newly added.
func (r Repo) AddToAllowList(ctx context.Context, tx *sql.Tx, modelID, addr string) (bool, error) {
	res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO model_allow_list(model_id,address,added_at) VALUES (?,?,?)`, modelID, addr, nowRFC3339())
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RemoveFromAllowList reports whether the address was present.
func (r Repo) RemoveFromAllowList(ctx context.Context, tx *sql.Tx, modelID, addr string) (bool, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM model_allow_list WHERE model_id=? AND address=?`, modelID, addr)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) IsOnAllowList(ctx context.Context, tx *sql.Tx, modelID, addr string) (bool, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT 1 FROM model_allow_list WHERE model_id=? AND address=?`, modelID, addr).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) ListAllowList(ctx context.Context, modelID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT address FROM model_allow_list WHERE model_id=? ORDER BY address`, modelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
