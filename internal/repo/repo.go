package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cosmossdk.io/math"

	"taskmarket/internal/db"
	"taskmarket/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// q returns tx when set, else the pool.
func (r Repo) q(tx *sql.Tx) db.Querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func parseInt(field, s string) (math.Int, error) {
	v, ok := math.NewIntFromString(s)
	if !ok {
		return math.Int{}, fmt.Errorf("corrupt %s value %q", field, s)
	}
	return v, nil
}

func parseDec(field, s string) (math.LegacyDec, error) {
	v, err := math.LegacyNewDecFromStr(s)
	if err != nil {
		return math.LegacyDec{}, fmt.Errorf("corrupt %s value %q: %w", field, s, err)
	}
	return v, nil
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// EnsureMarketState creates the singleton state row on first use.
func (r Repo) EnsureMarketState(ctx context.Context, tx *sql.Tx, startTime int64) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO market_state(id,height,start_time) VALUES (1,0,?)`, startTime)
	return err
}

func (r Repo) GetMarketState(ctx context.Context, tx *sql.Tx) (domain.MarketState, error) {
	var st domain.MarketState
	var accrued, held string
	err := r.q(tx).QueryRowContext(ctx, `SELECT height,start_time,accrued_fees,total_held,last_task_id FROM market_state WHERE id=1`).
		Scan(&st.Height, &st.StartTime, &accrued, &held, &st.LastTaskID)
	if err == sql.ErrNoRows {
		return st, fmt.Errorf("market state: %w", ErrNotFound)
	}
	if err != nil {
		return st, err
	}
	if st.AccruedFees, err = parseInt("accrued_fees", accrued); err != nil {
		return st, err
	}
	if st.TotalHeld, err = parseInt("total_held", held); err != nil {
		return st, err
	}
	return st, nil
}

// NextBlock advances the block height by one and returns the new height.
func (r Repo) NextBlock(ctx context.Context, tx *sql.Tx) (int64, error) {
	res, err := tx.ExecContext(ctx, `UPDATE market_state SET height=height+1 WHERE id=1`)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, fmt.Errorf("market state: %w", ErrNotFound)
	}
	var h int64
	if err := tx.QueryRowContext(ctx, `SELECT height FROM market_state WHERE id=1`).Scan(&h); err != nil {
		return 0, err
	}
	return h, nil
}

func (r Repo) UpdateMarketState(ctx context.Context, tx *sql.Tx, st domain.MarketState) error {
	_, err := tx.ExecContext(ctx, `UPDATE market_state SET accrued_fees=?, total_held=?, last_task_id=? WHERE id=1`,
		st.AccruedFees.String(), st.TotalHeld.String(), st.LastTaskID)
	return err
}

// SeedParams stores values for keys that are not set yet.
func (r Repo) SeedParams(ctx context.Context, tx *sql.Tx, values map[string]string) error {
	now := nowRFC3339()
	for k, v := range values {
		if _, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO market_params(key,value,updated_at) VALUES (?,?,?)`, k, v, now); err != nil {
			return fmt.Errorf("seed param %s: %w", k, err)
		}
	}
	return nil
}

func (r Repo) SetParam(ctx context.Context, tx *sql.Tx, key, value string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO market_params(key,value,updated_at) VALUES (?,?,?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`, key, value, nowRFC3339())
	return err
}

func (r Repo) GetParams(ctx context.Context, tx *sql.Tx) (domain.Params, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT key,value FROM market_params`)
	if err != nil {
		return domain.Params{}, err
	}
	defer rows.Close()
	values := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return domain.Params{}, err
		}
		values[k] = v
	}
	if err := rows.Err(); err != nil {
		return domain.Params{}, err
	}
	if len(values) == 0 {
		return domain.Params{}, fmt.Errorf("market params: %w", ErrNotFound)
	}
	return domain.ParamsFromMap(values)
}
