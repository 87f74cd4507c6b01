package ledger

import (
	"context"
	"database/sql"
	"time"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/math"

	"taskmarket/internal/db"
	"taskmarket/internal/domain"
)

// Positions reports voting weight per lock position.
type Positions struct {
	DB *sql.DB
}

func (p Positions) get(ctx context.Context, id uint64) (domain.Position, error) {
	pos := domain.Position{ID: id}
	var weight string
	err := db.QuerierFrom(ctx, p.DB).QueryRowContext(ctx, `SELECT owner,weight,updated_at FROM vote_positions WHERE id=?`, int64(id)).
		Scan(&pos.Owner, &weight, &pos.UpdatedAt)
	if err == sql.ErrNoRows {
		return pos, errorsmod.Wrapf(ErrUnknownPosition, "position %d", id)
	}
	if err != nil {
		return pos, err
	}
	w, ok := math.NewIntFromString(weight)
	if !ok {
		return pos, errorsmod.Wrapf(ErrInvalidAmount, "position %d weight %q", id, weight)
	}
	pos.Weight = w
	return pos, nil
}

func (p Positions) BalanceOfPosition(ctx context.Context, id uint64) (math.Int, error) {
	pos, err := p.get(ctx, id)
	if err != nil {
		return math.Int{}, err
	}
	return pos.Weight, nil
}

func (p Positions) OwnerOfPosition(ctx context.Context, id uint64) (string, error) {
	pos, err := p.get(ctx, id)
	if err != nil {
		return "", err
	}
	return pos.Owner, nil
}

// SetPosition creates or replaces a position's owner and weight.
func (p Positions) SetPosition(ctx context.Context, id uint64, owner string, weight math.Int) (domain.Position, error) {
	if weight.IsNil() || weight.IsNegative() {
		return domain.Position{}, errorsmod.Wrapf(ErrInvalidAmount, "position weight %s", weight)
	}
	pos := domain.Position{ID: id, Owner: owner, Weight: weight, UpdatedAt: time.Now().UTC().Format(time.RFC3339)}
	_, err := db.QuerierFrom(ctx, p.DB).ExecContext(ctx, `INSERT INTO vote_positions(id,owner,weight,updated_at) VALUES (?,?,?,?)
ON CONFLICT(id) DO UPDATE SET owner=excluded.owner, weight=excluded.weight, updated_at=excluded.updated_at`,
		int64(id), owner, weight.String(), pos.UpdatedAt)
	return pos, err
}

// List returns positions, optionally filtered by owner.
func (p Positions) List(ctx context.Context, owner string) ([]domain.Position, error) {
	query := `SELECT id,owner,weight,updated_at FROM vote_positions`
	var args []any
	if owner != "" {
		query += ` WHERE owner=?`
		args = append(args, owner)
	}
	query += ` ORDER BY id`
	rows, err := db.QuerierFrom(ctx, p.DB).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Position
	for rows.Next() {
		var pos domain.Position
		var id int64
		var weight string
		if err := rows.Scan(&id, &pos.Owner, &weight, &pos.UpdatedAt); err != nil {
			return nil, err
		}
		pos.ID = uint64(id)
		w, ok := math.NewIntFromString(weight)
		if !ok {
			return nil, errorsmod.Wrapf(ErrInvalidAmount, "position %d weight %q", id, weight)
		}
		pos.Weight = w
		res = append(res, pos)
	}
	return res, rows.Err()
}
