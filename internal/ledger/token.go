// Package ledger ships sqlite-backed implementations of the token ledger and the
// voting-power source. Both join the transaction carried by the context, if any.
package ledger

import (
	"context"
	"database/sql"
	"fmt"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/math"

	"taskmarket/internal/db"
)

const codespace = "ledger"

var (
	ErrInsufficientBalance   = errorsmod.Register(codespace, 2, "insufficient balance")
	ErrInsufficientAllowance = errorsmod.Register(codespace, 3, "insufficient allowance")
	ErrNotMinter             = errorsmod.Register(codespace, 4, "caller is not a minter")
	ErrInvalidAmount         = errorsmod.Register(codespace, 5, "invalid amount")
	ErrUnknownPosition       = errorsmod.Register(codespace, 6, "unknown position")
)

// Token is a fungible token ledger stored in the workspace database.
type Token struct {
	DB *sql.DB
}

// run executes fn in the transaction carried by ctx, or in a fresh one.
func run(ctx context.Context, conn *sql.DB, fn func(q db.Querier) error) error {
	if tx, ok := db.TxFromContext(ctx); ok {
		return fn(tx)
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func readInt(ctx context.Context, q db.Querier, query string, args ...any) (math.Int, error) {
	var s string
	err := q.QueryRowContext(ctx, query, args...).Scan(&s)
	if err == sql.ErrNoRows {
		return math.ZeroInt(), nil
	}
	if err != nil {
		return math.Int{}, err
	}
	v, ok := math.NewIntFromString(s)
	if !ok {
		return math.Int{}, fmt.Errorf("corrupt ledger value %q", s)
	}
	return v, nil
}

func balance(ctx context.Context, q db.Querier, addr string) (math.Int, error) {
	return readInt(ctx, q, `SELECT amount FROM token_balances WHERE address=?`, addr)
}

func setBalance(ctx context.Context, q db.Querier, addr string, amount math.Int) error {
	_, err := q.ExecContext(ctx, `INSERT INTO token_balances(address,amount) VALUES (?,?)
ON CONFLICT(address) DO UPDATE SET amount=excluded.amount`, addr, amount.String())
	return err
}

func move(ctx context.Context, q db.Querier, from, to string, amount math.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return errorsmod.Wrapf(ErrInvalidAmount, "transfer of %s", amount)
	}
	if amount.IsZero() || from == to {
		return nil
	}
	fromBal, err := balance(ctx, q, from)
	if err != nil {
		return err
	}
	if fromBal.LT(amount) {
		return errorsmod.Wrapf(ErrInsufficientBalance, "%s has %s, needs %s", from, fromBal, amount)
	}
	toBal, err := balance(ctx, q, to)
	if err != nil {
		return err
	}
	if err := setBalance(ctx, q, from, fromBal.Sub(amount)); err != nil {
		return err
	}
	return setBalance(ctx, q, to, toBal.Add(amount))
}

func (t Token) BalanceOf(ctx context.Context, addr string) (math.Int, error) {
	return balance(ctx, db.QuerierFrom(ctx, t.DB), addr)
}

func (t Token) TotalSupply(ctx context.Context) (math.Int, error) {
	return readInt(ctx, db.QuerierFrom(ctx, t.DB), `SELECT total FROM token_supply WHERE id=1`)
}

func (t Token) Allowance(ctx context.Context, owner, spender string) (math.Int, error) {
	return readInt(ctx, db.QuerierFrom(ctx, t.DB), `SELECT amount FROM token_allowances WHERE owner=? AND spender=?`, owner, spender)
}

func (t Token) Approve(ctx context.Context, owner, spender string, amount math.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return errorsmod.Wrapf(ErrInvalidAmount, "approval of %s", amount)
	}
	return run(ctx, t.DB, func(q db.Querier) error {
		_, err := q.ExecContext(ctx, `INSERT INTO token_allowances(owner,spender,amount) VALUES (?,?,?)
ON CONFLICT(owner,spender) DO UPDATE SET amount=excluded.amount`, owner, spender, amount.String())
		return err
	})
}

func (t Token) Transfer(ctx context.Context, from, to string, amount math.Int) error {
	return run(ctx, t.DB, func(q db.Querier) error {
		return move(ctx, q, from, to, amount)
	})
}

// TransferFrom moves tokens on behalf of from, consuming spender's allowance.
func (t Token) TransferFrom(ctx context.Context, spender, from, to string, amount math.Int) error {
	return run(ctx, t.DB, func(q db.Querier) error {
		if spender != from {
			allowed, err := readInt(ctx, q, `SELECT amount FROM token_allowances WHERE owner=? AND spender=?`, from, spender)
			if err != nil {
				return err
			}
			if allowed.LT(amount) {
				return errorsmod.Wrapf(ErrInsufficientAllowance, "%s allows %s %s, needs %s", from, spender, allowed, amount)
			}
			if _, err := q.ExecContext(ctx, `UPDATE token_allowances SET amount=? WHERE owner=? AND spender=?`,
				allowed.Sub(amount).String(), from, spender); err != nil {
				return err
			}
		}
		return move(ctx, q, from, to, amount)
	})
}

func (t Token) Mint(ctx context.Context, minter, to string, amount math.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return errorsmod.Wrapf(ErrInvalidAmount, "mint of %s", amount)
	}
	return run(ctx, t.DB, func(q db.Querier) error {
		var n int
		err := q.QueryRowContext(ctx, `SELECT 1 FROM token_minters WHERE address=?`, minter).Scan(&n)
		if err == sql.ErrNoRows {
			return errorsmod.Wrap(ErrNotMinter, minter)
		}
		if err != nil {
			return err
		}
		if amount.IsZero() {
			return nil
		}
		supply, err := readInt(ctx, q, `SELECT total FROM token_supply WHERE id=1`)
		if err != nil {
			return err
		}
		bal, err := balance(ctx, q, to)
		if err != nil {
			return err
		}
		if err := setBalance(ctx, q, to, bal.Add(amount)); err != nil {
			return err
		}
		_, err = q.ExecContext(ctx, `UPDATE token_supply SET total=? WHERE id=1`, supply.Add(amount).String())
		return err
	})
}

func (t Token) AddMinter(ctx context.Context, addr string) error {
	_, err := db.QuerierFrom(ctx, t.DB).ExecContext(ctx, `INSERT OR IGNORE INTO token_minters(address) VALUES (?)`, addr)
	return err
}

func (t Token) IsMinter(ctx context.Context, addr string) (bool, error) {
	var n int
	err := db.QuerierFrom(ctx, t.DB).QueryRowContext(ctx, `SELECT 1 FROM token_minters WHERE address=?`, addr).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}
