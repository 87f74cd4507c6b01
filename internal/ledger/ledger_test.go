package ledger_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"taskmarket/internal/db"
	"taskmarket/internal/domain"
	"taskmarket/internal/ledger"
	"taskmarket/internal/migrate"
)

var (
	alice  = domain.MustAddress("0x00000000000000000000000000000000000a11ce")
	bob    = domain.MustAddress("0x0000000000000000000000000000000000000b0b")
	minter = domain.MustAddress("0x000000000000000000000000000000000000e4e4")
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return conn
}

func TestMintTransferAndSupply(t *testing.T) {
	ctx := context.Background()
	tok := ledger.Token{DB: openDB(t)}

	err := tok.Mint(ctx, minter, alice, domain.Tokens(5))
	require.ErrorIs(t, err, ledger.ErrNotMinter)

	require.NoError(t, tok.AddMinter(ctx, minter))
	require.NoError(t, tok.Mint(ctx, minter, alice, domain.Tokens(5)))
	require.NoError(t, tok.Transfer(ctx, alice, bob, domain.Tokens(2)))

	a, err := tok.BalanceOf(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, domain.Tokens(3).String(), a.String())
	b, err := tok.BalanceOf(ctx, bob)
	require.NoError(t, err)
	require.Equal(t, domain.Tokens(2).String(), b.String())
	supply, err := tok.TotalSupply(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.Tokens(5).String(), supply.String())

	err = tok.Transfer(ctx, bob, alice, domain.Tokens(3))
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	ctx := context.Background()
	tok := ledger.Token{DB: openDB(t)}
	require.NoError(t, tok.AddMinter(ctx, minter))
	require.NoError(t, tok.Mint(ctx, minter, alice, domain.Tokens(4)))

	err := tok.TransferFrom(ctx, bob, alice, bob, domain.Tokens(1))
	require.ErrorIs(t, err, ledger.ErrInsufficientAllowance)

	require.NoError(t, tok.Approve(ctx, alice, bob, domain.Tokens(3)))
	require.NoError(t, tok.TransferFrom(ctx, bob, alice, bob, domain.Tokens(2)))
	left, err := tok.Allowance(ctx, alice, bob)
	require.NoError(t, err)
	require.Equal(t, domain.Tokens(1).String(), left.String())
}

func TestJoinsContextTransaction(t *testing.T) {
	ctx := context.Background()
	conn := openDB(t)
	tok := ledger.Token{DB: conn}
	require.NoError(t, tok.AddMinter(ctx, minter))

	tx, err := conn.BeginTx(ctx, nil)
	require.NoError(t, err)
	txCtx := db.ContextWithTx(ctx, tx)
	require.NoError(t, tok.Mint(txCtx, minter, alice, domain.Tokens(7)))
	inTx, err := tok.BalanceOf(txCtx, alice)
	require.NoError(t, err)
	require.Equal(t, domain.Tokens(7).String(), inTx.String())
	require.NoError(t, tx.Rollback())

	after, err := tok.BalanceOf(ctx, alice)
	require.NoError(t, err)
	require.True(t, after.IsZero())
}

func TestPositions(t *testing.T) {
	ctx := context.Background()
	pos := ledger.Positions{DB: openDB(t)}

	_, err := pos.OwnerOfPosition(ctx, 9)
	require.ErrorIs(t, err, ledger.ErrUnknownPosition)

	_, err = pos.SetPosition(ctx, 9, alice, domain.Tokens(50))
	require.NoError(t, err)
	owner, err := pos.OwnerOfPosition(ctx, 9)
	require.NoError(t, err)
	require.Equal(t, alice, owner)
	w, err := pos.BalanceOfPosition(ctx, 9)
	require.NoError(t, err)
	require.Equal(t, domain.Tokens(50).String(), w.String())

	list, err := pos.List(ctx, bob)
	require.NoError(t, err)
	require.Empty(t, list)
}
