package taskmarketsdk_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"taskmarket/internal/config"
	"taskmarket/internal/db"
	"taskmarket/internal/domain"
	"taskmarket/internal/election"
	"taskmarket/internal/engine"
	"taskmarket/internal/ledger"
	"taskmarket/internal/migrate"
	"taskmarket/internal/server"
	taskmarketsdk "taskmarket/sdk/go"
)

const secret = "sdk-secret"

var (
	faucet = domain.MustAddress("0x000000000000000000000000000000000000fa0c")
	user   = domain.MustAddress("0x0000000000000000000000000000000000000b0b")
	valA   = domain.MustAddress("0x000000000000000000000000000000000000000a")
)

func newClients(t *testing.T) (func(addr string) *taskmarketsdk.Client, engine.Engine, ledger.Token) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(conn))
	ctx := context.Background()
	token := ledger.Token{DB: conn}
	reg := election.New(conn, ledger.Positions{DB: conn}, 7*24*time.Hour, 3, 100)
	e := engine.New(conn, config.Default(), token, reg)
	require.NoError(t, e.Bootstrap(ctx))
	require.NoError(t, reg.Bootstrap(ctx))
	require.NoError(t, token.AddMinter(ctx, faucet))
	handler, err := server.New(server.Config{
		Engine:   e,
		Registry: reg,
		Auth:     server.AuthConfig{JWTSecret: secret, Logger: zerolog.Nop()},
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		conn.Close()
	})
	return func(addr string) *taskmarketsdk.Client {
		tok, err := server.SignToken(secret, addr, time.Hour)
		require.NoError(t, err)
		c := taskmarketsdk.New(srv.URL)
		c.BearerToken = tok
		return c
	}, e, token
}

func fund(t *testing.T, e engine.Engine, token ledger.Token, addr, amount string) {
	t.Helper()
	ctx := context.Background()
	v := domain.MustAmount(amount)
	require.NoError(t, token.Mint(ctx, faucet, addr, v))
	require.NoError(t, token.Approve(ctx, addr, e.Address, v))
}

func TestClientSubmitsAndReveals(t *testing.T) {
	client, e, token := newClients(t)
	ctx := context.Background()
	fund(t, e, token, user, "5")
	fund(t, e, token, valA, "5")
	u, v := client(user), client(valA)

	model, err := u.RegisterModel(ctx, "0", `{"model":"llm"}`)
	require.NoError(t, err)
	task, err := u.SubmitTask(ctx, model.ID, "0.2", "hello")
	require.NoError(t, err)
	got, err := u.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, "0.2", got.Fee)

	val, err := v.Deposit(ctx, "1")
	require.NoError(t, err)
	require.True(t, val.Active)
	hash, err := v.GenerateCommitment(ctx, task.ID, "0x1220beef")
	require.NoError(t, err)
	_, err = v.SignalCommitment(ctx, hash)
	require.NoError(t, err)
	sol, err := v.SubmitSolution(ctx, task.ID, "0x1220beef")
	require.NoError(t, err)
	require.Equal(t, "submitted", sol.Status)

	page, err := u.EventsPage(ctx, 2, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.Equal(t, "solution.submitted", page.Items[0].Type)
	require.NotEmpty(t, page.NextCursor)

	st, err := u.Status(ctx)
	require.NoError(t, err)
	require.False(t, st.Paused)
}

func TestClientDecodesErrorEnvelope(t *testing.T) {
	client, _, _ := newClients(t)
	_, err := client(user).GetTask(context.Background(), "0xdead")
	var apiErr *taskmarketsdk.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, 404, apiErr.StatusCode)
	require.Equal(t, "not_found", apiErr.Code)

	anon := client(user)
	anon.BearerToken = ""
	_, err = anon.Status(context.Background())
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, "unauthorized", apiErr.Code)
}
