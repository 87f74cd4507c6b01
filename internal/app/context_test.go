package app_test

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"taskmarket/internal/app"
	"taskmarket/internal/config"
	"taskmarket/internal/domain"
)

func TestResolveMarketSeedsDefaults(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	m, err := app.ResolveMarket(ctx, app.Options{Workspace: dir})
	require.NoError(t, err)
	p, err := m.Engine.Params(ctx)
	require.NoError(t, err)
	require.Equal(t, m.Config.Market.MinClaimSolutionTime, p.MinClaimSolutionTime)
	owner := domain.MustAddress(config.DefaultOwner)
	roles, err := m.Engine.Roles(ctx, owner)
	require.NoError(t, err)
	require.Contains(t, roles, "owner")
	require.NoError(t, m.Close())

	// Reopening keeps stored state.
	m, err = app.ResolveMarket(ctx, app.Options{Workspace: dir})
	require.NoError(t, err)
	defer m.Close()
	st, err := m.Registry.CurrentEpoch(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), st.Epoch)
}

func TestResolveMarketRequiresConfig(t *testing.T) {
	dir := t.TempDir()
	_, err := app.ResolveMarket(context.Background(), app.Options{Workspace: dir, RequireConfig: true})
	require.ErrorContains(t, err, "tm init")

	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(config.Path(dir), []byte(config.GenerateDefault(config.DefaultOwner)), 0o644))
	m, err := app.ResolveMarket(context.Background(), app.Options{Workspace: dir, RequireConfig: true})
	require.NoError(t, err)
	require.NoError(t, m.Close())
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := app.NewLogger("debug", "json", &buf)
	require.NoError(t, err)
	log.Debug().Str("k", "v").Msg("hello")
	require.Contains(t, buf.String(), `"k":"v"`)

	_, err = app.NewLogger("loud", "json", &buf)
	require.Error(t, err)
	_, err = app.NewLogger("info", "xml", &buf)
	require.Error(t, err)
}
