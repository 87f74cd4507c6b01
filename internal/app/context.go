package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"taskmarket/internal/config"
	"taskmarket/internal/db"
	"taskmarket/internal/election"
	"taskmarket/internal/engine"
	"taskmarket/internal/ledger"
	"taskmarket/internal/metrics"
	"taskmarket/internal/migrate"
)

// Market bundles the components every entry point needs for one workspace.
type Market struct {
	Workspace string
	DB        *sql.DB
	Config    *config.Config
	Token     ledger.Token
	Positions ledger.Positions
	Registry  *election.Registry
	Engine    engine.Engine
	Log       zerolog.Logger
}

func (m *Market) Close() error {
	if m == nil || m.DB == nil {
		return nil
	}
	return m.DB.Close()
}

// Options selects how a workspace is opened.
type Options struct {
	Workspace string
	// RequireConfig fails when taskmarket.yml is missing instead of using defaults.
	RequireConfig bool
	Log           zerolog.Logger
	Now           func() time.Time
}

// ResolveMarket opens the workspace database, applies migrations and seeds the
// market and election state from config on first use.
func ResolveMarket(ctx context.Context, opts Options) (*Market, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.RequireConfig {
		cfg, err = config.Load(opts.Workspace)
	} else {
		cfg, err = config.LoadOptional(opts.Workspace)
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	epoch, err := cfg.EpochDuration()
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	m := metrics.Default()
	token := ledger.Token{DB: conn}
	positions := ledger.Positions{DB: conn}
	reg := election.New(conn, positions, epoch, cfg.Election.Count, cfg.Election.MaxCount)
	reg.Log = opts.Log.With().Str("component", "election").Logger()
	reg.Metrics = m
	eng := engine.New(conn, cfg, token, reg)
	eng.Log = opts.Log.With().Str("component", "engine").Logger()
	eng.Metrics = m
	if opts.Now != nil {
		reg.Now = opts.Now
		eng.Now = opts.Now
	}
	if err := eng.Bootstrap(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("bootstrap market: %w", err)
	}
	if err := reg.Bootstrap(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("bootstrap election: %w", err)
	}
	return &Market{
		Workspace: opts.Workspace,
		DB:        conn,
		Config:    cfg,
		Token:     token,
		Positions: positions,
		Registry:  reg,
		Engine:    eng,
		Log:       opts.Log,
	}, nil
}

// NewLogger builds the process logger. format is "json" or "console".
func NewLogger(level, format string, out io.Writer) (zerolog.Logger, error) {
	if out == nil {
		out = os.Stderr
	}
	lvl := zerolog.InfoLevel
	if strings.TrimSpace(level) != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("log level %q: %w", level, err)
		}
		lvl = parsed
	}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "console":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	case "json":
	default:
		return zerolog.Nop(), fmt.Errorf("log format %q: want json or console", format)
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), nil
}
