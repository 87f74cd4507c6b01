package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"taskmarket/internal/app"
	"taskmarket/internal/config"
	"taskmarket/internal/domain"
	"taskmarket/internal/relay"
	"taskmarket/internal/repo"
	"taskmarket/internal/server"
)

func initCmd() *cobra.Command {
	var owner string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create taskmarket.yml and bootstrap the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s exists; use --force to overwrite", path)
			}
			if owner != "" {
				if _, err := domain.NormalizeAddress(owner); err != nil {
					return fmt.Errorf("--owner: %w", err)
				}
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(owner)), 0o644); err != nil {
				return err
			}
			return withMarket(cmd.Context(), func(ctx context.Context, m *app.Market) error {
				fmt.Printf("Wrote %s\n", path)
				fmt.Printf("Market owner: %s\n", m.Config.Market.Owner)
				fmt.Printf("Engine address: %s\n", m.Engine.Address)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "market owner address")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Inspect taskmarket.yml"}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate taskmarket.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if _, err := cfg.Params(); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	})
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Event log"}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID, actorFilter string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMarket(cmd.Context(), func(ctx context.Context, m *app.Market) error {
				items, err := m.Engine.Repo.LatestEvents(ctx, repo.EventFilter{
					Type:       evtType,
					EntityKind: entityKind,
					EntityID:   entityID,
					Actor:      actorFilter,
					Limit:      n,
				})
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, evt := range items {
					rows = append(rows, table.Row{evt.ID, evt.Block, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.Actor, evt.Payload})
				}
				return printTable(items, table.Row{"ID", "Block", "Type", "Entity", "Actor", "Payload"}, rows)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	cmd.Flags().StringVar(&actorFilter, "by", "", "actor filter")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server, webhooks and the Kafka relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			level := viper.GetString("log-level")
			if !cmd.Flags().Changed("log-level") && os.Getenv("TASKMARKET_LOG_LEVEL") == "" {
				level = "info"
			}
			log, err := app.NewLogger(level, "json", os.Stderr)
			if err != nil {
				return err
			}
			m, err := app.ResolveMarket(ctx, app.Options{Workspace: viper.GetString("workspace"), Log: log})
			if err != nil {
				return err
			}
			defer m.Close()
			cfg := m.Config

			secret := viper.GetString("jwt_secret")
			if secret == "" && !cfg.Server.AllowLegacyActorHeader {
				return fmt.Errorf("TASKMARKET_JWT_SECRET is required for bearer auth")
			}
			if !cmd.Flags().Changed("addr") && cfg.Server.Addr != "" {
				addr = cfg.Server.Addr
			}
			if !cmd.Flags().Changed("base-path") && cfg.Server.BasePath != "" {
				basePath = cfg.Server.BasePath
			}
			handler, err := server.New(server.Config{
				Engine:   m.Engine,
				Registry: m.Registry,
				BasePath: basePath,
				Auth: server.AuthConfig{
					JWTSecret:              secret,
					AllowLegacyActorHeader: cfg.Server.AllowLegacyActorHeader,
					RateLimit:              cfg.Server.RateLimit,
					RateBurst:              cfg.Server.RateBurst,
					Logger:                 log,
				},
			})
			if err != nil {
				return err
			}

			hooks := server.NewWebhookDispatcher(m.Engine.Repo, cfg.Webhooks.Hooks, log, m.Engine.Metrics)
			go hooks.Run(ctx, cfg.WebhookPollInterval())
			if len(cfg.Kafka.Brokers) > 0 {
				writer := relay.NewWriter(cfg.Kafka)
				defer writer.Close()
				rl := relay.New(m.Engine.Repo, writer, cfg.Kafka.BatchSize, log, m.Engine.Metrics)
				go rl.Run(ctx, cfg.KafkaPollInterval())
			}

			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			log.Info().Str("addr", addr).Str("base_path", basePath).Msg("serving taskmarket API")
			fmt.Printf("Serving Taskmarket API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at %s/docs, metrics at /metrics)\n",
				addr, basePath, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func relayCmd() *cobra.Command {
	var brokers []string
	var topic string
	var once bool
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Publish market events to Kafka",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			log, err := newLogger()
			if err != nil {
				return err
			}
			m, err := app.ResolveMarket(ctx, app.Options{Workspace: viper.GetString("workspace"), Log: log})
			if err != nil {
				return err
			}
			defer m.Close()
			kc := m.Config.Kafka
			if len(brokers) > 0 {
				kc.Brokers = brokers
			}
			if topic != "" {
				kc.Topic = topic
			}
			if len(kc.Brokers) == 0 || strings.TrimSpace(kc.Topic) == "" {
				return fmt.Errorf("kafka brokers and topic required (config kafka section or --brokers/--topic)")
			}
			writer := relay.NewWriter(kc)
			defer writer.Close()
			rl := relay.New(m.Engine.Repo, writer, kc.BatchSize, log, m.Engine.Metrics)
			if once {
				n, err := rl.PublishOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("published %d events\n", n)
				return nil
			}
			log.Info().Strs("brokers", kc.Brokers).Str("topic", kc.Topic).Msg("relaying events")
			return rl.Run(ctx, m.Config.KafkaPollInterval())
		},
	}
	cmd.Flags().StringSliceVar(&brokers, "brokers", nil, "kafka brokers (overrides config)")
	cmd.Flags().StringVar(&topic, "topic", "", "kafka topic (overrides config)")
	cmd.Flags().BoolVar(&once, "once", false, "publish one batch and exit")
	return cmd
}
