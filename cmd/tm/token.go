package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskmarket/internal/app"
	"taskmarket/internal/domain"
	"taskmarket/internal/repo"
	"taskmarket/internal/server"
)

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "token", Short: "Local token ledger"}
	cmd.AddCommand(&cobra.Command{
		Use:   "mint <to> <amount>",
		Short: "Mint tokens (actor must be a minter)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amt, err := parseAmountFlag("amount", args[1])
			if err != nil {
				return err
			}
			to, err := domain.NormalizeAddress(args[0])
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, m *app.Market, who string) error {
				return m.Token.Mint(ctx, who, to, amt)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "add-minter <address>",
		Short: "Allow an address to mint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := domain.NormalizeAddress(args[0])
			if err != nil {
				return err
			}
			return withMarket(cmd.Context(), func(ctx context.Context, m *app.Market) error {
				return m.Token.AddMinter(ctx, addr)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "balance [address]",
		Short: "Show a balance (defaults to actor)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				addr string
				err  error
			)
			if len(args) == 1 {
				addr, err = domain.NormalizeAddress(args[0])
			} else {
				addr, err = actor()
			}
			if err != nil {
				return err
			}
			return withMarket(cmd.Context(), func(ctx context.Context, m *app.Market) error {
				bal, err := m.Token.BalanceOf(ctx, addr)
				if err != nil {
					return err
				}
				return printAmount(addr, bal)
			})
		},
	})
	var spender string
	approve := &cobra.Command{
		Use:   "approve <amount>",
		Short: "Set the allowance of --spender (defaults to the market engine)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amt, err := parseAmountFlag("amount", args[0])
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, m *app.Market, who string) error {
				target := spender
				if target == "" {
					target = m.Engine.Address
				} else if target, err = domain.NormalizeAddress(target); err != nil {
					return err
				}
				return m.Token.Approve(ctx, who, target, amt)
			})
		},
	}
	approve.Flags().StringVar(&spender, "spender", "", "spender address")
	cmd.AddCommand(approve)
	cmd.AddCommand(&cobra.Command{
		Use:   "transfer <to> <amount>",
		Short: "Transfer tokens from the actor",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amt, err := parseAmountFlag("amount", args[1])
			if err != nil {
				return err
			}
			to, err := domain.NormalizeAddress(args[0])
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, m *app.Market, who string) error {
				return m.Token.Transfer(ctx, who, to, amt)
			})
		},
	})
	var ttl time.Duration
	jwtCmd := &cobra.Command{
		Use:   "jwt [address]",
		Short: "Issue an API bearer token (needs TASKMARKET_JWT_SECRET)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt_secret")
			if secret == "" {
				return fmt.Errorf("TASKMARKET_JWT_SECRET is required")
			}
			var (
				addr string
				err  error
			)
			if len(args) == 1 {
				addr, err = domain.NormalizeAddress(args[0])
			} else {
				addr, err = actor()
			}
			if err != nil {
				return err
			}
			tok, err := server.SignToken(secret, addr, ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	jwtCmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.AddCommand(jwtCmd)
	return cmd
}

func positionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "position", Short: "Lock positions that carry election voting power"}
	cmd.AddCommand(&cobra.Command{
		Use:   "set <id> <owner> <weight>",
		Short: "Create or update a lock position",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("position id: %w", err)
			}
			owner, err := domain.NormalizeAddress(args[1])
			if err != nil {
				return err
			}
			weight, err := parseAmountFlag("weight", args[2])
			if err != nil {
				return err
			}
			return withMarket(cmd.Context(), func(ctx context.Context, m *app.Market) error {
				pos, err := m.Positions.SetPosition(ctx, id, owner, weight)
				if err != nil {
					return err
				}
				return printJSONOrTable(pos)
			})
		},
	})
	var owner string
	list := &cobra.Command{
		Use:   "list",
		Short: "List lock positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMarket(cmd.Context(), func(ctx context.Context, m *app.Market) error {
				if owner != "" {
					var err error
					if owner, err = domain.NormalizeAddress(owner); err != nil {
						return err
					}
				}
				items, err := m.Positions.List(ctx, owner)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, p := range items {
					rows = append(rows, table.Row{p.ID, p.Owner, domain.FormatAmount(p.Weight), p.UpdatedAt})
				}
				return printTable(items, table.Row{"ID", "Owner", "Weight", "Updated"}, rows)
			})
		},
	}
	list.Flags().StringVar(&owner, "owner", "", "owner filter")
	cmd.AddCommand(list)
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "API keys for the HTTP server"}
	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the actor; the key is shown once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, m *app.Market, who string) error {
				raw := make([]byte, 24)
				if _, err := rand.Read(raw); err != nil {
					return err
				}
				key := "tm_" + hex.EncodeToString(raw)
				rec := domain.APIKey{ID: uuid.NewString(), Address: who, Name: name, KeyHash: repo.HashAPIKey(key)}
				if err := m.Engine.Repo.InsertAPIKey(ctx, nil, rec); err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"id": rec.ID, "address": who, "key": key})
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "label")
	cmd.AddCommand(create)
	cmd.AddCommand(&cobra.Command{
		Use:   "list [address]",
		Short: "List API keys (defaults to actor)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				addr string
				err  error
			)
			if len(args) == 1 {
				addr, err = domain.NormalizeAddress(args[0])
			} else {
				addr, err = actor()
			}
			if err != nil {
				return err
			}
			return withMarket(cmd.Context(), func(ctx context.Context, m *app.Market) error {
				items, err := m.Engine.Repo.ListAPIKeys(ctx, addr)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, k := range items {
					rows = append(rows, table.Row{k.ID, k.Name, k.CreatedAt})
				}
				return printTable(items, table.Row{"ID", "Name", "Created"}, rows)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMarket(cmd.Context(), func(ctx context.Context, m *app.Market) error {
				if err := m.Engine.Repo.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintln(os.Stderr, "deleted", args[0])
				return nil
			})
		},
	})
	return cmd
}
