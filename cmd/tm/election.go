package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskmarket/internal/app"
	"taskmarket/internal/domain"
)

func electionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "election", Short: "Master contester election"}
	var positions []uint64
	vote := &cobra.Command{
		Use:   "vote <candidate>...",
		Short: "Vote for candidates with one or more lock positions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, m *app.Market, who string) error {
				var (
					b   domain.Ballot
					err error
				)
				if len(positions) == 1 {
					b, err = m.Registry.Vote(ctx, who, args, positions[0])
				} else {
					b, err = m.Registry.VoteMultiple(ctx, who, args, positions)
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	vote.Flags().Uint64SliceVar(&positions, "position", nil, "lock position id (repeatable)")
	_ = vote.MarkFlagRequired("position")
	cmd.AddCommand(vote)

	cmd.AddCommand(&cobra.Command{
		Use:   "finalize",
		Short: "Close the elapsed epoch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, m *app.Market, who string) error {
				st, err := m.Registry.FinalizeEpoch(ctx, who)
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set-count <n>",
		Short: "Set how many master contesters are elected (owner role)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("count: %w", err)
			}
			return withActor(cmd.Context(), func(ctx context.Context, m *app.Market, who string) error {
				return m.Registry.SetMasterContesterCount(ctx, who, n)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "add <address>",
		Short: "Emergency add a master contester (owner role)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, m *app.Market, who string) error {
				return m.Registry.EmergencyAddMasterContester(ctx, who, args[0])
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "remove <address>",
		Short: "Emergency remove a master contester (owner role)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, m *app.Market, who string) error {
				return m.Registry.EmergencyRemoveMasterContester(ctx, who, args[0])
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "contesters",
		Short: "List master contesters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMarket(cmd.Context(), func(ctx context.Context, m *app.Market) error {
				items, err := m.Registry.MasterContesters(ctx)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, mc := range items {
					rows = append(rows, table.Row{mc.Address, mc.Source, mc.Epoch, mc.AddedAt})
				}
				return printTable(items, table.Row{"Address", "Source", "Epoch", "Added"}, rows)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "top",
		Short: "Leading candidates this epoch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMarket(cmd.Context(), func(ctx context.Context, m *app.Market) error {
				items, err := m.Registry.TopCandidates(ctx)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for i, c := range items {
					rows = append(rows, table.Row{i + 1, c.Address, domain.FormatAmount(c.Weight)})
				}
				return printTable(items, table.Row{"#", "Candidate", "Weight"}, rows)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Current epoch and time remaining",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMarket(cmd.Context(), func(ctx context.Context, m *app.Market) error {
				st, err := m.Registry.CurrentEpoch(ctx)
				if err != nil {
					return err
				}
				until, err := m.Registry.TimeUntilNextEpoch(ctx)
				if err != nil {
					return err
				}
				fresh, err := m.Registry.IsNewEpoch(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"state": st, "seconds_until_next": int64(until / time.Second), "new_epoch": fresh})
				}
				fmt.Printf("Epoch: %d (started %s)\n", st.Epoch, time.Unix(st.EpochStart, 0).UTC().Format(time.RFC3339))
				fmt.Printf("Contesters elected: %d\n", st.Count)
				if fresh {
					fmt.Println("Epoch elapsed; run 'tm election finalize'")
				} else {
					fmt.Printf("Next epoch in: %s\n", until.Round(time.Second))
				}
				return nil
			})
		},
	})
	var epoch int64
	ballot := &cobra.Command{
		Use:   "ballot <voter>",
		Short: "Show a voter's ballot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			voter, err := domain.NormalizeAddress(args[0])
			if err != nil {
				return err
			}
			return withMarket(cmd.Context(), func(ctx context.Context, m *app.Market) error {
				if epoch == 0 {
					st, err := m.Registry.CurrentEpoch(ctx)
					if err != nil {
						return err
					}
					epoch = st.Epoch
				}
				voted, err := m.Registry.HasVoted(ctx, epoch, voter)
				if err != nil {
					return err
				}
				if !voted {
					return printJSONOrTable(map[string]any{"voter": voter, "epoch": epoch, "voted": false})
				}
				b, err := m.Registry.VotesCast(ctx, epoch, voter)
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	ballot.Flags().Int64Var(&epoch, "epoch", 0, "epoch (defaults to current)")
	cmd.AddCommand(ballot)
	return cmd
}
