package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskmarket/internal/app"
	"taskmarket/internal/domain"
	"taskmarket/internal/engine"
	"taskmarket/internal/repo"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show market status",
		Long:  "Supply, emission reward, slashing mode and the stake a validator needs to be active.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMarket(cmd.Context(), func(ctx context.Context, m *app.Market) error {
				st, err := m.Engine.Status(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(st)
				}
				fmt.Printf("Height: %d\n", st.Height)
				fmt.Printf("Paused: %t\n", st.Paused)
				fmt.Printf("Total supply: %s (target %s)\n", domain.FormatAmount(st.TotalSupply), domain.FormatAmount(st.TargetSupply))
				fmt.Printf("Reward: %s\n", domain.FormatAmount(st.Reward))
				fmt.Printf("Slashing mode: %t (slash %s)\n", st.SlashingMode, domain.FormatAmount(st.SlashAmount))
				fmt.Printf("Validator minimum: %s\n", domain.FormatAmount(st.ValidatorMinimum))
				fmt.Printf("Accrued fees: %s\n", domain.FormatAmount(st.AccruedFees))
				fmt.Printf("Held: %s\n", domain.FormatAmount(st.TotalHeld))
				return nil
			})
		},
	}
}

func modelCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "model", Short: "Register and manage models"}
	cmd.AddCommand(modelRegisterCmd())
	cmd.AddCommand(modelListCmd())
	cmd.AddCommand(modelGetCmd())
	cmd.AddCommand(modelSetFeeCmd())
	cmd.AddCommand(modelSetOwnerCmd())
	cmd.AddCommand(modelSetRateCmd())
	cmd.AddCommand(modelAllowCmd())
	cmd.AddCommand(modelFeeOverrideCmd())
	return cmd
}

func modelRegisterCmd() *cobra.Command {
	var owner, fee, templateFile string
	var allow []string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a model",
		RunE: func(cmd *cobra.Command, args []string) error {
			amt, err := parseAmountFlag("fee", fee)
			if err != nil {
				return err
			}
			template, err := os.ReadFile(templateFile)
			if err != nil {
				return fmt.Errorf("read template: %w", err)
			}
			return withActor(cmd.Context(), func(ctx context.Context, m *app.Market, who string) error {
				if owner == "" {
					owner = who
				}
				var model domain.Model
				if cmd.Flags().Changed("allow") {
					model, err = m.Engine.RegisterModelWithAllowList(ctx, who, owner, amt, template, allow)
				} else {
					model, err = m.Engine.RegisterModel(ctx, who, owner, amt, template)
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(model)
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "model owner (defaults to actor)")
	cmd.Flags().StringVar(&fee, "fee", "0", "minimum task fee")
	cmd.Flags().StringVar(&templateFile, "template", "", "template file")
	cmd.Flags().StringSliceVar(&allow, "allow", nil, "addresses allowed to solve; enables the allow list")
	_ = cmd.MarkFlagRequired("template")
	return cmd
}

func modelListCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List models",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMarket(cmd.Context(), func(ctx context.Context, m *app.Market) error {
				if owner != "" {
					var err error
					if owner, err = domain.NormalizeAddress(owner); err != nil {
						return err
					}
				}
				items, err := m.Engine.ListModels(ctx, owner)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, md := range items {
					rows = append(rows, table.Row{md.ID, md.Owner, domain.FormatAmount(md.Fee), md.Rate.String(), md.AllowListRequired})
				}
				return printTable(items, table.Row{"ID", "Owner", "Fee", "Rate", "Allow list"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner filter")
	return cmd
}

func modelGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <model-id>",
		Short: "Show a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMarket(cmd.Context(), func(ctx context.Context, m *app.Market) error {
				model, err := m.Engine.GetModel(ctx, args[0])
				if err != nil {
					return err
				}
				pct, err := m.Engine.ModelFeePercentage(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"model": model, "fee_percentage": pct.String()})
			})
		},
	}
}

func modelSetFeeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-fee <model-id> <fee>",
		Short: "Change a model's fee",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amt, err := parseAmountFlag("fee", args[1])
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, m *app.Market, who string) error {
				return m.Engine.SetModelFee(ctx, who, args[0], amt)
			})
		},
	}
}

func modelSetOwnerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-owner <model-id> <address>",
		Short: "Transfer a model to a new owner",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, m *app.Market, who string) error {
				return m.Engine.SetModelAddr(ctx, who, args[0], args[1])
			})
		},
	}
}

func modelSetRateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-rate <model-id> <rate>",
		Short: "Set a model's emission rate (owner role)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rate, err := domain.ParseFraction(args[1])
			if err != nil {
				return fmt.Errorf("rate: %w", err)
			}
			return withActor(cmd.Context(), func(ctx context.Context, m *app.Market, who string) error {
				return m.Engine.SetSolutionMineableRate(ctx, who, args[0], rate)
			})
		},
	}
}

func modelAllowCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "allow", Short: "Manage a model's allow list"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list <model-id>",
		Short: "Show allowed addresses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMarket(cmd.Context(), func(ctx context.Context, m *app.Market) error {
				items, err := m.Engine.ModelAllowList(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	})
	for _, add := range []bool{true, false} {
		add := add
		use, short := "add <model-id> <address>...", "Allow addresses"
		if !add {
			use, short = "remove <model-id> <address>...", "Remove addresses"
		}
		cmd.AddCommand(&cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withActor(cmd.Context(), func(ctx context.Context, m *app.Market, who string) error {
					change := m.Engine.AddToModelAllowList
					if !add {
						change = m.Engine.RemoveFromModelAllowList
					}
					changed, err := change(ctx, who, args[0], args[1:])
					if err != nil {
						return err
					}
					return printJSONOrTable(changed)
				})
			},
		})
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "require <model-id> <true|false>",
		Short: "Turn allow list enforcement on or off",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			required, err := parseBool(args[1])
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, m *app.Market, who string) error {
				return m.Engine.SetModelAllowListRequired(ctx, who, args[0], required)
			})
		},
	})
	return cmd
}

func modelFeeOverrideCmd() *cobra.Command {
	var remove bool
	cmd := &cobra.Command{
		Use:   "fee-override <model-id> [percentage]",
		Short: "Override the model fee percentage (owner role)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !remove && len(args) != 2 {
				return fmt.Errorf("percentage required unless --clear")
			}
			return withActor(cmd.Context(), func(ctx context.Context, m *app.Market, who string) error {
				if remove {
					return m.Engine.ClearSolutionModelFeePercentageOverride(ctx, who, args[0])
				}
				pct, err := domain.ParseFraction(args[1])
				if err != nil {
					return fmt.Errorf("percentage: %w", err)
				}
				return m.Engine.SetSolutionModelFeePercentageOverride(ctx, who, args[0], pct)
			})
		},
	}
	cmd.Flags().BoolVar(&remove, "clear", false, "remove the override")
	return cmd
}

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Submit and inspect tasks"}
	cmd.AddCommand(taskSubmitCmd())
	cmd.AddCommand(taskListCmd())
	cmd.AddCommand(taskGetCmd())
	return cmd
}

func taskSubmitCmd() *cobra.Command {
	var owner, model, fee, input string
	var count int
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit one or more identical tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			amt, err := parseAmountFlag("fee", fee)
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, m *app.Market, who string) error {
				opts := engine.SubmitTaskOptions{Owner: owner, Model: model, Fee: amt, Input: []byte(input)}
				if count > 1 {
					tasks, err := m.Engine.BulkSubmitTask(ctx, who, opts, count)
					if err != nil {
						return err
					}
					return printTasks(tasks)
				}
				t, err := m.Engine.SubmitTask(ctx, who, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "task owner (defaults to actor)")
	cmd.Flags().StringVar(&model, "model", "", "model id")
	cmd.Flags().StringVar(&fee, "fee", "0", "task fee")
	cmd.Flags().StringVar(&input, "input", "", "task input")
	cmd.Flags().IntVar(&count, "count", 1, "number of tasks")
	_ = cmd.MarkFlagRequired("model")
	return cmd
}

func taskListCmd() *cobra.Command {
	var model, owner, cursor string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMarket(cmd.Context(), func(ctx context.Context, m *app.Market) error {
				if owner != "" {
					var err error
					if owner, err = domain.NormalizeAddress(owner); err != nil {
						return err
					}
				}
				tasks, err := m.Engine.ListTasks(ctx, repo.TaskFilter{ModelID: model, Owner: owner, Limit: limit, Cursor: cursor})
				if err != nil {
					return err
				}
				return printTasks(tasks)
			})
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "model filter")
	cmd.Flags().StringVar(&owner, "owner", "", "owner filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max tasks")
	cmd.Flags().StringVar(&cursor, "cursor", "", "pagination cursor")
	return cmd
}

func printTasks(tasks []domain.Task) error {
	rows := make([]table.Row, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, table.Row{t.ID, t.ModelID, t.Owner, domain.FormatAmount(t.Fee), t.BlockNumber})
	}
	return printTable(tasks, table.Row{"ID", "Model", "Owner", "Fee", "Block"}, rows)
}

func taskGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <task-id>",
		Short: "Show a task and its solution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMarket(cmd.Context(), func(ctx context.Context, m *app.Market) error {
				t, err := m.Engine.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				out := map[string]any{"task": t}
				if sol, err := m.Engine.GetSolution(ctx, args[0]); err == nil {
					out["solution"] = sol
				}
				return printJSONOrTable(out)
			})
		},
	}
}

func commitCmd() *cobra.Command {
	var taskID, cid, hash string
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Signal a solution commitment",
		Long:  "Pass --hash, or --task and --cid to compute the commitment for the actor.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, m *app.Market, who string) error {
				if hash == "" {
					if taskID == "" || cid == "" {
						return fmt.Errorf("--hash or both --task and --cid required")
					}
					hash = engine.GenerateCommitment(who, taskID, cid)
				}
				c, err := m.Engine.SignalCommitment(ctx, who, hash)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "task id")
	cmd.Flags().StringVar(&cid, "cid", "", "solution cid")
	cmd.Flags().StringVar(&hash, "hash", "", "precomputed commitment")
	return cmd
}

func solutionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "solution", Short: "Submit and claim solutions"}
	var taskIDs, cids []string
	submit := &cobra.Command{
		Use:   "submit",
		Short: "Reveal solutions for committed tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, m *app.Market, who string) error {
				if len(taskIDs) == 1 && len(cids) == 1 {
					sol, err := m.Engine.SubmitSolution(ctx, who, taskIDs[0], cids[0])
					if err != nil {
						return err
					}
					return printJSONOrTable(sol)
				}
				sols, err := m.Engine.BulkSubmitSolution(ctx, who, taskIDs, cids)
				if err != nil {
					return err
				}
				return printSolutions(sols)
			})
		},
	}
	submit.Flags().StringSliceVar(&taskIDs, "task", nil, "task id (repeatable)")
	submit.Flags().StringSliceVar(&cids, "cid", nil, "solution cid (repeatable, same order as --task)")
	_ = submit.MarkFlagRequired("task")
	_ = submit.MarkFlagRequired("cid")
	cmd.AddCommand(submit)

	cmd.AddCommand(&cobra.Command{
		Use:   "get <task-id>",
		Short: "Show a solution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMarket(cmd.Context(), func(ctx context.Context, m *app.Market) error {
				sol, err := m.Engine.GetSolution(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(sol)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "claim <task-id>",
		Short: "Claim an uncontested solution after the claim delay",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, m *app.Market, who string) error {
				if err := m.Engine.ClaimSolution(ctx, who, args[0]); err != nil {
					return err
				}
				sol, err := m.Engine.GetSolution(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(sol)
			})
		},
	})
	return cmd
}

func printSolutions(sols []domain.Solution) error {
	rows := make([]table.Row, 0, len(sols))
	for _, s := range sols {
		rows = append(rows, table.Row{s.TaskID, s.Validator, s.CID, s.Status, domain.FormatAmount(s.Stake)})
	}
	return printTable(sols, table.Row{"Task", "Validator", "CID", "Status", "Stake"}, rows)
}

func contestCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "contest", Short: "Contest solutions and vote"}
	cmd.AddCommand(&cobra.Command{
		Use:   "submit <task-id>",
		Short: "Contest a solution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, m *app.Market, who string) error {
				c, err := m.Engine.SubmitContestation(ctx, who, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "suggest <task-id>",
		Short: "Flag a solution for master contesters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, m *app.Market, who string) error {
				return m.Engine.SuggestContestation(ctx, who, args[0])
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "vote <task-id> <yea|nay>",
		Short: "Vote on a contestation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var yea bool
			switch strings.ToLower(args[1]) {
			case "yea", "yes":
				yea = true
			case "nay", "no":
			default:
				return fmt.Errorf("vote must be yea or nay, got %q", args[1])
			}
			return withActor(cmd.Context(), func(ctx context.Context, m *app.Market, who string) error {
				return m.Engine.VoteOnContestation(ctx, who, args[0], yea)
			})
		},
	})
	var iterations int64
	finish := &cobra.Command{
		Use:   "finish <task-id>",
		Short: "Resolve a closed contestation in batches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, m *app.Market, who string) error {
				res, err := m.Engine.ContestationVoteFinish(ctx, who, args[0], iterations)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	finish.Flags().Int64Var(&iterations, "max-iterations", 16, "votes settled per call")
	cmd.AddCommand(finish)
	cmd.AddCommand(&cobra.Command{
		Use:   "get <task-id>",
		Short: "Show a contestation and its votes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMarket(cmd.Context(), func(ctx context.Context, m *app.Market) error {
				c, err := m.Engine.GetContestation(ctx, args[0])
				if err != nil {
					return err
				}
				votes, err := m.Engine.ListContestationVotes(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"contestation": c, "votes": votes})
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "can-vote <task-id> <address>",
		Short: "Explain whether an address may vote",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMarket(cmd.Context(), func(ctx context.Context, m *app.Market) error {
				code, err := m.Engine.ValidatorCanVote(ctx, args[1], args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"code": code})
			})
		},
	})
	return cmd
}

func validatorCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "validator", Short: "Stake and withdraw as a validator"}
	var validator string
	deposit := &cobra.Command{
		Use:   "deposit <amount>",
		Short: "Deposit stake for the actor or --validator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amt, err := parseAmountFlag("amount", args[0])
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, m *app.Market, who string) error {
				target := validator
				if target == "" {
					target = who
				}
				v, err := m.Engine.ValidatorDeposit(ctx, who, target, amt)
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	deposit.Flags().StringVar(&validator, "validator", "", "validator credited (defaults to actor)")
	cmd.AddCommand(deposit)

	cmd.AddCommand(&cobra.Command{
		Use:   "withdraw <amount>",
		Short: "Start a withdrawal; funds unlock after the exit delay",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amt, err := parseAmountFlag("amount", args[0])
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, m *app.Market, who string) error {
				w, err := m.Engine.InitiateValidatorWithdraw(ctx, who, amt)
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "cancel <count>",
		Short: "Cancel a pending withdrawal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := parseCount(args[0])
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, m *app.Market, who string) error {
				return m.Engine.CancelValidatorWithdraw(ctx, who, count)
			})
		},
	})
	var to string
	complete := &cobra.Command{
		Use:   "complete <count>",
		Short: "Complete an unlocked withdrawal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := parseCount(args[0])
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, m *app.Market, who string) error {
				dest := to
				if dest == "" {
					dest = who
				}
				paid, err := m.Engine.ValidatorWithdraw(ctx, who, count, dest)
				if err != nil {
					return err
				}
				return printAmount("paid", paid)
			})
		},
	}
	complete.Flags().StringVar(&to, "to", "", "recipient (defaults to actor)")
	cmd.AddCommand(complete)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List validators",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMarket(cmd.Context(), func(ctx context.Context, m *app.Market) error {
				minimum, err := m.Engine.ValidatorMinimum(ctx)
				if err != nil {
					return err
				}
				items, err := m.Engine.ListValidators(ctx)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, v := range items {
					available := v.Staked.Sub(v.PendingWithdraw)
					active := available.IsPositive() && available.GTE(minimum)
					rows = append(rows, table.Row{v.Address, domain.FormatAmount(v.Staked), domain.FormatAmount(v.PendingWithdraw), active})
				}
				return printTable(items, table.Row{"Address", "Staked", "Pending", "Active"}, rows)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show <address>",
		Short: "Show a validator and its pending withdrawals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := domain.NormalizeAddress(args[0])
			if err != nil {
				return err
			}
			return withMarket(cmd.Context(), func(ctx context.Context, m *app.Market) error {
				v, err := m.Engine.GetValidator(ctx, addr)
				if err != nil {
					return err
				}
				pending, err := m.Engine.ListWithdrawals(ctx, addr)
				if err != nil {
					return err
				}
				active, err := m.Engine.IsActiveValidator(ctx, addr)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"validator": v, "active": active, "withdrawals": pending})
			})
		},
	})
	return cmd
}

func paramsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "params", Short: "Show and change market parameters"}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show parameters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMarket(cmd.Context(), func(ctx context.Context, m *app.Market) error {
				p, err := m.Engine.Params(ctx)
				if err != nil {
					return err
				}
				values := p.Map()
				rows := make([]table.Row, 0, len(values))
				for _, key := range domain.ParamKeys() {
					rows = append(rows, table.Row{key, values[key]})
				}
				return printTable(values, table.Row{"Key", "Value"}, rows)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a parameter (owner role)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, m *app.Market, who string) error {
				return m.Engine.SetParameter(ctx, who, args[0], args[1])
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "pause <true|false>",
		Short: "Pause or resume the market (pauser role)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paused, err := parseBool(args[0])
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, m *app.Market, who string) error {
				return m.Engine.SetPaused(ctx, who, paused)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "withdraw-fees",
		Short: "Send accrued fees to the treasury",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, m *app.Market, who string) error {
				v, err := m.Engine.WithdrawAccruedFees(ctx, who)
				if err != nil {
					return err
				}
				return printAmount("withdrawn", v)
			})
		},
	})
	for _, grant := range []bool{true, false} {
		grant := grant
		use, short := "grant <address> <role>", "Grant a role (owner role)"
		if !grant {
			use, short = "revoke <address> <role>", "Revoke a role (owner role)"
		}
		cmd.AddCommand(&cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withActor(cmd.Context(), func(ctx context.Context, m *app.Market, who string) error {
					if grant {
						return m.Engine.GrantRole(ctx, who, args[0], args[1])
					}
					return m.Engine.RevokeRole(ctx, who, args[0], args[1])
				})
			},
		})
	}
	return cmd
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "yes", "on", "1":
		return true, nil
	case "false", "no", "off", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected true or false, got %q", v)
}

func parseCount(v string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("count must be a positive integer, got %q", v)
	}
	return n, nil
}
