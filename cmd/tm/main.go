package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cosmossdk.io/math"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskmarket/internal/app"
	"taskmarket/internal/db"
	"taskmarket/internal/domain"
)

var rootCmd = &cobra.Command{
	Use:   "tm",
	Short: "Taskmarket CLI",
	Long: `Taskmarket runs a compute task market backed by a local workspace.
Core concepts:
- Workspace: the .taskmarket directory holding the market database, next to taskmarket.yml.
- Models: registered templates with an owner and a per-task fee.
- Tasks: paid requests against a model; validators answer them.
- Commitments: a validator first signals hash(validator, task, cid), then reveals the solution in a later block.
- Solutions: claimed after the claim delay, or contested by another validator.
- Contestations: validators vote yea/nay; the losing side is slashed.
- Election: lock-position holders vote each epoch for the master contesters.
- Event log: every state change, view with 'tm log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	workspace := viper.GetString("workspace")
	if workspace == "" {
		workspace = "."
	}
	// A missing .env file is fine.
	_ = godotenv.Load(filepath.Join(workspace, ".env"))
	viper.SetEnvPrefix("TASKMARKET")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor", "", "acting address (env TASKMARKET_ACTOR)")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level")
	rootCmd.PersistentFlags().String("log-format", "console", "log format (console|json)")
	for _, name := range []string{"workspace", "json", "actor", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(modelCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(commitCmd())
	rootCmd.AddCommand(solutionCmd())
	rootCmd.AddCommand(contestCmd())
	rootCmd.AddCommand(validatorCmd())
	rootCmd.AddCommand(paramsCmd())
	rootCmd.AddCommand(electionCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(positionCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(relayCmd())
}

// --- helpers ---

func newLogger() (zerolog.Logger, error) {
	return app.NewLogger(viper.GetString("log-level"), viper.GetString("log-format"), os.Stderr)
}

func withMarket(ctx context.Context, fn func(context.Context, *app.Market) error) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	m, err := app.ResolveMarket(ctx, app.Options{Workspace: viper.GetString("workspace"), Log: log})
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(ctx, m)
}

// actor returns the normalized --actor address.
func actor() (string, error) {
	raw := strings.TrimSpace(viper.GetString("actor"))
	if raw == "" {
		return "", fmt.Errorf("--actor (or TASKMARKET_ACTOR) required")
	}
	return domain.NormalizeAddress(raw)
}

// withActor runs fn with the acting address and an opened market.
func withActor(ctx context.Context, fn func(context.Context, *app.Market, string) error) error {
	who, err := actor()
	if err != nil {
		return err
	}
	return withMarket(ctx, func(ctx context.Context, m *app.Market) error {
		return fn(ctx, m, who)
	})
}

func parseAmountFlag(name, v string) (math.Int, error) {
	amt, err := domain.ParseAmount(v)
	if err != nil {
		return math.Int{}, fmt.Errorf("--%s: %w", name, err)
	}
	return amt, nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printTable renders rows unless --json is set, in which case raw is printed.
func printTable(raw any, header table.Row, rows []table.Row) error {
	if viper.GetBool("json") {
		return printJSON(raw)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	for _, row := range rows {
		tw.AppendRow(row)
	}
	tw.Render()
	return nil
}

func printAmount(label string, v math.Int) error {
	if viper.GetBool("json") {
		return printJSON(map[string]string{label: domain.FormatAmount(v)})
	}
	fmt.Printf("%s: %s\n", label, domain.FormatAmount(v))
	return nil
}
