package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"choreline/internal/app"
	"choreline/internal/config"
	"choreline/internal/db"
	"choreline/internal/domain"
	"choreline/internal/scanner"
)

var rootCmd = &cobra.Command{
	Use:   "cl",
	Short: "Choreline CLI",
	Long: `Choreline keeps track of recurring household chores.
- Chores are defined in choreline.yml and imported with 'cl chore import'.
- Each assignee claims a chore when it is done; an approver approves or rejects the claim.
- Rotating chores only accept claims from whoever holds the turn.
- The scanner marks chores overdue or missed and resets them when their period ends; 'cl serve' runs it on a schedule.
- Event log: diary of changes, view with 'cl log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		_ = godotenv.Load(filepath.Join(workspace, ".env"))
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
	viper.SetEnvPrefix("CHORELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level for one-shot commands")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(choreCmd())
	rootCmd.AddCommand(claimCmd())
	rootCmd.AddCommand(approveCmd())
	rootCmd.AddCommand(rejectCmd())
	rootCmd.AddCommand(rotationCmd())
	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(pointsCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage the household config",
		Long:  "choreline.yml holds the household time zone, store, scanner schedule, webhooks and chore definitions.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var household string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter choreline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(household)), 0o644); err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"path": path})
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&household, "household", "home", "household id")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := config.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate choreline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": errString(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func choreCmd() *cobra.Command {
	ch := &cobra.Command{Use: "chore", Short: "Manage chores"}
	ch.AddCommand(choreImportCmd())
	ch.AddCommand(choreListCmd())
	ch.AddCommand(choreShowCmd())
	ch.AddCommand(choreDeleteCmd())
	return ch
}

func choreImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Create or update chores from a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				chores := a.Config.Chores
				if file != "" {
					cfg, err := config.FromFile(file)
					if err != nil {
						return err
					}
					chores = cfg.Chores
				}
				res, err := a.SyncChores(ctx, chores, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("created %d, updated %d, unchanged %d\n", len(res.Created), len(res.Updated), len(res.Unchanged))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "config file to import (defaults to the workspace choreline.yml)")
	return cmd
}

func choreListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List chores with their current status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				states, err := a.Engine.States(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(states)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Turn", "Approved", "Claimed", "Assignees"})
				for _, st := range states {
					var who []string
					for _, r := range st.Assignees {
						who = append(who, fmt.Sprintf("%s:%s", r.AssigneeID, r.State))
					}
					tw.AppendRow(table.Row{
						st.Chore.ID, st.Chore.Name, st.Summary.Status, st.Holder,
						fmt.Sprintf("%d/%d", st.Summary.Approved, st.Summary.Total), st.Summary.Claimed,
						strings.Join(who, " "),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func choreShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <chore>",
		Short: "Show one chore per assignee",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				st, err := a.Engine.State(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(st)
				}
				loc := a.Config.Location()
				fmt.Printf("%s (%s) status=%s", st.Chore.Name, st.Chore.ID, st.Summary.Status)
				if st.Holder != "" {
					fmt.Printf(" turn=%s", st.Holder)
					if st.Override {
						fmt.Print(" (open)")
					}
				}
				fmt.Println()
				tw := newTable()
				tw.AppendHeader(table.Row{"Assignee", "State", "Claimable", "Lock", "Due", "Window opens", "Last approved"})
				for i, r := range st.Assignees {
					inst := st.Instances[i]
					tw.AppendRow(table.Row{
						r.AssigneeID, r.State, r.Claimable, r.LockReason,
						formatTime(inst.DueAt, loc), formatTime(inst.ClaimWindowOpensAt, loc), formatTime(inst.LastApprovedAt, loc),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func choreDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <chore>",
		Short: "Delete a chore and its state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.DeleteChore(ctx, args[0], viper.GetString("actor-id")); err != nil {
					return err
				}
				return printResult(map[string]string{"deleted": args[0]}, "deleted "+args[0])
			})
		},
	}
}

func scanCmd() *cobra.Command {
	scan := &cobra.Command{Use: "scan", Short: "Run a scanner sweep now"}
	for _, kind := range []scanner.Sweep{scanner.SweepTick, scanner.SweepRollover} {
		kind := kind
		scan.AddCommand(&cobra.Command{
			Use:   string(kind),
			Short: fmt.Sprintf("Run the %s sweep", kind),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
					run := a.Scanner.Tick
					if kind == scanner.SweepRollover {
						run = a.Scanner.Rollover
					}
					report, err := run(ctx)
					if err != nil {
						return err
					}
					if viper.GetBool("json") {
						return printJSON(report)
					}
					fmt.Printf("%s: %d pairs, %d changed, %d skipped, %d failed in %s\n",
						report.Sweep, report.Pairs, report.Changed, report.Skipped, len(report.Failures), report.Duration.Round(time.Millisecond))
					for _, f := range report.Failures {
						fmt.Printf("  %s/%s: %s\n", f.ChoreID, f.AssigneeID, f.Error)
					}
					return nil
				})
			},
		})
	}
	return scan
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var q domain.EventQuery
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show recent events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Events(ctx, q)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				loc := a.Config.Location()
				tw := newTable()
				tw.AppendHeader(table.Row{"Seq", "Time", "Type", "Chore", "Assignee", "Actor", "Reward"})
				for _, evt := range items {
					reward := ""
					if evt.RewardWeight != 0 {
						reward = fmt.Sprintf("%g", evt.RewardWeight)
					}
					tw.AppendRow(table.Row{evt.Seq, evt.TS.In(loc).Format("2006-01-02 15:04"), evt.Type, evt.ChoreID, evt.AssigneeID, evt.ActorID, reward})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&q.Limit, "n", "n", 20, "number of events")
	cmd.Flags().StringVar(&q.ChoreID, "chore", "", "chore filter")
	cmd.Flags().StringVar(&q.AssigneeID, "assignee", "", "assignee filter")
	cmd.Flags().StringVar(&q.Type, "type", "", "event type filter")
	cmd.Flags().Int64Var(&q.BeforeSeq, "before", 0, "only events before this sequence number")
	return cmd
}

func pointsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "points",
		Short: "Show reward balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if a.Balances == nil {
					return fmt.Errorf("store %s does not report balances", a.Config.Store.Driver)
				}
				items, err := a.Balances.Balances(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Assignee", "Points", "Approvals"})
				for _, b := range items {
					tw.AppendRow(table.Row{b.AssigneeID, fmt.Sprintf("%g", b.Total), b.Postings})
				}
				tw.Render()
				return nil
			})
		},
	}
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, viper.GetString("workspace"), app.Options{LogLevel: viper.GetString("log-level")})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

func printResult(v any, human string) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	fmt.Println(human)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatTime(t *time.Time, loc *time.Location) string {
	if t == nil {
		return ""
	}
	return t.In(loc).Format("Mon 2006-01-02 15:04")
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
