package main

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"siteledger/internal/aggregate"
	"siteledger/internal/app"
	"siteledger/internal/config"
	"siteledger/internal/db"
	"siteledger/internal/domain"
	"siteledger/internal/migrate"
	"siteledger/internal/server"
	"siteledger/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "sl",
	Short: "siteledger CLI",
	Long: `siteledger keeps construction projects (tasks, inventory, expenses, team) in a
workspace database or behind the siteledger API.
- Workspace: the .siteledger directory with the database; siteledger.yml holds settings.
- Drafts: edits are applied to a working copy and only reach the server on commit.
- Totals: currentSpent and per-category spend are computed by the server; 'sl report'
  compares them with what the local expenses add up to.
- Event log: every create and save is recorded, view with 'sl log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if viper.GetBool("remote") {
			return nil
		}
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SITELEDGER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-user", "actor recorded for local writes")
	flags.Bool("remote", false, "use the REST API instead of the workspace database")
	flags.String("base-url", "", "API base URL (defaults to client.base_url)")
	flags.String("token", "", "bearer token for the API")
	flags.String("log-level", "", "log level (defaults to log.level)")
	for _, name := range []string{"workspace", "json", "actor-id", "remote", "base-url", "token", "log-level"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(editCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(logCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create siteledger.yml and the workspace database",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				fmt.Printf("%s already exists\n", path)
			} else if errors.Is(err, os.ErrNotExist) {
				if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Printf("wrote %s\n", path)
			} else {
				return err
			}
			_, conn, err := app.OpenRepo(cmd.Context(), workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			version, err := migrate.Version(cmd.Context(), conn)
			if err != nil {
				return err
			}
			fmt.Printf("database ready at %s (schema v%d)\n", db.Path(workspace), version)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, logger, err := loadSettings(workspace)
			if err != nil {
				return err
			}
			defer logger.Sync()
			if !cmd.Flags().Changed("addr") {
				addr = cfg.Server.Addr
			}
			if !cmd.Flags().Changed("base-path") && cfg.Server.BasePath != "" {
				basePath = cfg.Server.BasePath
			}
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("SITELEDGER_JWT_SECRET is required for bearer auth")
			}
			r, conn, err := app.OpenRepo(cmd.Context(), workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			handler, err := server.New(server.Config{
				Repo:     r,
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: secret},
				Logger:   logger,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			logger.Info("serving siteledger API",
				zap.String("addr", addr),
				zap.String("base_path", basePath),
				zap.String("openapi", basePath+"/openapi.json"),
				zap.String("metrics", "/metrics"))
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

func tokenCmd() *cobra.Command {
	var subject, role string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token signed with SITELEDGER_JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := server.SignToken(viper.GetString("jwt-secret"), subject, role, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "sub", "", "token subject (actor id)")
	cmd.Flags().StringVar(&role, "role", server.RoleAdmin, "admin or client")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime, 0 for none")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, sess *app.Session, _ *config.Config) error {
				projects := sess.Store.Projects()
				if viper.GetBool("json") {
					return printJSON(projects)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Location", "Budget", "Spent", "Tasks done"})
				for _, p := range projects {
					tw.AppendRow(table.Row{
						p.ID, p.Title, p.Status, p.Location,
						money(p.LimitBudget), money(p.CurrentSpent),
						fmt.Sprintf("%d/%d", p.Progress.Done, p.Progress.Total()),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func projectCreateCmd() *cobra.Command {
	var draft domain.Project
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, sess *app.Session, _ *config.Config) error {
				p, err := sess.Store.AddProject(ctx, draft)
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().StringVar(&draft.Title, "title", "", "project title")
	cmd.Flags().StringVar(&draft.Description, "description", "", "description")
	cmd.Flags().StringVar(&draft.Location, "location", "", "site location")
	cmd.Flags().Float64Var(&draft.LimitBudget, "budget", 0, "budget limit")
	cmd.Flags().StringVar(&draft.StartDate, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&draft.EndDate, "end", "", "end date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&draft.Status, "status", domain.ProjectPlanning, "project status")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func editCmd() *cobra.Command {
	var file string
	var commit bool
	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Apply a YAML edit script to a project",
		Long: `Applies the ops in --file to the working copy of the script's project and prints
what changed. Without --commit the draft is discarded afterwards.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			script, err := app.LoadScript(file)
			if err != nil {
				return err
			}
			return withSession(cmd.Context(), func(ctx context.Context, sess *app.Session, _ *config.Config) error {
				report, err := app.RunScript(ctx, sess, script, commit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(report)
				}
				printChanges(report)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "edit script (YAML)")
	cmd.Flags().BoolVar(&commit, "commit", false, "save the result instead of discarding it")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func printChanges(report app.ScriptReport) {
	fmt.Printf("applied %d op(s)", report.Applied)
	if len(report.Ignored) > 0 {
		fmt.Printf(", %d without effect %v", len(report.Ignored), report.Ignored)
	}
	fmt.Println()
	for _, idx := range sortedKeys(report.Rejected) {
		fmt.Printf("op %d rejected: %s\n", idx, report.Rejected[idx])
	}
	if report.Changes.Empty() {
		fmt.Println("no changes")
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Collection", "Added", "Removed", "Modified"})
	for _, row := range []struct {
		name string
		c    store.CollectionChanges
	}{
		{"tasks", report.Changes.Tasks},
		{"inventory", report.Changes.Inventory},
		{"expenses", report.Changes.Expenses},
		{"team", report.Changes.Team},
	} {
		if row.c.Empty() {
			continue
		}
		tw.AppendRow(table.Row{row.name, strings.Join(row.c.Added, ","), strings.Join(row.c.Removed, ","), strings.Join(row.c.Modified, ",")})
	}
	if report.Changes.Details {
		tw.AppendRow(table.Row{"details", "", "", "yes"})
	}
	tw.Render()
	if report.Saved {
		fmt.Println("saved")
	} else {
		fmt.Println("discarded (use --commit to save)")
	}
}

func reportCmd() *cobra.Command {
	var projectID int64
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Budget, inventory and progress summary for a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, sess *app.Session, cfg *config.Config) error {
				if projectID != 0 {
					if _, err := sess.Guard.RequestSwitch(projectID); err != nil {
						return err
					}
				}
				p, ok := sess.Store.Selected()
				if !ok {
					return fmt.Errorf("no projects yet; create one with sl project create")
				}
				budget := aggregate.Budget(p, cfg.Budget.DiscrepancyTolerance)
				inventory := aggregate.InventoryTotals(p.Inventory)
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"project_id": p.ID,
						"progress":   p.Progress,
						"budget":     budget,
						"inventory":  inventory,
					})
				}
				printReport(p, budget, inventory)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&projectID, "project", 0, "project id (defaults to the first project)")
	return cmd
}

func printReport(p domain.Project, budget aggregate.BudgetSummary, inventory aggregate.InventorySummary) {
	fmt.Printf("%s (#%d) %s\n", p.Title, p.ID, p.Status)
	fmt.Printf("tasks: %d done, %d in progress, %d todo\n\n", p.Progress.Done, p.Progress.InProgress, p.Progress.Todo)

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetTitle("Budget")
	tw.AppendHeader(table.Row{"Category", "Server", "Local", ""})
	cats := map[string]bool{}
	for k := range budget.ServerCategories {
		cats[k] = true
	}
	for k := range budget.LocalCategories {
		cats[k] = true
	}
	drifted := map[string]bool{}
	for _, k := range budget.DriftedCategories {
		drifted[k] = true
	}
	for _, k := range sortedKeys(cats) {
		mark := ""
		if drifted[k] {
			mark = "drift"
		}
		tw.AppendRow(table.Row{k, money(budget.ServerCategories[k]), money(budget.LocalCategories[k]), mark})
	}
	tw.AppendFooter(table.Row{"Spent", money(budget.ServerSpent), money(budget.LocalSpent), ""})
	tw.AppendFooter(table.Row{"Limit", money(budget.Limit), "", ""})
	tw.AppendFooter(table.Row{"Remaining", "", money(budget.Remaining), ""})
	tw.Render()
	if budget.OverBudget {
		fmt.Println("over budget")
	}
	if budget.Discrepancy {
		fmt.Println("server totals differ from local expenses; save or reload to reconcile")
	}

	if len(p.Inventory) == 0 {
		return
	}
	fmt.Println()
	iw := table.NewWriter()
	iw.SetOutputMirror(os.Stdout)
	iw.SetTitle("Inventory")
	iw.AppendHeader(table.Row{"Category", "Planned cost"})
	for _, k := range sortedKeys(inventory.ByCategory) {
		iw.AppendRow(table.Row{k, money(inventory.ByCategory[k])})
	}
	iw.AppendFooter(table.Row{"Used cost", money(inventory.UsedCost)})
	iw.AppendFooter(table.Row{"Planned", money(inventory.PlannedCost)})
	iw.Render()
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every project create and save, newest first.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var projectID int64
	var evtType string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, conn, err := app.OpenRepo(cmd.Context(), viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer conn.Close()
			evs, err := r.LatestEvents(cmd.Context(), n, projectID, evtType)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(evs)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Time", "Type", "Project", "Actor", "Payload"})
			for _, e := range evs {
				tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.ProjectID, e.ActorID, e.Payload})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().Int64Var(&projectID, "project", 0, "project id filter")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	return cmd
}

// --- helpers ---

func loadSettings(workspace string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, nil, err
	}
	level := viper.GetString("log-level")
	if level == "" {
		level = cfg.Log.Level
	}
	logger, err := app.NewLogger(level)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func withSession(ctx context.Context, fn func(context.Context, *app.Session, *config.Config) error) error {
	workspace := viper.GetString("workspace")
	cfg, logger, err := loadSettings(workspace)
	if err != nil {
		return err
	}
	defer logger.Sync()
	timeout, err := cfg.ClientTimeout()
	if err != nil {
		return err
	}
	baseURL := viper.GetString("base-url")
	if baseURL == "" {
		baseURL = cfg.Client.BaseURL
	}
	sess, err := app.OpenSession(ctx, app.SessionOptions{
		Workspace: workspace,
		Remote:    viper.GetBool("remote"),
		BaseURL:   baseURL,
		Timeout:   timeout,
		Token:     viper.GetString("token"),
		Actor:     viper.GetString("actor-id"),
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer sess.Close()
	return fn(ctx, sess, cfg)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func money(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func sortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
