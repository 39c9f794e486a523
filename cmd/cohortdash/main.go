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

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"cohortdash/internal/app"
	"cohortdash/internal/cohort"
	"cohortdash/internal/config"
	"cohortdash/internal/domain"
	"cohortdash/internal/logger"
	"cohortdash/internal/server"
	"cohortdash/internal/sitemap"
)

var rootCmd = &cobra.Command{
	Use:   "cohortdash",
	Short: "Cohort assignment dashboard",
	Long: `cohortdash keeps a student's assignment board in sync with the upstream
task store and syllabus.
- sync: fetch tasks, syllabus and role for a cohort and publish a new board.
- Board: one record per syllabus module with its lessons, exercises, projects
  and quizzes joined to the student's tasks.
- Queries: daily (current module), last-done, overdue mandatory projects,
  unsynced tasks done outside the cohort.
- Workspace: .cohortdash/ holds the SQLite store; cohortdash.yml holds config.`,
	SilenceUsage: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("COHORTDASH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("token", "", "upstream access token (overrides config)")
	flags.String("host", "", "upstream API host (overrides config)")
	flags.String("lang", "", "content language (overrides config)")
	flags.String("log-level", "", "log level (overrides config)")
	for _, name := range []string{"workspace", "json", "token", "host", "lang", "log-level"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(assignmentsCmd())
	rootCmd.AddCommand(dailyCmd())
	rootCmd.AddCommand(lastDoneCmd())
	rootCmd.AddCommand(overdueCmd())
	rootCmd.AddCommand(unsyncedCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(sitemapCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(configCmd())
}

func syncCmd() *cobra.Command {
	var assetSlug, assetKind, path string
	cmd := &cobra.Command{
		Use:   "sync <cohort>",
		Short: "Fetch tasks, syllabus and role and publish a new board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				// The process ends with the command, so a pending session cleanup
				// runs before returning.
				a.Handler.After = func(d time.Duration, f func()) {
					time.Sleep(d)
					f()
				}
				prev, err := app.LoadSession(ctx, a.Repo, args[0])
				if err != nil {
					return err
				}
				route := cohort.Route{
					CohortSlug: args[0],
					AssetSlug:  assetSlug,
					AssetKind:  domain.ContentKind(assetKind),
					Path:       path,
				}
				next, out := a.Handler.Sync(ctx, route, prev)
				if !out.Failed() && path != "" {
					if checked, err := a.Handler.UnsyncedTasks(ctx, next, path); err != nil {
						a.Logger.Warn("unsynced check failed", zap.Error(err))
					} else {
						next = checked
					}
				}
				return printSyncResult(next, out)
			})
		},
	}
	cmd.Flags().StringVar(&assetSlug, "asset-slug", "", "content slug of the route")
	cmd.Flags().StringVar(&assetKind, "asset-kind", "", "content kind of the route (read, practice, project, answer)")
	cmd.Flags().StringVar(&path, "path", "", "current dashboard path; unsynced tasks are checked on the program page")
	return cmd
}

func assignmentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assignments <cohort>",
		Short: "List the published assignment records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), args[0], func(_ context.Context, _ *app.App, s cohort.Session) error {
				return printRecords(s.Board.Records())
			})
		},
	}
}

func dailyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daily <cohort>",
		Short: "Show the record of the cohort's current module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), args[0], func(_ context.Context, _ *app.App, s cohort.Session) error {
				rec, ok := s.DailyModule()
				if !ok {
					return fmt.Errorf("no record for the current module of %s", args[0])
				}
				return printRecord(rec)
			})
		},
	}
}

func lastDoneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "last-done <cohort>",
		Short: "Show the last record in syllabus order with a done slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), args[0], func(_ context.Context, _ *app.App, s cohort.Session) error {
				rec, ok := s.LastDoneModule()
				if !ok {
					return fmt.Errorf("no module of %s has a done task", args[0])
				}
				return printRecord(rec)
			})
		},
	}
}

func overdueCmd() *cobra.Command {
	var minDays int
	cmd := &cobra.Command{
		Use:   "overdue <cohort>",
		Short: "List overdue mandatory projects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), args[0], func(_ context.Context, a *app.App, s cohort.Session) error {
				days := minDays
				if days <= 0 {
					days = a.Config.Dashboard.OverdueDays
				}
				return printSlots(s.MandatoryProjects(days))
			})
		},
	}
	cmd.Flags().IntVar(&minDays, "min-days", 0, "days a project may stay pending (default from config)")
	return cmd
}

func unsyncedCmd() *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "unsynced <cohort>",
		Short: "List tasks done outside the cohort that belong to its board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), args[0], func(ctx context.Context, a *app.App, s cohort.Session) error {
				if refresh {
					checked, err := a.Handler.UnsyncedTasks(ctx, s, s.Cohort.SelectedProgramSlug)
					if err != nil {
						return err
					}
					s = checked
				}
				return printTasks(s.UnsyncedTasks)
			})
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "fetch tasks without a cohort and detect again")
	return cmd
}

func eventsCmd() *cobra.Command {
	var after int64
	var limit int
	cmd := &cobra.Command{
		Use:   "events [cohort]",
		Short: "List sync events, oldest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slug := ""
			if len(args) == 1 {
				slug = args[0]
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Repo.EventsAfter(ctx, slug, after, limit)
				if err != nil {
					return err
				}
				return printEvents(items)
			})
		},
	}
	cmd.Flags().Int64Var(&after, "after", 0, "only events with a greater id")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of events")
	return cmd
}

func sitemapCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "sitemap",
		Short: "Generate the public sitemap",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				w := os.Stdout
				if out != "" {
					f, err := os.Create(out)
					if err != nil {
						return err
					}
					defer f.Close()
					w = f
				}
				n, err := sitemap.Generate(ctx, w, a.Client, app.SitemapOptions(a.Config))
				if err != nil {
					return err
				}
				a.Logger.Info("sitemap written", zap.Int("urls", n), zap.String("out", out))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if addr == "" {
					addr = a.Config.Server.Addr
				}
				if basePath == "" {
					basePath = a.Config.Server.BasePath
				}
				handler, err := server.New(server.Config{
					Handler:        a.Handler,
					Repo:           a.Repo,
					Sitemap:        a.Client,
					SitemapOptions: app.SitemapOptions(a.Config),
					OverdueDays:    a.Config.Dashboard.OverdueDays,
					BasePath:       basePath,
					Auth:           server.AuthConfig{JWTSecret: a.Config.Server.JWTSecret},
					Logger:         a.Logger.Named("http"),
				})
				if err != nil {
					return err
				}
				server.StartWebhookDispatcher(ctx, a.Repo, a.Config.Notifications, a.Logger.Named("webhooks"))
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				if a.Config.Server.JWTSecret == "" {
					a.Logger.Warn("no jwt secret configured; API is unauthenticated")
				}
				a.Logger.Info("serving cohortdash API", zap.String("addr", addr), zap.String("base_path", basePath))
				fmt.Printf("Serving cohortdash API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	return cmd
}

func tokenCmd() *cobra.Command {
	var cohorts []string
	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Issue an API bearer token signed with the server secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Server.JWTSecret == "" {
				return fmt.Errorf("server.jwt_secret (or COHORTDASH_JWT_SECRET) is required")
			}
			token, err := server.SignToken(cfg.Server.JWTSecret, args[0], cohorts)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"token": token})
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&cohorts, "cohort", nil, "limit the token to these cohorts")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage cohortdash.yml",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default cohortdash.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			data, err := cfg.ToYAML()
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate cohortdash.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

// --- helpers ---

// loadConfig reads cohortdash.yml, or the defaults when it is missing, and
// applies flag and COHORTDASH_* overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("token"); v != "" {
		cfg.Upstream.Token = v
	}
	if v := viper.GetString("host"); v != "" {
		cfg.Upstream.Host = v
	}
	if v := viper.GetString("lang"); v != "" {
		cfg.Upstream.Language = v
	}
	if v := viper.GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v := viper.GetString("jwt-secret"); v != "" {
		cfg.Server.JWTSecret = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()
	a, err := app.Open(viper.GetString("workspace"), cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func withSession(ctx context.Context, cohortSlug string, fn func(context.Context, *app.App, cohort.Session) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		s, err := app.LoadSession(ctx, a.Repo, cohortSlug)
		if err != nil {
			return err
		}
		if !s.Board.Published() {
			return fmt.Errorf("no published board for %s; run cohortdash sync %s", cohortSlug, cohortSlug)
		}
		return fn(ctx, a, s)
	})
}
