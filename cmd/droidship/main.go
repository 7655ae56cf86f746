package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"droidship/internal/config"
	"droidship/internal/keystore"
	"droidship/internal/pipeline"
	"droidship/internal/prereq"
	"droidship/internal/proc"
	"droidship/internal/registry"
	"droidship/internal/runlog"
	"droidship/internal/server"
	"droidship/internal/upload"
	"droidship/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "droidship",
	Short: "Android release pipeline",
	Long: `droidship drives a sequential Android release pipeline:
dependency install, version bump, keystore, checks, build, sign+verify,
align, and optional cloud upload. One release at a time.`,
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
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	// the SDK location is conventionally ANDROID_HOME
	_ = viper.BindEnv("sdk-root", "ANDROID_HOME", "DROIDSHIP_SDK_ROOT")
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("project", "p", ".", "project root directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Bool("debug", false, "verbose run log")
	rootCmd.PersistentFlags().Duration("timeout", 0, "bound the whole run (0 = unbounded)")
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
}

func registerCommands() {
	rootCmd.AddCommand(releaseCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(keystoreCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(artifactsCmd())
	rootCmd.AddCommand(serveCmd())
}

// runContext cancels on SIGINT/SIGTERM and applies the global timeout. An
// interrupt takes the same cleanup path as any fatal stage failure.
func runContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if d := viper.GetDuration("timeout"); d > 0 {
		tctx, cancel := context.WithTimeout(ctx, d)
		return tctx, func() { cancel(); stop() }
	}
	return ctx, stop
}

func resolveConfig() (*config.Config, error) {
	return config.Resolve(viper.GetViper(), viper.GetString("project"))
}

func openRepo(cfg *config.Config) (registry.Repo, func(), error) {
	conn, err := registry.Open(cfg.ProjectRoot)
	if err != nil {
		return registry.Repo{}, nil, err
	}
	if err := registry.Migrate(conn); err != nil {
		conn.Close()
		return registry.Repo{}, nil, err
	}
	return registry.Repo{DB: conn}, func() { conn.Close() }, nil
}

func openLog(cfg *config.Config) (*runlog.Logger, error) {
	name := fmt.Sprintf("release-%s.log", cfg.Timestamp.Format("20060102-150405"))
	return runlog.Open(filepath.Join(cfg.LogsDir, name), cfg.Debug)
}

func releaseCmd() *cobra.Command {
	var variant, bump string
	var skipTests, apkOnly bool
	cmd := &cobra.Command{
		Use:   "release",
		Short: "Run the full release pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			if variant != "" {
				viper.Set("variant", variant)
			}
			kind, err := version.ParseBumpKind(bump)
			if err != nil {
				return err
			}
			cfg, err := resolveConfig()
			if err != nil {
				return err
			}
			log, err := openLog(cfg)
			if err != nil {
				return err
			}
			defer log.Close()
			repo, closeRepo, err := openRepo(cfg)
			if err != nil {
				return err
			}
			defer closeRepo()

			ctx, stop := runContext()
			defer stop()

			ctrl := pipeline.NewController(cfg, proc.NewRegistry(), log, repo)
			if cfg.CloudEnabled() {
				uploader, err := upload.New(cfg, log)
				if err != nil {
					log.Warning("cloud upload unavailable: %v", err)
				} else {
					ctrl.Uploader = uploader
				}
			}
			return ctrl.Run(ctx, pipeline.Options{
				Bump:      kind,
				SkipTests: skipTests,
				APKOnly:   apkOnly,
			})
		},
	}
	cmd.Flags().StringVar(&variant, "variant", "", "build variant (default from config)")
	cmd.Flags().StringVar(&bump, "bump", "patch", "version bump kind: patch, minor or major")
	cmd.Flags().BoolVar(&skipTests, "skip-tests", false, "skip the check stage (recorded as skipped)")
	cmd.Flags().BoolVar(&apkOnly, "apk-only", false, "build the installable package only")
	return cmd
}

func versionCmd() *cobra.Command {
	ver := &cobra.Command{Use: "version", Short: "Manage the version record"}

	var bump string
	bumpCmd := &cobra.Command{
		Use:   "bump",
		Short: "Bump the semantic version and build number",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := version.ParseBumpKind(bump)
			if err != nil {
				return err
			}
			cfg, err := resolveConfig()
			if err != nil {
				return err
			}
			log, err := openLog(cfg)
			if err != nil {
				return err
			}
			defer log.Close()
			ctx, stop := runContext()
			defer stop()
			rec, err := version.NewManager(cfg, proc.NewRegistry()).Bump(ctx, kind)
			if err != nil {
				return err
			}
			log.Success("version %s (build %d)", rec.Version, rec.VersionCode)
			return printJSON(os.Stdout, rec)
		},
	}
	bumpCmd.Flags().StringVar(&bump, "kind", "patch", "bump kind: patch, minor or major")
	ver.AddCommand(bumpCmd)

	ver.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the current version record",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig()
			if err != nil {
				return err
			}
			rec, err := version.NewManager(cfg, proc.NewRegistry()).Current()
			if err != nil {
				return err
			}
			return printJSON(os.Stdout, rec)
		},
	})
	return ver
}

func keystoreCmd() *cobra.Command {
	ks := &cobra.Command{Use: "keystore", Short: "Manage the signing keystore"}
	ks.AddCommand(&cobra.Command{
		Use:   "ensure",
		Short: "Verify the keystore, creating it if absent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig()
			if err != nil {
				return err
			}
			log, err := openLog(cfg)
			if err != nil {
				return err
			}
			defer log.Close()
			ctx, stop := runContext()
			defer stop()
			creds, err := keystore.NewManager(cfg, proc.NewRegistry(), log).Ensure(ctx)
			if err != nil {
				return err
			}
			return printJSON(os.Stdout, creds)
		},
	})
	return ks
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check release prerequisites",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig()
			if err != nil {
				return err
			}
			ctx, stop := runContext()
			defer stop()
			report := prereq.NewChecker(cfg, proc.NewRegistry()).Check(ctx)
			if viper.GetBool("json") {
				if err := printJSON(os.Stdout, report); err != nil {
					return err
				}
			} else {
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Item", "Required", "OK", "Detail"})
				for _, f := range report.Findings {
					tw.AppendRow(table.Row{f.Name, f.Required, f.OK, f.Detail})
				}
				tw.Render()
			}
			if len(report.MissingRequired()) > 0 {
				return fmt.Errorf("required prerequisites missing")
			}
			return nil
		},
	}
}

func runsCmd() *cobra.Command {
	runs := &cobra.Command{Use: "runs", Short: "Inspect pipeline run history"}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(func(ctx context.Context, repo registry.Repo) error {
				items, err := repo.ListRuns(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(os.Stdout, items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Variant", "Version", "Status", "Started"})
				for _, r := range items {
					tw.AppendRow(table.Row{shortID(r.ID), r.Variant, r.Version, r.Status,
						r.StartedAt.Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
	listCmd.Flags().IntVar(&limit, "limit", 20, "max runs to list")
	runs.AddCommand(listCmd)

	runs.AddCommand(&cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run with its stage outcomes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(func(ctx context.Context, repo registry.Repo) error {
				run, err := repo.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				outcomes, err := repo.ListOutcomes(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(os.Stdout, server.RunDetail{Run: run, Outcomes: outcomes})
			})
		},
	})
	return runs
}

func artifactsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "artifacts",
		Short: "List registered release artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(func(ctx context.Context, repo registry.Repo) error {
				items, err := repo.ListArtifacts(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(os.Stdout, items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Kind", "Version", "State", "Size", "Path"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.Kind, a.Version, a.State,
						fmt.Sprintf("%.1f MB", float64(a.SizeBytes)/(1024*1024)), a.Path})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max artifacts to list")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr string
	var printToken bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only release-history API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig()
			if err != nil {
				return err
			}
			repo, closeRepo, err := openRepo(cfg)
			if err != nil {
				return err
			}
			defer closeRepo()

			if printToken {
				if cfg.APISecret == "" {
					return fmt.Errorf("no API secret configured")
				}
				token, err := server.IssueToken(cfg.APISecret)
				if err != nil {
					return err
				}
				fmt.Println(token)
				return nil
			}

			handler := server.New(server.Config{
				Repo:      repo,
				Versions:  version.NewManager(cfg, proc.NewRegistry()),
				APISecret: cfg.APISecret,
			})
			fmt.Printf("serving release history on %s\n", addr)
			srv := &http.Server{Addr: addr, Handler: handler}
			ctx, stop := runContext()
			defer stop()
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8787", "listen address")
	cmd.Flags().BoolVar(&printToken, "print-token", false, "print an operator bearer token and exit")
	return cmd
}

func withRepo(fn func(context.Context, registry.Repo) error) error {
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}
	repo, closeRepo, err := openRepo(cfg)
	if err != nil {
		return err
	}
	defer closeRepo()
	ctx, stop := runContext()
	defer stop()
	return fn(ctx, repo)
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
