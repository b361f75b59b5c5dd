// Package main provides the patrolstats CLI entry point.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/skridlevsky/patrolstats/internal/collector"
	"github.com/skridlevsky/patrolstats/internal/config"
	"github.com/skridlevsky/patrolstats/internal/db"
	"github.com/skridlevsky/patrolstats/internal/display"
	"github.com/skridlevsky/patrolstats/internal/patrol"
	"github.com/skridlevsky/patrolstats/internal/progress"
	"github.com/skridlevsky/patrolstats/internal/stats"
	"github.com/skridlevsky/patrolstats/internal/store"
)

// version is set via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveVersion prefers the ldflags version, then the module version
// recorded by go install.
func resolveVersion(ldflags string, info *debug.BuildInfo) string {
	if ldflags != "dev" && ldflags != "" {
		return ldflags
	}
	if info != nil && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}

func currentVersion() string {
	info, _ := debug.ReadBuildInfo()
	return resolveVersion(version, info)
}

// newRootCmd creates the root command for the patrolstats CLI.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "patrolstats",
		Short:        "Rank river patrol volunteers by their contributions",
		Long:         "patrolstats collects patrol, evaluation and activity records from the river patrol portal and ranks volunteers by their combined counts.",
		Version:      currentVersion(),
		SilenceUsage: true,
	}

	rootCmd.SetVersionTemplate("patrolstats version {{.Version}}\n")

	rootCmd.AddCommand(newCollectCmd())
	rootCmd.AddCommand(newConfigCmd())

	return rootCmd
}

// collectFlags holds the collect subcommand's flags.
type collectFlags struct {
	since        string
	top          int
	format       string
	user         string
	persist      bool
	signedInOnly bool
	verbose      bool
}

// newCollectCmd creates the collect subcommand.
func newCollectCmd() *cobra.Command {
	var flags collectFlags

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Run one collection and print the ranking",
		Long: "Collect every patrol, evaluation and activity record dated on or after --since, " +
			"merge them per volunteer and print the ranking.",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch flags.format {
			case "table", "csv", "json", "ndjson":
			default:
				return fmt.Errorf("invalid format %q: must be table, csv, json or ndjson", flags.format)
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}
			if cmd.Flags().Changed("signed-in-only") {
				cfg.SignedInOnly = flags.signedInOnly
			}

			cutoff, err := time.ParseInLocation("2006-01-02", flags.since, cfg.Location())
			if err != nil {
				return fmt.Errorf("invalid --since %q: use YYYY-MM-DD", flags.since)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			report, runErr := collect(ctx, cmd.ErrOrStderr(), cfg, cutoff, flags)
			if report != nil {
				// Printed even after an interrupt, so the write must not share ctx.
				if err := writeReport(context.Background(), cmd.OutOrStdout(), report, flags); err != nil {
					return err
				}
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&flags.since, "since", "", "Collect records dated on or after this day (YYYY-MM-DD)")
	cmd.Flags().IntVarP(&flags.top, "top", "n", 20, "Number of ranked volunteers to print (0 for all)")
	cmd.Flags().StringVarP(&flags.format, "format", "f", "table", "Output format (table, csv, json, ndjson)")
	cmd.Flags().StringVarP(&flags.user, "user", "u", "", "Print one volunteer's records instead of the ranking")
	cmd.Flags().BoolVar(&flags.persist, "persist", false, "Store the run in DATABASE_URL")
	cmd.Flags().BoolVar(&flags.signedInOnly, "signed-in-only", false, "Count only activity participants who checked in")
	cmd.Flags().BoolVarP(&flags.verbose, "verbose", "v", false, "Log every fetched page")
	_ = cmd.MarkFlagRequired("since")

	return cmd
}

// collect executes one run, logging progress to errOut.
func collect(ctx context.Context, errOut io.Writer, cfg *config.Config, cutoff time.Time, flags collectFlags) (*collector.Report, error) {
	level := cfg.SlogLevel()
	if flags.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level}))

	var history *store.Store
	if flags.persist {
		if cfg.DatabaseURL == "" {
			return nil, errors.New("--persist requires DATABASE_URL")
		}
		database, err := db.NewPostgres(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: 2})
		if err != nil {
			return nil, err
		}
		defer database.Close()
		if err := db.RunMigrations(ctx, database.Pool()); err != nil {
			return nil, err
		}
		history = store.NewStore(database.Pool())
	}

	client := patrol.NewClient(patrol.ClientConfig{
		BaseURL:   cfg.BaseURL,
		OrgID:     cfg.OrgID,
		Token:     cfg.AuthToken,
		Timeout:   cfg.RequestTimeout,
		VerifyTLS: cfg.VerifyTLS,
	}, patrol.NewDetailCache(cfg.DetailCacheTTL))

	runner := collector.NewRunner(client, collector.OptionsFromConfig(cfg), logger)
	stream := progress.NewStream(uuid.NewString(), progress.LogSink{Logger: logger})

	if history != nil {
		stub := &collector.Report{
			RunID:     stream.RunID(),
			Trigger:   "cli",
			Cutoff:    cutoff,
			Status:    collector.StatusRunning,
			StartedAt: time.Now(),
		}
		if err := history.RunStarted(ctx, stub); err != nil {
			logger.Error("Failed to record run start", "error", err)
		}
	}

	report, err := runner.Run(ctx, cutoff, stream)
	if report != nil {
		report.Trigger = "cli"
	}

	if history != nil && report != nil {
		saveCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if saveErr := history.RunFinished(saveCtx, report); saveErr != nil {
			logger.Error("Failed to store run report", "error", saveErr)
		} else {
			logger.Info("Run stored", "run_id", report.RunID)
		}
	}
	return report, err
}

// writeReport prints the report in the chosen format.
func writeReport(ctx context.Context, out io.Writer, report *collector.Report, flags collectFlags) error {
	if flags.user != "" {
		return writeUser(out, report, flags.user, flags.format)
	}

	ranked := report.Stats
	if flags.top > 0 {
		ranked = stats.Top(ranked, flags.top)
	}

	switch flags.format {
	case "csv":
		return display.WriteCSV(ctx, out, ranked)
	case "ndjson":
		return display.WriteNDJSON(ctx, out, ranked)
	case "json":
		trimmed := *report
		trimmed.Stats = ranked
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(&trimmed)
	default:
		_, err := fmt.Fprint(out, display.NewTerminalFormatter().FormatReport(report, flags.top))
		return err
	}
}

// writeUser prints one identity's records per source.
func writeUser(out io.Writer, report *collector.Report, identity, format string) error {
	posts := report.UserPosts(identity)
	if len(posts) == 0 {
		return fmt.Errorf("no records for %q in this window", identity)
	}

	switch format {
	case "json", "ndjson":
		enc := json.NewEncoder(out)
		enc.SetEscapeHTML(false)
		return enc.Encode(posts)
	case "csv":
		return writeUserCSV(out, identity, posts)
	}

	for _, source := range stats.Sources {
		agg, ok := posts[source]
		if !ok {
			continue
		}
		fmt.Fprintf(out, "[%s] %d\n", source, agg.Count)
		for _, p := range agg.Posts {
			fmt.Fprintf(out, "  %s  %s  %s\n", p.Time, p.River, p.Message)
		}
	}
	return nil
}

// writeUserCSV writes one row per record, sources in collection order.
func writeUserCSV(out io.Writer, identity string, posts map[stats.Source]stats.UserAggregate) error {
	w := csv.NewWriter(out)
	if err := w.Write([]string{"source", "identity", "time", "river", "message"}); err != nil {
		return err
	}
	for _, source := range stats.Sources {
		for _, p := range posts[source].Posts {
			if err := w.Write([]string{string(source), identity, p.Time, p.River, p.Message}); err != nil {
				return err
			}
		}
	}
	w.Flush()
	return w.Error()
}

// newConfigCmd creates the config subcommand.
func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long:  "Print the configuration after applying PATROLSTATS_CONFIG and environment overrides. Secrets are redacted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}
			redacted := *cfg
			if redacted.AuthToken != "" {
				redacted.AuthToken = "<redacted>"
			}
			if redacted.NatsToken != "" {
				redacted.NatsToken = "<redacted>"
			}
			if redacted.DatabaseURL != "" {
				redacted.DatabaseURL = "<redacted>"
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(&redacted)
		},
	}
}
