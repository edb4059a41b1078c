// Command undercover runs the gang and police simulation: gangs plan and
// execute missions while police informants planted among their members try
// to report plans early enough to make arrests.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/talgya/undercover/internal/api"
	"github.com/talgya/undercover/internal/config"
	"github.com/talgya/undercover/internal/engine"
	"github.com/talgya/undercover/internal/persistence"
)

type options struct {
	apiAddr     string
	journal     string
	logFormat   string
	logLevel    string
	printConfig bool
}

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "undercover [config-file]",
		Short: "Gang versus police infiltration simulation",
		Long: `Runs gangs of members that prepare and execute missions while police
informants inside the gangs leak plans to the police. The run ends when the
police thwart enough plans, the gangs pull off enough missions, or too many
informants are executed. Without a config file the built-in defaults are used.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := run(cmd.Context(), opts, args, stdout, stderr)
			var usage usageError
			if errors.As(err, &usage) {
				fmt.Fprintln(stderr, "error:", err)
				_ = cmd.Usage()
			} else if err != nil {
				fmt.Fprintln(stderr, "error:", err)
			}
			return err
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	f := cmd.Flags()
	f.StringVar(&opts.apiAddr, "api-addr", "127.0.0.1:8080", "observation API listen address (empty disables the API)")
	f.StringVar(&opts.journal, "journal", persistence.Memory, "SQLite event journal path")
	f.StringVar(&opts.logFormat, "log-format", "auto", "log format: auto, text or json")
	f.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	f.BoolVar(&opts.printConfig, "print-config", false, "print the effective configuration as YAML and exit")
	return cmd
}

// usageError marks failures that should be followed by the usage text.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func run(ctx context.Context, opts *options, args []string, stdout, stderr io.Writer) error {
	logger, err := newLogger(stderr, opts.logFormat, opts.logLevel)
	if err != nil {
		return usageError{err}
	}
	slog.SetDefault(logger)

	// ── Configuration ─────────────────────────────────────────────────
	cfg := config.Default()
	if len(args) == 1 {
		if cfg, err = config.Load(args[0]); err != nil {
			return usageError{err}
		}
		slog.Info("configuration loaded", "path", args[0])
	}
	if opts.printConfig {
		enc := yaml.NewEncoder(stdout)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		return enc.Close()
	}
	if out, err := yaml.Marshal(cfg); err == nil {
		slog.Debug("effective configuration", "config", string(out))
	}

	// ── Journal ───────────────────────────────────────────────────────
	journal, err := persistence.Open(opts.journal)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer journal.Close()
	slog.Info("journal opened", "path", opts.journal)

	// ── Simulation ────────────────────────────────────────────────────
	coord, err := engine.New(cfg, journal)
	if err != nil {
		return err
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	var server *api.Server
	if opts.apiAddr != "" {
		adminKey := os.Getenv(api.AdminKeyEnv)
		if adminKey == "" {
			slog.Warn(api.AdminKeyEnv + " not set, admin POST endpoints will be disabled")
		}
		server = api.New(coord, opts.apiAddr, adminKey)
		if err := server.Start(); err != nil {
			coord.Shutdown()
			return fmt.Errorf("start api: %w", err)
		}
	}

	// ── Start ─────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sum := coord.Summary()
	fmt.Fprintf(stdout, "\n%d gangs, %s members, %d informants planted (run %s).\n",
		sum.Gangs, humanize.Comma(int64(sum.Members)), sum.Informants, sum.RunID)
	if server != nil {
		fmt.Fprintf(stdout, "API: http://%s/api/v1/status\n", opts.apiAddr)
	}
	fmt.Fprintln(stdout, "Starting simulation... (Ctrl+C to stop)")

	status, err := coord.Run(ctx)
	if err != nil {
		return err
	}

	if server != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := server.Close(closeCtx); err != nil {
			slog.Warn("api close failed", "error", err)
		}
		cancel()
	}

	printSummary(stdout, coord.Summary())
	slog.Info("simulation finished", "status", status.String())
	return nil
}

func printSummary(w io.Writer, sum engine.Summary) {
	fmt.Fprintf(w, "\nSimulation ended: %s (%s) after %s.\n",
		sum.Status, sum.Reason, sum.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  plans thwarted:      %s\n", humanize.Comma(int64(sum.Thwarted)))
	fmt.Fprintf(w, "  missions succeeded:  %s\n", humanize.Comma(int64(sum.Successful)))
	fmt.Fprintf(w, "  informants executed: %d of %d (loss at %d)\n",
		sum.ExecutedInformants, sum.Informants, sum.LossThreshold)
	if sum.Stragglers > 0 {
		fmt.Fprintf(w, "  %s still running at teardown\n", english.Plural(sum.Stragglers, "actor was", "actors were"))
	}
}
