// Command watch follows a running simulation through its HTTP API. It waits
// for the API, then logs a status line and any new events every interval
// until the run is decided.
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

	"github.com/spf13/cobra"

	"github.com/talgya/undercover/internal/api"
	"github.com/talgya/undercover/internal/observer"
)

func main() {
	cmd := newRootCmd(os.Stdout)
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	var (
		apiURL   string
		interval time.Duration
		shutdown bool
		events   bool
	)
	cmd := &cobra.Command{
		Use:          "watch",
		Short:        "Follow a running undercover simulation",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			slog.SetDefault(slog.New(slog.NewTextHandler(stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			o := observer.New(apiURL, os.Getenv(api.AdminKeyEnv))
			if err := o.WaitForAPI(ctx, observer.DefaultBackoff); err != nil {
				return err
			}
			if shutdown {
				res, err := o.Shutdown(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(stdout, "run %s stopped: %s (%s) after %s\n", res.RunID, res.Status, res.Reason, res.Duration)
				return nil
			}
			return watch(ctx, o, interval, events)
		},
	}
	f := cmd.Flags()
	f.StringVar(&apiURL, "api-url", envOrDefault("UNDERCOVER_API_URL", "http://127.0.0.1:8080"), "simulation API base URL")
	f.DurationVar(&interval, "interval", 2*time.Second, "poll interval")
	f.BoolVar(&shutdown, "shutdown", false, "ask the simulation to stop (needs "+api.AdminKeyEnv+")")
	f.BoolVar(&events, "events", true, "log new events")
	return cmd
}

// watch polls until the run is decided, the API goes away or ctx ends.
func watch(ctx context.Context, o *observer.Observer, interval time.Duration, events bool) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		obs, err := o.Observe(ctx)
		switch {
		case errors.Is(err, observer.ErrStopped):
			slog.Info("simulation has been torn down")
			return nil
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("observation failed", "error", err)
		default:
			report(obs, events)
			if obs.Status.Status != "running" {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			slog.Info("received signal, stopping")
			return nil
		case <-ticker.C:
		}
	}
}

func report(obs *observer.Observation, events bool) {
	if events {
		for _, e := range obs.Events {
			slog.Info("event", "seq", e.Seq, "category", e.Category, "gang", e.GangID, "description", e.Description)
		}
	}
	a := observer.Triage(obs)
	st := obs.Status
	slog.Info("status",
		"status", st.Status,
		"uptime", st.Uptime,
		"thwarted", fmt.Sprintf("%d/%d", st.Thwarted, st.PoliceWinAt),
		"successful", fmt.Sprintf("%d/%d", st.Successful, st.GangsWinAt),
		"executed", fmt.Sprintf("%d/%d", st.ExecutedInformants, st.LossThreshold),
		"informants_active", st.ActiveInformants,
		"leading", a.Leading,
		"level", a.Level,
	)
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
