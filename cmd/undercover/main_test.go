package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/talgya/undercover/internal/config"
	"github.com/talgya/undercover/internal/engine"
	"github.com/talgya/undercover/internal/state"
)

func execute(t *testing.T, ctx context.Context, args ...string) (string, string, error) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sim.conf")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestPrintConfigDefaults(t *testing.T) {
	out, _, err := execute(t, context.Background(), "--print-config")
	require.NoError(t, err)

	var got config.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	assert.Equal(t, *config.Default(), got)
}

func TestPrintConfigFromFile(t *testing.T) {
	path := writeConfig(t, "num_gangs = 7\nprison_time = 4\nunknown_key = 1\n")
	out, _, err := execute(t, context.Background(), "--print-config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "num_gangs: 7")
	assert.Contains(t, out, "prison_time: 4")
}

func TestBadConfigPrintsUsage(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing file", []string{filepath.Join(t.TempDir(), "absent.conf")}},
		{"unparsable", []string{writeConfig(t, "num_gangs = = 3\n")}},
		{"out of range", []string{writeConfig(t, "num_gangs = 99\n")}},
		{"bad log format", []string{"--log-format", "xml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, stderr, err := execute(t, context.Background(), tt.args...)
			require.Error(t, err)
			assert.Contains(t, stderr, "error:")
			assert.Contains(t, stderr, "Usage:")
		})
	}
}

func TestTooManyArgs(t *testing.T) {
	_, _, err := execute(t, context.Background(), "a.conf", "b.conf")
	assert.Error(t, err)
}

func TestRunPrintsSummary(t *testing.T) {
	path := writeConfig(t, `
seed = 3
gang_success_win_count = 1
police_thwart_win_count = 1
mission_success_rate_base = 1.0
gang_cycle_ms = 5
police_cycle_ms = 5
member_tick_min_ms = 1
member_tick_max_ms = 3
arrested_poll_ms = 5
status_poll_ms = 5
shutdown_grace_ms = 500
`)
	journal := filepath.Join(t.TempDir(), "journal.db")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, _, err := execute(t, ctx, "--api-addr", "", "--journal", journal, "--log-format", "json", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Starting simulation")
	assert.Contains(t, out, "Simulation ended:")
	assert.FileExists(t, journal)
}

func TestPrintSummary(t *testing.T) {
	sum := engine.Summary{
		Status:             state.StatusPoliceWin,
		Reason:             "plans thwarted",
		Duration:           1500 * time.Millisecond,
		Informants:         4,
		LossThreshold:      3,
		Thwarted:           1200,
		Successful:         2,
		ExecutedInformants: 1,
	}
	var buf bytes.Buffer
	printSummary(&buf, sum)
	assert.Contains(t, buf.String(), "after 1.5s")
	assert.Contains(t, buf.String(), "plans thwarted:      1,200")
	assert.Contains(t, buf.String(), "1 of 4 (loss at 3)")
	assert.NotContains(t, buf.String(), "teardown")

	tests := []struct {
		stragglers int
		want       string
	}{
		{1, "1 actor was still running at teardown"},
		{3, "3 actors were still running at teardown"},
	}
	for _, tt := range tests {
		buf.Reset()
		sum.Stragglers = tt.stragglers
		printSummary(&buf, sum)
		assert.Contains(t, buf.String(), tt.want)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := newLogger(&buf, "json", "warn")
	require.NoError(t, err)
	l.Info("hidden")
	l.Warn("shown", "gang", 2)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"gang":2`)

	buf.Reset()
	l, err = newLogger(&buf, "auto", "debug")
	require.NoError(t, err)
	l.Debug("x")
	assert.Contains(t, buf.String(), `"msg":"x"`, "a buffer is not a terminal")

	_, err = newLogger(&buf, "text", "loud")
	assert.Error(t, err)
}
