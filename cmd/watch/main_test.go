package main

import (
	"bytes"
	"context"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/undercover/internal/api"
	"github.com/talgya/undercover/internal/config"
	"github.com/talgya/undercover/internal/engine"
	"github.com/talgya/undercover/internal/observer"
)

func setup(t *testing.T) (*engine.Coordinator, *observer.Observer, *bytes.Buffer) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.Default()
	cfg.Seed = 11
	c, err := engine.New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Shutdown() })

	ts := httptest.NewServer(api.New(c, "", "k").Handler())
	t.Cleanup(ts.Close)

	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return c, observer.New(ts.URL, "k"), &buf
}

func TestWatchLogsUntilCancelled(t *testing.T) {
	_, o, buf := setup(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	require.NoError(t, watch(ctx, o, 10*time.Millisecond, true))
	assert.Contains(t, buf.String(), "msg=status")
	assert.Contains(t, buf.String(), "status=running")
	assert.Contains(t, buf.String(), "leading=")
}

func TestWatchStopsWhenTornDown(t *testing.T) {
	c, o, buf := setup(t)
	c.Shutdown()

	done := make(chan error, 1)
	go func() { done <- watch(context.Background(), o, 10*time.Millisecond, false) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not return")
	}
	assert.Contains(t, buf.String(), "torn down")
}
