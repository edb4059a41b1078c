package observer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/undercover/internal/api"
	"github.com/talgya/undercover/internal/config"
	"github.com/talgya/undercover/internal/engine"
)

var fast = Backoff{Initial: time.Millisecond, Max: 4 * time.Millisecond, Timeout: time.Second}

func serve(t *testing.T) (*engine.Coordinator, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.Default()
	cfg.Seed = 9
	cfg.NumGangs = 2
	c, err := engine.New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Shutdown() })

	ts := httptest.NewServer(api.New(c, "", "key").Handler())
	t.Cleanup(ts.Close)
	return c, ts
}

func TestWaitForAPIRetries(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	require.NoError(t, New(ts.URL, "").WaitForAPI(context.Background(), fast))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestWaitForAPIGivesUp(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	b := fast
	b.Timeout = 20 * time.Millisecond
	assert.ErrorIs(t, New(ts.URL, "").WaitForAPI(context.Background(), b), ErrNotReady)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b.Timeout = time.Hour
	assert.ErrorIs(t, New(ts.URL, "").WaitForAPI(ctx, b), context.Canceled)
}

func TestObserveFollowsEvents(t *testing.T) {
	c, ts := serve(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, c.Store().Record("mission", 1, "first %d", i))
	}

	o := New(ts.URL, "key")
	ctx := context.Background()
	obs, err := o.Observe(ctx)
	require.NoError(t, err)
	assert.Equal(t, "running", obs.Status.Status)
	assert.Equal(t, c.RunID(), obs.Status.RunID)
	assert.Len(t, obs.Gangs, 2)
	require.GreaterOrEqual(t, len(obs.Events), 3)
	for i := 1; i < len(obs.Events); i++ {
		assert.Less(t, obs.Events[i-1].Seq, obs.Events[i].Seq, "oldest first")
	}
	assert.Equal(t, "first 2", obs.Events[len(obs.Events)-1].Description)

	require.NoError(t, c.Store().Record("arrest", 0, "second"))
	obs, err = o.Observe(ctx)
	require.NoError(t, err)
	require.Len(t, obs.Events, 1)
	assert.Equal(t, "second", obs.Events[0].Description)

	obs, err = o.Observe(ctx)
	require.NoError(t, err)
	assert.Empty(t, obs.Events)
}

func TestShutdownThenStopped(t *testing.T) {
	c, ts := serve(t)
	ctx := context.Background()

	_, err := New(ts.URL, "nope").Shutdown(ctx)
	assert.Error(t, err)
	assert.False(t, c.Store().Released())

	o := New(ts.URL, "key")
	res, err := o.Shutdown(ctx)
	require.NoError(t, err)
	assert.Equal(t, "shutdown", res.Status)
	assert.Equal(t, c.RunID(), res.RunID)

	_, err = o.Observe(ctx)
	assert.ErrorIs(t, err, ErrStopped)
}

func TestTriage(t *testing.T) {
	tests := []struct {
		name    string
		status  api.StatusResponse
		leading string
		level   string
	}{
		{
			name:    "quiet start",
			status:  api.StatusResponse{Status: "running", PoliceWinAt: 10, GangsWinAt: 10, LossThreshold: 5},
			leading: "even",
			level:   "CALM",
		},
		{
			name:    "police close",
			status:  api.StatusResponse{Status: "running", Thwarted: 9, Successful: 2, PoliceWinAt: 10, GangsWinAt: 10, LossThreshold: 5},
			leading: "police",
			level:   "CRITICAL",
		},
		{
			name:    "informant losses favor gangs",
			status:  api.StatusResponse{Status: "running", Thwarted: 2, ExecutedInformants: 3, PoliceWinAt: 10, GangsWinAt: 10, LossThreshold: 5},
			leading: "gangs",
			level:   "TENSE",
		},
		{
			name:    "finished",
			status:  api.StatusResponse{Status: "gangs_win", Successful: 10, PoliceWinAt: 10, GangsWinAt: 10, LossThreshold: 5},
			leading: "gangs",
			level:   "DECIDED",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Triage(&Observation{Status: tt.status})
			assert.Equal(t, tt.leading, a.Leading)
			assert.Equal(t, tt.level, a.Level)
			assert.LessOrEqual(t, a.Police, 1.0)
		})
	}
}
