package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/undercover/internal/config"
	"github.com/talgya/undercover/internal/messaging"
	"github.com/talgya/undercover/internal/persistence"
	"github.com/talgya/undercover/internal/state"
)

func fastConfig() *config.Config {
	cfg := config.Default()
	cfg.Seed = 17
	cfg.GangCycleMS = 5
	cfg.PoliceCycleMS = 5
	cfg.MemberTickMinMS = 1
	cfg.MemberTickMaxMS = 3
	cfg.ArrestedPollMS = 5
	cfg.StatusPollMS = 5
	cfg.ShutdownGraceMS = 500
	return cfg
}

func openJournal(t *testing.T) *persistence.Journal {
	t.Helper()
	j, err := persistence.Open(persistence.Memory)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func runWithTimeout(t *testing.T, c *Coordinator, ctx context.Context) state.Status {
	t.Helper()
	type result struct {
		st  state.Status
		err error
	}
	done := make(chan result, 1)
	go func() {
		st, err := c.Run(ctx)
		done <- result{st, err}
	}()
	select {
	case r := <-done:
		require.NoError(t, r.err)
		return r.st
	case <-time.After(10 * time.Second):
		t.Fatal("run did not finish")
	}
	return state.StatusRunning
}

func TestNewProvisionsGangsWithinBounds(t *testing.T) {
	cfg := fastConfig()
	cfg.NumGangs = 4
	c, err := New(cfg, nil)
	require.NoError(t, err)
	defer c.Shutdown()

	snap, err := c.Store().Snapshot()
	require.NoError(t, err)
	assert.Equal(t, state.StatusRunning, snap.Status)
	require.Len(t, snap.Gangs, 4)

	planted := 0
	for _, g := range snap.Gangs {
		assert.GreaterOrEqual(t, len(g.Members), cfg.MinMembersPerGang)
		assert.LessOrEqual(t, len(g.Members), cfg.MaxMembersPerGang)
		inGang := 0
		for _, m := range g.Members {
			if m.Informant {
				inGang++
			}
		}
		assert.LessOrEqual(t, inGang, cfg.MaxAgentsPerGang)
		planted += inGang
	}
	assert.Equal(t, planted, len(snap.Informants))
	assert.Equal(t, c.Summary().Informants, planted)
	if planted > 0 && planted < cfg.AgentExecutionLossCount {
		assert.Equal(t, planted, snap.LossThreshold)
	} else {
		assert.Equal(t, cfg.AgentExecutionLossCount, snap.LossThreshold)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := fastConfig()
	cfg.NumGangs = 0
	_, err := New(cfg, nil)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestRunEndsOnWinCondition(t *testing.T) {
	cfg := fastConfig()
	j := openJournal(t)
	c, err := New(cfg, j)
	require.NoError(t, err)

	for i := 0; i < cfg.PoliceThwartWinCount; i++ {
		_, err := c.Store().Increment(state.CounterThwarted)
		require.NoError(t, err)
	}

	st := runWithTimeout(t, c, context.Background())
	assert.Equal(t, state.StatusPoliceWin, st)

	sum := c.Summary()
	assert.Equal(t, state.StatusPoliceWin, sum.Status)
	assert.Equal(t, cfg.PoliceThwartWinCount, sum.Thwarted)
	assert.Zero(t, sum.Stragglers)

	run, err := j.GetRun(c.RunID())
	require.NoError(t, err)
	assert.Equal(t, "police_win", run.Status)
	n, err := j.CountEvents(c.RunID(), "status")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)
}

func TestRunReachesTerminalStatus(t *testing.T) {
	cfg := fastConfig()
	cfg.GangSuccessWinCount = 1
	cfg.PoliceThwartWinCount = 1
	cfg.MissionSuccessRateBase = 1
	c, err := New(cfg, nil)
	require.NoError(t, err)

	st := runWithTimeout(t, c, context.Background())
	assert.Contains(t, []state.Status{state.StatusPoliceWin, state.StatusGangsWin, state.StatusAgentsLost}, st)
	assert.True(t, c.Store().Released())
}

func TestCancelShutsDownOnce(t *testing.T) {
	c, err := New(fastConfig(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	st := runWithTimeout(t, c, ctx)
	assert.Contains(t, []state.Status{state.StatusShutdown, state.StatusPoliceWin, state.StatusGangsWin, state.StatusAgentsLost}, st)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, st, c.Shutdown().Status)
		}()
	}
	wg.Wait()

	assert.True(t, c.Store().Released())
	assert.ErrorIs(t, c.Channel().Send(messaging.StatusUpdate{}), messaging.ErrClosed)

	_, err = c.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRun)
}

func TestShutdownBeforeRun(t *testing.T) {
	c, err := New(fastConfig(), nil)
	require.NoError(t, err)

	sum := c.Shutdown()
	assert.Equal(t, state.StatusShutdown, sum.Status)
	assert.Equal(t, "requested", sum.Reason)
	assert.Equal(t, sum, c.Shutdown())

	_, err = c.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRun)
}
