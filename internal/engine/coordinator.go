// Package engine provisions a simulation run and supervises it: it builds the
// shared store, the message channel, the gangs and the police, starts every
// actor, watches for the end of the run and tears everything down once.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/undercover/internal/config"
	"github.com/talgya/undercover/internal/entropy"
	"github.com/talgya/undercover/internal/gang"
	"github.com/talgya/undercover/internal/messaging"
	"github.com/talgya/undercover/internal/persistence"
	"github.com/talgya/undercover/internal/police"
	"github.com/talgya/undercover/internal/state"
)

// ErrAlreadyRun is returned by Run on a coordinator that has been started or
// shut down before.
var ErrAlreadyRun = errors.New("coordinator already used")

// FlushInterval is how often the event ring is copied into the journal.
const FlushInterval = time.Second

// Summary is the outcome of a run, captured just before teardown.
type Summary struct {
	RunID              string        `json:"run_id"`
	Seed               int64         `json:"seed"`
	Status             state.Status  `json:"status"`
	Reason             string        `json:"reason"`
	Duration           time.Duration `json:"duration"`
	Gangs              int           `json:"gangs"`
	Members            int           `json:"members"`
	Informants         int           `json:"informants"`
	LossThreshold      int           `json:"loss_threshold"`
	Thwarted           int           `json:"thwarted_plans"`
	Successful         int           `json:"successful_plans"`
	ExecutedInformants int           `json:"executed_informants"`
	Stragglers         int           `json:"stragglers"`
}

// Coordinator owns one run.
type Coordinator struct {
	cfg     *config.Config
	runID   string
	rng     *entropy.Source
	store   *state.Store
	ch      *messaging.Channel
	gangs   []*gang.Gang
	police  *police.Police
	journal *persistence.Journal
	log     *slog.Logger

	mu        sync.Mutex
	started   bool
	startedAt time.Time
	cancel    context.CancelFunc
	running   int
	done      chan struct{}

	flushMu sync.Mutex
	lastSeq uint64

	shutdownOnce sync.Once
	summary      Summary
}

// New provisions a run: store, channel, gangs of random size and the police,
// whose informants are planted before any actor starts. journal may be nil.
func New(cfg *config.Config, journal *persistence.Journal) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store, err := state.New(cfg.NumGangs)
	if err != nil {
		return nil, fmt.Errorf("provision shared state: %w", err)
	}
	rng := entropy.NewSource(cfg.Seed)
	c := &Coordinator{
		cfg:     cfg,
		runID:   uuid.NewString(),
		rng:     rng,
		store:   store,
		ch:      messaging.New(0),
		journal: journal,
		done:    make(chan struct{}),
	}
	c.log = slog.Default().With("actor", "coordinator", "run", c.runID)

	// ── Gangs ──────────────────────────────────────────────────────────
	rosters := make([]police.Roster, 0, cfg.NumGangs)
	members := 0
	for i := 0; i < cfg.NumGangs; i++ {
		size := rng.IntRange(cfg.MinMembersPerGang, cfg.MaxMembersPerGang)
		g, err := gang.New(i, size, cfg, rng, store)
		if err != nil {
			return nil, fmt.Errorf("provision gang %d: %w", i, err)
		}
		c.gangs = append(c.gangs, g)
		rosters = append(rosters, g)
		members += size
	}

	// ── Police ─────────────────────────────────────────────────────────
	c.police = police.New(cfg, store, c.ch, rng, entropy.NewWalk(rng.Seed(), 0))
	placed, err := c.police.Infiltrate(rosters)
	if err != nil {
		return nil, fmt.Errorf("infiltration: %w", err)
	}

	for _, g := range c.gangs {
		if err := g.Publish(); err != nil {
			return nil, fmt.Errorf("publish gang %d: %w", g.ID(), err)
		}
	}

	if journal != nil {
		if err := journal.BeginRun(c.runID, rng.Seed(), cfg.NumGangs, time.Now()); err != nil {
			return nil, err
		}
	}

	c.summary = Summary{
		RunID:         c.runID,
		Seed:          rng.Seed(),
		Gangs:         cfg.NumGangs,
		Members:       members,
		Informants:    placed,
		LossThreshold: c.police.LossThreshold(),
	}
	c.log.Info("simulation provisioned",
		"gangs", cfg.NumGangs, "members", members, "informants", placed,
		"loss_threshold", c.police.LossThreshold(), "seed", rng.Seed())
	return c, nil
}

// RunID identifies this run in logs, the journal and the API.
func (c *Coordinator) RunID() string { return c.runID }

// Store exposes the shared store for read-only observers.
func (c *Coordinator) Store() *state.Store { return c.store }

// Channel exposes the message channel for metrics.
func (c *Coordinator) Channel() *messaging.Channel { return c.ch }

// Thresholds are the end-condition counts for this run.
func (c *Coordinator) Thresholds() state.Thresholds { return c.police.Thresholds() }

// StartedAt is when Run began, zero before.
func (c *Coordinator) StartedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startedAt
}

type exit struct {
	name   string
	police bool
	err    error
}

// Run starts every actor and blocks until the run ends: a terminal status,
// the police exiting, every gang exiting, or ctx being cancelled. It always
// shuts the run down before returning and reports the final status.
func (c *Coordinator) Run(ctx context.Context) (state.Status, error) {
	c.mu.Lock()
	if c.started {
		st := c.summary.Status
		c.mu.Unlock()
		return st, ErrAlreadyRun
	}
	c.started = true
	c.startedAt = time.Now()
	actx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	exits := make(chan exit, len(c.gangs)+1)
	var wg sync.WaitGroup
	spawn := func(name string, isPolice bool, run func(context.Context) error) {
		wg.Add(1)
		c.mu.Lock()
		c.running++
		c.mu.Unlock()
		go func() {
			defer wg.Done()
			err := run(actx)
			c.mu.Lock()
			c.running--
			c.mu.Unlock()
			exits <- exit{name: name, police: isPolice, err: err}
		}()
	}
	for _, g := range c.gangs {
		spawn(fmt.Sprintf("gang-%d", g.ID()), false, gang.NewActor(g, c.ch).Run)
	}
	spawn("police", true, c.police.Run)
	go func() {
		wg.Wait()
		close(c.done)
	}()
	c.log.Info("simulation started", "actors", len(c.gangs)+1)

	watch := time.NewTicker(c.cfg.StatusPoll())
	defer watch.Stop()
	flush := time.NewTicker(FlushInterval)
	defer flush.Stop()

	gangsLeft := len(c.gangs)
	reason := ""
	for reason == "" {
		select {
		case <-ctx.Done():
			reason = "interrupted"
		case e := <-exits:
			if e.err != nil {
				c.log.Error("actor failed", "actor", e.name, "error", e.err)
			} else {
				c.log.Debug("actor exited", "actor", e.name)
			}
			if e.police {
				reason = "police exited"
				break
			}
			gangsLeft--
			if gangsLeft == 0 {
				reason = "all gangs exited"
			}
		case <-watch.C:
			st, err := c.store.Status()
			if err != nil {
				reason = "shared state released"
			} else if st.Terminal() {
				reason = "terminal status " + st.String()
			}
		case <-flush.C:
			c.flush()
		}
	}

	sum := c.shutdown(reason)
	return sum.Status, nil
}

// Shutdown stops the run. It is safe to call any number of times from any
// goroutine; only the first call does the work.
func (c *Coordinator) Shutdown() Summary {
	return c.shutdown("requested")
}

func (c *Coordinator) shutdown(reason string) Summary {
	c.shutdownOnce.Do(func() {
		c.log.Info("shutting down", "reason", reason)

		if err := c.ch.Send(messaging.StatusUpdate{Status: state.StatusShutdown}); err != nil {
			c.log.Warn("shutdown broadcast failed", "error", err)
		}
		if _, err := c.store.TryTransition(state.StatusRunning, state.StatusShutdown); err != nil {
			c.log.Warn("status transition failed", "error", err)
		}
		_ = c.store.Record("status", -1, "shutdown: %s", reason)

		c.mu.Lock()
		cancel, started, startedAt := c.cancel, c.started, c.startedAt
		c.started = true
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}

		stragglers := 0
		if started && cancel != nil {
			select {
			case <-c.done:
			case <-time.After(c.cfg.ShutdownGrace()):
				c.mu.Lock()
				stragglers = c.running
				c.mu.Unlock()
				c.log.Warn("actors still running after grace period", "count", stragglers)
			}
		}

		c.flush()

		sum := c.summary
		sum.Reason = reason
		sum.Stragglers = stragglers
		if !startedAt.IsZero() {
			sum.Duration = time.Since(startedAt)
		}
		if snap, err := c.store.Snapshot(); err == nil {
			sum.Status = snap.Status
			sum.Thwarted = snap.Thwarted
			sum.Successful = snap.Successful
			sum.ExecutedInformants = snap.ExecutedInformants
			sum.LossThreshold = snap.LossThreshold
		}
		c.mu.Lock()
		c.summary = sum
		c.mu.Unlock()

		if c.journal != nil {
			if err := c.journal.EndRun(c.runID, sum.Status, time.Now()); err != nil {
				c.log.Warn("journal end failed", "error", err)
			}
			_ = c.journal.SaveMeta(c.runID, "reason", reason)
		}

		dropped := c.ch.Drain()
		c.ch.Close()
		c.store.Release()
		c.log.Info("simulation stopped", "status", sum.Status.String(), "dropped_messages", dropped)
	})
	return c.Summary()
}

// Summary returns the run outcome. Counters are only filled in after
// shutdown.
func (c *Coordinator) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summary
}

// flush copies new events from the store's ring into the journal.
func (c *Coordinator) flush() {
	if c.journal == nil {
		return
	}
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	events, err := c.store.EventsSince(c.lastSeq)
	if err != nil || len(events) == 0 {
		return
	}
	if _, err := c.journal.SaveEvents(c.runID, events); err != nil {
		c.log.Warn("journal flush failed", "error", err)
		return
	}
	c.lastSeq = events[len(events)-1].Seq
}
