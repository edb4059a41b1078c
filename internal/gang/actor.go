package gang

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/talgya/undercover/internal/config"
	"github.com/talgya/undercover/internal/messaging"
	"github.com/talgya/undercover/internal/state"
)

// Actor runs one gang: a worker per member plus the gang's own cycle.
type Actor struct {
	gang  *Gang
	store *state.Store
	ch    *messaging.Channel
	cfg   *config.Config
	log   *slog.Logger

	cycles uint64
}

// NewActor wires a gang to the shared store and the message channel.
func NewActor(g *Gang, ch *messaging.Channel) *Actor {
	return &Actor{
		gang:  g,
		store: g.store,
		ch:    ch,
		cfg:   g.cfg,
		log:   slog.Default().With("actor", "gang", "gang", g.id),
	}
}

// Gang returns the gang this actor drives.
func (a *Actor) Gang() *Gang { return a.gang }

// Run blocks until ctx is cancelled, the simulation leaves the running state,
// or the shared store is released. Member workers are stopped and joined
// before it returns. Only state.ErrReleased is returned as an error.
func (a *Actor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	grp, wctx := errgroup.WithContext(ctx)
	for i := 0; i < a.gang.Size(); i++ {
		idx := i
		grp.Go(func() error { return a.work(wctx, idx) })
	}
	a.log.Info("gang started", "members", a.gang.Size())

	err := a.loop(ctx)
	cancel()
	if werr := grp.Wait(); err == nil {
		err = werr
	}
	a.log.Info("gang stopped", "cycles", a.cycles)
	return err
}

func (a *Actor) loop(ctx context.Context) error {
	if _, err := a.gang.CreateMission(time.Now()); err != nil {
		return err
	}

	for {
		start := time.Now()

		if err := a.drainOrders(ctx); err != nil {
			return err
		}

		st, err := a.store.Status()
		if err != nil {
			return err
		}
		if st != state.StatusRunning {
			a.log.Info("detected end of simulation", "status", st.String())
			return nil
		}

		if err := a.step(start); err != nil {
			return err
		}
		a.cycles++

		// Sleep for the remainder of the cycle.
		if !sleep(ctx, a.cfg.GangCycle()-time.Since(start)) {
			return nil
		}
	}
}

// step is one gang cycle after orders have been handled.
func (a *Actor) step(now time.Time) error {
	g := a.gang
	if err := g.Publish(); err != nil {
		return err
	}
	if _, err := g.ExecuteReady(); err != nil {
		return err
	}
	g.CleanupDisrupted()
	for {
		id, err := g.CreateMission(now)
		if err != nil {
			return err
		}
		if id == state.NoMission {
			break
		}
	}
	g.Recruit()
	g.Promote()
	return nil
}

// drainOrders applies every arrest order queued for this gang.
func (a *Actor) drainOrders(ctx context.Context) error {
	addr := messaging.OrdersFor(a.gang.id)
	for ctx.Err() == nil {
		msg, ok, err := a.ch.TryReceive(addr)
		if err != nil {
			a.log.Debug("order receive failed", "error", err)
			return nil
		}
		if !ok {
			return nil
		}
		order, isOrder := msg.(messaging.ArrestOrder)
		if !isOrder {
			a.log.Warn("unexpected message on order queue", "kind", msg.Address().Kind.String())
			continue
		}
		a.log.Info("received arrest order", "duration", order.Duration)
		if _, err := a.gang.ProcessArrest(order.Duration, time.Now()); err != nil {
			return err
		}
	}
	return nil
}

// work is one member's worker. The worker only touches the gang through
// Tick; reports go straight onto the channel.
func (a *Actor) work(ctx context.Context, idx int) error {
	lo, hi := a.cfg.MemberTickRange()
	for {
		report, active := a.gang.Tick(idx, time.Now())
		if report != nil {
			if err := a.ch.Send(*report); err != nil && !shuttingDown(err) {
				a.log.Warn("report dropped", "informant", report.InformantID, "error", err)
			}
		}

		d := a.cfg.ArrestedPoll()
		if active {
			d = a.gang.tickDelay(lo, hi)
		}
		if !sleep(ctx, d) {
			return nil
		}
	}
}

// tickDelay draws a member's next sleep from [lo, hi].
func (g *Gang) tickDelay(lo, hi time.Duration) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.Jitter(lo, hi)
}

func shuttingDown(err error) bool {
	return errors.Is(err, messaging.ErrDraining) || errors.Is(err, messaging.ErrClosed)
}

// sleep waits for d or until ctx is done. It reports false when ctx ended.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
