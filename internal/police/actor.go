package police

import (
	"context"
	"errors"
	"time"

	"github.com/talgya/undercover/internal/messaging"
	"github.com/talgya/undercover/internal/state"
)

// Run is the police cycle: consume reports, watch for status broadcasts,
// review intelligence and check the end conditions. It returns nil when the
// simulation stops and state.ErrReleased if the store goes away underneath.
func (p *Police) Run(ctx context.Context) error {
	p.log.Info("police started", "informants", len(p.informants))
	defer func() { p.log.Info("police stopped", "reviews", p.reviews) }()

	for {
		start := time.Now()
		if ctx.Err() != nil {
			p.stopping = true
			return nil
		}

		if err := p.drainReports(ctx, start); err != nil {
			return err
		}

		if p.shutdownAnnounced() {
			p.stopping = true
			return nil
		}

		st, err := p.store.Status()
		if err != nil {
			return err
		}
		if st != state.StatusRunning {
			p.stopping = true
			p.log.Info("detected end of simulation", "status", st.String())
			return nil
		}

		if _, err := p.Review(start); err != nil {
			return err
		}

		st, _, err = p.CheckEnd()
		if err != nil {
			return err
		}
		if st != state.StatusRunning {
			p.stopping = true
			return nil
		}

		t := time.NewTimer(p.cfg.PoliceCycle() - time.Since(start))
		select {
		case <-ctx.Done():
			t.Stop()
			p.stopping = true
			return nil
		case <-t.C:
		}
	}
}

// drainReports handles every queued report, acting on each warranted one.
func (p *Police) drainReports(ctx context.Context, now time.Time) error {
	for ctx.Err() == nil {
		msg, ok, err := p.ch.TryReceive(messaging.ReportsFor())
		if err != nil {
			if !p.stopping {
				p.log.Debug("report receive failed", "error", err)
			}
			return nil
		}
		if !ok {
			return nil
		}
		report, isReport := msg.(messaging.InformantReport)
		if !isReport {
			continue
		}

		act, err := p.ProcessReport(report, now)
		if errors.Is(err, ErrBadReport) {
			if !p.stopping {
				p.log.Warn("rejected report", "error", err)
			}
			continue
		}
		if err != nil {
			return err
		}
		if act {
			if _, err := p.Act(report.GangID); err != nil {
				return err
			}
		}
	}
	return nil
}

// shutdownAnnounced polls for a non-running status broadcast.
func (p *Police) shutdownAnnounced() bool {
	msg, ok, err := p.ch.TryReceive(messaging.StatusUpdates())
	if err != nil || !ok {
		return err != nil
	}
	if u, isUpdate := msg.(messaging.StatusUpdate); isUpdate && u.Status != state.StatusRunning {
		p.log.Info("received shutdown broadcast", "status", u.Status.String())
		return true
	}
	return false
}
