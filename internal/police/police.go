// Package police implements the law-enforcement actor: informant placement,
// per-gang intelligence built from informant reports, arrest decisions and
// the end-of-simulation check.
package police

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/talgya/undercover/internal/config"
	"github.com/talgya/undercover/internal/entropy"
	"github.com/talgya/undercover/internal/messaging"
	"github.com/talgya/undercover/internal/state"
)

// SurveillanceThreshold is the suspicion level above which a gang is watched.
const SurveillanceThreshold = 0.3

// walkAmplitude bounds the per-review suspicion drift.
const walkAmplitude = 0.1

// ErrBadReport is returned for reports naming an unknown informant or the
// wrong gang.
var ErrBadReport = errors.New("invalid informant report")

// Random is the slice of a random source the police draw from.
type Random interface {
	Float64() float64
	Intn(n int) int
}

// Roster is the part of a gang the police touch during infiltration.
type Roster interface {
	ID() int
	Size() int
	PlantInformant(member, informant int) error
}

// Informant is the police's record of one planted member.
type Informant struct {
	ID             int
	GangID         int
	MemberID       int
	Status         state.InformantStatus
	LastReportAt   time.Time
	LastTarget     state.Target
	LastConfidence float64
}

// Intelligence is the aggregate the police hold on one gang.
type Intelligence struct {
	GangID          int
	Suspicion       float64
	SuspectedTarget state.Target
	EstimatedAt     time.Time
	Confirmed       int
	Surveillance    bool
	FirstReportAt   time.Time
	Informants      []int
}

// Police holds informants and intelligence. Its methods are called from the
// actor goroutine only, except during setup.
type Police struct {
	cfg   *config.Config
	store *state.Store
	ch    *messaging.Channel
	rng   Random
	walk  *entropy.Walk
	log   *slog.Logger

	informants    []Informant
	intel         []Intelligence
	lossThreshold int

	lastReview time.Time
	reviews    int
	stopping   bool
}

// New prepares empty intelligence for every gang in the store.
func New(cfg *config.Config, store *state.Store, ch *messaging.Channel, rng Random, walk *entropy.Walk) *Police {
	p := &Police{
		cfg:           cfg,
		store:         store,
		ch:            ch,
		rng:           rng,
		walk:          walk,
		log:           slog.Default().With("actor", "police"),
		intel:         make([]Intelligence, store.GangCount()),
		lossThreshold: cfg.AgentExecutionLossCount,
	}
	for i := range p.intel {
		p.intel[i] = Intelligence{
			GangID:          i,
			SuspectedTarget: state.Target(rng.Intn(int(state.TargetCount))),
		}
	}
	return p
}

// LossThreshold is the executed-informant count that ends the simulation,
// after infiltration may have lowered it.
func (p *Police) LossThreshold() int { return p.lossThreshold }

// Thresholds returns the win/loss counts in force.
func (p *Police) Thresholds() state.Thresholds {
	return state.Thresholds{
		Thwarted:   p.cfg.PoliceThwartWinCount,
		Successful: p.cfg.GangSuccessWinCount,
		Executed:   p.lossThreshold,
	}
}

// Informants returns a copy of the informant table.
func (p *Police) Informants() []Informant {
	return append([]Informant(nil), p.informants...)
}

// Intel returns a copy of one gang's intelligence.
func (p *Police) Intel(gangID int) (Intelligence, bool) {
	if gangID < 0 || gangID >= len(p.intel) {
		return Intelligence{}, false
	}
	in := p.intel[gangID]
	in.Informants = append([]int(nil), in.Informants...)
	return in, true
}

// Infiltrate plants informants before any gang starts. Each member is turned
// with the infiltration rate, subject to the per-gang and global caps. If
// fewer informants were placed than the loss threshold, the threshold is
// lowered so the loss condition stays reachable.
func (p *Police) Infiltrate(gangs []Roster) (int, error) {
	placed := 0
	for _, g := range gangs {
		gid := g.ID()
		if gid < 0 || gid >= len(p.intel) {
			return placed, fmt.Errorf("infiltrate: %w: %d", state.ErrUnknownGang, gid)
		}
		inGang := 0
	members:
		for m := 0; m < g.Size(); m++ {
			if p.rng.Float64() >= p.cfg.AgentInfiltrationRate {
				continue
			}
			switch {
			case len(p.informants) >= config.MaxInformants:
				break members
			case inGang >= p.cfg.MaxAgentsPerGang:
				p.log.Debug("gang already has maximum informants", "gang", gid, "max", p.cfg.MaxAgentsPerGang)
				break members
			}

			id, err := p.store.RegisterInformant()
			if errors.Is(err, state.ErrInformantsFull) {
				break members
			}
			if err != nil {
				return placed, fmt.Errorf("infiltrate gang %d: %w", gid, err)
			}
			if err := g.PlantInformant(m, id); err != nil {
				return placed, fmt.Errorf("infiltrate gang %d: %w", gid, err)
			}
			p.informants = append(p.informants, Informant{
				ID:         id,
				GangID:     gid,
				MemberID:   m,
				Status:     state.InformantActive,
				LastTarget: state.TargetCount,
			})
			p.intel[gid].Informants = append(p.intel[gid].Informants, id)
			inGang++
			placed++
		}
	}

	if placed > 0 && placed < p.lossThreshold {
		p.log.Info("lowering informant loss threshold to match placement",
			"configured", p.lossThreshold, "placed", placed)
		p.lossThreshold = placed
	}
	if err := p.store.SetLossThreshold(p.lossThreshold); err != nil {
		return placed, err
	}
	p.log.Info("infiltration complete", "informants", placed, "loss_threshold", p.lossThreshold)
	return placed, p.store.Record("informant", -1, "%d informants planted", placed)
}

// ProcessReport folds one report into the gang's intelligence. It reports
// whether action is now warranted; the confirmed-report count restarts when
// it is.
func (p *Police) ProcessReport(r messaging.InformantReport, now time.Time) (bool, error) {
	if r.InformantID < 0 || r.InformantID >= len(p.informants) {
		return false, fmt.Errorf("%w: informant %d", ErrBadReport, r.InformantID)
	}
	inf := &p.informants[r.InformantID]
	if r.GangID != inf.GangID {
		return false, fmt.Errorf("%w: informant %d reported gang %d, planted in %d",
			ErrBadReport, r.InformantID, r.GangID, inf.GangID)
	}
	inf.LastReportAt = now
	inf.LastTarget = r.SuspectedTarget
	inf.LastConfidence = r.Confidence

	in := &p.intel[r.GangID]
	if r.Confidence > in.Suspicion {
		in.SuspectedTarget = r.SuspectedTarget
		in.Suspicion = r.Confidence
		in.EstimatedAt = r.EstimatedAt
	}
	in.Confirmed++
	if in.Confirmed == 1 {
		in.FirstReportAt = now
	}
	if !in.Surveillance && in.Suspicion > SurveillanceThreshold {
		in.Surveillance = true
		p.log.Info("gang under surveillance", "gang", r.GangID, "target", in.SuspectedTarget.String())
	}
	if err := p.store.Record("report", r.GangID, "informant %d reports %s with confidence %.2f",
		r.InformantID, r.SuspectedTarget, r.Confidence); err != nil {
		return false, err
	}

	if in.Suspicion > p.cfg.PoliceConfirmationThreshold &&
		in.Confirmed >= len(in.Informants) &&
		now.Sub(in.FirstReportAt) >= p.cfg.InvestigationDwell() {
		in.Confirmed = 0
		p.log.Info("sufficient evidence to act", "gang", r.GangID, "suspicion", in.Suspicion)
		return true, nil
	}
	return false, nil
}

// Act sends an arrest order to a gang. The thwarted-plans counter only moves
// when the order was actually queued.
func (p *Police) Act(gangID int) (bool, error) {
	order := messaging.ArrestOrder{GangID: gangID, Duration: p.cfg.ArrestDuration()}
	if err := p.ch.Send(order); err != nil {
		if !p.stopping {
			p.log.Warn("arrest order dropped", "gang", gangID, "error", err)
		}
		return false, nil
	}
	n, err := p.store.Increment(state.CounterThwarted)
	if err != nil {
		return true, err
	}
	p.log.Info("arrest order sent", "gang", gangID, "thwarted", n)
	return true, p.store.Record("arrest", gangID, "police moved against gang %d (%d plans thwarted)", gangID, n)
}

// Review runs at most once per review interval: watched gangs drift, stale
// estimates decay, and lost informants are dropped.
func (p *Police) Review(now time.Time) (bool, error) {
	if !p.lastReview.IsZero() && now.Sub(p.lastReview) < p.cfg.ReviewEvery() {
		return false, nil
	}
	p.lastReview = now
	p.reviews++

	if err := p.syncInformants(); err != nil {
		return true, err
	}

	for i := range p.intel {
		in := &p.intel[i]
		if !in.Surveillance {
			continue
		}
		in.Suspicion = clamp01(in.Suspicion + p.walk.Step(i, float64(p.reviews), walkAmplitude))

		if !in.EstimatedAt.IsZero() && now.After(in.EstimatedAt.Add(p.cfg.Grace())) {
			in.Suspicion *= 0.5
			in.EstimatedAt = time.Time{}
			if in.Suspicion < SurveillanceThreshold {
				in.Surveillance = false
				p.log.Info("surveillance ended, target time passed", "gang", i)
			}
		}
	}
	return true, nil
}

// syncInformants copies terminal statuses from the store and removes those
// informants from their gang's set.
func (p *Police) syncInformants() error {
	for i := range p.informants {
		inf := &p.informants[i]
		if inf.Status != state.InformantActive {
			continue
		}
		st, err := p.store.InformantStatus(inf.ID)
		if err != nil {
			return err
		}
		if st == state.InformantActive {
			continue
		}
		inf.Status = st
		in := &p.intel[inf.GangID]
		for j, id := range in.Informants {
			if id == inf.ID {
				in.Informants = append(in.Informants[:j], in.Informants[j+1:]...)
				break
			}
		}
		p.log.Info("informant lost", "informant", inf.ID, "gang", inf.GangID, "status", st.String())
	}
	return nil
}

// CheckEnd evaluates the win/loss counters. changed is true only for the
// call that moved the simulation out of the running state.
func (p *Police) CheckEnd() (state.Status, bool, error) {
	st, changed, err := p.store.EvaluateEnd(p.Thresholds())
	if err != nil || !changed {
		return st, changed, err
	}
	p.log.Info("end condition met", "status", st.String())
	return st, true, p.store.Record("status", -1, "simulation ended: %s", st)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
