// Package gang implements the gang side of the simulation: the member roster
// and its workers, knowledge exchange, and the mission lifecycle run by each
// gang's actor.
package gang

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/talgya/undercover/internal/config"
	"github.com/talgya/undercover/internal/state"
)

var (
	ErrUnknownMember  = errors.New("unknown member")
	ErrAlreadyPlanted = errors.New("member is already an informant")
)

// Random is the slice of a random source the gang logic draws from. The gang
// only calls it with its mutex held.
type Random interface {
	Float64() float64
	Intn(n int) int
	Sample(pool []int, k int) []int
	Jitter(lo, hi time.Duration) time.Duration
}

// Gang owns a roster and a fixed pool of mission slots. One mutex guards all
// of it; member workers and the actor loop both go through it, so a status
// change made by mission execution never interleaves with a worker's step.
type Gang struct {
	mu sync.Mutex

	id    int
	cfg   *config.Config
	rng   Random
	store *state.Store
	log   *slog.Logger

	members       []Member
	missions      []Mission
	active        int
	nextMissionID int
	successful    int
	failed        int
}

// New builds a gang of size active members with empty mission slots.
func New(id, size int, cfg *config.Config, rng Random, store *state.Store) (*Gang, error) {
	if size < 1 || size > config.MaxMembers {
		return nil, fmt.Errorf("gang %d: member count %d out of range [1, %d]", id, size, config.MaxMembers)
	}
	g := &Gang{
		id:       id,
		cfg:      cfg,
		rng:      rng,
		store:    store,
		log:      slog.Default().With("gang", id),
		members:  make([]Member, size),
		missions: make([]Mission, cfg.MaxConcurrentMissions),
	}
	for i := range g.members {
		g.members[i] = freshMember(i)
	}
	for i := range g.missions {
		g.missions[i] = emptyMission()
	}
	return g, nil
}

func (g *Gang) ID() int { return g.id }

// Size returns the roster capacity.
func (g *Gang) Size() int { return len(g.members) }

// PlantInformant marks member idx as informant id. Only used during
// infiltration, before the gang's workers start.
func (g *Gang) PlantInformant(idx, informantID int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if idx < 0 || idx >= len(g.members) {
		return fmt.Errorf("%w: gang %d member %d", ErrUnknownMember, g.id, idx)
	}
	m := &g.members[idx]
	if m.IsInformant() {
		return fmt.Errorf("%w: gang %d member %d", ErrAlreadyPlanted, g.id, idx)
	}
	m.InformantID = informantID
	return nil
}

// View copies the gang into its published form.
func (g *Gang) View() state.GangView {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.viewLocked()
}

func (g *Gang) viewLocked() state.GangView {
	v := state.GangView{
		ID:             g.id,
		Members:        make([]state.MemberView, len(g.members)),
		ActiveMissions: g.active,
		Successful:     g.successful,
		Failed:         g.failed,
	}
	for i := range g.members {
		v.Members[i] = g.members[i].view()
	}
	for i := range g.missions {
		if !g.missions[i].empty() {
			v.Missions = append(v.Missions, g.missions[i].view())
		}
	}
	return v
}

// Publish writes the current view into the shared store.
func (g *Gang) Publish() error {
	return g.store.PublishGang(g.View())
}

// ProcessArrest handles an arrest order: every active member assigned to a
// mission is imprisoned until now+d and that mission is disrupted. It returns
// the number of members arrested.
func (g *Gang) ProcessArrest(d time.Duration, now time.Time) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	release := now.Add(d)
	arrested := 0
	for i := range g.members {
		m := &g.members[i]
		if m.Status != state.MemberActive || m.MissionID == state.NoMission {
			continue
		}
		if ms := g.missionByID(m.MissionID); ms != nil {
			ms.Disrupted = true
		}
		m.Status = state.MemberArrested
		m.ReleaseAt = release
		m.Preparation = 0
		m.MissionID = state.NoMission
		arrested++
	}
	if arrested > 0 {
		g.log.Info("members arrested", "count", arrested, "duration", d)
		if err := g.store.Record("arrest", g.id, "%d members arrested for %s", arrested, d); err != nil {
			return arrested, err
		}
	}
	return arrested, nil
}

// Recruit resets every dead or executed slot to a fresh rank-0 member.
func (g *Gang) Recruit() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for i := range g.members {
		switch g.members[i].Status {
		case state.MemberDead, state.MemberExecuted:
			g.members[i] = freshMember(i)
			n++
		}
	}
	if n > 0 {
		g.log.Debug("recruited members", "count", n)
	}
	return n
}

// Promote runs one promotion round. The round itself happens with
// promotion_base_chance; within it each active member below the top rank is
// promoted with base*(1 - rank/num_ranks).
func (g *Gang) Promote() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	base := g.cfg.PromotionBaseChance
	if g.rng.Float64() >= base {
		return 0
	}
	n := 0
	for i := range g.members {
		m := &g.members[i]
		if m.Status != state.MemberActive || m.Rank >= g.cfg.NumRanks-1 {
			continue
		}
		if g.rng.Float64() < base*(1-g.cfg.RankFraction(m.Rank)) {
			m.Rank++
			n++
			g.log.Debug("member promoted", "member", m.ID, "rank", m.Rank)
		}
	}
	return n
}

func (g *Gang) record(category, format string, args ...any) error {
	return g.store.Record(category, g.id, format, args...)
}
