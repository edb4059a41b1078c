package gang

import (
	"time"

	"github.com/talgya/undercover/internal/state"
)

// Mission is one slot of the gang's concurrent-mission pool. ID is
// state.NoMission while the slot is empty.
type Mission struct {
	ID         int
	Target     state.Target
	Required   float64
	PrepTime   time.Duration
	Assigned   []int
	InProgress bool
	Disrupted  bool
	StartedAt  time.Time
}

func emptyMission() Mission { return Mission{ID: state.NoMission} }

func (ms *Mission) empty() bool { return ms.ID == state.NoMission }

func (ms *Mission) view() state.MissionView {
	return state.MissionView{
		ID:         ms.ID,
		Target:     ms.Target,
		Required:   ms.Required,
		Assigned:   append([]int(nil), ms.Assigned...),
		InProgress: ms.InProgress,
		Disrupted:  ms.Disrupted,
		StartedAt:  ms.StartedAt,
	}
}

func (g *Gang) missionByID(id int) *Mission {
	if id == state.NoMission {
		return nil
	}
	for i := range g.missions {
		if g.missions[i].ID == id {
			return &g.missions[i]
		}
	}
	return nil
}

func (g *Gang) availableLocked() []int {
	var out []int
	for i := range g.members {
		if g.members[i].available() {
			out = append(out, i)
		}
	}
	return out
}

// targetDifficulty grows with the target's ordinal.
func (g *Gang) targetDifficulty(t state.Target) float64 {
	return g.cfg.TargetDifficultyBase + float64(t)/float64(state.TargetCount)*g.cfg.TargetDifficultyScaling
}

// CreateMission fills a free slot if enough members are available. It
// returns the new mission id, or state.NoMission when nothing was created.
func (g *Gang) CreateMission(now time.Time) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.active >= len(g.missions) {
		return state.NoMission, nil
	}
	avail := g.availableLocked()
	if len(avail) < g.cfg.MissionMembersCount {
		return state.NoMission, nil
	}
	var ms *Mission
	for i := range g.missions {
		if g.missions[i].empty() {
			ms = &g.missions[i]
			break
		}
	}
	if ms == nil {
		return state.NoMission, nil
	}

	target := state.Target(g.rng.Intn(int(state.TargetCount)))
	prepSecs := g.cfg.PreparationTimeMin + g.rng.Intn(g.cfg.PreparationTimeMax-g.cfg.PreparationTimeMin+1)
	required := g.cfg.MinPreparationRequiredBase +
		g.rng.Float64()*g.cfg.MinPreparationDifficultyFactor*g.targetDifficulty(target)

	*ms = Mission{
		ID:         g.nextMissionID,
		Target:     target,
		Required:   clamp01(required),
		PrepTime:   time.Duration(prepSecs) * time.Second,
		Assigned:   g.rng.Sample(avail, g.cfg.MissionMembersCount),
		InProgress: true,
		StartedAt:  now,
	}
	g.nextMissionID++
	g.active++

	for _, idx := range ms.Assigned {
		m := &g.members[idx]
		m.MissionID = ms.ID
		m.Preparation = 0
		m.Knowledge = 0
	}

	g.log.Info("mission created", "mission", ms.ID, "target", ms.Target.String(), "members", len(ms.Assigned))
	return ms.ID, g.record("mission", "mission %d created targeting %s with %d members", ms.ID, ms.Target, len(ms.Assigned))
}

// ready reports whether every active assigned member has reached the
// required preparation. Members that are arrested or gone do not block.
func (g *Gang) ready(ms *Mission) bool {
	if ms.empty() || !ms.InProgress || ms.Disrupted {
		return false
	}
	for _, idx := range ms.Assigned {
		m := &g.members[idx]
		if m.Status == state.MemberActive && m.Preparation < ms.Required {
			return false
		}
	}
	return true
}

// ExecuteReady runs every mission whose members are prepared and returns how
// many were executed.
func (g *Gang) ExecuteReady() (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for i := range g.missions {
		ms := &g.missions[i]
		if !g.ready(ms) {
			continue
		}
		success, err := g.executeLocked(ms)
		if err != nil {
			return n, err
		}
		if err := g.completeLocked(ms, success); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// executeLocked rolls for overall success, then independently for each
// active member's death.
func (g *Gang) executeLocked(ms *Mission) (bool, error) {
	var active []*Member
	total := 0.0
	for _, idx := range ms.Assigned {
		m := &g.members[idx]
		if m.Status == state.MemberActive {
			active = append(active, m)
			total += m.Preparation
		}
	}
	if len(active) == 0 {
		return false, nil
	}
	avg := total / float64(len(active))
	success := g.rng.Float64() < g.cfg.MissionSuccessRateBase*avg

	for _, m := range active {
		if g.rng.Float64() >= g.cfg.MissionKillProbability {
			continue
		}
		m.Status = state.MemberDead
		m.MissionID = state.NoMission
		g.log.Info("member died during mission", "member", m.ID, "mission", ms.ID)
		if m.IsInformant() {
			if _, err := g.store.SetInformantStatus(m.InformantID, state.InformantDead); err != nil {
				return success, err
			}
			if err := g.record("informant", "informant %d died during mission %d", m.InformantID, ms.ID); err != nil {
				return success, err
			}
		}
	}
	return success, nil
}

// completeLocked settles counters, investigates a failure, releases the
// assigned members and frees the slot.
func (g *Gang) completeLocked(ms *Mission, success bool) error {
	if success {
		g.successful++
		if _, err := g.store.Increment(state.CounterSuccessful); err != nil {
			return err
		}
		g.log.Info("mission succeeded", "mission", ms.ID, "target", ms.Target.String(), "total", g.successful)
		if err := g.record("mission", "mission %d against %s succeeded", ms.ID, ms.Target); err != nil {
			return err
		}
	} else {
		g.failed++
		g.log.Info("mission failed", "mission", ms.ID, "target", ms.Target.String(), "total", g.failed)
		if err := g.record("mission", "mission %d against %s failed", ms.ID, ms.Target); err != nil {
			return err
		}
		if err := g.investigateLocked(ms); err != nil {
			return err
		}
	}

	for _, idx := range ms.Assigned {
		m := &g.members[idx]
		if m.MissionID == ms.ID {
			m.MissionID = state.NoMission
		}
		if m.Status == state.MemberActive {
			m.Preparation = 0
		}
	}
	*ms = emptyMission()
	g.active--
	return nil
}

// investigateLocked looks for informants among the still-active members of a
// failed mission. Every member is scored so the draw sequence does not reveal
// who is an informant.
func (g *Gang) investigateLocked(ms *Mission) error {
	for _, idx := range ms.Assigned {
		m := &g.members[idx]
		if m.Status != state.MemberActive {
			continue
		}
		suspicion := 0.0
		if m.IsInformant() {
			suspicion += g.cfg.AgentBaseSuspicion
			if m.Knowledge < 0.5*g.cfg.RankFraction(m.Rank) {
				suspicion += g.cfg.KnowledgeAnomalySuspicion
			}
		}
		suspicion += g.rng.Float64()

		if suspicion > g.cfg.AgentDiscoveryThreshold && m.IsInformant() {
			if err := g.uncoverLocked(m, ms.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *Gang) uncoverLocked(m *Member, missionID int) error {
	id := m.InformantID
	m.Status = state.MemberExecuted
	m.InformantID = state.NoInformant
	m.MissionID = state.NoMission
	g.log.Warn("informant uncovered", "informant", id, "member", m.ID, "mission", missionID)

	if _, err := g.store.SetInformantStatus(id, state.InformantUncovered); err != nil {
		return err
	}
	if _, err := g.store.Increment(state.CounterExecutedInformants); err != nil {
		return err
	}
	return g.record("informant", "informant %d uncovered and executed after mission %d", id, missionID)
}

// CleanupDisrupted frees the slots of missions broken up by an arrest. No
// counters change.
func (g *Gang) CleanupDisrupted() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for i := range g.missions {
		ms := &g.missions[i]
		if ms.empty() || !ms.Disrupted {
			continue
		}
		for _, idx := range ms.Assigned {
			m := &g.members[idx]
			if m.MissionID == ms.ID {
				m.MissionID = state.NoMission
				m.Preparation = 0
			}
		}
		g.log.Debug("disrupted mission cleared", "mission", ms.ID)
		*ms = emptyMission()
		g.active--
		n++
	}
	return n
}
