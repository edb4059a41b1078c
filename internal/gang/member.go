package gang

import (
	"math"
	"time"

	"github.com/talgya/undercover/internal/messaging"
	"github.com/talgya/undercover/internal/state"
)

// Member is one slot of a gang roster. Slots are reused by recruitment.
type Member struct {
	ID          int
	Rank        int
	InformantID int // state.NoInformant when not working for the police
	Status      state.MemberStatus
	Preparation float64
	Knowledge   float64
	MissionID   int
	ReleaseAt   time.Time

	// When knowledge first exceeded the informant's initial threshold.
	firstKnowledgeAt time.Time
}

// IsInformant reports whether the member is working for the police.
func (m *Member) IsInformant() bool { return m.InformantID != state.NoInformant }

func (m *Member) available() bool {
	return m.Status == state.MemberActive && m.MissionID == state.NoMission
}

func freshMember(id int) Member {
	return Member{
		ID:          id,
		InformantID: state.NoInformant,
		Status:      state.MemberActive,
		MissionID:   state.NoMission,
	}
}

func (m *Member) view() state.MemberView {
	return state.MemberView{
		ID:          m.ID,
		Rank:        m.Rank,
		Informant:   m.IsInformant(),
		InformantID: m.InformantID,
		Status:      m.Status,
		Preparation: m.Preparation,
		Knowledge:   m.Knowledge,
		MissionID:   m.MissionID,
		ReleaseAt:   m.ReleaseAt,
	}
}

// addClamped adds d to v and keeps the result in [0, 1]. Sums are rounded to
// 1e-9 so repeated small increments land on exact thresholds.
func addClamped(v, d float64) float64 {
	return clamp01(math.Round((v+d)*1e9) / 1e9)
}

func scaleClamped(v, f float64) float64 {
	return clamp01(math.Round(v*f*1e9) / 1e9)
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

// Tick advances member idx by one scheduling step. It returns the report an
// informant decided to send, if any, and whether the member is active (an
// imprisoned or dead member polls less often).
func (g *Gang) Tick(idx int, now time.Time) (*messaging.InformantReport, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if idx < 0 || idx >= len(g.members) {
		return nil, false
	}
	m := &g.members[idx]

	switch m.Status {
	case state.MemberArrested:
		if now.Before(m.ReleaseAt) {
			return nil, false
		}
		m.Status = state.MemberActive
		m.Preparation = 0
		m.MissionID = state.NoMission
		m.ReleaseAt = time.Time{}
		g.log.Debug("member released", "member", m.ID)
	case state.MemberDead, state.MemberExecuted:
		return nil, false
	}

	var report *messaging.InformantReport
	if ms := g.missionByID(m.MissionID); ms != nil && ms.InProgress && !ms.Disrupted {
		rf := g.cfg.RankFraction(m.Rank)
		m.Preparation = addClamped(m.Preparation, g.cfg.BasePreparationIncrement+g.cfg.RankPreparationBonus*rf)
		m.Knowledge = addClamped(m.Knowledge, g.cfg.InfoSpreadBaseValue+g.cfg.InfoSpreadRankFactor*rf)
		if m.IsInformant() {
			report = g.considerReport(m, ms, now)
		}
	}

	g.interact(idx)
	return report, true
}

// considerReport applies the informant dwell rule and builds a report once
// knowledge is high enough and the dwell has passed.
func (g *Gang) considerReport(m *Member, ms *Mission, now time.Time) *messaging.InformantReport {
	if m.firstKnowledgeAt.IsZero() && m.Knowledge > g.cfg.AgentInitialKnowledgeThreshold {
		m.firstKnowledgeAt = now
	}
	if m.firstKnowledgeAt.IsZero() || m.Knowledge <= g.cfg.AgentSuspicionThreshold {
		return nil
	}
	if now.Sub(m.firstKnowledgeAt) < g.cfg.MinReportDelay() {
		return nil
	}

	target := ms.Target
	if g.rng.Float64() < g.cfg.FalseInfoProbability {
		// Any target but the real one.
		target = state.Target((int(ms.Target) + 1 + g.rng.Intn(int(state.TargetCount)-1)) % int(state.TargetCount))
	}
	r := &messaging.InformantReport{
		InformantID:     m.InformantID,
		GangID:          g.id,
		SuspectedTarget: target,
		Confidence:      m.Knowledge,
		EstimatedAt:     now.Add(ms.PrepTime),
	}
	m.Knowledge = scaleClamped(m.Knowledge, g.cfg.AgentReportKnowledgeReset)
	g.log.Info("informant reporting", "informant", m.InformantID, "mission", ms.ID, "confidence", r.Confidence)
	return r
}

// interact exchanges knowledge between member idx and one other active
// member chosen uniformly at random.
func (g *Gang) interact(idx int) {
	peers := make([]int, 0, len(g.members))
	for i := range g.members {
		if i != idx && g.members[i].Status == state.MemberActive {
			peers = append(peers, i)
		}
	}
	if len(peers) == 0 {
		return
	}
	a := &g.members[idx]
	b := &g.members[peers[g.rng.Intn(len(peers))]]
	g.exchange(a, b)
	if a.IsInformant() {
		a.Knowledge = addClamped(a.Knowledge, g.cfg.AgentKnowledgeGain)
	}
}

// exchange applies the pairwise rule: knowledge flows down the ranks, and
// only occasionally up.
func (g *Gang) exchange(a, b *Member) {
	if a.Rank >= b.Rank {
		transfer := g.cfg.MemberKnowledgeTransferRate + g.cfg.MemberKnowledgeRankFactor*(a.Knowledge-b.Knowledge)
		if transfer > 0 {
			b.Knowledge = addClamped(b.Knowledge, transfer)
		}
		return
	}
	if g.rng.Float64() < g.cfg.MemberKnowledgeLuckyChance {
		transfer := g.cfg.MemberKnowledgeTransferRate * (b.Knowledge - a.Knowledge)
		if transfer > 0 {
			a.Knowledge = addClamped(a.Knowledge, transfer)
		}
	}
}
