// Package state provides the shared record every actor reads and writes:
// simulation status, global counters, informant statuses and gang snapshots.
package state

import (
	"errors"
	"fmt"
	"time"
)

// Status is the overall simulation status. Once it leaves StatusRunning it
// never changes again.
type Status uint8

const (
	StatusRunning Status = iota
	StatusPoliceWin
	StatusGangsWin
	StatusAgentsLost
	StatusShutdown
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusPoliceWin:
		return "police_win"
	case StatusGangsWin:
		return "gangs_win"
	case StatusAgentsLost:
		return "agents_lost"
	case StatusShutdown:
		return "shutdown"
	}
	return "unknown"
}

// Terminal reports whether s is an end state.
func (s Status) Terminal() bool { return s != StatusRunning }

// Target is the category of crime a mission aims at. Its ordinal doubles as
// a difficulty scale.
type Target uint8

const (
	TargetBankRobbery Target = iota
	TargetJewelryRobbery
	TargetDrugTrafficking
	TargetArtTheft
	TargetKidnapping
	TargetBlackmail
	TargetArmsTrafficking
	TargetCount
)

var targetNames = [TargetCount]string{
	"bank robbery",
	"jewelry robbery",
	"drug trafficking",
	"art theft",
	"kidnapping",
	"blackmail",
	"arms trafficking",
}

func (t Target) String() string {
	if t < TargetCount {
		return targetNames[t]
	}
	return "unknown"
}

// MemberStatus is a gang member's lifecycle state.
type MemberStatus uint8

const (
	MemberActive MemberStatus = iota
	MemberArrested
	MemberDead
	MemberExecuted
)

func (s MemberStatus) String() string {
	switch s {
	case MemberActive:
		return "active"
	case MemberArrested:
		return "arrested"
	case MemberDead:
		return "dead"
	case MemberExecuted:
		return "executed"
	}
	return "unknown"
}

// InformantStatus only ever advances from active toward a terminal value.
type InformantStatus uint8

const (
	InformantActive InformantStatus = iota
	InformantUncovered
	InformantDead
)

func (s InformantStatus) String() string {
	switch s {
	case InformantActive:
		return "active"
	case InformantUncovered:
		return "uncovered"
	case InformantDead:
		return "dead"
	}
	return "unknown"
}

// Counter names a global tally.
type Counter uint8

const (
	CounterThwarted Counter = iota
	CounterSuccessful
	CounterExecutedInformants
	counterCount
)

func (c Counter) String() string {
	switch c {
	case CounterThwarted:
		return "thwarted_plans"
	case CounterSuccessful:
		return "successful_plans"
	case CounterExecutedInformants:
		return "executed_informants"
	}
	return "unknown"
}

// NoMission marks a member without an assignment and an empty mission slot.
const NoMission = -1

// NoInformant marks a member that is not working for the police.
const NoInformant = -1

// MemberView is the published copy of one gang member.
type MemberView struct {
	ID          int          `json:"id"`
	Rank        int          `json:"rank"`
	Informant   bool         `json:"informant"`
	InformantID int          `json:"informant_id"`
	Status      MemberStatus `json:"status"`
	Preparation float64      `json:"preparation"`
	Knowledge   float64      `json:"knowledge"`
	MissionID   int          `json:"mission_id"`
	ReleaseAt   time.Time    `json:"release_at,omitempty"`
}

// MissionView is the published copy of one occupied mission slot.
type MissionView struct {
	ID         int       `json:"id"`
	Target     Target    `json:"target"`
	Required   float64   `json:"required_preparation"`
	Assigned   []int     `json:"assigned"`
	InProgress bool      `json:"in_progress"`
	Disrupted  bool      `json:"disrupted"`
	StartedAt  time.Time `json:"started_at"`
}

// GangView is the published copy of a gang. Each gang actor is the sole
// publisher for its own id; the last publish wins.
type GangView struct {
	ID             int           `json:"id"`
	Members        []MemberView  `json:"members"`
	Missions       []MissionView `json:"missions"`
	ActiveMissions int           `json:"active_missions"`
	Successful     int           `json:"successful_missions"`
	Failed         int           `json:"failed_missions"`
	PublishedAt    time.Time     `json:"published_at"`
}

func (v GangView) clone() GangView {
	out := v
	out.Members = append([]MemberView(nil), v.Members...)
	out.Missions = make([]MissionView, len(v.Missions))
	for i, m := range v.Missions {
		m.Assigned = append([]int(nil), m.Assigned...)
		out.Missions[i] = m
	}
	return out
}

// Snapshot is a consistent copy of the whole store taken under its lock.
type Snapshot struct {
	Status             Status            `json:"status"`
	GangCount          int               `json:"gang_count"`
	Thwarted           int               `json:"thwarted_plans"`
	Successful         int               `json:"successful_plans"`
	ExecutedInformants int               `json:"executed_informants"`
	LossThreshold      int               `json:"loss_threshold"`
	Informants         []InformantStatus `json:"informants"`
	Gangs              []GangView        `json:"gangs"`
	TakenAt            time.Time         `json:"taken_at"`
}

// Thresholds are the win/loss counts the end-condition check compares
// counters against.
type Thresholds struct {
	Thwarted   int
	Successful int
	Executed   int
}

// ── Text encoding ──────────────────────────────────────────────────────────
// Enums travel as their names in JSON so API clients never see ordinals.

var errUnknownName = errors.New("unknown name")

func parseName[T ~uint8](b []byte, limit T, name func(T) string) (T, error) {
	for v := T(0); v < limit; v++ {
		if name(v) == string(b) {
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w %q", errUnknownName, b)
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) (err error) {
	*s, err = parseName(b, StatusShutdown+1, Status.String)
	return err
}

func (t Target) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Target) UnmarshalText(b []byte) (err error) {
	*t, err = parseName(b, TargetCount, Target.String)
	return err
}

func (s MemberStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *MemberStatus) UnmarshalText(b []byte) (err error) {
	*s, err = parseName(b, MemberExecuted+1, MemberStatus.String)
	return err
}

func (s InformantStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *InformantStatus) UnmarshalText(b []byte) (err error) {
	*s, err = parseName(b, InformantDead+1, InformantStatus.String)
	return err
}
