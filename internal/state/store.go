package state

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/talgya/undercover/internal/config"
)

var (
	// ErrReleased is returned by every operation after Release. Actors treat
	// it as fatal.
	ErrReleased = errors.New("shared state released")

	ErrUnknownGang      = errors.New("unknown gang")
	ErrUnknownInformant = errors.New("unknown informant")
	ErrInformantsFull   = errors.New("informant table full")
)

// Store is the single cross-actor record. One mutex guards all of it; every
// critical section is a record copy or a counter bump.
type Store struct {
	mu sync.Mutex

	status        Status
	gangCount     int
	counters      [counterCount]int
	lossThreshold int
	informants    []InformantStatus
	gangs         [config.MaxGangs]GangView

	events []Event
	seq    uint64

	released bool
	now      func() time.Time
}

// New initializes a zeroed store in the running state.
func New(gangCount int) (*Store, error) {
	if gangCount < 1 || gangCount > config.MaxGangs {
		return nil, fmt.Errorf("gang count %d out of range [1, %d]", gangCount, config.MaxGangs)
	}
	s := &Store{
		status:     StatusRunning,
		gangCount:  gangCount,
		informants: make([]InformantStatus, 0, config.MaxInformants),
		now:        time.Now,
	}
	for i := range s.gangs[:gangCount] {
		s.gangs[i].ID = i
	}
	return s, nil
}

// GangCount returns the number of gangs the store was provisioned for.
func (s *Store) GangCount() int { return s.gangCount }

// PublishGang replaces the stored copy of a gang.
func (s *Store) PublishGang(v GangView) error {
	if v.ID < 0 || v.ID >= s.gangCount {
		return fmt.Errorf("%w: %d", ErrUnknownGang, v.ID)
	}
	v = v.clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return ErrReleased
	}
	v.PublishedAt = s.now()
	s.gangs[v.ID] = v
	return nil
}

// SnapshotGang returns a copy of the last published state of a gang.
func (s *Store) SnapshotGang(id int) (GangView, error) {
	if id < 0 || id >= s.gangCount {
		return GangView{}, fmt.Errorf("%w: %d", ErrUnknownGang, id)
	}
	s.mu.Lock()
	v := s.gangs[id]
	released := s.released
	s.mu.Unlock()
	if released {
		return GangView{}, ErrReleased
	}
	return v.clone(), nil
}

// RegisterInformant allocates the next informant id. Ids are never reused.
func (s *Store) RegisterInformant() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return 0, ErrReleased
	}
	if len(s.informants) >= config.MaxInformants {
		return 0, ErrInformantsFull
	}
	s.informants = append(s.informants, InformantActive)
	return len(s.informants) - 1, nil
}

// SetInformantStatus moves an informant toward a terminal status. A terminal
// status is never overwritten; the call reports whether anything changed.
func (s *Store) SetInformantStatus(id int, st InformantStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return false, ErrReleased
	}
	if id < 0 || id >= len(s.informants) {
		return false, fmt.Errorf("%w: %d", ErrUnknownInformant, id)
	}
	if s.informants[id] != InformantActive || st == InformantActive {
		return false, nil
	}
	s.informants[id] = st
	return true, nil
}

// InformantStatus returns the status of one informant.
func (s *Store) InformantStatus(id int) (InformantStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return 0, ErrReleased
	}
	if id < 0 || id >= len(s.informants) {
		return 0, fmt.Errorf("%w: %d", ErrUnknownInformant, id)
	}
	return s.informants[id], nil
}

// InformantCount returns how many informants were ever registered.
func (s *Store) InformantCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.informants)
}

// Increment bumps a counter and returns its new value.
func (s *Store) Increment(c Counter) (int, error) {
	if c >= counterCount {
		return 0, fmt.Errorf("unknown counter %d", c)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return 0, ErrReleased
	}
	s.counters[c]++
	return s.counters[c], nil
}

// Count reads a counter.
func (s *Store) Count(c Counter) (int, error) {
	if c >= counterCount {
		return 0, fmt.Errorf("unknown counter %d", c)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return 0, ErrReleased
	}
	return s.counters[c], nil
}

// SetLossThreshold records the informant-loss threshold actually in force.
func (s *Store) SetLossThreshold(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return ErrReleased
	}
	s.lossThreshold = n
	return nil
}

// Status reads the simulation status.
func (s *Store) Status() (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return s.status, ErrReleased
	}
	return s.status, nil
}

// TryTransition sets the status to `to` only if it currently equals `from`
// and is still running. It reports whether the write happened.
func (s *Store) TryTransition(from, to Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return false, ErrReleased
	}
	return s.transitionLocked(from, to), nil
}

func (s *Store) transitionLocked(from, to Status) bool {
	if s.status != from || s.status.Terminal() || to == s.status {
		return false
	}
	s.status = to
	return true
}

// EvaluateEnd compares the counters against th and, while still running,
// moves to the first satisfied terminal status. The compare and the write
// happen in one critical section, so only one caller ever wins.
func (s *Store) EvaluateEnd(th Thresholds) (Status, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return s.status, false, ErrReleased
	}
	if s.status.Terminal() {
		return s.status, false, nil
	}

	next := StatusRunning
	switch {
	case s.counters[CounterThwarted] >= th.Thwarted:
		next = StatusPoliceWin
	case s.counters[CounterSuccessful] >= th.Successful:
		next = StatusGangsWin
	case s.counters[CounterExecutedInformants] >= th.Executed:
		next = StatusAgentsLost
	}
	if next == StatusRunning {
		return s.status, false, nil
	}
	s.transitionLocked(StatusRunning, next)
	return s.status, true, nil
}

// Snapshot copies the whole store under the lock.
func (s *Store) Snapshot() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return Snapshot{}, ErrReleased
	}
	snap := Snapshot{
		Status:             s.status,
		GangCount:          s.gangCount,
		Thwarted:           s.counters[CounterThwarted],
		Successful:         s.counters[CounterSuccessful],
		ExecutedInformants: s.counters[CounterExecutedInformants],
		LossThreshold:      s.lossThreshold,
		Informants:         append([]InformantStatus(nil), s.informants...),
		Gangs:              make([]GangView, s.gangCount),
		TakenAt:            s.now(),
	}
	for i := range snap.Gangs {
		snap.Gangs[i] = s.gangs[i].clone()
	}
	return snap, nil
}

// Release marks the store unusable. It reports whether this call did the
// release, so repeated calls are harmless.
func (s *Store) Release() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return false
	}
	s.released = true
	s.events = nil
	for i := range s.gangs {
		s.gangs[i] = GangView{}
	}
	return true
}

// Released reports whether Release has been called.
func (s *Store) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}
