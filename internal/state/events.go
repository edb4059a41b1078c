package state

import (
	"fmt"
	"time"
)

const maxEvents = 1000

// Event is a notable occurrence kept for observers and the journal.
type Event struct {
	Seq         uint64    `json:"seq"`
	Time        time.Time `json:"time"`
	Category    string    `json:"category"` // "mission", "arrest", "informant", "report", "status"
	GangID      int       `json:"gang_id"`  // -1 when not tied to a gang
	Description string    `json:"description"`
}

// Record appends an event to the bounded ring. Old events fall off the front.
func (s *Store) Record(category string, gangID int, format string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return ErrReleased
	}
	s.seq++
	s.events = append(s.events, Event{
		Seq:         s.seq,
		Time:        s.now(),
		Category:    category,
		GangID:      gangID,
		Description: fmt.Sprintf(format, args...),
	})
	if len(s.events) > maxEvents {
		s.events = append(s.events[:0:0], s.events[len(s.events)-maxEvents:]...)
	}
	return nil
}

// EventsSince returns events with a sequence number above seq, oldest first.
func (s *Store) EventsSince(seq uint64) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil, ErrReleased
	}
	i := len(s.events)
	for i > 0 && s.events[i-1].Seq > seq {
		i--
	}
	return append([]Event(nil), s.events[i:]...), nil
}

// RecentEvents returns up to limit of the newest events, newest first.
func (s *Store) RecentEvents(limit int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil, ErrReleased
	}
	if limit <= 0 || limit > len(s.events) {
		limit = len(s.events)
	}
	out := make([]Event, 0, limit)
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.events[i])
	}
	return out, nil
}
