package observer

import (
	"math"
)

// Assessment is a deterministic read of who is closer to winning.
type Assessment struct {
	Police  float64 // thwarted / police win count
	Gangs   float64 // successful / gang win count
	Losses  float64 // executed informants / loss threshold
	Leading string  // "police", "gangs", "even"
	Level   string  // "DECIDED", "CRITICAL", "TENSE", "CALM"
}

// Triage computes an Assessment from an observation.
func Triage(obs *Observation) Assessment {
	st := obs.Status
	a := Assessment{
		Police: ratio(st.Thwarted, st.PoliceWinAt),
		Gangs:  ratio(st.Successful, st.GangsWinAt),
		Losses: ratio(st.ExecutedInformants, st.LossThreshold),
	}

	// Losing informants counts toward the gangs' side.
	gangSide := math.Max(a.Gangs, a.Losses)
	switch {
	case a.Police > gangSide:
		a.Leading = "police"
	case gangSide > a.Police:
		a.Leading = "gangs"
	default:
		a.Leading = "even"
	}

	top := math.Max(a.Police, gangSide)
	switch {
	case st.Status != "running":
		a.Level = "DECIDED"
	case top >= 0.8:
		a.Level = "CRITICAL"
	case top >= 0.5:
		a.Level = "TENSE"
	default:
		a.Level = "CALM"
	}
	return a
}

func ratio(n, of int) float64 {
	if of <= 0 {
		return 0
	}
	return math.Min(1, float64(n)/float64(of))
}
