// Package messaging carries typed messages between actors. Messages of one
// kind are delivered in send order to whichever consumer polls that kind;
// delivery is at most once.
package messaging

import (
	"time"

	"github.com/talgya/undercover/internal/state"
)

// Kind selects the queue a message travels on.
type Kind uint8

const (
	KindInformantReport Kind = iota + 1
	KindArrestOrder
	KindStatusUpdate
)

func (k Kind) String() string {
	switch k {
	case KindInformantReport:
		return "informant_report"
	case KindArrestOrder:
		return "arrest_order"
	case KindStatusUpdate:
		return "status_update"
	}
	return "unknown"
}

// AnyTarget addresses a kind without a specific recipient.
const AnyTarget = -1

// Address is a (kind, target) pair. Arrest orders are targeted at a gang id;
// the other kinds use AnyTarget.
type Address struct {
	Kind   Kind
	Target int
}

// Message is implemented by every payload type.
type Message interface {
	Address() Address
}

// InformantReport is sent by an embedded informant to the police.
type InformantReport struct {
	InformantID     int
	GangID          int
	SuspectedTarget state.Target
	Confidence      float64
	EstimatedAt     time.Time
}

func (InformantReport) Address() Address {
	return Address{Kind: KindInformantReport, Target: AnyTarget}
}

// ArrestOrder is sent by the police to one gang.
type ArrestOrder struct {
	GangID   int
	Duration time.Duration
}

func (o ArrestOrder) Address() Address {
	return Address{Kind: KindArrestOrder, Target: o.GangID}
}

// StatusUpdate announces a simulation status change.
type StatusUpdate struct {
	Status state.Status
}

func (StatusUpdate) Address() Address {
	return Address{Kind: KindStatusUpdate, Target: AnyTarget}
}

// ReportsFor addresses informant reports.
func ReportsFor() Address { return InformantReport{}.Address() }

// OrdersFor addresses arrest orders for one gang.
func OrdersFor(gangID int) Address { return ArrestOrder{GangID: gangID}.Address() }

// StatusUpdates addresses status broadcasts.
func StatusUpdates() Address { return StatusUpdate{}.Address() }
