// Package workflow defines the procurement request status graph.
//
// The graph is declared once as a fluo state machine definition; legality of a
// requested transition is checked by replaying the edge on a throwaway
// instance seeded with the request's current status. Edge-specific business
// rules (validation gate, approval coordination) live in the service layer,
// not in guards, so the machine stays a pure reachability check.
package workflow

import (
	"strings"

	"github.com/anggasct/fluo"
)

// Status is a procurement request lifecycle status.
type Status string

const (
	StatusDraft            Status = "DRAFT"
	StatusSubmitted        Status = "SUBMITTED"
	StatusResubmitted      Status = "RESUBMITTED"
	StatusInQueue          Status = "IN_QUEUE"
	StatusPendingApproval  Status = "PENDING_APPROVAL"
	StatusApproved         Status = "APPROVED"
	StatusOrdered          Status = "ORDERED"
	StatusCompleted        Status = "COMPLETED"
	StatusRevisionRequired Status = "REVISION_REQUIRED"
	StatusRejected         Status = "REJECTED"
	StatusCanceled         Status = "CANCELED"
)

var validStatuses = map[Status]bool{
	StatusDraft:            true,
	StatusSubmitted:        true,
	StatusResubmitted:      true,
	StatusInQueue:          true,
	StatusPendingApproval:  true,
	StatusApproved:         true,
	StatusOrdered:          true,
	StatusCompleted:        true,
	StatusRevisionRequired: true,
	StatusRejected:         true,
	StatusCanceled:         true,
}

// activeStatuses are statuses a resurrected request may return to.
var activeStatuses = map[Status]bool{
	StatusSubmitted:       true,
	StatusResubmitted:     true,
	StatusInQueue:         true,
	StatusPendingApproval: true,
	StatusApproved:        true,
	StatusOrdered:         true,
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool { return validStatuses[s] }

// IsTerminal reports whether no further transitions are possible.
// REJECTED and CANCELED are not terminal: they allow administrative
// resurrection.
func (s Status) IsTerminal() bool { return s == StatusCompleted }

// IsActive reports whether s is a valid resurrection target besides SUBMITTED.
func (s Status) IsActive() bool { return activeStatuses[s] }

func (s Status) String() string { return string(s) }

// EventFor returns the machine event name that drives a transition into the
// target status.
func EventFor(target Status) string {
	return "to_" + strings.ToLower(string(target))
}

func stateID(s Status) string { return strings.ToLower(string(s)) }

// definition is built once at package init; instances are cheap per check.
var definition = newRequestMachine()

// newRequestMachine declares the full status graph.
func newRequestMachine() fluo.MachineDefinition {
	b := fluo.NewMachine()

	// Pre-queue statuses share the same outgoing edges.
	b.State(stateID(StatusDraft)).Initial().
		To(stateID(StatusSubmitted)).On(EventFor(StatusSubmitted)).
		To(stateID(StatusInQueue)).On(EventFor(StatusInQueue)).
		To(stateID(StatusRejected)).On(EventFor(StatusRejected)).
		To(stateID(StatusRevisionRequired)).On(EventFor(StatusRevisionRequired)).
		To(stateID(StatusCanceled)).On(EventFor(StatusCanceled))

	b.State(stateID(StatusSubmitted)).
		To(stateID(StatusInQueue)).On(EventFor(StatusInQueue)).
		To(stateID(StatusRejected)).On(EventFor(StatusRejected)).
		To(stateID(StatusRevisionRequired)).On(EventFor(StatusRevisionRequired)).
		To(stateID(StatusCanceled)).On(EventFor(StatusCanceled))

	b.State(stateID(StatusResubmitted)).
		To(stateID(StatusInQueue)).On(EventFor(StatusInQueue)).
		To(stateID(StatusRejected)).On(EventFor(StatusRejected)).
		To(stateID(StatusRevisionRequired)).On(EventFor(StatusRevisionRequired)).
		To(stateID(StatusCanceled)).On(EventFor(StatusCanceled))

	b.State(stateID(StatusInQueue)).
		To(stateID(StatusPendingApproval)).On(EventFor(StatusPendingApproval)).
		To(stateID(StatusRejected)).On(EventFor(StatusRejected)).
		To(stateID(StatusRevisionRequired)).On(EventFor(StatusRevisionRequired))

	b.State(stateID(StatusPendingApproval)).
		To(stateID(StatusApproved)).On(EventFor(StatusApproved)).
		To(stateID(StatusRejected)).On(EventFor(StatusRejected)).
		To(stateID(StatusRevisionRequired)).On(EventFor(StatusRevisionRequired))

	// APPROVED -> PENDING_APPROVAL is the administrative approval-state reset
	// path; everything else follows the forward flow.
	b.State(stateID(StatusApproved)).
		To(stateID(StatusOrdered)).On(EventFor(StatusOrdered)).
		To(stateID(StatusPendingApproval)).On(EventFor(StatusPendingApproval)).
		To(stateID(StatusCanceled)).On(EventFor(StatusCanceled))

	b.State(stateID(StatusOrdered)).
		To(stateID(StatusCompleted)).On(EventFor(StatusCompleted))

	b.State(stateID(StatusRevisionRequired)).
		To(stateID(StatusResubmitted)).On(EventFor(StatusResubmitted)).
		To(stateID(StatusCanceled)).On(EventFor(StatusCanceled))

	// Resurrection to SUBMITTED; resurrection to the last active status is
	// brokered by the transition controller, which re-checks history.
	b.State(stateID(StatusRejected)).
		To(stateID(StatusSubmitted)).On(EventFor(StatusSubmitted))

	b.State(stateID(StatusCanceled)).
		To(stateID(StatusSubmitted)).On(EventFor(StatusSubmitted))

	b.State(stateID(StatusCompleted)).Final()

	return b.Build()
}

// CanTransition reports whether the graph permits from -> to.
func CanTransition(from, to Status) bool {
	if !from.IsValid() || !to.IsValid() || from == to {
		return false
	}

	m := definition.CreateInstance()
	if err := m.Start(); err != nil {
		return false
	}
	defer func() { _ = m.Stop() }()

	if err := m.SetState(stateID(from)); err != nil {
		return false
	}

	res := m.SendEvent(EventFor(to), nil)
	return res != nil && res.Processed && res.StateChanged && res.Error == nil &&
		res.CurrentState == stateID(to)
}
