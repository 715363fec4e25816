// Package flow tracks a visitor's journey from search to booking.
//
// Phase graph:
//
//	SEARCHING ──► AWAITING_RESULTS ──► BROWSING ──► QUOTING ──► BOOKED
//	    ▲                │                 ▲           │
//	    └────────────────┘                 └───────────┤ (go back)
//	    ▲                                              │
//	    └──────────────────────────────────────────────┘ (abandon)
//
// BOOKED is terminal. Starting a new search discards the state from any
// phase, so it is not a transition.
package flow

import "fmt"

// Phase is one step of the booking flow.
type Phase string

const (
	PhaseSearching       Phase = "SEARCHING"
	PhaseAwaitingResults Phase = "AWAITING_RESULTS"
	PhaseBrowsing        Phase = "BROWSING"
	PhaseQuoting         Phase = "QUOTING"
	PhaseBooked          Phase = "BOOKED"
)

// validTransitions lists every allowed (from → to) pair.
var validTransitions = map[Phase][]Phase{
	PhaseSearching:       {PhaseAwaitingResults},
	PhaseAwaitingResults: {PhaseBrowsing, PhaseSearching},
	PhaseBrowsing:        {PhaseQuoting},
	PhaseQuoting:         {PhaseBrowsing, PhaseBooked, PhaseSearching},
	// BOOKED is terminal
}

// ParsePhase converts a raw string to a Phase, returning an error for
// unknown values.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	switch p {
	case PhaseSearching, PhaseAwaitingResults, PhaseBrowsing, PhaseQuoting, PhaseBooked:
		return p, nil
	}
	return "", fmt.Errorf("unknown flow phase %q", s)
}

// IsTransitionAllowed returns true when moving from → to is permitted.
func IsTransitionAllowed(from, to Phase) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, p := range allowed {
		if p == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves p.
func IsTerminal(p Phase) bool {
	_, ok := validTransitions[p]
	return !ok
}
