package indexer

// transitions is the authoritative set of legal lifecycle moves. The
// dispatcher drives the submission edge, the verification poller drives the
// rest, and resubmit re-enters at pending from any non-indexed state.
var transitions = map[Status][]Status{
	StatusPending:    {StatusSubmitted, StatusIndexed},
	StatusSubmitted:  {StatusIndexing, StatusIndexed, StatusNotIndexed, StatusRecredited},
	StatusIndexing:   {StatusVerifying, StatusIndexed, StatusNotIndexed, StatusRecredited},
	StatusVerifying:  {StatusIndexed, StatusNotIndexed, StatusRecredited},
	StatusNotIndexed: {StatusVerifying, StatusIndexed, StatusRecredited},
	StatusIndexed:    {},
	StatusRecredited: {},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a status ends background processing. Indexed is
// fully terminal; recredited is terminal unless the user resubmits.
func (s Status) Terminal() bool {
	return s == StatusIndexed || s == StatusRecredited
}

// Verifiable reports whether the verification poller should look at an
// address in this status.
func (s Status) Verifiable() bool {
	switch s {
	case StatusSubmitted, StatusIndexing, StatusVerifying, StatusNotIndexed:
		return true
	default:
		return false
	}
}

// Resubmittable reports whether a user resubmit may reset the address to
// pending. Indexed addresses are done and stay done.
func (s Status) Resubmittable() bool {
	return s != StatusIndexed
}

// RecreditEligible lists the statuses the timeout sweep may move to
// recredited once the verification window has elapsed.
func (s Status) RecreditEligible() bool {
	switch s {
	case StatusSubmitted, StatusIndexing, StatusVerifying, StatusNotIndexed:
		return true
	default:
		return false
	}
}
