package run

import "time"

// activeStatuses are the non-terminal statuses a crashed process can leave behind.
var activeStatuses = []Status{
	StatusQueued,
	StatusResearching,
	StatusDrafting,
	StatusImageGeneration,
	StatusVideoGeneration,
}

// ActiveStatuses returns the non-terminal statuses in pipeline order.
func ActiveStatuses() []Status {
	return append([]Status(nil), activeStatuses...)
}

// IsTerminal reports whether s ends a pipeline invocation.
func IsTerminal(s Status) bool {
	switch s {
	case StatusReviewReady, StatusPosted, StatusFailed:
		return true
	default:
		return false
	}
}

// IsSuccess reports whether s counts as a successful run for analytics.
func IsSuccess(s Status) bool {
	return s == StatusPosted || s == StatusReviewReady
}

// ApplyStatus sets status on r and maintains the timestamp invariants:
// StartedAt is set once, the first time the run enters researching;
// FinishedAt is present exactly while the status is terminal. A retry that
// moves a finished run back into the pipeline clears FinishedAt so the next
// terminal transition records a fresh finish time.
func (r *Run) ApplyStatus(s Status, now time.Time) {
	r.Status = s
	if s == StatusResearching && r.StartedAt == nil {
		t := now
		r.StartedAt = &t
	}
	switch {
	case IsTerminal(s) && r.FinishedAt == nil:
		t := now
		r.FinishedAt = &t
	case !IsTerminal(s):
		r.FinishedAt = nil
	}
}

// Runtime returns FinishedAt - StartedAt, and false when either is unset.
func (r *Run) Runtime() (time.Duration, bool) {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0, false
	}
	return r.FinishedAt.Sub(*r.StartedAt), true
}
