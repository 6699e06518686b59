package model

import "fmt"

// JobStatus represents the lifecycle state of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusRunning    JobStatus = "running"
	JobStatusCancelling JobStatus = "cancelling"
	JobStatusCancelled  JobStatus = "cancelled"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// validTransitions defines the allowed edges of the job state machine.
// A failed job may return to pending only through the retry path, which
// is bounded by the job's retry budget. Cancellation normally passes
// through cancelling; the direct edge from running covers a cancel
// acknowledged before the cancelling mark reached the store.
var validTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusRunning},
	JobStatusRunning:    {JobStatusCompleted, JobStatusFailed, JobStatusCancelling, JobStatusCancelled},
	JobStatusCancelling: {JobStatusCancelled},
	JobStatusFailed:     {JobStatusPending},
	JobStatusCompleted:  {},
	JobStatusCancelled:  {},
}

// CanTransitionTo reports whether moving from s to target is a legal edge.
func (s JobStatus) CanTransitionTo(target JobStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// ValidateTransition returns an error describing an illegal state change.
func ValidateTransition(from, to JobStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("invalid job status transition: %s -> %s", from, to)
	}
	return nil
}

// IsTerminal reports whether no further transitions are possible from s.
// A failed job with retries left is not terminal; callers that know the
// retry budget is exhausted treat failed as final.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusCancelled
}

// Valid reports whether s is a known job status.
func (s JobStatus) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}
