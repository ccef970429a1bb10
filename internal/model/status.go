package model

import "fmt"

const (
	StatusPending     = "pending"
	StatusInFlight    = "in_flight"
	StatusSucceeded   = "succeeded"
	StatusFailed      = "failed"
	StatusQuarantined = "quarantined"
)

var allowedTransitions = map[string]map[string]bool{
	"": {
		StatusPending: true,
	},
	StatusPending: {
		StatusPending:  true,
		StatusInFlight: true,
	},
	StatusInFlight: {
		StatusSucceeded:   true,
		StatusFailed:      true,
		StatusQuarantined: true,
		StatusPending:     true, // attempt abandoned on shutdown
	},
	StatusFailed: {
		StatusFailed:      true,
		StatusInFlight:    true,
		StatusQuarantined: true,
		StatusPending:     true,
	},
	StatusSucceeded: {
		StatusSucceeded: true,
	},
	StatusQuarantined: {
		StatusQuarantined: true,
		StatusPending:     true, // explicit retry-quarantined flow
	},
}

func IsKnownStatus(status string) bool {
	_, ok := allowedTransitions[status]
	return ok
}

// IsTerminal reports whether status is durable for the rest of a run.
func IsTerminal(status string) bool {
	return status == StatusSucceeded || status == StatusQuarantined
}

func CanTransition(from, to string) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

func TransitionJobStatus(job *Job, toStatus string, reason string) error {
	from := job.Status
	if !CanTransition(from, toStatus) {
		return fmt.Errorf("invalid job status transition: %q -> %q (job_id=%s)", from, toStatus, job.ID)
	}
	job.Status = toStatus
	job.Reason = reason
	return nil
}
