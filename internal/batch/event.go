package batch

type EventKind string

const (
	EventStarted     EventKind = "started"
	EventSucceeded   EventKind = "succeeded"
	EventRetrying    EventKind = "retrying"
	EventQuarantined EventKind = "quarantined"
	EventInterrupted EventKind = "interrupted"
)

// Event reports one job transition together with run totals at that moment.
type Event struct {
	Kind    EventKind
	Worker  int
	JobID   string
	Attempt int
	Err     error

	Discovered  int
	Succeeded   int
	Quarantined int
	InFlight    int
	Waiting     int
}
