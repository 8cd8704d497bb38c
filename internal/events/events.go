// Package events publishes job lifecycle notifications for external
// consumers (dashboards, audit feeds). Publishing is fire-and-forget and
// never influences job state.
package events

type Event string

const (
	JobCreated   Event = "events.job.created"
	JobCompleted Event = "events.job.completed"
	JobFailed    Event = "events.job.failed"
)

type Publisher interface {
	Publish(event Event, jobID string) error
	Shutdown()
}

// Noop is used when no broker is configured.
type Noop struct{}

func (Noop) Publish(Event, string) error { return nil }
func (Noop) Shutdown()                   {}
