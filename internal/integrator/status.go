package integrator

import (
	"time"

	"cruise/internal/integration"
	"cruise/internal/trigger"
)

// Status is the ProjectStatus reported in server snapshots.
type Status struct {
	Name          string                      `json:"name"`
	Queue         string                      `json:"queue"`
	QueuePriority int                         `json:"queue_priority"`
	State         integration.IntegratorState `json:"state"`
	Activity      integration.Activity        `json:"activity"`
	// NextBuild is zero when the trigger tree never fires on its own.
	NextBuild      time.Time  `json:"next_build,omitempty"`
	PendingRequest bool       `json:"pending_request"`
	LastBuild      *LastBuild `json:"last_build,omitempty"`
}

// Status never waits on a running build.
func (i *Integrator) Status() Status {
	s := Status{
		Name:           i.name,
		Queue:          i.queue.Name(),
		QueuePriority:  i.priority,
		State:          i.State(),
		Activity:       i.Activity(),
		PendingRequest: i.latch.HasPendingRequests(),
		LastBuild:      i.Last(),
	}
	if next := i.trigger.NextBuild(); !next.Equal(trigger.Never) {
		s.NextBuild = next
	}
	return s
}
