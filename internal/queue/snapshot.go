package queue

import (
	"time"

	"cruise/internal/integration"
)

// RequestSnapshot is one queued project as seen at snapshot time.
type RequestSnapshot struct {
	ProjectName string                     `json:"project"`
	Activity    integration.Activity       `json:"activity"`
	Priority    int                        `json:"priority"`
	Condition   integration.BuildCondition `json:"condition"`
	Source      string                     `json:"source,omitempty"`
	EnqueuedAt  time.Time                  `json:"enqueued_at"`
}

// Snapshot is a read-only copy of one queue.
type Snapshot struct {
	QueueName string            `json:"name"`
	Requests  []RequestSnapshot `json:"requests"`
	IsEmpty   bool              `json:"is_empty"`
}

// SetSnapshot aggregates every queue in registration order.
type SetSnapshot struct {
	Queues []Snapshot `json:"queues"`
}

// FindByName returns the named queue's snapshot, or nil.
func (s SetSnapshot) FindByName(name string) *Snapshot {
	for i := range s.Queues {
		if s.Queues[i].QueueName == name {
			return &s.Queues[i]
		}
	}
	return nil
}

func snapshotItem(it *Item) RequestSnapshot {
	rs := RequestSnapshot{
		ProjectName: it.Project.Name(),
		Activity:    it.Project.Activity(),
		Priority:    it.Priority,
		EnqueuedAt:  it.EnqueuedAt,
	}
	if it.Request != nil {
		rs.Condition = it.Request.Condition
		rs.Source = it.Request.Source
	}
	return rs
}
