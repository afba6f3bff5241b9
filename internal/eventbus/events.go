package eventbus

import "time"

// Event types published by the integrators.
const (
	TypeIntegratorState = "integrator.state"
	TypeBuildRequested  = "build.requested"
	TypeQueueEntered    = "queue.entered"
	TypeQueueExited     = "queue.exited"
	TypeBuildStarted    = "build.started"
	TypeBuildCompleted  = "build.completed"
)

// ProjectEvent is the Data of every event above. Fields that don't apply to
// a given type are left empty.
type ProjectEvent struct {
	Project   string        `json:"project"`
	Queue     string        `json:"queue,omitempty"`
	State     string        `json:"state,omitempty"`
	Condition string        `json:"condition,omitempty"`
	Source    string        `json:"source,omitempty"`
	Status    string        `json:"status,omitempty"`
	Label     string        `json:"label,omitempty"`
	Built     bool          `json:"built,omitempty"`
	Cancelled bool          `json:"cancelled,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	Err       string        `json:"err,omitempty"`
}
