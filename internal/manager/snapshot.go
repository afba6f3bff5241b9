package manager

import (
	"cruise/internal/integrator"
	"cruise/internal/queue"
)

// ServerSnapshot is GetCruiseServerSnapshot's result. Both parts are
// non-nil even with no projects configured.
type ServerSnapshot struct {
	ProjectStatuses []integrator.Status `json:"projects"`
	Queues          queue.SetSnapshot   `json:"queue_set"`
}

// GetCruiseServerSnapshot lists projects in configuration order plus every
// queue in registration order.
func (m *Manager) GetCruiseServerSnapshot() ServerSnapshot {
	m.mu.RLock()
	integs := make([]*integrator.Integrator, 0, len(m.projects))
	for _, p := range m.projects {
		integs = append(integs, p.integ)
	}
	m.mu.RUnlock()

	s := ServerSnapshot{
		ProjectStatuses: make([]integrator.Status, 0, len(integs)),
		Queues:          m.queues.Snapshot(),
	}
	for _, integ := range integs {
		s.ProjectStatuses = append(s.ProjectStatuses, integ.Status())
	}
	return s
}

// FindProject returns the named project's status from the snapshot, or nil.
func (s ServerSnapshot) FindProject(name string) *integrator.Status {
	for i := range s.ProjectStatuses {
		if s.ProjectStatuses[i].Name == name {
			return &s.ProjectStatuses[i]
		}
	}
	return nil
}
