package queue

import (
	"slices"
	"sync"

	logx "cruise/pkg/logx"
)

// Set is the IntegrationQueueSet: queues by name, in registration order.
type Set struct {
	log logx.Logger

	mu     sync.RWMutex
	queues map[string]*Queue
	order  []string
}

func NewSet(log logx.Logger) *Set {
	return &Set{log: log, queues: map[string]*Queue{}}
}

// Add returns the queue registered under name, creating it from cfg if
// absent. An existing queue keeps its original configuration.
func (s *Set) Add(name string, cfg Config) *Queue {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.queues[name]; ok {
		return q
	}
	cfg.Name = name
	q := New(cfg, s.log)
	s.queues[name] = q
	s.order = append(s.order, name)
	return q
}

// Get returns nil for unknown names.
func (s *Set) Get(name string) *Queue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queues[name]
}

func (s *Set) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order)
}

// Remove drops the named queue, cancelling whatever is still pending in it.
func (s *Set) Remove(name string) bool {
	s.mu.Lock()
	q, ok := s.queues[name]
	if ok {
		delete(s.queues, name)
		s.order = slices.DeleteFunc(s.order, func(n string) bool { return n == name })
	}
	s.mu.Unlock()
	if ok {
		q.CancelAll()
	}
	return ok
}

// Snapshot is GetIntegrationQueueSnapshot.
func (s *Set) Snapshot() SetSnapshot {
	s.mu.RLock()
	queues := make([]*Queue, 0, len(s.order))
	for _, n := range s.order {
		queues = append(queues, s.queues[n])
	}
	s.mu.RUnlock()

	out := SetSnapshot{Queues: make([]Snapshot, 0, len(queues))}
	for _, q := range queues {
		out.Queues = append(out.Queues, q.Snapshot())
	}
	return out
}
