// Package queue serializes builds of projects that share a named queue.
//
// A Queue holds at most one active item and an ordered pending list (lower
// QueuePriority first, FIFO on ties). Notifier callbacks and admission
// signals are delivered after the queue lock is released.
package queue

import (
	"slices"
	"sync"

	"cruise/internal/integration"
	logx "cruise/pkg/logx"
)

// EnqueueResult says what Enqueue did with an item.
type EnqueueResult int

const (
	// Queued means the item entered the queue.
	Queued EnqueueResult = iota
	// Replaced means the item entered and displaced the project's pending item.
	Replaced
	// Dropped means the project already had a pending item that was kept.
	Dropped
)

func (r EnqueueResult) String() string {
	switch r {
	case Queued:
		return "Queued"
	case Replaced:
		return "Replaced"
	default:
		return "Dropped"
	}
}

// Queue is a NamedIntegrationQueue.
type Queue struct {
	cfg Config
	log logx.Logger

	mu      sync.Mutex
	active  *Item
	pending []*Item
}

func New(cfg Config, log logx.Logger) *Queue {
	return &Queue{cfg: cfg, log: log.With(logx.String("queue", cfg.Name))}
}

func (q *Queue) Name() string { return q.cfg.Name }

func (q *Queue) Config() Config { return q.cfg }

// Enqueue inserts item and admits the head if the queue is idle.
func (q *Queue) Enqueue(item *Item) EnqueueResult {
	var calls []func()

	q.mu.Lock()
	result := Queued
	if idx := q.pendingIndexLocked(item.Project.Name()); idx >= 0 {
		existing := q.pending[idx]
		if item.Request == nil || item.Request.Condition != integration.ForceBuild || q.cfg.Duplicates == UseFirst {
			q.mu.Unlock()
			q.log.Debug("duplicate request dropped",
				logx.Project(item.Project.Name()),
				logx.Stringer("mode", q.cfg.Duplicates),
			)
			return Dropped
		}
		result = Replaced
		switch q.cfg.Duplicates {
		case ApplyForceBuildsReplace:
			q.pending[idx] = item
		case ApplyForceBuildsReAddTop, ApplyForceBuildsImmediately:
			q.pending = slices.Delete(q.pending, idx, idx+1)
			q.pending = slices.Insert(q.pending, 0, item)
		default:
			q.pending = slices.Delete(q.pending, idx, idx+1)
			q.insertLocked(item)
		}
		calls = append(calls, existing.exiting(true))
	} else {
		q.insertLocked(item)
	}
	if f := item.entering(); f != nil {
		calls = append(calls, f)
	}
	q.promoteLocked()
	q.mu.Unlock()

	for _, f := range calls {
		f()
	}
	return result
}

// insertLocked places item after every pending item with priority <= its own.
func (q *Queue) insertLocked(item *Item) {
	i := len(q.pending)
	for i > 0 && q.pending[i-1].Priority > item.Priority {
		i--
	}
	q.pending = slices.Insert(q.pending, i, item)
}

func (q *Queue) promoteLocked() {
	if q.active != nil || len(q.pending) == 0 {
		return
	}
	q.active = q.pending[0]
	q.pending = slices.Delete(q.pending, 0, 1)
	q.active.admit()
}

func (q *Queue) pendingIndexLocked(project string) int {
	for i, it := range q.pending {
		if it.Project.Name() == project {
			return i
		}
	}
	return -1
}

// Active returns the item currently allowed to build.
func (q *Queue) Active() *Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// Len counts the active item and the pending ones.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.pending)
	if q.active != nil {
		n++
	}
	return n
}

// Remove takes item out of the queue, active or pending, and reports whether
// it was there. Removing the active item admits the next one.
func (q *Queue) Remove(item *Item, cancelled bool) bool {
	q.mu.Lock()
	switch {
	case q.active == item:
		q.active = nil
		q.promoteLocked()
	default:
		idx := slices.Index(q.pending, item)
		if idx < 0 {
			q.mu.Unlock()
			return false
		}
		q.pending = slices.Delete(q.pending, idx, idx+1)
	}
	q.mu.Unlock()

	item.exiting(cancelled)()
	return true
}

// Complete releases the active slot held by item.
func (q *Queue) Complete(item *Item) bool { return q.Remove(item, false) }

// Cancel removes the project's pending item. The active item is untouched.
func (q *Queue) Cancel(project string) bool {
	q.mu.Lock()
	idx := q.pendingIndexLocked(project)
	if idx < 0 {
		q.mu.Unlock()
		return false
	}
	item := q.pending[idx]
	q.pending = slices.Delete(q.pending, idx, idx+1)
	q.mu.Unlock()

	item.exiting(true)()
	return true
}

// CancelAll removes every pending item and returns how many there were.
func (q *Queue) CancelAll() int {
	q.mu.Lock()
	items := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, it := range items {
		it.exiting(true)()
	}
	return len(items)
}

// Snapshot copies the queue: the active item first, then pending in order.
func (q *Queue) Snapshot() Snapshot {
	q.mu.Lock()
	items := make([]*Item, 0, len(q.pending)+1)
	if q.active != nil {
		items = append(items, q.active)
	}
	items = append(items, q.pending...)
	q.mu.Unlock()

	s := Snapshot{QueueName: q.cfg.Name, Requests: make([]RequestSnapshot, 0, len(items))}
	for _, it := range items {
		s.Requests = append(s.Requests, snapshotItem(it))
	}
	s.IsEmpty = len(s.Requests) == 0
	return s
}
