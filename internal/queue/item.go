package queue

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"cruise/internal/integration"
)

// Project is the queue's view of a project.
type Project interface {
	Name() string
	QueuePriority() int
	// Activity must be safe to call from any goroutine.
	Activity() integration.Activity
}

// Notifier is told when an item enters and leaves a queue. OnExitingQueue
// fires exactly once per item that entered. Callbacks never run under the
// queue lock.
type Notifier interface {
	OnEnteringQueue()
	OnExitingQueue(cancelled bool)
}

// Item is an IntegrationQueueItem.
type Item struct {
	ID         string
	Project    Project
	Request    *integration.Request
	Notifier   Notifier
	Priority   int
	EnqueuedAt time.Time

	admitted  chan struct{}
	admitOnce sync.Once
	exitOnce  sync.Once
}

// NewItem snapshots the project's priority at creation time. n may be nil.
func NewItem(p Project, req *integration.Request, n Notifier, at time.Time) *Item {
	return &Item{
		ID:         uuid.NewString(),
		Project:    p,
		Request:    req,
		Notifier:   n,
		Priority:   p.QueuePriority(),
		EnqueuedAt: at,
		admitted:   make(chan struct{}),
	}
}

// Admitted is closed when the item becomes the queue's active item.
func (i *Item) Admitted() <-chan struct{} { return i.admitted }

func (i *Item) admit() { i.admitOnce.Do(func() { close(i.admitted) }) }

func (i *Item) entering() func() {
	if i.Notifier == nil {
		return nil
	}
	return i.Notifier.OnEnteringQueue
}

func (i *Item) exiting(cancelled bool) func() {
	return func() {
		i.exitOnce.Do(func() {
			if i.Notifier != nil {
				i.Notifier.OnExitingQueue(cancelled)
			}
		})
	}
}
