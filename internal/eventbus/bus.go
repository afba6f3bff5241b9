// Package eventbus fans integrator lifecycle events out to observers such
// as the metrics consumer and the event log.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"cruise/internal/clock"
)

// Event is one lifecycle signal. Data is a ProjectEvent for every type
// this package defines.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Project returns the event payload when it is a ProjectEvent.
func (e Event) Project() (ProjectEvent, bool) {
	pe, ok := e.Data.(ProjectEvent)
	return pe, ok
}

// Bus delivers published events to every subscriber. Publish never blocks:
// integrator loops call it inline, so a subscriber whose buffer is full
// misses the event and the loss is counted.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
	Dropped() uint64
}

const defaultBuffer = 8

// New returns a bus stamping unstamped events with the wall clock.
func New() Bus { return NewWithClock(clock.Real{}) }

func NewWithClock(c clock.Clock) Bus {
	if c == nil {
		c = clock.Real{}
	}
	return &fanout{clock: c}
}

type fanout struct {
	clock clock.Clock

	// mu is held for reading while sending so unsubscribe cannot close a
	// channel mid-send.
	mu   sync.RWMutex
	subs []chan Event

	dropped atomic.Uint64
}

func (b *fanout) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = b.clock.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *fanout) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()

	var once sync.Once
	return ch, func() { once.Do(func() { b.remove(ch) }) }
}

func (b *fanout) remove(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == ch {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			break
		}
	}
	close(ch)
}

func (b *fanout) Dropped() uint64 { return b.dropped.Load() }
