// Package clock provides the time capability injected into triggers and the
// integrator loop. Nothing on a scheduling path reads the wall clock directly.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock exposes the current time and a timer channel.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Real is the wall clock.
type Real struct{}

func (Real) Now() time.Time                         { return time.Now() }
func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Manual is a clock that only moves when told to.
// After channels fire when Set/Advance moves the time past their deadline.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	waiters []manualWaiter
}

type manualWaiter struct {
	at time.Time
	ch chan time.Time
}

func NewManual(now time.Time) *Manual {
	return &Manual{now: now}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) After(d time.Duration) <-chan time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan time.Time, 1)
	at := m.now.Add(d)
	if d <= 0 {
		ch <- m.now
		return ch
	}
	m.waiters = append(m.waiters, manualWaiter{at: at, ch: ch})
	return ch
}

// Set moves the clock to t (which may be in the past) and fires due timers.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	due := m.collectDueLocked()
	m.mu.Unlock()

	for _, w := range due {
		w.ch <- t
	}
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.Set(m.Now().Add(d))
}

// Waiters returns the number of pending After channels.
func (m *Manual) Waiters() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiters)
}

func (m *Manual) collectDueLocked() []manualWaiter {
	sort.SliceStable(m.waiters, func(i, j int) bool { return m.waiters[i].at.Before(m.waiters[j].at) })
	n := 0
	for n < len(m.waiters) && !m.waiters[n].at.After(m.now) {
		n++
	}
	due := append([]manualWaiter(nil), m.waiters[:n]...)
	m.waiters = m.waiters[n:]
	return due
}
