package trigger

import (
	"context"
	"sync"
	"time"

	"cruise/internal/clock"
	"cruise/internal/integration"
)

// Interval fires every interval after the last completed build, or initial
// after construction. Once due it keeps firing until IntegrationCompleted.
type Interval struct {
	name      string
	clock     clock.Clock
	condition integration.BuildCondition
	interval  time.Duration
	initial   time.Duration

	mu     sync.Mutex
	anchor time.Time
	first  bool
}

// NewInterval builds an interval trigger. initial of zero means the first
// poll fires immediately.
func NewInterval(name string, c clock.Clock, cond integration.BuildCondition, interval, initial time.Duration) (*Interval, error) {
	if interval <= 0 {
		return nil, configErrorf("interval", nil, "must be > 0, got %s", interval)
	}
	if initial < 0 {
		return nil, configErrorf("initial_interval", nil, "must be >= 0, got %s", initial)
	}
	if cond == integration.NoBuild {
		cond = integration.IfModificationExists
	}
	if name == "" {
		name = "interval"
	}
	if c == nil {
		c = clock.Real{}
	}
	return &Interval{
		name:      name,
		clock:     c,
		condition: cond,
		interval:  interval,
		initial:   initial,
		anchor:    c.Now(),
		first:     true,
	}, nil
}

func (t *Interval) sealed() {}

func (t *Interval) Name() string { return t.name }

func (t *Interval) NextBuild() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nextLocked()
}

func (t *Interval) nextLocked() time.Time {
	if t.first {
		return t.anchor.Add(t.initial)
	}
	return t.anchor.Add(t.interval)
}

func (t *Interval) Fire(context.Context) *integration.Request {
	now := t.clock.Now()
	if now.Before(t.NextBuild()) {
		return nil
	}
	return integration.NewRequest(t.condition, t.name, now)
}

// IntegrationCompleted restarts the interval from now.
func (t *Interval) IntegrationCompleted() {
	t.mu.Lock()
	t.anchor = t.clock.Now()
	t.first = false
	t.mu.Unlock()
}
