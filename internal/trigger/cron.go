package trigger

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"cruise/internal/clock"
	"cruise/internal/integration"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Cron fires at the instants matched by a five-field cron expression, with
// the same fire-then-advance discipline as Schedule.
type Cron struct {
	name      string
	clock     clock.Clock
	loc       *time.Location
	condition integration.BuildCondition
	schedule  cron.Schedule

	mu        sync.Mutex
	next      time.Time
	triggered bool
}

func NewCron(name, expr string, cond integration.BuildCondition, c clock.Clock, loc *time.Location) (*Cron, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, configErrorf("cron", err, "bad cron expression %q", expr)
	}
	if cond == integration.NoBuild {
		cond = integration.IfModificationExists
	}
	if name == "" {
		name = "cron"
	}
	if c == nil {
		c = clock.Real{}
	}
	if loc == nil {
		loc = time.Local
	}
	t := &Cron{name: name, clock: c, loc: loc, condition: cond, schedule: sched}
	t.next = t.after(c.Now())
	return t, nil
}

func (t *Cron) sealed() {}

func (t *Cron) Name() string { return t.name }

func (t *Cron) after(ts time.Time) time.Time {
	next := t.schedule.Next(ts.In(t.loc))
	if next.IsZero() {
		// no match within robfig's five-year search window
		return Never
	}
	return next
}

func (t *Cron) NextBuild() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.next
}

func (t *Cron) Fire(context.Context) *integration.Request {
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	if now.Before(t.next) {
		return nil
	}
	t.triggered = true
	return integration.NewRequest(t.condition, t.name, now)
}

func (t *Cron) IntegrationCompleted() {
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.triggered {
		return
	}
	t.triggered = false
	from := t.next
	if now.After(from) {
		from = now
	}
	t.next = t.after(from)
}
