package trigger

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"cruise/internal/clock"
	"cruise/internal/integration"
)

// Schedule fires once a day at a time of day, optionally only on some
// weekdays and jittered by up to RandomOffset.
//
// Fire marks the trigger as fired; IntegrationCompleted advances to the next
// slot only in that case, so a build started by a sibling trigger does not
// consume this trigger's slot.
type Schedule struct {
	name      string
	clock     clock.Clock
	loc       *time.Location
	condition integration.BuildCondition
	at        timeOfDay
	weekdays  weekdaySet
	offset    time.Duration

	mu        sync.Mutex
	next      time.Time
	triggered bool
}

// ScheduleOptions configures NewSchedule.
type ScheduleOptions struct {
	Name         string
	Condition    integration.BuildCondition
	Time         string
	Weekdays     []string
	RandomOffset time.Duration
}

func NewSchedule(opts ScheduleOptions, c clock.Clock, loc *time.Location) (*Schedule, error) {
	at, err := parseTimeOfDay(opts.Time)
	if err != nil {
		return nil, configErrorf("time", err, "bad time of day")
	}
	days, err := parseWeekdays(opts.Weekdays)
	if err != nil {
		return nil, configErrorf("weekdays", err, "bad weekday")
	}
	if opts.RandomOffset < 0 {
		return nil, configErrorf("random_offset", nil, "must be >= 0, got %s", opts.RandomOffset)
	}
	if time.Duration(at)+opts.RandomOffset >= 24*time.Hour {
		return nil, configErrorf("random_offset", nil, "%s plus %s would pass midnight", at, opts.RandomOffset)
	}
	cond := opts.Condition
	if cond == integration.NoBuild {
		cond = integration.IfModificationExists
	}
	name := opts.Name
	if name == "" {
		name = "schedule"
	}
	if c == nil {
		c = clock.Real{}
	}
	if loc == nil {
		loc = time.Local
	}
	t := &Schedule{
		name:      name,
		clock:     c,
		loc:       loc,
		condition: cond,
		at:        at,
		weekdays:  days,
		offset:    opts.RandomOffset,
	}
	t.next = t.occurrenceFrom(c.Now())
	return t, nil
}

func (t *Schedule) sealed() {}

func (t *Schedule) Name() string { return t.name }

// occurrenceFrom returns the first slot on an allowed day whose base time is
// not before from.
func (t *Schedule) occurrenceFrom(from time.Time) time.Time {
	from = from.In(t.loc)
	day := from
	for i := 0; i < 8; i++ {
		base := t.at.on(day)
		if t.weekdays.allows(day.Weekday()) && !base.Before(from) {
			return base.Add(t.jitter())
		}
		day = startOfNextDay(day)
	}
	// unreachable with a non-empty weekday set
	return Never
}

func (t *Schedule) jitter() time.Duration {
	if t.offset <= 0 {
		return 0
	}
	return rand.N(t.offset)
}

func (t *Schedule) NextBuild() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.next
}

func (t *Schedule) Fire(context.Context) *integration.Request {
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	if now.Before(t.next) {
		return nil
	}
	t.triggered = true
	return integration.NewRequest(t.condition, t.name, now)
}

// IntegrationCompleted moves to the first slot after both now and the day of
// the slot that fired.
func (t *Schedule) IntegrationCompleted() {
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.triggered {
		return
	}
	t.triggered = false
	from := startOfNextDay(t.next.In(t.loc))
	if now.After(from) {
		from = now
	}
	t.next = t.occurrenceFrom(from)
}
