package trigger

import (
	"context"
	"time"

	"cruise/internal/clock"
	"cruise/internal/integration"
)

// Filter suppresses its inner trigger during a daily blackout window
// [start, end) on the configured weekdays. start > end spans midnight;
// start == end is an empty window. The weekday is the one of the instant
// being tested, so the post-midnight part of an overnight window belongs to
// the following day.
type Filter struct {
	name     string
	clock    clock.Clock
	loc      *time.Location
	inner    Trigger
	start    timeOfDay
	end      timeOfDay
	weekdays weekdaySet
}

// FilterOptions configures NewFilter.
type FilterOptions struct {
	Name      string
	StartTime string
	EndTime   string
	Weekdays  []string
}

func NewFilter(opts FilterOptions, inner Trigger, c clock.Clock, loc *time.Location) (*Filter, error) {
	if inner == nil {
		return nil, configErrorf("trigger", nil, "filter needs an inner trigger")
	}
	start, err := parseTimeOfDay(opts.StartTime)
	if err != nil {
		return nil, configErrorf("start_time", err, "bad time of day")
	}
	end, err := parseTimeOfDay(opts.EndTime)
	if err != nil {
		return nil, configErrorf("end_time", err, "bad time of day")
	}
	days, err := parseWeekdays(opts.Weekdays)
	if err != nil {
		return nil, configErrorf("weekdays", err, "bad weekday")
	}
	name := opts.Name
	if name == "" {
		name = inner.Name()
	}
	if c == nil {
		c = clock.Real{}
	}
	if loc == nil {
		loc = time.Local
	}
	return &Filter{name: name, clock: c, loc: loc, inner: inner, start: start, end: end, weekdays: days}, nil
}

func (t *Filter) sealed() {}

func (t *Filter) Name() string { return t.name }

// blocks reports whether ts falls inside the blackout window.
func (t *Filter) blocks(ts time.Time) bool {
	ts = ts.In(t.loc)
	if !t.weekdays.allows(ts.Weekday()) {
		return false
	}
	tod := sinceMidnight(ts)
	switch {
	case t.start < t.end:
		return tod >= t.start && tod < t.end
	case t.start > t.end:
		return tod >= t.start || tod < t.end
	default:
		return false
	}
}

// windowEnd returns the end of the window that contains ts.
func (t *Filter) windowEnd(ts time.Time) time.Time {
	ts = ts.In(t.loc)
	end := t.end.on(ts)
	if end.Before(ts) || end.Equal(ts) {
		end = t.end.on(startOfNextDay(ts))
	}
	return end
}

func (t *Filter) Fire(ctx context.Context) *integration.Request {
	if t.blocks(t.clock.Now()) {
		return nil
	}
	return t.inner.Fire(ctx)
}

// NextBuild reports the window end when the inner trigger's next time is
// blacked out.
func (t *Filter) NextBuild() time.Time {
	next := t.inner.NextBuild()
	if next.Equal(Never) || !t.blocks(next) {
		return next
	}
	return t.windowEnd(next)
}

func (t *Filter) IntegrationCompleted() { t.inner.IntegrationCompleted() }
