package trigger

import (
	"context"
	"time"

	"cruise/internal/clock"
	"cruise/internal/integration"
)

// 2024-01-01 is a Monday.
func at(day, hour, minute int) time.Time {
	return time.Date(2024, time.January, day, hour, minute, 0, 0, time.UTC)
}

func newClock(ts time.Time) *clock.Manual { return clock.NewManual(ts) }

type stubTrigger struct {
	name      string
	req       *integration.Request
	next      time.Time
	fired     int
	completed int
}

func (s *stubTrigger) sealed()      {}
func (s *stubTrigger) Name() string { return s.name }
func (s *stubTrigger) Fire(context.Context) *integration.Request {
	s.fired++
	return s.req
}
func (s *stubTrigger) NextBuild() time.Time  { return s.next }
func (s *stubTrigger) IntegrationCompleted() { s.completed++ }

func firing(name string, cond integration.BuildCondition) *stubTrigger {
	return &stubTrigger{name: name, req: integration.NewRequest(cond, name, at(1, 0, 0)), next: at(1, 0, 0)}
}

func silent(name string) *stubTrigger {
	return &stubTrigger{name: name, next: Never}
}
