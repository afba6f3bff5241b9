package trigger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleFiresOncePerSlot(t *testing.T) {
	c := newClock(at(1, 12, 0))
	tr, err := NewSchedule(ScheduleOptions{Time: "23:30"}, c, time.UTC)
	require.NoError(t, err)

	c.Set(at(1, 23, 25))
	assert.Nil(t, tr.Fire(t.Context()))
	assert.Equal(t, at(1, 23, 30), tr.NextBuild())

	c.Set(at(1, 23, 31))
	require.NotNil(t, tr.Fire(t.Context()))

	tr.IntegrationCompleted()
	assert.Equal(t, at(2, 23, 30), tr.NextBuild())
	assert.Nil(t, tr.Fire(t.Context()), "same slot must not fire twice")

	c.Set(at(2, 23, 30))
	assert.NotNil(t, tr.Fire(t.Context()))
}

func TestScheduleNextBuildIsFutureAtConstruction(t *testing.T) {
	c := newClock(at(1, 23, 45))
	tr, err := NewSchedule(ScheduleOptions{Time: "23:30"}, c, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, at(2, 23, 30), tr.NextBuild())
	assert.Nil(t, tr.Fire(t.Context()))
}

func TestScheduleWeekdays(t *testing.T) {
	// Monday noon; only Wednesdays and Fridays allowed.
	c := newClock(at(1, 12, 0))
	tr, err := NewSchedule(ScheduleOptions{Time: "9:00", Weekdays: []string{"Wednesday", "fri"}}, c, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, at(3, 9, 0), tr.NextBuild())

	c.Set(at(3, 9, 5))
	require.NotNil(t, tr.Fire(t.Context()))
	tr.IntegrationCompleted()
	assert.Equal(t, at(5, 9, 0), tr.NextBuild())

	c.Set(at(5, 9, 0))
	require.NotNil(t, tr.Fire(t.Context()))
	tr.IntegrationCompleted()
	assert.Equal(t, at(10, 9, 0), tr.NextBuild())
}

func TestScheduleCompletionWithoutFireKeepsSlot(t *testing.T) {
	c := newClock(at(1, 12, 0))
	tr, err := NewSchedule(ScheduleOptions{Time: "13:00"}, c, time.UTC)
	require.NoError(t, err)

	c.Set(at(1, 12, 30))
	tr.IntegrationCompleted()
	assert.Equal(t, at(1, 13, 0), tr.NextBuild())
}

func TestScheduleCompletionAfterLongOutage(t *testing.T) {
	c := newClock(at(1, 12, 0))
	tr, err := NewSchedule(ScheduleOptions{Time: "13:00"}, c, time.UTC)
	require.NoError(t, err)

	c.Set(at(4, 18, 0))
	require.NotNil(t, tr.Fire(t.Context()))
	tr.IntegrationCompleted()
	assert.Equal(t, at(5, 13, 0), tr.NextBuild())
}

func TestScheduleRandomOffset(t *testing.T) {
	c := newClock(at(1, 12, 0))
	tr, err := NewSchedule(ScheduleOptions{Time: "22:00", RandomOffset: time.Hour}, c, time.UTC)
	require.NoError(t, err)

	next := tr.NextBuild()
	assert.False(t, next.Before(at(1, 22, 0)))
	assert.True(t, next.Before(at(1, 23, 0)))
}

func TestScheduleConfigErrors(t *testing.T) {
	c := newClock(at(1, 12, 0))
	tests := []ScheduleOptions{
		{Time: "25:00"},
		{Time: "noon"},
		{Time: "12:5"},
		{Time: "12:00", Weekdays: []string{"Funday"}},
		{Time: "23:30", RandomOffset: 30 * time.Minute},
		{Time: "12:00", RandomOffset: -time.Second},
	}
	for _, opts := range tests {
		_, err := NewSchedule(opts, c, time.UTC)
		assert.ErrorIs(t, err, ErrInvalidConfiguration, "%+v", opts)
	}
}
