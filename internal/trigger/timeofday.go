package trigger

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// timeOfDay is an offset from local midnight with minute precision.
type timeOfDay time.Duration

// parseTimeOfDay accepts "H:MM" or "HH:MM" on a 24h clock.
func parseTimeOfDay(s string) (timeOfDay, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	if len(parts[1]) != 2 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return timeOfDay(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute), nil
}

func (t timeOfDay) String() string {
	d := time.Duration(t)
	return fmt.Sprintf("%02d:%02d", int(d/time.Hour), int(d%time.Hour/time.Minute))
}

// on returns the instant of t on the calendar day of day.
func (t timeOfDay) on(day time.Time) time.Time {
	y, m, d := day.Date()
	off := time.Duration(t)
	return time.Date(y, m, d, int(off/time.Hour), int(off%time.Hour/time.Minute), int(off%time.Minute/time.Second), 0, day.Location())
}

// sinceMidnight returns how far into its calendar day ts is.
func sinceMidnight(ts time.Time) timeOfDay {
	h, m, sec := ts.Clock()
	return timeOfDay(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
		time.Duration(sec)*time.Second + time.Duration(ts.Nanosecond()))
}

func startOfNextDay(ts time.Time) time.Time {
	y, m, d := ts.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, ts.Location())
}

// weekdaySet is empty when every day applies.
type weekdaySet map[time.Weekday]struct{}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

func parseWeekdays(names []string) (weekdaySet, error) {
	set := weekdaySet{}
	for _, n := range names {
		wd, ok := weekdayNames[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", n)
		}
		set[wd] = struct{}{}
	}
	return set, nil
}

func (s weekdaySet) allows(wd time.Weekday) bool {
	if len(s) == 0 {
		return true
	}
	_, ok := s[wd]
	return ok
}
