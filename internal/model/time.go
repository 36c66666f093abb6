package model

import (
	"fmt"
	"time"
)

// TimeOfDay is a clock time with no date component, counted in seconds
// since midnight.
type TimeOfDay int

// NewTimeOfDay builds a TimeOfDay from clock components.
func NewTimeOfDay(hour, min, sec int) TimeOfDay {
	return TimeOfDay(hour*3600 + min*60 + sec)
}

// TimeOfDayOf extracts the wall-clock time of t in its own location.
func TimeOfDayOf(t time.Time) TimeOfDay {
	return NewTimeOfDay(t.Hour(), t.Minute(), t.Second())
}

// ParseTimeOfDay parses "15:04" or "15:04:05".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var hour, min, sec int
	if _, err := fmt.Sscanf(s, "%d:%d:%d", &hour, &min, &sec); err != nil {
		sec = 0
		if _, err := fmt.Sscanf(s, "%d:%d", &hour, &min); err != nil {
			return 0, fmt.Errorf("invalid time of day %q", s)
		}
	}
	if hour < 0 || hour > 23 || min < 0 || min > 59 || sec < 0 || sec > 59 {
		return 0, fmt.Errorf("time of day %q out of range", s)
	}
	return NewTimeOfDay(hour, min, sec), nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", int(t)/3600, int(t)/60%60, int(t)%60)
}

// Weekday is an ISO-8601 day of week, 1=Monday .. 7=Sunday. The zero value
// means the campaign runs every day.
type Weekday int

const (
	EveryDay Weekday = iota
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

// ISOWeekday maps t to the ISO numbering (Go counts Sunday as 0).
func ISOWeekday(t time.Time) Weekday {
	if d := t.Weekday(); d != time.Sunday {
		return Weekday(d)
	}
	return Sunday
}
