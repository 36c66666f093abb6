package service

import (
	"time"

	"mailsched/internal/model"
)

// IsDue reports whether now falls inside the campaign's recurrence window.
// Both bounds are inclusive. A window with TimeFrom > TimeTo never matches:
// overnight windows are not supported, and such a campaign is permanently
// not due rather than an error. A zero WeekDay places no day restriction.
func IsDue(c model.Campaign, now time.Time) bool {
	tod := model.TimeOfDayOf(now)
	if tod < c.TimeFrom || tod > c.TimeTo {
		return false
	}
	return c.WeekDay == model.EveryDay || c.WeekDay == model.ISOWeekday(now)
}
