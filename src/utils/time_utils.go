package utils

import (
	"time"
)

// UTCDayKey formats t as the calendar day in UTC, the key daily counters
// and reinvestment windows are grouped under.
func UTCDayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// UTCDayStart returns midnight UTC of t's day.
func UTCDayStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// UTCNextDay returns midnight UTC of the day after t. Counters reset at
// this boundary.
func UTCNextDay(t time.Time) time.Time {
	return UTCDayStart(t).Add(24 * time.Hour)
}
