package services

import (
	"time"
)

const dayLayout = "2006-01-02"

// Calendar answers day-boundary questions in one fixed time zone.
type Calendar struct {
	Location *time.Location
}

func NewCalendar(loc *time.Location) Calendar {
	if loc == nil {
		loc = time.UTC
	}
	return Calendar{Location: loc}
}

// DayKey formats t as YYYY-MM-DD in the calendar's zone.
func (c Calendar) DayKey(t time.Time) string {
	return t.In(c.Location).Format(dayLayout)
}

// StartOfDay returns local midnight of t's day.
func (c Calendar) StartOfDay(t time.Time) time.Time {
	l := t.In(c.Location)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, c.Location)
}

// EndOfDay returns the last nanosecond of t's day.
func (c Calendar) EndOfDay(t time.Time) time.Time {
	return c.StartOfDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// StartOfWeek returns Monday midnight of t's week.
func (c Calendar) StartOfWeek(t time.Time) time.Time {
	l := t.In(c.Location)
	weekday := int(l.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	return c.StartOfDay(l.AddDate(0, 0, -(weekday - 1)))
}

// EndOfWeek returns the last nanosecond of Sunday of t's week.
func (c Calendar) EndOfWeek(t time.Time) time.Time {
	return c.StartOfWeek(t).AddDate(0, 0, 7).Add(-time.Nanosecond)
}

// DaysBetween counts calendar days from a to b (negative when b is earlier).
// Dates are compared on a UTC grid so DST shifts do not bend the count.
func (c Calendar) DaysBetween(a, b time.Time) int {
	la, lb := a.In(c.Location), b.In(c.Location)
	da := time.Date(la.Year(), la.Month(), la.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(lb.Year(), lb.Month(), lb.Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

// ParseDay parses a YYYY-MM-DD key as local midnight.
func (c Calendar) ParseDay(key string) (time.Time, error) {
	return time.ParseInLocation(dayLayout, key, c.Location)
}
