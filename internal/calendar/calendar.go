// Package calendar implements the weekly Friday payment calendar.
//
// All dates are days: UTC midnights built from the calendar date of the
// input, so a timestamp late on Friday in a local zone still counts as Friday.
package calendar

import (
	"fmt"
	"time"
)

// MonthLayout is the revenue month key format.
const MonthLayout = "2006-01"

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Today returns the current day.
func Today() time.Time {
	return Day(time.Now())
}

// ParseDay parses a YYYY-MM-DD date.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return t, nil
}

// FormatDay renders a day as YYYY-MM-DD.
func FormatDay(t time.Time) string {
	return t.Format(time.DateOnly)
}

// MonthKey returns the YYYY-MM revenue month containing t.
func MonthKey(t time.Time) string {
	return t.Format(MonthLayout)
}

// ParseMonth parses a YYYY-MM key into the first day of that month.
func ParseMonth(key string) (time.Time, error) {
	t, err := time.Parse(MonthLayout, key)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid month %q: expected YYYY-MM", key)
	}
	return t, nil
}

// MonthEnd returns the last day of the month identified by key.
func MonthEnd(key string) (time.Time, error) {
	start, err := ParseMonth(key)
	if err != nil {
		return time.Time{}, err
	}
	return start.AddDate(0, 1, -1), nil
}

// AddMonths moves t by n months, clamping the day to the end of the target
// month (Jan 31 + 1 month = Feb 28/29).
func AddMonths(t time.Time, n int) time.Time {
	t = Day(t)
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, n, 0)
	last := first.AddDate(0, 1, -1).Day()
	return first.AddDate(0, 0, min(t.Day(), last)-1)
}

// FirstFriday returns the first Friday of the month containing t.
func FirstFriday(t time.Time) time.Time {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	offset := (int(time.Friday) - int(first.Weekday()) + 7) % 7
	return first.AddDate(0, 0, offset)
}

// PlanStart returns the first payment date for a plan created by an event on
// eventDate: the first Friday of the following month.
func PlanStart(eventDate time.Time) time.Time {
	next := time.Date(eventDate.Year(), eventDate.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return FirstFriday(next)
}

// Weekly returns count dates a week apart starting at start.
func Weekly(start time.Time, count int) []time.Time {
	start = Day(start)
	dates := make([]time.Time, count)
	for i := range dates {
		dates[i] = start.AddDate(0, 0, 7*i)
	}
	return dates
}

// GradeReferenceDate returns the day whose snapshot decides the grade used
// for a payment on scheduled: one month (clamped) and one day earlier.
func GradeReferenceDate(scheduled time.Time) time.Time {
	return AddMonths(scheduled, -1).AddDate(0, 0, -1)
}

// IsFriday reports whether t falls on a Friday.
func IsFriday(t time.Time) bool {
	return t.Weekday() == time.Friday
}
