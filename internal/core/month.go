package core

import "time"

// MonthBounds returns the first instant and the last millisecond of a calendar
// month. month is 0-indexed (0 = January) as stored on budgets.
func MonthBounds(year, month int, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	start := time.Date(year, time.Month(month+1), 1, 0, 0, 0, 0, loc)
	end := start.AddDate(0, 1, 0).Add(-time.Millisecond)
	return start, end
}

// ShiftMonth moves a 0-indexed (year, month) pair by delta months, rolling the
// year over in either direction.
func ShiftMonth(year, month, delta int) (int, int) {
	total := year*12 + month + delta
	y := total / 12
	m := total % 12
	if m < 0 {
		m += 12
		y--
	}
	return y, m
}

// MonthOf returns the 0-indexed (year, month) of t.
func MonthOf(t time.Time) (int, int) {
	return t.Year(), int(t.Month()) - 1
}

// WholeDaysBetween returns the number of whole days from a to b, floored.
// Negative when b is before a.
func WholeDaysBetween(a, b time.Time) int {
	d := b.Sub(a)
	days := int(d / (24 * time.Hour))
	if d < 0 && d%(24*time.Hour) != 0 {
		days--
	}
	return days
}
