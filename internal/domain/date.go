package domain

import "time"

// DateLayout is the layout used to persist calendar dates.
const DateLayout = "2006-01-02"

// DateIn returns the calendar date of t as seen in loc, as midnight UTC.
// Dates carry no time-of-day so they can be compared with Equal and Before.
func DateIn(t time.Time, loc *time.Location) time.Time {
	if loc != nil {
		t = t.In(loc)
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AddDays returns the date n calendar days after d.
func AddDays(d time.Time, n int) time.Time {
	return d.AddDate(0, 0, n)
}

// FormatDate renders a date for storage. The zero time renders as "".
func FormatDate(d time.Time) string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

// ParseDate is the inverse of FormatDate.
func ParseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(DateLayout, s)
}
