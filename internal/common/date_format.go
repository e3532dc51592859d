package common

import (
	"fmt"
	"time"
)

// ISO8601Date is the layout of GIBS time dimensions and of every date
// exchanged with the frontend
const ISO8601Date = "2006-01-02"

// ParseISO8601 parses a date string in ISO 8601 format (YYYY-MM-DD)
func ParseISO8601(dateStr string) (time.Time, error) {
	if dateStr == "" {
		return time.Time{}, fmt.Errorf("date string is empty")
	}
	return time.Parse(ISO8601Date, dateStr)
}

// FormatISO8601 formats a time.Time to ISO 8601 date string (YYYY-MM-DD)
func FormatISO8601(t time.Time) string {
	return t.Format(ISO8601Date)
}

// PreviousDay returns the calendar day before t, keeping t's location.
func PreviousDay(t time.Time) time.Time {
	return t.AddDate(0, 0, -1)
}

// TruncateDay drops the clock part of t.
func TruncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
