package timeparser

import (
	"fmt"
	"strings"
	"time"
)

// Layouts used for rendering rollup timestamps
const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = "2006-01-02 15:04:05-07:00"
	ISOLayout      = "2006-01-02T15:04:05-07:00"
	ChartLabel     = "02/01 15:04"
	FileStamp      = "2006-01-02_15-04-05"
)

// ParseDate attempts to parse a filter date with multiple formats, as midnight in loc
func ParseDate(dateStr string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	formats := []string{
		DateLayout,   // YYYY-MM-DD, sent by the dashboard date inputs
		"02/01/2006", // DD/MM/YYYY
	}

	dateStr = strings.TrimSpace(dateStr)
	var lastErr error
	for _, format := range formats {
		t, err := time.ParseInLocation(format, dateStr, loc)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("failed to parse date '%s': %w", dateStr, lastErr)
}

// StartOfDay returns midnight of t's day in loc
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// EndOfDay returns 23:59:59 of t's day in loc
func EndOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 23, 59, 59, 0, loc)
}
