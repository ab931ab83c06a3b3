package rollup

import (
	"fmt"
	"strings"
	"time"
)

// Period is the bucket width used to group raw readings
type Period int

const (
	Hour Period = iota
	Day
	Week
)

// ParsePeriod parses a bucket width. Empty input selects Hour; the
// Portuguese names used by the legacy command line are accepted too.
func ParsePeriod(s string) (Period, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "hour", "hora":
		return Hour, nil
	case "day", "dia":
		return Day, nil
	case "week", "semana":
		return Week, nil
	default:
		return Hour, fmt.Errorf("invalid period %q: expected hour, day or week", s)
	}
}

func (p Period) String() string {
	switch p {
	case Hour:
		return "hour"
	case Day:
		return "day"
	case Week:
		return "week"
	default:
		return fmt.Sprintf("period(%d)", int(p))
	}
}

// Width is the fixed duration of one bucket
func (p Period) Width() time.Duration {
	switch p {
	case Day:
		return 24 * time.Hour
	case Week:
		return 7 * 24 * time.Hour
	default:
		return time.Hour
	}
}

// Truncate returns the start of the bucket containing t, evaluated in loc.
// Weeks start on Monday at midnight.
func (p Period) Truncate(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	y, m, d := t.Date()

	switch p {
	case Day:
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	case Week:
		sinceMonday := (int(t.Weekday()) + 6) % 7
		return time.Date(y, m, d-sinceMonday, 0, 0, 0, 0, loc)
	default:
		return time.Date(y, m, d, t.Hour(), 0, 0, 0, loc)
	}
}

// Bucket returns the start and end of the bucket containing t
func (p Period) Bucket(t time.Time, loc *time.Location) (time.Time, time.Time) {
	start := p.Truncate(t, loc)
	return start, start.Add(p.Width())
}
