package domain

import "time"

// TimeLayout is the fixed-width UTC layout used for every stored timestamp,
// so string comparison in SQL orders the same way as time comparison.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a stored timestamp, also accepting plain RFC3339 and
// date-only values written by upstream importers.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range []string{TimeLayout, time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Parse(TimeLayout, s)
}
