package models

import (
	"fmt"
	"time"
)

const periodLayout = "2006-01"

// ParsePeriod validates a YYYY-MM reporting period.
func ParsePeriod(s string) (time.Time, error) {
	t, err := time.Parse(periodLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid period %q: %w", s, err)
	}
	return t, nil
}

// FormatPeriod renders a time as a YYYY-MM reporting period.
func FormatPeriod(t time.Time) string {
	return t.Format(periodLayout)
}

// PeriodRange returns every month from first to last inclusive. Since
// periods are zero-padded YYYY-MM strings, chronological order equals
// lexicographic order.
func PeriodRange(first, last string) ([]string, error) {
	start, err := ParsePeriod(first)
	if err != nil {
		return nil, err
	}
	end, err := ParsePeriod(last)
	if err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, fmt.Errorf("period range %s..%s is reversed", first, last)
	}

	var out []string
	for t := start; !t.After(end); t = t.AddDate(0, 1, 0) {
		out = append(out, FormatPeriod(t))
	}
	return out, nil
}
