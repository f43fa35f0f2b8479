package ledger

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Period is a half-open date range [Start, End) identified by Key.
// Monthly keys look like "2025-01", fiscal-year keys like "2025".
type Period struct {
	Key   string
	Start time.Time
	End   time.Time
}

// MonthPeriod returns the calendar month period for year/month in UTC.
func MonthPeriod(year int, month time.Month) Period {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return Period{Key: start.Format("2006-01"), Start: start, End: start.AddDate(0, 1, 0)}
}

// YearPeriod returns the calendar year period in UTC.
func YearPeriod(year int) Period {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	return Period{Key: strconv.Itoa(year), Start: start, End: start.AddDate(1, 0, 0)}
}

// ParsePeriod accepts "YYYY-MM" or "YYYY".
func ParsePeriod(key string) (Period, error) {
	key = strings.TrimSpace(key)
	switch len(key) {
	case 7:
		t, err := time.Parse("2006-01", key)
		if err != nil {
			return Period{}, fmt.Errorf("invalid period %q: %w", key, err)
		}
		return MonthPeriod(t.Year(), t.Month()), nil
	case 4:
		y, err := strconv.Atoi(key)
		if err != nil || y < 1 {
			return Period{}, fmt.Errorf("invalid period %q", key)
		}
		return YearPeriod(y), nil
	default:
		return Period{}, fmt.Errorf("invalid period %q: want YYYY-MM or YYYY", key)
	}
}

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// Last returns the final instant covered by the period, for inclusive filters.
func (p Period) Last() time.Time { return p.End.Add(-time.Nanosecond) }

func (p Period) String() string { return p.Key }
