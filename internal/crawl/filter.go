package crawl

import (
	"fmt"
	"time"

	"github.com/skridlevsky/patrolstats/internal/patrol"
)

// DateParseError reports a row whose timestamp could not be parsed.
type DateParseError struct {
	Row patrol.Row
	Err error
}

func (e *DateParseError) Error() string {
	return fmt.Sprintf("unparseable createTime %q for %q: %v", e.Row.CreateTime, e.Row.NickName, e.Err)
}

func (e *DateParseError) Unwrap() error { return e.Err }

// FilterResult is the outcome of filtering one batch of rows.
type FilterResult struct {
	// Qualifying rows in source order.
	Qualifying []patrol.Row
	// Older counts rows dated before the cutoff.
	Older int
	// Malformed rows are dropped from both counts.
	Malformed []*DateParseError
	// Newest and Oldest span every parsed timestamp, zero if none parsed.
	Newest time.Time
	Oldest time.Time
}

// ParseTime parses a portal timestamp in loc.
func ParseTime(value string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(patrol.TimeLayout, value, loc)
}

// Filter keeps rows whose createTime is at or after cutoff. Timestamps are
// read in cutoff's location. The input is not modified or reordered.
func Filter(rows []patrol.Row, cutoff time.Time) FilterResult {
	var result FilterResult
	loc := cutoff.Location()

	for _, row := range rows {
		ts, err := ParseTime(row.CreateTime, loc)
		if err != nil {
			result.Malformed = append(result.Malformed, &DateParseError{Row: row, Err: err})
			continue
		}

		if result.Newest.IsZero() || ts.After(result.Newest) {
			result.Newest = ts
		}
		if result.Oldest.IsZero() || ts.Before(result.Oldest) {
			result.Oldest = ts
		}

		if ts.Before(cutoff) {
			result.Older++
			continue
		}
		result.Qualifying = append(result.Qualifying, row)
	}

	return result
}
