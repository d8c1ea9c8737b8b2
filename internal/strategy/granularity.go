// internal/strategy/granularity.go
package strategy

import (
	"time"

	"github.com/KEVINALEXIS1079/proyecto-formativo-sub000/internal/data"
)

// Granularity is the resolution requested from the backend. Raw means one
// readings request per sensor; the others are bulk bucket intervals.
type Granularity string

const (
	Raw  Granularity = "raw"
	Hour Granularity = "hour"
	Day  Granularity = "day"
	Week Granularity = "week"
)

const (
	day = 24 * time.Hour

	RawMaxSpan  = 2 * day
	HourMaxSpan = 7 * day
	DayMaxSpan  = 60 * day
)

// Select maps a window span to a granularity:
// span <= 2d raw, <= 7d hour, <= 60d day, otherwise week.
func Select(span time.Duration) Granularity {
	switch {
	case span <= RawMaxSpan:
		return Raw
	case span <= HourMaxSpan:
		return Hour
	case span <= DayMaxSpan:
		return Day
	default:
		return Week
	}
}

// ForRange is Select for an optional range; no range is the live default.
func ForRange(r *data.TimeRange) Granularity {
	if r == nil {
		return Raw
	}
	return Select(r.Span())
}

// Bulk reports whether g is served by the bulk aggregation endpoint.
func (g Granularity) Bulk() bool {
	return g != Raw
}
