package portfolio

import "github.com/dkruglov/flatten/internal/domain"

// Interval is a sampling granularity of the history series.
type Interval string

const (
	IntervalMinute      Interval = "1m"
	IntervalFiveMinutes Interval = "5m"
	IntervalQuarterHour Interval = "15m"
	IntervalHour        Interval = "1h"
	IntervalFourHours   Interval = "4h"
	IntervalDay         Interval = "1d"
)

// Seconds returns the interval length. Unrecognized intervals default to
// hourly.
func (i Interval) Seconds() int64 {
	switch i {
	case IntervalMinute:
		return 60
	case IntervalFiveMinutes:
		return 300
	case IntervalQuarterHour:
		return 900
	case IntervalHour:
		return 3600
	case IntervalFourHours:
		return 14400
	case IntervalDay:
		return 86400
	default:
		return 3600
	}
}

// IntervalForRange maps a time range to a granularity that keeps point
// counts bounded: a 1-day view samples every 15 minutes (~96 points), a
// 1-year view samples daily (~365 points).
func IntervalForRange(r domain.TimeRange) Interval {
	switch r {
	case domain.RangeDay:
		return IntervalQuarterHour
	case domain.RangeWeek:
		return IntervalHour
	case domain.RangeMonth:
		return IntervalFourHours
	case domain.RangeHalfYear, domain.RangeYear, domain.RangeYTD, domain.RangeAll:
		return IntervalDay
	default:
		return IntervalHour
	}
}
