package domain

// TimeRange selects a window of portfolio history.
type TimeRange string

const (
	RangeDay      TimeRange = "1d"
	RangeWeek     TimeRange = "1w"
	RangeMonth    TimeRange = "1m"
	RangeHalfYear TimeRange = "6m"
	RangeYear     TimeRange = "1y"
	RangeYTD      TimeRange = "ytd"
	RangeAll      TimeRange = "all"
)

// Seconds returns the fixed duration of the range, or 0 for ranges whose
// start is computed from the data or the calendar (ytd, all).
func (r TimeRange) Seconds() int64 {
	switch r {
	case RangeDay:
		return 86400
	case RangeWeek:
		return 604800
	case RangeMonth:
		return 2592000
	case RangeHalfYear:
		return 15552000
	case RangeYear:
		return 31536000
	default:
		return 0
	}
}
