package utils

import "time"

// FromMillis converts an exchange epoch-millisecond value to UTC.
// Zero or negative input yields the zero time.
func FromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// LatestOf returns the most recent of the given times.
func LatestOf(times ...time.Time) time.Time {
	var latest time.Time
	for _, t := range times {
		if t.After(latest) {
			latest = t
		}
	}
	return latest
}
