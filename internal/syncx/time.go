package syncx

import (
	"time"
)

// RFC3339 converts Unix milliseconds to RFC3339 timestamp string
func RFC3339(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}

// FromMs converts Unix milliseconds to a UTC time.Time
func FromMs(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// NowMs returns current Unix milliseconds timestamp (UTC)
func NowMs() int64 {
	return time.Now().UTC().UnixMilli()
}

// EnsureMonotonicTimestamp returns a timestamp strictly greater than previousMs.
// Uses the wall clock when it is ahead, otherwise previousMs+1, so a record's
// last-modified time never moves backwards under clock skew.
func EnsureMonotonicTimestamp(previousMs int64) int64 {
	now := NowMs()
	if now > previousMs {
		return now
	}
	return previousMs + 1
}
