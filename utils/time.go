package utils

import "time"

// Millis converts t to Unix milliseconds, the timestamp unit of cache entries.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// Age returns how long ago the Unix-millisecond timestamp ts was, relative to now.
func Age(ts int64, now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(ts))
}

// Older reports whether ts is strictly older than limit.
func Older(ts int64, now time.Time, limit time.Duration) bool {
	return Age(ts, now) > limit
}
