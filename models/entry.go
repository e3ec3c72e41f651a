package models

import (
	"time"

	"goflare.io/freshen/utils"
)

// Entry is a decoded cache envelope. Data holds the payload still in the
// codec's encoding so callers decode it into their own type.
type Entry struct {
	Data      []byte
	Timestamp int64
}

// Age returns the time elapsed since the entry was written.
func (e Entry) Age(now time.Time) time.Duration {
	return utils.Age(e.Timestamp, now)
}

// IsExpired reports whether the entry outlived hardExpiry. Zero disables expiry.
func (e Entry) IsExpired(now time.Time, hardExpiry time.Duration) bool {
	return hardExpiry > 0 && utils.Older(e.Timestamp, now, hardExpiry)
}

// IsStale reports whether the entry is older than the stale window.
func (e Entry) IsStale(now time.Time, stale time.Duration) bool {
	return utils.Older(e.Timestamp, now, stale)
}
