// Package timestamp renders the epoch values found in ad file names.
//
// The fleet wrote ad_seen_at as an integer epoch without recording the unit.
// Values above 1e12 are taken as milliseconds, anything else as seconds,
// which covers every era of the storage tree. Non-positive values (the -1
// "no request recorded" marker included) mean "unknown".
package timestamp

import "time"

// msThreshold is 1e12: 2001-09-09 in milliseconds, year 33658 in seconds.
const msThreshold = 1_000_000_000_000

// ToUnixMs normalizes an epoch in seconds or milliseconds to milliseconds.
// Returns 0 for unknown values.
func ToUnixMs(epoch int64) int64 {
	if epoch <= 0 {
		return 0
	}
	if epoch > msThreshold {
		return epoch
	}
	return epoch * 1000
}

// ToTime converts an epoch in seconds or milliseconds to time.Time.
// Returns the zero time for unknown values.
func ToTime(epoch int64) time.Time {
	ms := ToUnixMs(epoch)
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// Format renders an epoch as RFC3339 in UTC, or "unknown".
func Format(epoch int64) string {
	t := ToTime(epoch)
	if t.IsZero() {
		return "unknown"
	}
	return t.Format(time.RFC3339)
}
