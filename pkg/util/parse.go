package util

import (
	"strconv"
	"time"
)

// Unix timestamps at or above this are read as milliseconds. Millisecond
// values crossed it in 2001; second values will not reach it for millennia.
const unixMillisCutoff = int64(1e12)

// ParseTime accepts RFC3339 (with optional fractional seconds) or a unix
// timestamp. Millisecond timestamps are recognized too, since that is what
// JavaScript dashboards send from Date.now().
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	ts, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ts <= 0 {
		return time.Time{}, false
	}
	if ts >= unixMillisCutoff {
		return time.UnixMilli(ts), true
	}
	return time.Unix(ts, 0), true
}

// ParseTimeDefault parses time or returns default if empty/invalid.
func ParseTimeDefault(s string, def time.Time) time.Time {
	if t, ok := ParseTime(s); ok {
		return t
	}
	return def
}

// ParseIntDefault parses string to int or returns default if empty/invalid.
func ParseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
