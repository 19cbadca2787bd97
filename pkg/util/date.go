package util

import (
	"strconv"
	"time"
)

// ParseTime tries RFC3339, RFC3339Nano, unix seconds and unix milliseconds.
// Returns (t, true) if any worked.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		// TradingView {{timenow}} style epochs arrive in milliseconds.
		if ts > 1e12 {
			return time.UnixMilli(ts), true
		}
		return time.Unix(ts, 0), true
	}
	return time.Time{}, false
}

// ParseTimeDefault parses time or returns def if empty/invalid.
func ParseTimeDefault(s string, def time.Time) time.Time {
	if t, ok := ParseTime(s); ok {
		return t
	}
	return def
}

// TradingDay labels t with the trading day it belongs to, where each day
// starts at reset past local midnight in loc.
func TradingDay(t time.Time, loc *time.Location, reset time.Duration) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Add(-reset).Format("2006-01-02")
}
