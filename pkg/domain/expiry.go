package domain

import (
	"time"
)

// ExpiryNever is the enum value for pastes that never expire.
const ExpiryNever = "never"

var expiryDurations = map[string]time.Duration{
	"1m":  1 * time.Minute,
	"5m":  5 * time.Minute,
	"10m": 10 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"45m": 45 * time.Minute,
	"1h":  1 * time.Hour,
	"3h":  3 * time.Hour,
	"6h":  6 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"3d":  3 * 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
}

// ResolveExpiry turns an expiry enum value into an absolute epoch-ms
// timestamp relative to now, or nil for "never". Unknown values are a
// client input error.
func ResolveExpiry(opt string, now time.Time) (*int64, error) {
	if opt == ExpiryNever {
		return nil, nil
	}
	d, ok := expiryDurations[opt]
	if !ok {
		return nil, ErrInvalidExpiry
	}
	at := now.UnixMilli() + d.Milliseconds()
	return &at, nil
}

// ValidExpiry reports whether opt is a member of the expiry enum.
func ValidExpiry(opt string) bool {
	if opt == ExpiryNever {
		return true
	}
	_, ok := expiryDurations[opt]
	return ok
}
