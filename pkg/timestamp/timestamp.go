// Package timestamp converts between the time forms the gateway meets at its
// edges: Unix milliseconds in JSON events, ISO-8601 strings with millisecond
// precision, and loosely typed values decoded from listener input.
//
// A zero value means "not set" in every form: 0 milliseconds, the zero
// time.Time and the empty string.
package timestamp

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ISO8601 is the layout of formatted event timestamps
const ISO8601 = "2006-01-02T15:04:05.000Z07:00"

// Values above this are taken to be milliseconds, below it seconds
const secondsLimit = 1e12

// Now returns the current time as Unix milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}

// ToUnixMs converts a time.Time to Unix milliseconds.
func ToUnixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromUnixMs converts Unix milliseconds to a UTC time.Time.
// Returns zero time if ms is 0.
func FromUnixMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// Format renders t in UTC as ISO-8601 with milliseconds.
// Returns empty string for the zero time.
func Format(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(ISO8601)
}

// FormatMs is Format for Unix milliseconds
func FormatMs(ms int64) string {
	return Format(FromUnixMs(ms))
}

// Parse converts a loosely typed timestamp to a time.Time. It accepts
// numbers of seconds or milliseconds since the epoch (as numbers or numeric
// strings), RFC 3339 strings with or without fractional seconds, and
// time.Time. nil and empty values yield the zero time without error.
func Parse(input any) (time.Time, error) {
	switch v := input.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return v, nil
	case *time.Time:
		if v == nil {
			return time.Time{}, nil
		}
		return *v, nil
	case int64:
		return fromNumber(float64(v)), nil
	case int:
		return fromNumber(float64(v)), nil
	case float64:
		return fromNumber(v), nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return time.Time{}, nil
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t, nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromNumber(f), nil
		}
		return time.Time{}, fmt.Errorf("unrecognised timestamp %q", v)
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", input)
	}
}

func fromNumber(f float64) time.Time {
	if f == 0 {
		return time.Time{}
	}
	if f < secondsLimit {
		f *= 1000
	}
	return time.UnixMilli(int64(math.Round(f))).UTC()
}

// OrNow returns t, or now when t is zero
func OrNow(t, now time.Time) time.Time {
	if t.IsZero() {
		return now
	}
	return t
}

// Clamp returns t limited to now: zero and future times become now.
func Clamp(t, now time.Time) time.Time {
	if t.IsZero() || t.After(now) {
		return now
	}
	return t
}
