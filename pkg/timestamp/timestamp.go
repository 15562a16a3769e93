// Package timestamp converts the timestamp forms found in device updates.
//
// Int64 milliseconds since the Unix epoch (UTC) is the canonical wire form.
// A value of 0 means "not set".
//
//	ts, err := timestamp.Parse(update["timestamp"]) // 1714557600000, "2024-05-01T10:00:00Z", ...
//	if err != nil {
//	    return err
//	}
//	if ts.IsZero() {
//	    ts = time.Now()
//	}
package timestamp

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidTimestamp is returned for values that cannot be read as a time
var ErrInvalidTimestamp = errors.New("invalid timestamp")

// secondsThreshold separates epoch seconds from epoch milliseconds. Numbers
// below it (year 2001 in milliseconds) are read as seconds.
const secondsThreshold = 1e12

// maxMs is the year 3000 in Unix milliseconds
const maxMs = 32503680000000

// Now returns the current time as Unix milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}

// ToUnixMs converts a time.Time to Unix milliseconds. The zero time maps to 0.
func ToUnixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromUnixMs converts Unix milliseconds to a UTC time.Time. 0 maps to the
// zero time.
func FromUnixMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// Format renders Unix milliseconds as RFC3339 with millisecond precision.
// Returns an empty string for 0.
func Format(ms int64) string {
	if ms == 0 {
		return ""
	}
	return FromUnixMs(ms).Format("2006-01-02T15:04:05.000Z07:00")
}

// Parse reads a timestamp from a decoded JSON or YAML value:
//   - integers and floats: epoch milliseconds, or epoch seconds below 1e12
//   - json.Number: as above
//   - strings: RFC3339 (with optional fraction) or a number as above
//   - time.Time and *time.Time
//   - nil, 0 and "": the zero time
//
// The result is in UTC. Values outside [0, year 3000] are rejected.
func Parse(input any) (time.Time, error) {
	ms, err := parseMs(input)
	if err != nil {
		return time.Time{}, err
	}
	if err := Validate(ms); err != nil {
		return time.Time{}, err
	}
	return FromUnixMs(ms), nil
}

func parseMs(input any) (int64, error) {
	switch v := input.(type) {
	case nil:
		return 0, nil
	case int64:
		return fromNumber(float64(v), v), nil
	case int:
		return fromNumber(float64(v), int64(v)), nil
	case int32:
		return fromNumber(float64(v), int64(v)), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("%w: %d out of range", ErrInvalidTimestamp, v)
		}
		return fromNumber(float64(v), int64(v)), nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("%w: %v", ErrInvalidTimestamp, v)
		}
		return fromNumber(v, int64(v)), nil
	case json.Number:
		return parseMs(string(v))
	case string:
		return parseString(v)
	case time.Time:
		return ToUnixMs(v), nil
	case *time.Time:
		if v == nil {
			return 0, nil
		}
		return ToUnixMs(*v), nil
	default:
		return 0, fmt.Errorf("%w: unsupported type %T", ErrInvalidTimestamp, input)
	}
}

// fromNumber keeps integral millisecond values exact and scales seconds
func fromNumber(f float64, i int64) int64 {
	if math.Abs(f) >= secondsThreshold {
		return i
	}
	return int64(math.Round(f * 1000))
}

func parseString(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ToUnixMs(t), nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return fromNumber(float64(i), i), nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return parseMs(f)
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
}

// Validate checks that a timestamp is non-negative and before year 3000.
func Validate(ms int64) error {
	if ms < 0 {
		return fmt.Errorf("%w: cannot be negative: %d", ErrInvalidTimestamp, ms)
	}
	if ms > maxMs {
		return fmt.Errorf("%w: too far in future: %d", ErrInvalidTimestamp, ms)
	}
	return nil
}

// Later returns the later of two times. A zero time loses to any other.
func Later(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
