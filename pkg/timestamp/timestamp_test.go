package timestamp

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"
)

var (
	testTime   = time.Date(2023, 1, 15, 12, 30, 45, 123000000, time.UTC)
	testTimeMs = int64(1673785845123)
)

func TestNow(t *testing.T) {
	before := time.Now().UnixMilli()
	ts := Now()
	after := time.Now().UnixMilli()

	if ts < before || ts > after {
		t.Errorf("Now() = %d, expected between %d and %d", ts, before, after)
	}
}

func TestToUnixMs(t *testing.T) {
	if got := ToUnixMs(testTime); got != testTimeMs {
		t.Errorf("ToUnixMs(%v) = %d, expected %d", testTime, got, testTimeMs)
	}
	if got := ToUnixMs(time.Time{}); got != 0 {
		t.Errorf("ToUnixMs(zero) = %d, expected 0", got)
	}
}

func TestFromUnixMs(t *testing.T) {
	if got := FromUnixMs(testTimeMs); !got.Equal(testTime) || got.Location() != time.UTC {
		t.Errorf("FromUnixMs(%d) = %v, expected %v in UTC", testTimeMs, got, testTime)
	}
	if got := FromUnixMs(0); !got.IsZero() {
		t.Errorf("FromUnixMs(0) = %v, expected zero time", got)
	}
}

func TestFormat(t *testing.T) {
	if got := Format(testTimeMs); got != "2023-01-15T12:30:45.123Z" {
		t.Errorf("Format(%d) = %q", testTimeMs, got)
	}
	if got := Format(0); got != "" {
		t.Errorf("Format(0) = %q, expected empty", got)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected time.Time
	}{
		{"nil", nil, time.Time{}},
		{"zero int", 0, time.Time{}},
		{"empty string", "", time.Time{}},
		{"int64 milliseconds", testTimeMs, testTime},
		{"int64 seconds", int64(1673785845), testTime.Truncate(time.Second)},
		{"int", int(testTimeMs), testTime},
		{"float64 milliseconds", float64(testTimeMs), testTime},
		{"float64 seconds with fraction", 1673785845.123, testTime},
		{"json number", json.Number("1673785845123"), testTime},
		{"numeric string", "1673785845123", testTime},
		{"seconds string", "1673785845", testTime.Truncate(time.Second)},
		{"rfc3339", "2023-01-15T12:30:45Z", testTime.Truncate(time.Second)},
		{"rfc3339 fraction", "2023-01-15T12:30:45.123Z", testTime},
		{"rfc3339 offset", "2023-01-15T13:30:45.123+01:00", testTime},
		{"time.Time", testTime, testTime},
		{"*time.Time", &testTime, testTime},
		{"nil *time.Time", (*time.Time)(nil), time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse(%v) returned error: %v", tt.input, err)
			}
			if !got.Equal(tt.expected) {
				t.Errorf("Parse(%v) = %v, expected %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input any
	}{
		{"garbage string", "yesterday"},
		{"negative", int64(-1)},
		{"far future", int64(maxMs + 1)},
		{"nan", math.NaN()},
		{"inf", math.Inf(1)},
		{"unsupported type", []int{1}},
		{"bool", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input)
			if !errors.Is(err, ErrInvalidTimestamp) {
				t.Errorf("Parse(%v) error = %v, expected ErrInvalidTimestamp", tt.input, err)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(testTimeMs); err != nil {
		t.Errorf("Validate(%d) = %v", testTimeMs, err)
	}
	if err := Validate(0); err != nil {
		t.Errorf("Validate(0) = %v", err)
	}
	if err := Validate(-1); err == nil {
		t.Error("Validate(-1) expected error")
	}
}

func TestLater(t *testing.T) {
	earlier := testTime.Add(-time.Second)
	if got := Later(earlier, testTime); !got.Equal(testTime) {
		t.Errorf("Later = %v, expected %v", got, testTime)
	}
	if got := Later(testTime, time.Time{}); !got.Equal(testTime) {
		t.Errorf("Later with zero = %v, expected %v", got, testTime)
	}
}
