package config

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Duration is a time.Duration value, decoded from a human-readable
// string, that backs scheduling config fields such as
// PluginLoaderConfig's dial and call timeouts.
// It extends Go's standard duration format with:
//   - d: days (24 hours)
//   - w: weeks (7 days)
//
// Examples:
//   - "30d" = 30 days
//   - "2w" = 2 weeks
//   - "1w2d12h" = 1 week, 2 days, 12 hours
//   - "720h" = 720 hours (standard Go format still works)
//
// This type implements encoding.TextUnmarshaler for Viper/YAML support
// and json.Unmarshaler for JSON configuration files.
type Duration time.Duration

const (
	durationDay  = 24 * time.Hour
	durationWeek = 7 * durationDay
)

// durationUnitHours maps an extended unit suffix (day/week, and their
// abbreviations) to its hour multiplier, so it can be folded into the
// hour component before delegating to time.ParseDuration.
var durationUnitHours = map[string]int64{
	"w": 7 * 24, "wk": 7 * 24, "week": 7 * 24, "weeks": 7 * 24,
	"d": 24, "day": 24, "days": 24,
}

// extendedDurationPattern matches a day/week component: a number
// immediately or loosely followed by its unit, e.g. "30d", "2 weeks".
var extendedDurationPattern = regexp.MustCompile(`(?i)(\d+)\s*(weeks?|wks?|w|days?|d)`)

// ParseDuration parses a human-readable duration string.
// Supports standard Go duration format plus 'd' (days) and 'w' (weeks).
func ParseDuration(s string) (Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("config: empty duration string")
	}

	s = strings.TrimSpace(s)
	negative := strings.HasPrefix(s, "-")
	if negative {
		s = strings.TrimSpace(strings.TrimPrefix(s, "-"))
	}

	var totalHours int64
	remaining := extendedDurationPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := extendedDurationPattern.FindStringSubmatch(match)
		value, _ := strconv.ParseInt(parts[1], 10, 64)
		totalHours += value * durationUnitHours[strings.ToLower(parts[2])]
		return ""
	})
	remaining = strings.Join(strings.Fields(remaining), "")

	durationStr := remaining
	if totalHours > 0 {
		durationStr = fmt.Sprintf("%dh%s", totalHours, remaining)
	}
	if durationStr == "" {
		durationStr = "0s"
	}

	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return 0, fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	if negative {
		d = -d
	}
	return Duration(d), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for YAML/Viper support.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Try as a number (nanoseconds) for backwards compatibility
		var ns int64
		if err := json.Unmarshal(data, &ns); err != nil {
			return err
		}
		*d = Duration(ns)
		return nil
	}
	return d.UnmarshalText([]byte(s))
}

// MarshalJSON implements json.Marshaler.
// Outputs in the most human-readable format possible.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// String returns a human-readable string representation.
// Uses the most appropriate unit (weeks, days, hours, etc.).
func (d Duration) String() string {
	return FormatDuration(time.Duration(d))
}

// FormatDuration renders a plain time.Duration the same way Duration's
// own String does, folding whole weeks and days out of the standard
// library's hours/minutes/seconds rendering. Used for config fields
// that are still plain time.Duration (e.g. ServerConfig's timeouts) so
// `forge config dump` renders every duration consistently.
func FormatDuration(dur time.Duration) string {
	if dur == 0 {
		return "0s"
	}

	negative := dur < 0
	if negative {
		dur = -dur
	}

	var result string
	weeks := dur / durationWeek
	dur -= weeks * durationWeek
	days := dur / durationDay
	dur -= days * durationDay

	if weeks > 0 {
		result += fmt.Sprintf("%dw", weeks)
	}
	if days > 0 {
		result += fmt.Sprintf("%dd", days)
	}
	if dur > 0 {
		result += dur.String()
	}

	if result == "" {
		return time.Duration(0).String()
	}
	if negative {
		return "-" + result
	}
	return result
}
