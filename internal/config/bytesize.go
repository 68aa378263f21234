package config

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ByteSize is a size value, decoded from a human-readable string, that
// backs config fields such as StoreConfig.MaxArtifact. internal/store
// does not read that field and enforces no size limit on a compile
// product.
//
// Examples:
//   - "5MB" = 5 * 1024 * 1024 bytes
//   - "1.5 GB" = 1.5 * 1024^3 bytes
//   - "500KB" = 500 * 1024 bytes
//   - "5242880" = 5242880 bytes (raw number still works)
//
// This type implements encoding.TextUnmarshaler for Viper/YAML support
// and json.Unmarshaler for JSON configuration files.
type ByteSize int64

// Binary-base size constants, matching the units ParseByteSize accepts.
const (
	byteSizeB  ByteSize = 1
	byteSizeKB          = 1024 * byteSizeB
	byteSizeMB          = 1024 * byteSizeKB
	byteSizeGB          = 1024 * byteSizeMB
	byteSizeTB          = 1024 * byteSizeGB
	byteSizePB          = 1024 * byteSizeTB
)

// byteSizeUnits maps a parsed unit suffix to its multiplier.
var byteSizeUnits = map[string]ByteSize{
	"b": byteSizeB, "byte": byteSizeB, "bytes": byteSizeB,
	"k": byteSizeKB, "kb": byteSizeKB, "kib": byteSizeKB,
	"m": byteSizeMB, "mb": byteSizeMB, "mib": byteSizeMB,
	"g": byteSizeGB, "gb": byteSizeGB, "gib": byteSizeGB,
	"t": byteSizeTB, "tb": byteSizeTB, "tib": byteSizeTB,
	"p": byteSizePB, "pb": byteSizePB, "pib": byteSizePB,
}

// byteSizePattern matches a number (int or float) followed by an optional unit.
var byteSizePattern = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*([a-z]*)\s*$`)

// ParseByteSize parses a human-readable byte size string.
func ParseByteSize(s string) (ByteSize, error) {
	if s == "" {
		return 0, fmt.Errorf("config: empty byte size string")
	}

	matches := byteSizePattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("config: invalid byte size %q", s)
	}

	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, fmt.Errorf("config: invalid byte size number %q: %w", matches[1], err)
	}

	multiplier := byteSizeB
	if unit := strings.ToLower(matches[2]); unit != "" {
		var ok bool
		multiplier, ok = byteSizeUnits[unit]
		if !ok {
			return 0, fmt.Errorf("config: unknown byte size unit %q", unit)
		}
	}

	return ByteSize(value * float64(multiplier)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for YAML/Viper support.
func (b *ByteSize) UnmarshalText(text []byte) error {
	parsed, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *ByteSize) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Try as a number (bytes) for backwards compatibility
		var raw int64
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		*b = ByteSize(raw)
		return nil
	}
	return b.UnmarshalText([]byte(s))
}

// MarshalJSON implements json.Marshaler.
// Outputs in the most human-readable format possible.
func (b ByteSize) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

// MarshalText implements encoding.TextMarshaler.
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// Bytes returns the size in bytes as int64.
func (b ByteSize) Bytes() int64 {
	return int64(b)
}

// Int64 returns the size as int64 (alias for Bytes).
func (b ByteSize) Int64() int64 {
	return int64(b)
}

// String returns a human-readable string representation, choosing the
// largest unit that keeps the value >= 1.
func (b ByteSize) String() string {
	negative := b < 0
	if negative {
		b = -b
	}

	var result string
	switch {
	case b == 0:
		return "0B"
	case b >= byteSizePB:
		result = formatByteSizeFloat(float64(b)/float64(byteSizePB), "PB")
	case b >= byteSizeTB:
		result = formatByteSizeFloat(float64(b)/float64(byteSizeTB), "TB")
	case b >= byteSizeGB:
		result = formatByteSizeFloat(float64(b)/float64(byteSizeGB), "GB")
	case b >= byteSizeMB:
		result = formatByteSizeFloat(float64(b)/float64(byteSizeMB), "MB")
	case b >= byteSizeKB:
		result = formatByteSizeFloat(float64(b)/float64(byteSizeKB), "KB")
	default:
		result = fmt.Sprintf("%dB", int64(b))
	}

	if negative {
		return "-" + result
	}
	return result
}

func formatByteSizeFloat(value float64, unit string) string {
	if value == float64(int64(value)) {
		return fmt.Sprintf("%d%s", int64(value), unit)
	}
	formatted := strings.TrimRight(fmt.Sprintf("%.2f", value), "0")
	formatted = strings.TrimRight(formatted, ".")
	return formatted + unit
}
