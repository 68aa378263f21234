// Package ids provides the identifier types shared across forge's
// components: a time-sortable ULID for build-history records (so rows
// list in insertion order without a separate sequence column) and a
// UUID for correlating a single introspection-API request across logs.
package ids

import (
	"crypto/rand"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// BuildID identifies one row in the build-history audit log.
type BuildID ulid.ULID

// NewBuildID generates a new, time-sortable BuildID.
func NewBuildID() BuildID {
	return BuildID(ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader))
}

// ParseBuildID parses a BuildID string.
func ParseBuildID(s string) (BuildID, error) {
	id, err := ulid.Parse(s)
	if err != nil {
		return BuildID{}, fmt.Errorf("invalid build id: %w", err)
	}
	return BuildID(id), nil
}

// String returns the canonical string representation.
func (b BuildID) String() string {
	return ulid.ULID(b).String()
}

// IsZero reports whether b is the zero value.
func (b BuildID) IsZero() bool {
	return ulid.ULID(b).Compare(ulid.ULID{}) == 0
}

// Value implements driver.Valuer for database storage.
func (b BuildID) Value() (driver.Value, error) {
	if b.IsZero() {
		return nil, nil
	}
	return ulid.ULID(b).String(), nil
}

// Scan implements sql.Scanner for database retrieval.
func (b *BuildID) Scan(value any) error {
	if value == nil {
		*b = BuildID{}
		return nil
	}
	var s string
	switch v := value.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("unsupported type for BuildID: %T", value)
	}
	if s == "" {
		*b = BuildID{}
		return nil
	}
	id, err := ulid.Parse(s)
	if err != nil {
		return fmt.Errorf("scanning BuildID: %w", err)
	}
	*b = BuildID(id)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (b BuildID) MarshalJSON() ([]byte, error) {
	if b.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + b.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *BuildID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*b = BuildID{}
		return nil
	}
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("invalid BuildID JSON: %s", string(data))
	}
	s := string(data[1 : len(data)-1])
	if s == "" {
		*b = BuildID{}
		return nil
	}
	id, err := ulid.Parse(s)
	if err != nil {
		return fmt.Errorf("parsing BuildID JSON: %w", err)
	}
	*b = BuildID(id)
	return nil
}

// GormDataType returns the GORM column type for BuildID.
func (BuildID) GormDataType() string {
	return "varchar(26)"
}

// RequestID correlates one introspection-API request across log lines.
// It is not persisted; it exists only for the lifetime of a request.
type RequestID uuid.UUID

// NewRequestID generates a new RequestID.
func NewRequestID() RequestID {
	return RequestID(uuid.New())
}

// String returns the canonical string representation.
func (r RequestID) String() string {
	return uuid.UUID(r).String()
}
