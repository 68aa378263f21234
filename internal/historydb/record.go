package historydb

import (
	"time"

	"gorm.io/gorm"

	"github.com/xlegames/forge/internal/ids"
)

// Outcome is the terminal state a build record settles in. It mirrors
// the asset state an artifact collection carries (spec.md §3), recorded
// here so the history survives the collection being evicted.
type Outcome string

const (
	// OutcomeReady means the future settled with a usable artifact collection.
	OutcomeReady Outcome = "ready"
	// OutcomeInvalid means the future settled with a Log-only collection.
	OutcomeInvalid Outcome = "invalid"
)

// BuildRecord is one audited compile job: what was requested, which
// compiler served it, how long it took, and whether it succeeded. It is
// written once, after the registry's compile job settles its future —
// never updated in place.
type BuildRecord struct {
	ID ids.BuildID `gorm:"primarykey;type:varchar(26)" json:"id"`

	// DisplayName is the serving compiler's registration display name.
	DisplayName string `gorm:"size:255;index" json:"display_name"`

	// TypeCode is the requested output type code, formatted as hex for
	// readability in ad-hoc queries.
	TypeCode string `gorm:"size:20" json:"type_code"`

	// PrimaryInitializer is the first (source) initializer of the request.
	PrimaryInitializer string `gorm:"size:1024;index" json:"primary_initializer"`

	// SourceVersion is the compiler's source_version at the time of build.
	SourceVersion string `gorm:"size:64" json:"source_version"`

	Outcome    Outcome `gorm:"size:16;index" json:"outcome"`
	ErrorMsg   string  `gorm:"size:4096" json:"error_msg,omitempty"`
	DurationMs int64   `json:"duration_ms"`

	StartedAt   time.Time `gorm:"index" json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// TableName returns the table name for BuildRecord.
func (BuildRecord) TableName() string {
	return "build_records"
}

// BeforeCreate generates an ID if not already set.
func (b *BuildRecord) BeforeCreate(tx *gorm.DB) error {
	if b.ID.IsZero() {
		b.ID = ids.NewBuildID()
	}
	return nil
}
