package historydb

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/xlegames/forge/internal/ids"
)

// Repo records and queries build history. It is the only way the rest
// of forge touches the history database; nothing outside this package
// issues GORM queries against it.
type Repo struct {
	db *gorm.DB
}

// NewRepo constructs a Repo over an open history database.
func NewRepo(db *DB) *Repo {
	return &Repo{db: db.DB}
}

// Record inserts one completed build's audit row.
func (r *Repo) Record(ctx context.Context, rec *BuildRecord) error {
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("historydb: recording build: %w", err)
	}
	return nil
}

// ByInitializer returns the most recent build records for a given
// primary initializer, newest first.
func (r *Repo) ByInitializer(ctx context.Context, initializer string, limit int) ([]*BuildRecord, error) {
	var recs []*BuildRecord
	q := r.db.WithContext(ctx).
		Where("primary_initializer = ?", initializer).
		Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("historydb: querying by initializer: %w", err)
	}
	return recs, nil
}

// Recent returns the most recently completed builds across all compilers.
func (r *Repo) Recent(ctx context.Context, limit int) ([]*BuildRecord, error) {
	var recs []*BuildRecord
	q := r.db.WithContext(ctx).Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("historydb: querying recent builds: %w", err)
	}
	return recs, nil
}

// FailureRate returns the fraction of builds for displayName that ended
// Invalid within the lookback window, and the total count considered.
func (r *Repo) FailureRate(ctx context.Context, displayName string, lookback time.Duration) (rate float64, total int64, err error) {
	since := time.Now().Add(-lookback)
	if err = r.db.WithContext(ctx).Model(&BuildRecord{}).
		Where("display_name = ? AND started_at >= ?", displayName, since).
		Count(&total).Error; err != nil {
		return 0, 0, fmt.Errorf("historydb: counting builds: %w", err)
	}
	if total == 0 {
		return 0, 0, nil
	}
	var failed int64
	if err = r.db.WithContext(ctx).Model(&BuildRecord{}).
		Where("display_name = ? AND started_at >= ? AND outcome = ?", displayName, since, OutcomeInvalid).
		Count(&failed).Error; err != nil {
		return 0, 0, fmt.Errorf("historydb: counting failures: %w", err)
	}
	return float64(failed) / float64(total), total, nil
}

// Prune deletes build records older than retainFor. Returns the number
// of rows removed.
func (r *Repo) Prune(ctx context.Context, retainFor time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retainFor)
	res := r.db.WithContext(ctx).Where("started_at < ?", cutoff).Delete(&BuildRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("historydb: pruning: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ByID retrieves a single build record.
func (r *Repo) ByID(ctx context.Context, id ids.BuildID) (*BuildRecord, error) {
	var rec BuildRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("historydb: getting build by id: %w", err)
	}
	return &rec, nil
}
