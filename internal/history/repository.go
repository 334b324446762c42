package history

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Repository stores session records.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a repository on db. Call Migrate before use.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates or updates the session_history table.
func (r *Repository) Migrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&Record{}); err != nil {
		return fmt.Errorf("migrating session history: %w", err)
	}
	return nil
}

// Create inserts a record.
func (r *Repository) Create(ctx context.Context, rec *Record) error {
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("creating session record: %w", err)
	}
	return nil
}

// List returns up to limit records, most recently ended first.
func (r *Repository) List(ctx context.Context, limit int) ([]Record, error) {
	var recs []Record
	q := r.db.WithContext(ctx).Order("ended_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("listing session records: %w", err)
	}
	return recs, nil
}

// Count returns the number of stored records.
func (r *Repository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&Record{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting session records: %w", err)
	}
	return n, nil
}

// DeleteBefore removes records that ended before cutoff and returns how many
// were deleted.
func (r *Repository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("ended_at < ?", cutoff).Delete(&Record{})
	if res.Error != nil {
		return 0, fmt.Errorf("deleting session records: %w", res.Error)
	}
	return res.RowsAffected, nil
}
