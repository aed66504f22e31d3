package store

import (
	"context"

	"gorm.io/gorm"

	"github.com/pitabwire/frame/datastore/pool"
)

// Repository persists transcripts.
type Repository struct {
	pool pool.Pool
}

// NewRepository creates a new transcript repository.
func NewRepository(pool pool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) db(ctx context.Context, readOnly bool) *gorm.DB {
	return r.pool.DB(ctx, readOnly)
}

// Migrate creates or updates the transcripts table.
func (r *Repository) Migrate(ctx context.Context) error {
	return r.db(ctx, false).AutoMigrate(&TranscriptRecord{})
}

// Save persists a transcript.
func (r *Repository) Save(ctx context.Context, rec *TranscriptRecord) error {
	return r.db(ctx, false).Create(rec).Error
}

// GetByID returns a transcript by ID.
func (r *Repository) GetByID(ctx context.Context, id string) (*TranscriptRecord, error) {
	var rec TranscriptRecord
	err := r.db(ctx, true).Where("id = ?", id).First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListBySource returns transcripts of one source file, newest first.
func (r *Repository) ListBySource(ctx context.Context, sourcePath string, limit int) ([]TranscriptRecord, error) {
	var records []TranscriptRecord
	q := r.db(ctx, true).
		Where("source_path = ?", sourcePath).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&records).Error
	return records, err
}
