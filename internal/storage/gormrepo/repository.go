package gormrepo

import (
	"context"

	"gorm.io/gorm"

	"github.com/servinagrero/SRAMPlatform/internal/storage"
	"github.com/servinagrero/SRAMPlatform/internal/storage/models"
)

// Repository is the GORM implementation of storage.Repo.
// isTx marks a transactional child so nested WithTx calls do not Begin twice.
type Repository struct {
	db   *gorm.DB
	isTx bool
}

// New returns a storage.Repo backed by the given *gorm.DB.
func New(db *gorm.DB) storage.Repo {
	return &Repository{db: db}
}

// WithTx reuses the current transaction or starts a new one for fn.
func (r *Repository) WithTx(ctx context.Context, fn func(storage.Repo) error) error {
	if r.isTx {
		return fn(r)
	}

	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}

	child := &Repository{db: tx, isTx: true}
	if err := fn(child); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit().Error
}

// InsertSample stores one captured memory region.
func (r *Repository) InsertSample(ctx context.Context, sample *models.Sample) error {
	return r.db.WithContext(ctx).Create(sample).Error
}

// InsertSensor stores one sensor reading.
func (r *Repository) InsertSensor(ctx context.Context, sensor *models.Sensor) error {
	return r.db.WithContext(ctx).Create(sensor).Error
}

// SamplesForDevice returns the stored samples of one device ordered by
// address then capture time.
func (r *Repository) SamplesForDevice(ctx context.Context, boardID, uid string, limit int) ([]models.Sample, error) {
	var samples []models.Sample
	q := r.db.WithContext(ctx).
		Where("board_id = ? AND uid = ?", boardID, uid).
		Order("address ASC, created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&samples).Error; err != nil {
		return nil, err
	}
	return samples, nil
}
