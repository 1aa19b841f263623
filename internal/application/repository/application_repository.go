package repository

import (
	"context"
	"errors"
	"time"

	"skillspring-backend/internal/application/domain"

	"gorm.io/gorm"
)

const storage = "storage"

// ApplicationRepository persists ledger records keyed by (userID, fingerprint).
// Find methods return (nil, nil) when nothing matches.
type ApplicationRepository interface {
	FindByFingerprint(ctx context.Context, userID, fingerprint string) (*domain.ApplicationRecord, error)
	FindByID(ctx context.Context, userID, id string) (*domain.ApplicationRecord, error)
	// Create returns domain.ErrConflict when the id or fingerprint is taken.
	Create(ctx context.Context, record *domain.ApplicationRecord) error
	// UpdateVersioned writes the record only if its stored version still
	// equals record.Version, then bumps record.Version. A stale version
	// yields domain.ErrConflict.
	UpdateVersioned(ctx context.Context, record *domain.ApplicationRecord) error
	ListByUser(ctx context.Context, userID string) ([]*domain.ApplicationRecord, error)
	DeleteByUser(ctx context.Context, userID string) (int64, error)
}

type applicationRepository struct {
	db *gorm.DB
}

// NewApplicationRepository expects a gorm.DB opened with TranslateError.
func NewApplicationRepository(db *gorm.DB) ApplicationRepository {
	return &applicationRepository{
		db: db,
	}
}

func (r *applicationRepository) FindByFingerprint(ctx context.Context, userID, fingerprint string) (*domain.ApplicationRecord, error) {
	var record domain.ApplicationRecord
	err := r.db.WithContext(ctx).Where("user_id = ? AND fingerprint = ?", userID, fingerprint).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, domain.Unavailable(storage, err)
	}
	return &record, nil
}

func (r *applicationRepository) FindByID(ctx context.Context, userID, id string) (*domain.ApplicationRecord, error) {
	var record domain.ApplicationRecord
	err := r.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, id).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, domain.Unavailable(storage, err)
	}
	return &record, nil
}

func (r *applicationRepository) Create(ctx context.Context, record *domain.ApplicationRecord) error {
	now := time.Now()
	record.CreatedAt = now
	record.UpdatedAt = now
	if record.Version == 0 {
		record.Version = 1
	}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrConflict
		}
		return domain.Unavailable(storage, err)
	}
	return nil
}

func (r *applicationRepository) UpdateVersioned(ctx context.Context, record *domain.ApplicationRecord) error {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&domain.ApplicationRecord{}).
		Where("id = ? AND user_id = ? AND version = ?", record.ID, record.UserID, record.Version).
		Updates(map[string]interface{}{
			"status":            record.Status,
			"confidence":        record.Confidence,
			"first_observed_at": record.FirstObservedAt,
			"last_updated_at":   record.LastUpdatedAt,
			"status_history":    record.StatusHistory,
			"source_email_ids":  record.SourceEmailIDs,
			"version":           record.Version + 1,
			"updated_at":        now,
		})
	if result.Error != nil {
		return domain.Unavailable(storage, result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	record.Version++
	record.UpdatedAt = now
	return nil
}

func (r *applicationRepository) ListByUser(ctx context.Context, userID string) ([]*domain.ApplicationRecord, error) {
	var records []*domain.ApplicationRecord
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("last_updated_at DESC").
		Order("id").
		Find(&records).Error
	if err != nil {
		return nil, domain.Unavailable(storage, err)
	}
	return records, nil
}

func (r *applicationRepository) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	result := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&domain.ApplicationRecord{})
	if result.Error != nil {
		return 0, domain.Unavailable(storage, result.Error)
	}
	return result.RowsAffected, nil
}
