package repository

import (
	"context"
	"errors"
	"time"

	"skillspring-backend/internal/application/domain"

	"gorm.io/gorm"
)

// SyncCursorRepository stores the per-user sync watermark.
type SyncCursorRepository interface {
	// Get returns the zero time when the user has never synced.
	Get(ctx context.Context, userID string) (time.Time, error)
	// Advance moves the cursor forward; earlier values are ignored.
	Advance(ctx context.Context, userID string, to time.Time) error
	Delete(ctx context.Context, userID string) error
}

type syncCursorRepository struct {
	db *gorm.DB
}

func NewSyncCursorRepository(db *gorm.DB) SyncCursorRepository {
	return &syncCursorRepository{
		db: db,
	}
}

func (r *syncCursorRepository) Get(ctx context.Context, userID string) (time.Time, error) {
	var cursor domain.SyncCursor
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&cursor).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return time.Time{}, nil
		}
		return time.Time{}, domain.Unavailable(storage, err)
	}
	return cursor.LastSyncedAt, nil
}

func (r *syncCursorRepository) Advance(ctx context.Context, userID string, to time.Time) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cursor domain.SyncCursor
		err := tx.Where("user_id = ?", userID).First(&cursor).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&domain.SyncCursor{UserID: userID, LastSyncedAt: to, UpdatedAt: time.Now()}).Error
		}
		if err != nil {
			return err
		}
		if !to.After(cursor.LastSyncedAt) {
			return nil
		}
		return tx.Model(&domain.SyncCursor{}).
			Where("user_id = ? AND last_synced_at < ?", userID, to).
			Updates(map[string]interface{}{"last_synced_at": to, "updated_at": time.Now()}).Error
	})
	if err != nil {
		return domain.Unavailable(storage, err)
	}
	return nil
}

func (r *syncCursorRepository) Delete(ctx context.Context, userID string) error {
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&domain.SyncCursor{}).Error; err != nil {
		return domain.Unavailable(storage, err)
	}
	return nil
}
