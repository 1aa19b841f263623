package repository

import (
	"context"
	"errors"
	"time"

	"skillspring-backend/internal/account/domain"
	appdomain "skillspring-backend/internal/application/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const storage = "storage"

type MailAccountRepository interface {
	FindByUserID(ctx context.Context, userID string) (*domain.MailAccount, error)
	FindByEmail(ctx context.Context, email string) (*domain.MailAccount, error)
	// Save creates the user's account or replaces the existing one.
	Save(ctx context.Context, account *domain.MailAccount) error
	UpdateTokens(ctx context.Context, userID, accessToken, refreshToken string, expiry time.Time) error
	// AdvanceHistoryID stores historyID if it is newer than the stored
	// one and reports whether it was.
	AdvanceHistoryID(ctx context.Context, userID string, historyID uint64) (bool, error)
	// RestoreHistoryID puts back prev if the stored id is still claimed,
	// undoing an AdvanceHistoryID whose work could not be scheduled.
	RestoreHistoryID(ctx context.Context, userID string, claimed, prev uint64) error
	SetWatchExpiration(ctx context.Context, userID string, expiration time.Time) error
	ListConnected(ctx context.Context) ([]domain.MailAccount, error)
	Delete(ctx context.Context, userID string) error
}

type mailAccountRepository struct {
	db *gorm.DB
}

func NewMailAccountRepository(db *gorm.DB) MailAccountRepository {
	return &mailAccountRepository{
		db: db,
	}
}

func (r *mailAccountRepository) FindByUserID(ctx context.Context, userID string) (*domain.MailAccount, error) {
	return r.first(ctx, "user_id = ?", userID)
}

func (r *mailAccountRepository) FindByEmail(ctx context.Context, email string) (*domain.MailAccount, error) {
	return r.first(ctx, "LOWER(email) = LOWER(?)", email)
}

func (r *mailAccountRepository) first(ctx context.Context, query string, arg interface{}) (*domain.MailAccount, error) {
	var account domain.MailAccount
	err := r.db.WithContext(ctx).Where(query, arg).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, appdomain.Unavailable(storage, err)
	}
	return &account, nil
}

func (r *mailAccountRepository) Save(ctx context.Context, account *domain.MailAccount) error {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	now := time.Now()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"email", "provider", "access_token", "refresh_token", "token_expiry",
			"imap_host", "imap_username", "imap_password",
			"last_history_id", "watch_expiration", "updated_at",
		}),
	}).Create(account).Error
	if err != nil {
		return appdomain.Unavailable(storage, err)
	}
	return nil
}

func (r *mailAccountRepository) UpdateTokens(ctx context.Context, userID, accessToken, refreshToken string, expiry time.Time) error {
	updates := map[string]interface{}{
		"access_token": accessToken,
		"token_expiry": expiry,
		"updated_at":   time.Now(),
	}
	// Google omits the refresh token on refresh responses.
	if refreshToken != "" {
		updates["refresh_token"] = refreshToken
	}
	err := r.db.WithContext(ctx).Model(&domain.MailAccount{}).Where("user_id = ?", userID).Updates(updates).Error
	if err != nil {
		return appdomain.Unavailable(storage, err)
	}
	return nil
}

func (r *mailAccountRepository) AdvanceHistoryID(ctx context.Context, userID string, historyID uint64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.MailAccount{}).
		Where("user_id = ? AND last_history_id < ?", userID, historyID).
		Updates(map[string]interface{}{"last_history_id": historyID, "updated_at": time.Now()})
	if res.Error != nil {
		return false, appdomain.Unavailable(storage, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *mailAccountRepository) RestoreHistoryID(ctx context.Context, userID string, claimed, prev uint64) error {
	err := r.db.WithContext(ctx).Model(&domain.MailAccount{}).
		Where("user_id = ? AND last_history_id = ?", userID, claimed).
		Updates(map[string]interface{}{"last_history_id": prev, "updated_at": time.Now()}).Error
	if err != nil {
		return appdomain.Unavailable(storage, err)
	}
	return nil
}

func (r *mailAccountRepository) SetWatchExpiration(ctx context.Context, userID string, expiration time.Time) error {
	err := r.db.WithContext(ctx).Model(&domain.MailAccount{}).Where("user_id = ?", userID).
		Updates(map[string]interface{}{"watch_expiration": expiration, "updated_at": time.Now()}).Error
	if err != nil {
		return appdomain.Unavailable(storage, err)
	}
	return nil
}

func (r *mailAccountRepository) ListConnected(ctx context.Context) ([]domain.MailAccount, error) {
	var accounts []domain.MailAccount
	if err := r.db.WithContext(ctx).Order("user_id").Find(&accounts).Error; err != nil {
		return nil, appdomain.Unavailable(storage, err)
	}
	return accounts, nil
}

func (r *mailAccountRepository) Delete(ctx context.Context, userID string) error {
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&domain.MailAccount{}).Error; err != nil {
		return appdomain.Unavailable(storage, err)
	}
	return nil
}
