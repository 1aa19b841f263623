package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"skillspring-backend/internal/account/domain"

	"github.com/google/uuid"
)

// MemoryMailAccountRepository keeps accounts in process, for local runs
// and tests.
type MemoryMailAccountRepository struct {
	mu       sync.RWMutex
	accounts map[string]domain.MailAccount // by user id
}

func NewMemoryMailAccountRepository() *MemoryMailAccountRepository {
	return &MemoryMailAccountRepository{
		accounts: make(map[string]domain.MailAccount),
	}
}

func (r *MemoryMailAccountRepository) FindByUserID(_ context.Context, userID string) (*domain.MailAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	acc, ok := r.accounts[userID]
	if !ok {
		return nil, nil
	}
	return &acc, nil
}

func (r *MemoryMailAccountRepository) FindByEmail(_ context.Context, email string) (*domain.MailAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, acc := range r.accounts {
		if strings.EqualFold(acc.Email, email) {
			acc := acc
			return &acc, nil
		}
	}
	return nil, nil
}

func (r *MemoryMailAccountRepository) Save(_ context.Context, account *domain.MailAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if existing, ok := r.accounts[account.UserID]; ok {
		account.ID = existing.ID
		account.CreatedAt = existing.CreatedAt
	}
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now
	r.accounts[account.UserID] = *account
	return nil
}

func (r *MemoryMailAccountRepository) UpdateTokens(_ context.Context, userID, accessToken, refreshToken string, expiry time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.accounts[userID]
	if !ok {
		return nil
	}
	acc.AccessToken = accessToken
	if refreshToken != "" {
		acc.RefreshToken = refreshToken
	}
	acc.TokenExpiry = expiry
	acc.UpdatedAt = time.Now()
	r.accounts[userID] = acc
	return nil
}

func (r *MemoryMailAccountRepository) AdvanceHistoryID(_ context.Context, userID string, historyID uint64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.accounts[userID]
	if !ok || historyID <= acc.LastHistoryID {
		return false, nil
	}
	acc.LastHistoryID = historyID
	acc.UpdatedAt = time.Now()
	r.accounts[userID] = acc
	return true, nil
}

func (r *MemoryMailAccountRepository) RestoreHistoryID(_ context.Context, userID string, claimed, prev uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if acc, ok := r.accounts[userID]; ok && acc.LastHistoryID == claimed {
		acc.LastHistoryID = prev
		r.accounts[userID] = acc
	}
	return nil
}

func (r *MemoryMailAccountRepository) SetWatchExpiration(_ context.Context, userID string, expiration time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if acc, ok := r.accounts[userID]; ok {
		acc.WatchExpiration = expiration
		r.accounts[userID] = acc
	}
	return nil
}

func (r *MemoryMailAccountRepository) ListConnected(_ context.Context) ([]domain.MailAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.MailAccount, 0, len(r.accounts))
	for _, acc := range r.accounts {
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (r *MemoryMailAccountRepository) Delete(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.accounts, userID)
	return nil
}

type MemoryDeviceTokenRepository struct {
	mu     sync.RWMutex
	tokens map[string]domain.DeviceToken // by token
}

func NewMemoryDeviceTokenRepository() *MemoryDeviceTokenRepository {
	return &MemoryDeviceTokenRepository{
		tokens: make(map[string]domain.DeviceToken),
	}
}

func (r *MemoryDeviceTokenRepository) SaveToken(_ context.Context, userID, token, deviceInfo string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	t, ok := r.tokens[token]
	if !ok {
		t = domain.DeviceToken{ID: uuid.New().String(), Token: token, CreatedAt: now}
	}
	t.UserID = userID
	t.DeviceInfo = deviceInfo
	t.UpdatedAt = now
	r.tokens[token] = t
	return nil
}

func (r *MemoryDeviceTokenRepository) GetTokensByUserID(_ context.Context, userID string) ([]domain.DeviceToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.DeviceToken
	for _, t := range r.tokens {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out, nil
}

func (r *MemoryDeviceTokenRepository) DeleteToken(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tokens, token)
	return nil
}

func (r *MemoryDeviceTokenRepository) DeleteTokensByUserID(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for token, t := range r.tokens {
		if t.UserID == userID {
			delete(r.tokens, token)
		}
	}
	return nil
}
