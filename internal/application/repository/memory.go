package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"skillspring-backend/internal/application/domain"
)

// MemoryApplicationRepository keeps records in process. Used for local
// runs without a database and in tests; it honours the same conflict
// rules as the gorm implementation.
type MemoryApplicationRepository struct {
	mu      sync.RWMutex
	records map[string]*domain.ApplicationRecord // by id
}

func NewMemoryApplicationRepository() *MemoryApplicationRepository {
	return &MemoryApplicationRepository{
		records: make(map[string]*domain.ApplicationRecord),
	}
}

func (r *MemoryApplicationRepository) FindByFingerprint(_ context.Context, userID, fingerprint string) (*domain.ApplicationRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.records {
		if rec.UserID == userID && rec.Fingerprint == fingerprint {
			return rec.Clone(), nil
		}
	}
	return nil, nil
}

func (r *MemoryApplicationRepository) FindByID(_ context.Context, userID, id string) (*domain.ApplicationRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok || rec.UserID != userID {
		return nil, nil
	}
	return rec.Clone(), nil
}

func (r *MemoryApplicationRepository) Create(_ context.Context, record *domain.ApplicationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[record.ID]; ok {
		return domain.ErrConflict
	}
	for _, rec := range r.records {
		if rec.UserID == record.UserID && rec.Fingerprint == record.Fingerprint {
			return domain.ErrConflict
		}
	}
	now := time.Now()
	record.CreatedAt = now
	record.UpdatedAt = now
	if record.Version == 0 {
		record.Version = 1
	}
	r.records[record.ID] = record.Clone()
	return nil
}

func (r *MemoryApplicationRepository) UpdateVersioned(_ context.Context, record *domain.ApplicationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.records[record.ID]
	if !ok || stored.UserID != record.UserID || stored.Version != record.Version {
		return domain.ErrConflict
	}
	record.Version++
	record.UpdatedAt = time.Now()
	r.records[record.ID] = record.Clone()
	return nil
}

func (r *MemoryApplicationRepository) ListByUser(_ context.Context, userID string) ([]*domain.ApplicationRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.ApplicationRecord
	for _, rec := range r.records {
		if rec.UserID == userID {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastUpdatedAt.Equal(out[j].LastUpdatedAt) {
			return out[i].LastUpdatedAt.After(out[j].LastUpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *MemoryApplicationRepository) DeleteByUser(_ context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, rec := range r.records {
		if rec.UserID == userID {
			delete(r.records, id)
			n++
		}
	}
	return n, nil
}

// MemorySyncCursorRepository is the in-process SyncCursorRepository.
type MemorySyncCursorRepository struct {
	mu      sync.Mutex
	cursors map[string]time.Time
}

func NewMemorySyncCursorRepository() *MemorySyncCursorRepository {
	return &MemorySyncCursorRepository{cursors: make(map[string]time.Time)}
}

func (r *MemorySyncCursorRepository) Get(_ context.Context, userID string) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursors[userID], nil
}

func (r *MemorySyncCursorRepository) Advance(_ context.Context, userID string, to time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if to.After(r.cursors[userID]) {
		r.cursors[userID] = to
	}
	return nil
}

func (r *MemorySyncCursorRepository) Delete(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cursors, userID)
	return nil
}
