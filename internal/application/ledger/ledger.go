package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"skillspring-backend/internal/application/domain"
	"skillspring-backend/internal/application/repository"

	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const defaultMaxAttempts = 3

// Ledger reconciles application candidates into per-user records.
type Ledger struct {
	repo            repository.ApplicationRepository
	cursors         repository.SyncCursorRepository
	locks           *keyedMutex
	maxAttempts     int
	platformDomains map[string]string
	logger          *zap.Logger
}

type Option func(*Ledger)

// WithPlatformDomains maps platform names to the domain reported by Insights.
func WithPlatformDomains(domains map[string]string) Option {
	return func(l *Ledger) {
		l.platformDomains = domains
	}
}

// WithMaxAttempts bounds optimistic retries per ingest.
func WithMaxAttempts(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.maxAttempts = n
		}
	}
}

func New(repo repository.ApplicationRepository, cursors repository.SyncCursorRepository, logger *zap.Logger, opts ...Option) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Ledger{
		repo:        repo,
		cursors:     cursors,
		locks:       newKeyedMutex(),
		maxAttempts: defaultMaxAttempts,
		logger:      logger.Named("ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Ingest applies one candidate. Low-confidence or anonymous candidates are
// skipped, an email already applied is a no-op, a new fingerprint creates
// a record, and a known one gets the event inserted into its history in
// chronological position. The visible status is always the latest event's.
func (l *Ledger) Ingest(ctx context.Context, userID string, c *domain.ApplicationCandidate) (*domain.IngestResult, error) {
	if c == nil || c.SourceEmailID == "" || c.Confidence < domain.MinConfidence {
		return &domain.IngestResult{Skipped: true}, nil
	}

	fp := Fingerprint(c.Company, c.Role, c.Platform)
	unlock := l.locks.Lock(userID + "\x00" + fp)
	defer unlock()

	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		res, err := l.apply(ctx, userID, fp, c)
		if errors.Is(err, domain.ErrConflict) {
			l.logger.Debug("ingest conflict, retrying",
				zap.String("user_id", userID),
				zap.String("email_id", c.SourceEmailID),
				zap.Int("attempt", attempt))
			continue
		}
		return res, err
	}
	return nil, fmt.Errorf("ingest email %s: %w", c.SourceEmailID, domain.ErrLedgerConflict)
}

func (l *Ledger) apply(ctx context.Context, userID, fp string, c *domain.ApplicationCandidate) (*domain.IngestResult, error) {
	rec, err := l.repo.FindByFingerprint(ctx, userID, fp)
	if err != nil {
		return nil, err
	}

	entry := domain.StatusEntry{
		Status:        c.Status,
		ObservedAt:    c.ObservedAt,
		SourceEmailID: c.SourceEmailID,
		Subject:       c.SourceSubject,
	}

	if rec == nil {
		// The email may already own a record under an older fingerprint.
		id := domain.RecordID(userID, c.SourceEmailID)
		existing, err := l.repo.FindByID(ctx, userID, id)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return &domain.IngestResult{RecordID: existing.ID, Duplicate: true, Status: existing.Status}, nil
		}

		rec = &domain.ApplicationRecord{
			ID:              id,
			UserID:          userID,
			Fingerprint:     fp,
			SourceEmailID:   c.SourceEmailID,
			Type:            c.Type,
			Company:         c.Company,
			Role:            c.Role,
			Platform:        c.Platform,
			Status:          c.Status,
			Confidence:      c.Confidence,
			FirstObservedAt: c.ObservedAt,
			LastUpdatedAt:   c.ObservedAt,
			StatusHistory:   datatypes.JSONSlice[domain.StatusEntry]{entry},
			SourceEmailIDs:  datatypes.JSONSlice[string]{c.SourceEmailID},
		}
		if err := l.repo.Create(ctx, rec); err != nil {
			return nil, err
		}
		l.logger.Info("application created",
			zap.String("user_id", userID),
			zap.String("record_id", rec.ID),
			zap.String("type", string(rec.Type)),
			zap.String("company", rec.Company),
			zap.String("status", string(rec.Status)))
		return &domain.IngestResult{RecordID: rec.ID, Created: true, StatusChanged: true, Status: rec.Status}, nil
	}

	if rec.HasSource(c.SourceEmailID) {
		return &domain.IngestResult{RecordID: rec.ID, Duplicate: true, Status: rec.Status}, nil
	}
	if c.Type != rec.Type {
		l.logger.Debug("candidate type differs from record, keeping record type",
			zap.String("record_id", rec.ID),
			zap.String("record_type", string(rec.Type)),
			zap.String("candidate_type", string(c.Type)))
	}

	previous := rec.Status
	rec.StatusHistory = insertChronological(rec.StatusHistory, entry)
	rec.SourceEmailIDs = append(rec.SourceEmailIDs, c.SourceEmailID)
	latest := rec.StatusHistory[len(rec.StatusHistory)-1]
	rec.Status = latest.Status
	rec.LastUpdatedAt = latest.ObservedAt
	rec.FirstObservedAt = rec.StatusHistory[0].ObservedAt
	if c.Confidence > rec.Confidence {
		rec.Confidence = c.Confidence
	}

	if err := l.repo.UpdateVersioned(ctx, rec); err != nil {
		return nil, err
	}
	if rec.Status != previous {
		l.logger.Info("application status changed",
			zap.String("user_id", userID),
			zap.String("record_id", rec.ID),
			zap.String("from", string(previous)),
			zap.String("to", string(rec.Status)))
	}
	return &domain.IngestResult{
		RecordID:      rec.ID,
		Updated:       true,
		StatusChanged: rec.Status != previous,
		Status:        rec.Status,
	}, nil
}

// insertChronological keeps history sorted by ObservedAt; an event with
// the same timestamp as an existing one lands after it.
func insertChronological(history datatypes.JSONSlice[domain.StatusEntry], e domain.StatusEntry) datatypes.JSONSlice[domain.StatusEntry] {
	i := sort.Search(len(history), func(i int) bool {
		return history[i].ObservedAt.After(e.ObservedAt)
	})
	history = append(history, domain.StatusEntry{})
	copy(history[i+1:], history[i:])
	history[i] = e
	return history
}

// Categorize partitions the user's records by type, newest activity first.
func (l *Ledger) Categorize(ctx context.Context, userID string) (*domain.CategorizedApplications, error) {
	records, err := l.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	sortByActivity(records)

	out := &domain.CategorizedApplications{
		Jobs:        []*domain.ApplicationRecord{},
		Internships: []*domain.ApplicationRecord{},
		Hackathons:  []*domain.ApplicationRecord{},
	}
	for _, r := range records {
		switch r.Type {
		case domain.TypeJob:
			out.Jobs = append(out.Jobs, r)
		case domain.TypeInternship:
			out.Internships = append(out.Internships, r)
		case domain.TypeHackathon:
			out.Hackathons = append(out.Hackathons, r)
		}
	}
	return out, nil
}

// Query returns records matching every set filter. SearchText is a
// case-insensitive substring match on company, role and email subjects.
func (l *Ledger) Query(ctx context.Context, userID string, f domain.QueryFilter) ([]*domain.ApplicationRecord, error) {
	records, err := l.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	sortByActivity(records)

	search := strings.ToLower(strings.TrimSpace(f.SearchText))
	out := make([]*domain.ApplicationRecord, 0, len(records))
	for _, r := range records {
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if f.Type != "" && r.Type != f.Type {
			continue
		}
		if f.Platform != "" && !strings.EqualFold(r.Platform, f.Platform) {
			continue
		}
		if search != "" && !matchesText(r, search) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func matchesText(r *domain.ApplicationRecord, needle string) bool {
	if strings.Contains(strings.ToLower(r.Company), needle) || strings.Contains(strings.ToLower(r.Role), needle) {
		return true
	}
	for _, s := range r.Subjects() {
		if strings.Contains(strings.ToLower(s), needle) {
			return true
		}
	}
	return false
}

// Purge removes every record and the sync cursor of a user.
func (l *Ledger) Purge(ctx context.Context, userID string) (int64, error) {
	n, err := l.repo.DeleteByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	if l.cursors != nil {
		if err := l.cursors.Delete(ctx, userID); err != nil {
			return n, err
		}
	}
	l.logger.Info("ledger purged", zap.String("user_id", userID), zap.Int64("records", n))
	return n, nil
}

func sortByActivity(records []*domain.ApplicationRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].LastUpdatedAt.After(records[j].LastUpdatedAt)
	})
}
