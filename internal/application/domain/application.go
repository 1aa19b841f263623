package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type ApplicationType string

const (
	TypeJob        ApplicationType = "job"
	TypeInternship ApplicationType = "internship"
	TypeHackathon  ApplicationType = "hackathon"
)

func (t ApplicationType) Valid() bool {
	switch t {
	case TypeJob, TypeInternship, TypeHackathon:
		return true
	}
	return false
}

type Status string

const (
	StatusApplied   Status = "applied"
	StatusInterview Status = "interview"
	StatusSelected  Status = "selected"
	StatusRejected  Status = "rejected"
	StatusPending   Status = "pending"
)

func (s Status) Valid() bool {
	switch s {
	case StatusApplied, StatusInterview, StatusSelected, StatusRejected, StatusPending:
		return true
	}
	return false
}

// MinConfidence is the lowest candidate confidence the ledger accepts.
const MinConfidence = 0.6

// Fallback literals used by the attribute extractors.
const (
	UnknownCompany  = "Unknown Company"
	UnknownPosition = "Unknown Position"
	PlatformDirect  = "Direct"
)

// ApplicationCandidate is the classifier's view of a single email.
// It is consumed by the ledger and never stored as-is.
type ApplicationCandidate struct {
	SourceEmailID string          `json:"source_email_id"`
	SourceSubject string          `json:"source_subject"`
	Type          ApplicationType `json:"type"`
	Company       string          `json:"company"`
	Role          string          `json:"role"`
	Platform      string          `json:"platform"`
	Status        Status          `json:"status"`
	Confidence    float64         `json:"confidence"`
	ObservedAt    time.Time       `json:"observed_at"`
}

// StatusEntry is one observed status event in a record's history.
type StatusEntry struct {
	Status        Status    `json:"status"`
	ObservedAt    time.Time `json:"observed_at"`
	SourceEmailID string    `json:"source_email_id"`
	Subject       string    `json:"subject,omitempty"`
}

// ApplicationRecord is the ledger's unit of truth. Company, role and
// platform are fixed by the email that introduced the record; status and
// history move as related emails arrive.
type ApplicationRecord struct {
	ID              string                           `json:"id" gorm:"primaryKey"`
	UserID          string                           `json:"user_id" gorm:"uniqueIndex:idx_user_fingerprint;not null"`
	Fingerprint     string                           `json:"fingerprint" gorm:"uniqueIndex:idx_user_fingerprint;not null"`
	SourceEmailID   string                           `json:"source_email_id" gorm:"not null"`
	Type            ApplicationType                  `json:"type" gorm:"index;not null"`
	Company         string                           `json:"company"`
	Role            string                           `json:"role"`
	Platform        string                           `json:"platform" gorm:"index"`
	Status          Status                           `json:"status" gorm:"index"`
	Confidence      float64                          `json:"confidence"`
	FirstObservedAt time.Time                        `json:"first_observed_at"`
	LastUpdatedAt   time.Time                        `json:"last_updated_at" gorm:"index"`
	StatusHistory   datatypes.JSONSlice[StatusEntry] `json:"status_history" gorm:"column:status_history"`
	SourceEmailIDs  datatypes.JSONSlice[string]      `json:"-" gorm:"column:source_email_ids"`
	Version         int                              `json:"-" gorm:"not null;default:1"`
	CreatedAt       time.Time                        `json:"created_at"`
	UpdatedAt       time.Time                        `json:"updated_at"`
}

func (ApplicationRecord) TableName() string {
	return "application_records"
}

var recordNamespace = uuid.MustParse("5b1f3c1e-7d3a-4c39-9a51-2f0e8c6b9d47")

// RecordID derives the stable record key for the email that introduced it.
func RecordID(userID, sourceEmailID string) string {
	return uuid.NewSHA1(recordNamespace, []byte(userID+":"+sourceEmailID)).String()
}

// HasSource reports whether the email has already been applied to the record.
func (r *ApplicationRecord) HasSource(sourceEmailID string) bool {
	for _, id := range r.SourceEmailIDs {
		if id == sourceEmailID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy, so callers can mutate without aliasing storage.
func (r *ApplicationRecord) Clone() *ApplicationRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.StatusHistory = append(datatypes.JSONSlice[StatusEntry](nil), r.StatusHistory...)
	out.SourceEmailIDs = append(datatypes.JSONSlice[string](nil), r.SourceEmailIDs...)
	return &out
}

// Subjects returns the subjects of every email that touched the record.
func (r *ApplicationRecord) Subjects() []string {
	subjects := make([]string, 0, len(r.StatusHistory))
	for _, e := range r.StatusHistory {
		if e.Subject != "" {
			subjects = append(subjects, e.Subject)
		}
	}
	return subjects
}

// CategorizedApplications partitions a user's records by type.
type CategorizedApplications struct {
	Jobs        []*ApplicationRecord `json:"jobs"`
	Internships []*ApplicationRecord `json:"internships"`
	Hackathons  []*ApplicationRecord `json:"hackathons"`
}

// QueryFilter fields are AND-combined; zero values match everything.
type QueryFilter struct {
	Status     Status
	Type       ApplicationType
	Platform   string
	SearchText string
}

// IngestResult describes what the ledger did with one candidate.
type IngestResult struct {
	RecordID      string `json:"record_id"`
	Created       bool   `json:"created"`
	Updated       bool   `json:"updated"`
	StatusChanged bool   `json:"status_changed"`
	Duplicate     bool   `json:"duplicate"`
	Skipped       bool   `json:"skipped"`
	Status        Status `json:"status"`
}

// SyncCursor remembers the newest email seen by the last completed sync.
type SyncCursor struct {
	UserID       string    `json:"user_id" gorm:"primaryKey"`
	LastSyncedAt time.Time `json:"last_synced_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (SyncCursor) TableName() string {
	return "sync_cursors"
}

type SyncResult struct {
	Processed  int       `json:"processed"`
	Created    int       `json:"created"`
	Updated    int       `json:"updated"`
	Duplicates int       `json:"duplicates"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	Since      time.Time `json:"since"`
	Until      time.Time `json:"until,omitempty"`
	// Truncated is set when the window held more mail than one sync
	// takes; the cursor moved past the handled part and the rest is left
	// for the next sync.
	Truncated  bool      `json:"truncated"`
	// Cursor is where the next sync starts, set when this one moved it.
	Cursor     time.Time `json:"cursor,omitempty"`
}

// PlatformCount is how many records came through one platform.
type PlatformCount struct {
	Name   string `json:"name"`
	Domain string `json:"domain,omitempty"`
	Count  int    `json:"count"`
}

// Insights summarises a user's ledger.
type Insights struct {
	Total     int                     `json:"total"`
	ByType    map[ApplicationType]int `json:"by_type"`
	ByStatus  map[Status]int          `json:"by_status"`
	Platforms []PlatformCount         `json:"platforms"`
	Summary   string                  `json:"summary"`
}

// SearchHit is a record ranked by relevance to a free-text query.
type SearchHit struct {
	Record *ApplicationRecord `json:"record"`
	Score  float64            `json:"score"`
}
