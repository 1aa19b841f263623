package dto

import (
	"time"

	"skillspring-backend/internal/application/domain"
)

type SyncRequest struct {
	// Optional start of the window; defaults to the stored cursor.
	Since *time.Time `json:"since"`
}

type SyncResponse struct {
	*domain.SyncResult
	Partial bool `json:"partial"`
}

type CategorizedResponse struct {
	*domain.CategorizedApplications
	Insights *domain.Insights `json:"insights"`
}

type ApplicationsResponse struct {
	Applications []*domain.ApplicationRecord `json:"applications"`
	Total        int                         `json:"total"`
}

type SearchResponse struct {
	Query   string             `json:"query"`
	Results []domain.SearchHit `json:"results"`
	Total   int                `json:"total"`
}

type PurgeResponse struct {
	Deleted int64 `json:"deleted"`
}
