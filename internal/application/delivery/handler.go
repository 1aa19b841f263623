package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"skillspring-backend/internal/application/domain"
	"skillspring-backend/internal/application/dto"
	"skillspring-backend/internal/application/usecase"
	"skillspring-backend/pkg/export"
	"skillspring-backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// LedgerReader is the read side of the ledger used by the API.
type LedgerReader interface {
	Categorize(ctx context.Context, userID string) (*domain.CategorizedApplications, error)
	Query(ctx context.Context, userID string, f domain.QueryFilter) ([]*domain.ApplicationRecord, error)
	Search(ctx context.Context, userID, text string, limit int) ([]domain.SearchHit, error)
	Insights(ctx context.Context, userID string) (*domain.Insights, error)
	Purge(ctx context.Context, userID string) (int64, error)
}

type Enqueuer interface {
	Enqueue(job usecase.SyncJob) bool
}

type ApplicationHandler struct {
	ledger LedgerReader
	syncer usecase.Syncer
	queue  Enqueuer
	now    func() time.Time
}

// NewApplicationHandler builds the handler; queue may be nil, in which
// case async sync requests run inline.
func NewApplicationHandler(ledger LedgerReader, syncer usecase.Syncer, queue Enqueuer) *ApplicationHandler {
	return &ApplicationHandler{
		ledger: ledger,
		syncer: syncer,
		queue:  queue,
		now:    time.Now,
	}
}

// Sync runs a mailbox sync for the caller. With ?async=true the job is
// queued and 202 returned.
func (h *ApplicationHandler) Sync(c *gin.Context) {
	userID := c.GetString("userID")

	var req dto.SyncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.Since != nil && req.Since.After(h.now()) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "since must not be in the future"})
		return
	}

	if c.Query("async") == "true" && h.queue != nil {
		if !h.queue.Enqueue(usecase.SyncJob{UserID: userID, Since: req.Since, Trigger: "manual"}) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sync queue is full, try again later"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
		return
	}

	ctx := usecase.WithTrigger(c.Request.Context(), "manual")
	result, err := h.syncer.SyncUser(ctx, userID, req.Since)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, dto.SyncResponse{SyncResult: result, Partial: false})
	case errors.Is(err, domain.ErrSyncPartialFailure):
		c.JSON(http.StatusOK, dto.SyncResponse{SyncResult: result, Partial: true})
	default:
		h.fail(c, err)
	}
}

func (h *ApplicationHandler) GetCategorized(c *gin.Context) {
	userID := c.GetString("userID")
	categorized, err := h.ledger.Categorize(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	insights, err := h.ledger.Insights(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.CategorizedResponse{CategorizedApplications: categorized, Insights: insights})
}

func (h *ApplicationHandler) List(c *gin.Context) {
	filter := domain.QueryFilter{
		Status:     domain.Status(c.Query("status")),
		Type:       domain.ApplicationType(c.Query("type")),
		Platform:   c.Query("platform"),
		SearchText: c.Query("q"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + strconv.Quote(string(filter.Status))})
		return
	}
	if filter.Type != "" && !filter.Type.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown type " + strconv.Quote(string(filter.Type))})
		return
	}

	records, err := h.ledger.Query(c.Request.Context(), c.GetString("userID"), filter)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ApplicationsResponse{Applications: records, Total: len(records)})
}

func (h *ApplicationHandler) Search(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter 'q' is required"})
		return
	}

	limit := 0
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	hits, err := h.ledger.Search(c.Request.Context(), c.GetString("userID"), query, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.SearchResponse{Query: query, Results: hits, Total: len(hits)})
}

func (h *ApplicationHandler) GetInsights(c *gin.Context) {
	insights, err := h.ledger.Insights(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, insights)
}

// Export streams the ledger as an XLSX workbook.
func (h *ApplicationHandler) Export(c *gin.Context) {
	userID := c.GetString("userID")
	records, err := h.ledger.Query(c.Request.Context(), userID, domain.QueryFilter{})
	if err != nil {
		h.fail(c, err)
		return
	}
	insights, err := h.ledger.Insights(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}

	now := h.now()
	var buf bytes.Buffer
	if err := export.WriteWorkbook(&buf, records, insights, now); err != nil {
		h.fail(c, err)
		return
	}
	filename := fmt.Sprintf("applications-%s.xlsx", now.Format("20060102"))
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, export.ContentType, buf.Bytes())
}

func (h *ApplicationHandler) Purge(c *gin.Context) {
	n, err := h.ledger.Purge(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.PurgeResponse{Deleted: n})
}

func (h *ApplicationHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNoMailAccount):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrLedgerConflict), errors.Is(err, domain.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrCollaboratorUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "request timed out"})
	default:
		logger.FromGin(c).Error("application request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
