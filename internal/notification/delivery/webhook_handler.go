package delivery

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	appdomain "skillspring-backend/internal/application/domain"
	"skillspring-backend/internal/notification"
	"skillspring-backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

type PushDispatcher interface {
	HandleGmailPush(ctx context.Context, n *notification.GmailNotification) error
	HandleMessageIDs(ctx context.Context, emailAddress string, messageIDs []string) error
}

// webhookRequest accepts either a Pub/Sub push envelope or a direct list
// of message ids.
type webhookRequest struct {
	notification.PushEnvelope
	UserEmail  string   `json:"userEmail"`
	MessageIDs []string `json:"messageIds"`
}

type WebhookHandler struct {
	dispatcher PushDispatcher
	token      string
}

func NewWebhookHandler(dispatcher PushDispatcher, token string) *WebhookHandler {
	return &WebhookHandler{
		dispatcher: dispatcher,
		token:      token,
	}
}

func (h *WebhookHandler) GmailWebhook(c *gin.Context) {
	if h.token == "" || subtle.ConstantTimeCompare([]byte(c.Query("token")), []byte(h.token)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook token"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	var req webhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	log := logger.FromGin(c)

	switch {
	case req.Message.Data != "":
		n, err := req.Decode()
		if err != nil {
			// Acknowledge so Pub/Sub stops redelivering garbage.
			log.Warn("undecodable push message", zap.Error(err))
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}
		if err := h.dispatcher.HandleGmailPush(c.Request.Context(), n); err != nil {
			log.Warn("push handling failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})

	case req.UserEmail != "" && len(req.MessageIDs) > 0:
		err := h.dispatcher.HandleMessageIDs(c.Request.Context(), req.UserEmail, req.MessageIDs)
		switch {
		case errors.Is(err, appdomain.ErrNoMailAccount):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case err != nil:
			log.Warn("message id dispatch failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusAccepted, gin.H{"status": "queued", "messages": len(req.MessageIDs)})
		}

	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "expected a push envelope or userEmail with messageIds"})
	}
}
