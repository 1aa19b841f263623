package notification

import (
	"context"
	"fmt"
	"strings"

	accountdomain "skillspring-backend/internal/account/domain"
	appdomain "skillspring-backend/internal/application/domain"
	"skillspring-backend/pkg/fcm"
	"skillspring-backend/pkg/metrics"

	"go.uber.org/zap"
)

// Sender delivers one notification to a set of device tokens and returns
// the tokens that are no longer valid.
type Sender interface {
	SendToDevices(ctx context.Context, tokens []string, notification fcm.NotificationData) ([]string, error)
}

type TokenStore interface {
	GetTokensByUserID(ctx context.Context, userID string) ([]accountdomain.DeviceToken, error)
	DeleteToken(ctx context.Context, token string) error
}

// PushNotifier tells a user's devices when an application moves to
// interview, selected or rejected.
type PushNotifier struct {
	sender  Sender
	tokens  TokenStore
	metrics *metrics.SyncMetrics
	logger  *zap.Logger
}

func NewPushNotifier(sender Sender, tokens TokenStore, m *metrics.SyncMetrics, logger *zap.Logger) *PushNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PushNotifier{
		sender:  sender,
		tokens:  tokens,
		metrics: m,
		logger:  logger.Named("status_push"),
	}
}

func (p *PushNotifier) NotifyStatusChange(ctx context.Context, userID string, c *appdomain.ApplicationCandidate, status appdomain.Status) error {
	n, ok := statusNotification(c, status)
	if !ok {
		return nil
	}

	tokens, err := p.tokens.GetTokensByUserID(ctx, userID)
	if err != nil {
		p.metrics.IncNotification("failed")
		return fmt.Errorf("load device tokens: %w", err)
	}
	if len(tokens) == 0 {
		p.metrics.IncNotification("no_devices")
		return nil
	}
	tokenStrings := make([]string, 0, len(tokens))
	for _, t := range tokens {
		tokenStrings = append(tokenStrings, t.Token)
	}

	failedTokens, err := p.sender.SendToDevices(ctx, tokenStrings, n)
	if err != nil {
		p.metrics.IncNotification("failed")
		return fmt.Errorf("send status notification: %w", err)
	}
	p.metrics.IncNotification("sent")

	for _, token := range failedTokens {
		if err := p.tokens.DeleteToken(ctx, token); err != nil {
			p.logger.Warn("failed to remove stale device token", zap.Error(err))
		}
	}
	p.logger.Debug("status notification sent",
		zap.String("user_id", userID),
		zap.String("status", string(status)),
		zap.Int("devices", len(tokenStrings)-len(failedTokens)))
	return nil
}

func statusNotification(c *appdomain.ApplicationCandidate, status appdomain.Status) (fcm.NotificationData, bool) {
	var title string
	switch status {
	case appdomain.StatusInterview:
		title = "Interview update from " + c.Company
	case appdomain.StatusSelected:
		title = "Good news from " + c.Company
	case appdomain.StatusRejected:
		title = "Update from " + c.Company
	default:
		return fcm.NotificationData{}, false
	}

	what := c.Role
	if what == "" || what == appdomain.UnknownPosition {
		what = "Your " + string(c.Type) + " application"
	}
	body := fmt.Sprintf("%s is now %s", what, status)
	if c.Platform != "" && !strings.EqualFold(c.Platform, appdomain.PlatformDirect) {
		body += " (via " + c.Platform + ")"
	}

	return fcm.NotificationData{
		Title: title,
		Body:  body,
		Data: map[string]string{
			"type":             "application_status",
			"status":           string(status),
			"application_type": string(c.Type),
			"source_email_id":  c.SourceEmailID,
		},
		ClickAction: "/applications",
	}, true
}
