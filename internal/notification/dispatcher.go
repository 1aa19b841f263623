package notification

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"skillspring-backend/internal/account/repository"
	accountusecase "skillspring-backend/internal/account/usecase"
	appdomain "skillspring-backend/internal/application/domain"
	"skillspring-backend/internal/application/usecase"
	"skillspring-backend/pkg/gmail"

	"go.uber.org/zap"
)

const triggerPush = "push"

// GmailNotification is the payload Gmail publishes on watch.
type GmailNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// PushEnvelope is the body of a Pub/Sub push subscription request.
type PushEnvelope struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// Decode returns the Gmail notification carried by the envelope.
func (e *PushEnvelope) Decode() (*GmailNotification, error) {
	raw, err := base64.StdEncoding.DecodeString(e.Message.Data)
	if err != nil {
		if raw, err = base64.URLEncoding.DecodeString(e.Message.Data); err != nil {
			return nil, fmt.Errorf("decode push data: %w", err)
		}
	}
	var n GmailNotification
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("decode gmail notification: %w", err)
	}
	return &n, nil
}

type HistoryLister interface {
	ListHistory(ctx context.Context, creds gmail.Credentials, startHistoryID uint64, onRefresh gmail.TokenUpdateFunc) ([]string, uint64, error)
}

type Enqueuer interface {
	Enqueue(job usecase.SyncJob) bool
}

// Dispatcher turns mailbox change notifications into sync jobs.
type Dispatcher struct {
	accounts repository.MailAccountRepository
	history  HistoryLister
	queue    Enqueuer
	logger   *zap.Logger
}

func NewDispatcher(accounts repository.MailAccountRepository, history HistoryLister, queue Enqueuer, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		accounts: accounts,
		history:  history,
		queue:    queue,
		logger:   logger.Named("push"),
	}
}

// ErrQueueFull is returned when a sync job could not be queued; the
// notification should be redelivered.
var ErrQueueFull = errors.New("sync queue is full")

// HandleGmailPush syncs what changed since the last processed history id.
// Notifications at or below that id are duplicates and ignored. Errors are
// only returned for failures worth redelivering; in that case the history
// id claim is released so the redelivery is not taken for a duplicate.
func (d *Dispatcher) HandleGmailPush(ctx context.Context, n *GmailNotification) error {
	acc, err := d.accounts.FindByEmail(ctx, n.EmailAddress)
	if err != nil {
		return err
	}
	if acc == nil {
		d.logger.Debug("no account for notification", zap.String("email", n.EmailAddress))
		return nil
	}
	log := d.logger.With(zap.String("user_id", acc.UserID), zap.Uint64("history_id", n.HistoryID))

	prev := acc.LastHistoryID
	if n.HistoryID <= prev {
		log.Debug("duplicate notification", zap.Uint64("last_history_id", prev))
		return nil
	}
	advanced, err := d.accounts.AdvanceHistoryID(ctx, acc.UserID, n.HistoryID)
	if err != nil {
		return err
	}
	if !advanced {
		log.Debug("notification already claimed")
		return nil
	}

	job := usecase.SyncJob{UserID: acc.UserID, Trigger: triggerPush}
	if prev != 0 && d.history != nil {
		creds := gmail.Credentials{AccessToken: acc.AccessToken, RefreshToken: acc.RefreshToken, Expiry: acc.TokenExpiry}
		ids, _, err := d.history.ListHistory(ctx, creds, prev, accountusecase.TokenPersister(d.accounts, acc.UserID))
		// Expired history ids come back as not found. Any listing failure
		// falls back to a cursor-based sync.
		switch {
		case err == nil && len(ids) == 0:
			return nil
		case err == nil:
			job.MessageIDs = ids
		case !errors.Is(err, appdomain.ErrNotFound):
			log.Warn("list history failed, falling back to full sync", zap.Error(err))
		}
	}

	if !d.queue.Enqueue(job) {
		log.Warn("sync job dropped, releasing history id", zap.Int("messages", len(job.MessageIDs)))
		if err := d.accounts.RestoreHistoryID(ctx, acc.UserID, n.HistoryID, prev); err != nil {
			log.Error("failed to release history id", zap.Error(err))
		}
		return ErrQueueFull
	}
	return nil
}

// HandleMessageIDs queues specific messages for the mailbox owner.
func (d *Dispatcher) HandleMessageIDs(ctx context.Context, emailAddress string, messageIDs []string) error {
	acc, err := d.accounts.FindByEmail(ctx, emailAddress)
	if err != nil {
		return err
	}
	if acc == nil {
		return appdomain.ErrNoMailAccount
	}
	job := usecase.SyncJob{UserID: acc.UserID, MessageIDs: messageIDs, Trigger: triggerPush}
	if !d.queue.Enqueue(job) {
		return ErrQueueFull
	}
	return nil
}
