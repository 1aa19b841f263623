package scheduler

import (
	"context"
	"sync"
	"time"

	"skillspring-backend/internal/account/domain"
	"skillspring-backend/internal/account/dto"
	"skillspring-backend/internal/application/usecase"

	"go.uber.org/zap"
)

// renewBefore is how close to expiry a Gmail watch gets renewed.
const renewBefore = 24 * time.Hour

type AccountLister interface {
	ListConnected(ctx context.Context) ([]domain.MailAccount, error)
}

type Enqueuer interface {
	Enqueue(job usecase.SyncJob) bool
}

type WatchRenewer interface {
	StartWatch(ctx context.Context, userID string) (*dto.WatchResponse, error)
}

// SyncScheduler periodically queues a sync for every connected mailbox
// and keeps Gmail watches alive.
type SyncScheduler struct {
	accounts AccountLister
	queue    Enqueuer
	watches  WatchRenewer
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSyncScheduler returns a scheduler; a zero interval disables it.
// watches may be nil when push is not configured.
func NewSyncScheduler(accounts AccountLister, queue Enqueuer, watches WatchRenewer, interval time.Duration, logger *zap.Logger) *SyncScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncScheduler{
		accounts: accounts,
		queue:    queue,
		watches:  watches,
		interval: interval,
		logger:   logger.Named("scheduler"),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Start begins the scheduler loop
func (s *SyncScheduler) Start() {
	if s.interval <= 0 {
		s.logger.Info("poll interval not set, scheduler disabled")
		return
	}

	s.logger.Info("starting sync scheduler", zap.Duration("interval", s.interval))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.tick(context.Background())
			case <-s.stopChan:
				s.logger.Info("scheduler stopped")
				return
			}
		}
	}()
}

// Stop gracefully stops the scheduler
func (s *SyncScheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}

func (s *SyncScheduler) tick(ctx context.Context) {
	accounts, err := s.accounts.ListConnected(ctx)
	if err != nil {
		s.logger.Warn("failed to list accounts", zap.Error(err))
		return
	}

	queued := 0
	for _, acc := range accounts {
		if s.queue.Enqueue(usecase.SyncJob{UserID: acc.UserID, Trigger: "poll"}) {
			queued++
		}
		s.renewWatch(ctx, acc)
	}
	if len(accounts) > 0 {
		s.logger.Debug("poll tick", zap.Int("accounts", len(accounts)), zap.Int("queued", queued))
	}
}

func (s *SyncScheduler) renewWatch(ctx context.Context, acc domain.MailAccount) {
	if s.watches == nil || acc.Provider != domain.ProviderGmail || acc.WatchExpiration.IsZero() {
		return
	}
	if acc.WatchExpiration.Sub(s.now()) > renewBefore {
		return
	}
	if _, err := s.watches.StartWatch(ctx, acc.UserID); err != nil {
		s.logger.Warn("failed to renew gmail watch", zap.String("user_id", acc.UserID), zap.Error(err))
	}
}
