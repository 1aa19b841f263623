package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"skillspring-backend/internal/application/domain"
	"skillspring-backend/pkg/lock"
	"skillspring-backend/pkg/metrics"

	"go.uber.org/zap"
)

// SyncJob asks for one user's mailbox to be synced. With MessageIDs set
// only those messages are processed.
type SyncJob struct {
	UserID     string
	Since      *time.Time
	MessageIDs []string
	Trigger    string

	attempt int
}

// Syncer runs sync jobs.
type Syncer interface {
	SyncUser(ctx context.Context, userID string, since *time.Time) (*domain.SyncResult, error)
	SyncMessages(ctx context.Context, userID string, messageIDs []string) (*domain.SyncResult, error)
}

type QueueConfig struct {
	Workers     int
	Capacity    int
	JobTimeout  time.Duration
	LockTTL     time.Duration
	RetryDelay  time.Duration
	MaxAttempts int
}

func (c QueueConfig) withDefaults() QueueConfig {
	if c.Workers <= 0 {
		c.Workers = 3
	}
	if c.Capacity <= 0 {
		c.Capacity = 500
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 2 * time.Minute
	}
	if c.LockTTL <= 0 {
		c.LockTTL = c.JobTimeout + 30*time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	return c
}

// SyncQueue runs sync jobs on a fixed pool of workers. Jobs for a user
// whose sync is already running elsewhere are retried later.
type SyncQueue struct {
	syncer  Syncer
	locker  lock.Locker
	metrics *metrics.SyncMetrics
	logger  *zap.Logger
	cfg     QueueConfig

	jobQueue chan SyncJob
	workerWg sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}

	mu      sync.RWMutex
	started bool
	stopped bool
}

func NewSyncQueue(syncer Syncer, locker lock.Locker, m *metrics.SyncMetrics, cfg QueueConfig, logger *zap.Logger) *SyncQueue {
	cfg = cfg.withDefaults()
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SyncQueue{
		syncer:   syncer,
		locker:   locker,
		metrics:  m,
		logger:   logger.Named("sync_queue"),
		cfg:      cfg,
		jobQueue: make(chan SyncJob, cfg.Capacity),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start launches the workers. Calling it twice is a no-op.
func (q *SyncQueue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started || q.stopped {
		return
	}
	for i := 0; i < q.cfg.Workers; i++ {
		q.workerWg.Add(1)
		go q.worker(i)
	}
	q.started = true
	q.logger.Info("sync workers started", zap.Int("workers", q.cfg.Workers))
}

// Stop cancels running syncs and waits for the workers to exit. Queued
// jobs are dropped.
func (q *SyncQueue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	close(q.done)
	q.cancel()
	q.mu.Unlock()

	q.workerWg.Wait()
	q.logger.Info("sync workers stopped")
}

// Enqueue adds a job without blocking. It reports false when the queue
// is full or stopped.
func (q *SyncQueue) Enqueue(job SyncJob) bool {
	if job.UserID == "" {
		return false
	}
	if job.Trigger == "" {
		job.Trigger = "manual"
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.stopped {
		q.metrics.IncDropped(job.Trigger)
		return false
	}
	select {
	case q.jobQueue <- job:
		q.metrics.SetQueueDepth(len(q.jobQueue))
		return true
	default:
		q.metrics.IncDropped(job.Trigger)
		q.logger.Warn("sync queue full, dropping job",
			zap.String("user_id", job.UserID),
			zap.String("trigger", job.Trigger))
		return false
	}
}

func (q *SyncQueue) worker(id int) {
	defer q.workerWg.Done()

	for {
		select {
		case <-q.done:
			q.logger.Debug("sync worker stopped", zap.Int("worker", id))
			return
		case job := <-q.jobQueue:
			q.metrics.SetQueueDepth(len(q.jobQueue))
			q.processJob(job)
		}
	}
}

func (q *SyncQueue) processJob(job SyncJob) {
	log := q.logger.With(
		zap.String("user_id", job.UserID),
		zap.String("trigger", job.Trigger),
		zap.Int("attempt", job.attempt+1))

	release, ok, err := q.locker.TryLock(q.ctx, "sync:"+job.UserID, q.cfg.LockTTL)
	if err != nil {
		log.Warn("sync lock unavailable", zap.Error(err))
		q.retry(job)
		return
	}
	if !ok {
		log.Debug("sync already running for user, retrying later")
		q.retry(job)
		return
	}
	ctx, cancel := context.WithTimeout(WithTrigger(q.ctx, job.Trigger), q.cfg.JobTimeout)
	var res *domain.SyncResult
	if len(job.MessageIDs) > 0 {
		res, err = q.syncer.SyncMessages(ctx, job.UserID, job.MessageIDs)
	} else {
		res, err = q.syncer.SyncUser(ctx, job.UserID, job.Since)
	}
	cancel()
	release()
	if err != nil && !errors.Is(err, domain.ErrSyncPartialFailure) {
		log.Warn("sync job failed", zap.Error(err))
		return
	}
	if err != nil {
		log.Info("sync job finished partially", zap.Error(err))
	}

	// A truncated window continues from the cursor it moved to.
	if res != nil && res.Truncated && !res.Cursor.IsZero() {
		q.Enqueue(SyncJob{UserID: job.UserID, Trigger: job.Trigger})
	}
}

func (q *SyncQueue) retry(job SyncJob) {
	job.attempt++
	if job.attempt >= q.cfg.MaxAttempts {
		q.metrics.IncDropped(job.Trigger)
		q.logger.Warn("sync job gave up waiting for user lock",
			zap.String("user_id", job.UserID),
			zap.String("trigger", job.Trigger))
		return
	}
	time.AfterFunc(q.cfg.RetryDelay, func() {
		q.Enqueue(job)
	})
}
