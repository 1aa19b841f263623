package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"skillspring-backend/internal/application/domain"
	"skillspring-backend/internal/application/repository"
	"skillspring-backend/pkg/metrics"

	"go.uber.org/zap"
)

// Analyzer turns one email into an application candidate, or nil when the
// email is not about an application.
type Analyzer interface {
	Analyze(email *domain.RawEmail) (*domain.ApplicationCandidate, error)
}

// Ingester commits candidates to the user's ledger.
type Ingester interface {
	Ingest(ctx context.Context, userID string, c *domain.ApplicationCandidate) (*domain.IngestResult, error)
}

// StatusNotifier is told about records whose visible status changed.
type StatusNotifier interface {
	NotifyStatusChange(ctx context.Context, userID string, c *domain.ApplicationCandidate, status domain.Status) error
}

type SyncConfig struct {
	Window       time.Duration
	FetchTimeout time.Duration
	Concurrency  int
	MaxMessages  int
}

func (c SyncConfig) withDefaults() SyncConfig {
	if c.Window <= 0 {
		c.Window = 30 * 24 * time.Hour
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 15 * time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
	if c.MaxMessages <= 0 {
		c.MaxMessages = 100
	}
	return c
}

type triggerKey struct{}

// WithTrigger labels the syncs run under ctx for metrics and logs.
func WithTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, triggerKey{}, trigger)
}

func triggerFrom(ctx context.Context) string {
	if t, ok := ctx.Value(triggerKey{}).(string); ok && t != "" {
		return t
	}
	return "manual"
}

// SyncService pulls a window of mail, classifies it and commits the
// results to the ledger. One bad email never fails the batch.
type SyncService struct {
	mail     domain.MailProvider
	analyzer Analyzer
	ledger   Ingester
	cursors  repository.SyncCursorRepository
	notifier StatusNotifier
	metrics  *metrics.SyncMetrics
	cfg      SyncConfig
	logger   *zap.Logger
	now      func() time.Time
}

func NewSyncService(
	mail domain.MailProvider,
	analyzer Analyzer,
	ledger Ingester,
	cursors repository.SyncCursorRepository,
	m *metrics.SyncMetrics,
	cfg SyncConfig,
	logger *zap.Logger,
) *SyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncService{
		mail:     mail,
		analyzer: analyzer,
		ledger:   ledger,
		cursors:  cursors,
		metrics:  m,
		cfg:      cfg.withDefaults(),
		logger:   logger.Named("sync"),
		now:      time.Now,
	}
}

// SetStatusNotifier enables push notifications for status changes.
func (s *SyncService) SetStatusNotifier(n StatusNotifier) {
	s.notifier = n
}

// emailOutcome is the fetch/analyze result of one message.
type emailOutcome struct {
	ref       domain.MessageRef
	email     *domain.RawEmail
	candidate *domain.ApplicationCandidate
	err       error
	transient bool
}

type batchStatus struct {
	transient int
	partial   bool
	truncated bool
}

// SyncUser syncs the window starting at since, the stored cursor, or
// the configured look-back, in that order. At most MaxMessages of the
// oldest messages are handled per call; the cursor then moves to the
// newest ReceivedAt seen, so repeated calls walk through a large window.
// Status notifications only go out for mail newer than the previous
// cursor, which keeps the first backfill quiet.
func (s *SyncService) SyncUser(ctx context.Context, userID string, since *time.Time) (*domain.SyncResult, error) {
	start := time.Now()
	trigger := triggerFrom(ctx)
	log := s.logger.With(zap.String("user_id", userID), zap.String("trigger", trigger))

	cursor, err := s.cursor(ctx, userID)
	if err != nil {
		s.metrics.ObserveRun(trigger, "failed", time.Since(start))
		return nil, err
	}
	from := s.now().Add(-s.cfg.Window)
	switch {
	case since != nil && !since.IsZero():
		from = *since
	case !cursor.IsZero():
		from = cursor
	}
	res := &domain.SyncResult{Since: from}

	listCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	refs, err := s.mail.ListRecentMessages(listCtx, userID, from)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			s.metrics.ObserveRun(trigger, "canceled", time.Since(start))
			return res, ctx.Err()
		}
		s.metrics.ObserveRun(trigger, "failed", time.Since(start))
		if errors.Is(err, domain.ErrNoMailAccount) {
			return res, err
		}
		log.Warn("list messages failed", zap.Error(err))
		return res, fmt.Errorf("list messages: %w", domain.Unavailable("mail", err))
	}

	var status batchStatus
	if len(refs) > s.cfg.MaxMessages {
		log.Info("window exceeds message cap, syncing the oldest part",
			zap.Int("listed", len(refs)),
			zap.Int("cap", s.cfg.MaxMessages))
		refs = refs[:s.cfg.MaxMessages]
		status.truncated = true
		res.Truncated = true
	}

	notifyAfter := cursor
	if notifyAfter.IsZero() {
		notifyAfter = s.now()
	}
	err = s.run(ctx, userID, refs, notifyAfter, res, &status, log)
	if err == nil && s.cursors != nil && status.transient == 0 && !status.partial && !res.Until.IsZero() {
		if aerr := s.cursors.Advance(ctx, userID, res.Until); aerr != nil {
			err = fmt.Errorf("advance cursor: %w", domain.Unavailable("storage", aerr))
		} else {
			res.Cursor = res.Until
		}
	}
	return s.finish(ctx, trigger, start, res, status, err, log)
}

// SyncMessages runs the pipeline over specific messages, as delivered by
// a push notification. It never moves the cursor.
func (s *SyncService) SyncMessages(ctx context.Context, userID string, messageIDs []string) (*domain.SyncResult, error) {
	start := time.Now()
	trigger := triggerFrom(ctx)
	log := s.logger.With(zap.String("user_id", userID), zap.String("trigger", trigger))

	refs := make([]domain.MessageRef, 0, len(messageIDs))
	seen := make(map[string]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}
		refs = append(refs, domain.MessageRef{ID: id})
	}

	res := &domain.SyncResult{}
	cursor, err := s.cursor(ctx, userID)
	if err != nil {
		s.metrics.ObserveRun(trigger, "failed", time.Since(start))
		return res, err
	}
	var status batchStatus
	err = s.run(ctx, userID, refs, cursor, res, &status, log)
	return s.finish(ctx, trigger, start, res, status, err, log)
}

func (s *SyncService) finish(ctx context.Context, trigger string, start time.Time, res *domain.SyncResult, status batchStatus, err error, log *zap.Logger) (*domain.SyncResult, error) {
	result := "ok"
	switch {
	case err != nil && ctx.Err() != nil:
		result = "canceled"
	case err != nil:
		result = "failed"
	case res.Failed > 0 && status.transient > 0 && status.transient == res.Failed && res.Processed == 0:
		result = "failed"
		err = fmt.Errorf("fetch messages: %w", domain.Unavailable("mail", errors.New("every message fetch failed")))
	case status.partial || status.transient > 0 || status.truncated:
		result = "partial"
		err = domain.ErrSyncPartialFailure
	}
	s.metrics.ObserveRun(trigger, result, time.Since(start))

	fields := []zap.Field{
		zap.String("result", result),
		zap.Int("processed", res.Processed),
		zap.Int("created", res.Created),
		zap.Int("updated", res.Updated),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
		zap.Duration("elapsed", time.Since(start)),
	}
	if err != nil && result != "partial" {
		log.Warn("sync finished with error", append(fields, zap.Error(err))...)
	} else {
		log.Info("sync finished", fields...)
	}
	return res, err
}

func (s *SyncService) cursor(ctx context.Context, userID string) (time.Time, error) {
	if s.cursors == nil {
		return time.Time{}, nil
	}
	last, err := s.cursors.Get(ctx, userID)
	if err != nil {
		return time.Time{}, fmt.Errorf("read cursor: %w", domain.Unavailable("storage", err))
	}
	return last, nil
}

// run fetches and analyzes refs in parallel, then ingests the candidates
// one by one in ReceivedAt order. Only a storage failure or cancellation
// aborts the batch. Status changes observed after notifyAfter are pushed.
func (s *SyncService) run(ctx context.Context, userID string, refs []domain.MessageRef, notifyAfter time.Time, res *domain.SyncResult, status *batchStatus, log *zap.Logger) error {
	outcomes := s.collect(ctx, userID, refs)
	if err := ctx.Err(); err != nil {
		return err
	}

	pending := make([]*emailOutcome, 0, len(outcomes))
	for _, o := range outcomes {
		if o.email != nil && o.email.ReceivedAt.After(res.Until) {
			res.Until = o.email.ReceivedAt
		}
		switch {
		case o.err != nil:
			res.Failed++
			if o.transient {
				status.transient++
			}
			log.Warn("email failed", zap.String("email_id", o.ref.ID), zap.Bool("transient", o.transient), zap.Error(o.err))
		case o.candidate == nil:
			res.Processed++
			res.Skipped++
		default:
			pending = append(pending, o)
		}
	}

	sort.SliceStable(pending, func(i, j int) bool {
		a, b := pending[i].candidate, pending[j].candidate
		if !a.ObservedAt.Equal(b.ObservedAt) {
			return a.ObservedAt.Before(b.ObservedAt)
		}
		return a.SourceEmailID < b.SourceEmailID
	})

	type change struct {
		candidate *domain.ApplicationCandidate
		status    domain.Status
	}
	var changes []change

	defer func() {
		s.metrics.AddEmails("created", res.Created)
		s.metrics.AddEmails("updated", res.Updated)
		s.metrics.AddEmails("duplicate", res.Duplicates)
		s.metrics.AddEmails("skipped", res.Skipped)
		s.metrics.AddEmails("failed", res.Failed)
	}()

	for _, o := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		ir, err := s.ledger.Ingest(ctx, userID, o.candidate)
		if err != nil {
			if errors.Is(err, domain.ErrCollaboratorUnavailable) {
				return err
			}
			res.Failed++
			status.partial = true
			log.Warn("ingest failed", zap.String("email_id", o.ref.ID), zap.Error(err))
			continue
		}
		res.Processed++
		switch {
		case ir.Skipped:
			res.Skipped++
		case ir.Duplicate:
			res.Duplicates++
		case ir.Created:
			res.Created++
		case ir.Updated:
			res.Updated++
		}
		if ir.StatusChanged && o.candidate.ObservedAt.After(notifyAfter) {
			changes = append(changes, change{candidate: o.candidate, status: ir.Status})
		}
	}

	if s.notifier != nil {
		for _, c := range changes {
			if err := s.notifier.NotifyStatusChange(ctx, userID, c.candidate, c.status); err != nil {
				log.Warn("status notification failed", zap.String("email_id", c.candidate.SourceEmailID), zap.Error(err))
			}
		}
	}
	return nil
}

func (s *SyncService) collect(ctx context.Context, userID string, refs []domain.MessageRef) []*emailOutcome {
	outcomes := make([]*emailOutcome, len(refs))
	sem := make(chan struct{}, s.cfg.Concurrency)
	var wg sync.WaitGroup

	for i, ref := range refs {
		outcomes[i] = &emailOutcome{ref: ref}
		select {
		case <-ctx.Done():
			outcomes[i].err = ctx.Err()
			continue
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(o *emailOutcome) {
			defer wg.Done()
			defer func() { <-sem }()
			s.process(ctx, userID, o)
		}(outcomes[i])
	}
	wg.Wait()
	return outcomes
}

func (s *SyncService) process(ctx context.Context, userID string, o *emailOutcome) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	email, err := s.mail.GetMessage(fetchCtx, userID, o.ref)
	cancel()
	if err != nil {
		o.err = err
		o.transient = errors.Is(err, domain.ErrCollaboratorUnavailable) || errors.Is(err, context.DeadlineExceeded)
		return
	}
	if email == nil {
		o.err = &domain.ExtractionError{EmailID: o.ref.ID, Err: errors.New("empty message")}
		return
	}
	o.email = email
	o.candidate, o.err = s.analyze(email)
}

func (s *SyncService) analyze(email *domain.RawEmail) (c *domain.ApplicationCandidate, err error) {
	defer func() {
		if r := recover(); r != nil {
			c = nil
			err = &domain.ExtractionError{EmailID: email.ID, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return s.analyzer.Analyze(email)
}
