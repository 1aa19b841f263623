package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"skillspring-backend/internal/application/classifier"
	"skillspring-backend/internal/application/domain"
	"skillspring-backend/internal/application/ledger"
	"skillspring-backend/internal/application/repository"

	"go.uber.org/zap"
)

var now = time.Date(2024, 8, 10, 12, 0, 0, 0, time.UTC)

func at(day int) time.Time {
	return time.Date(2024, 8, day, 9, 0, 0, 0, time.UTC)
}

type fakeMail struct {
	mu          sync.Mutex
	messages    []*domain.RawEmail
	getErr      map[string]error
	listErr     error
	listedSince []time.Time
	fetched     []string
}

func (f *fakeMail) ListRecentMessages(_ context.Context, _ string, since time.Time) ([]domain.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listedSince = append(f.listedSince, since)
	if f.listErr != nil {
		return nil, f.listErr
	}
	// Oldest first; mail without a date is always listed.
	listed := make([]*domain.RawEmail, 0, len(f.messages))
	for _, m := range f.messages {
		if m.ReceivedAt.IsZero() || !m.ReceivedAt.Before(since) {
			listed = append(listed, m)
		}
	}
	sort.SliceStable(listed, func(i, j int) bool { return listed[i].ReceivedAt.Before(listed[j].ReceivedAt) })
	refs := make([]domain.MessageRef, 0, len(listed))
	for _, m := range listed {
		refs = append(refs, domain.MessageRef{ID: m.ID})
	}
	return refs, nil
}

func (f *fakeMail) GetMessage(_ context.Context, _ string, ref domain.MessageRef) (*domain.RawEmail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, ref.ID)
	if err := f.getErr[ref.ID]; err != nil {
		return nil, err
	}
	for _, m := range f.messages {
		if m.ID == ref.ID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("message %s: %w", ref.ID, domain.ErrNotFound)
}

// panickyAnalyzer blows up on one email id.
type panickyAnalyzer struct {
	Analyzer
	panicOn string
}

func (a panickyAnalyzer) Analyze(email *domain.RawEmail) (*domain.ApplicationCandidate, error) {
	if email.ID == a.panicOn {
		panic("unexpected payload")
	}
	return a.Analyzer.Analyze(email)
}

type recordingIngester struct {
	Ingester
	mu    sync.Mutex
	order []string
	errs  map[string]error
}

func (r *recordingIngester) Ingest(ctx context.Context, userID string, c *domain.ApplicationCandidate) (*domain.IngestResult, error) {
	r.mu.Lock()
	r.order = append(r.order, c.SourceEmailID)
	err := r.errs[c.SourceEmailID]
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return r.Ingester.Ingest(ctx, userID, c)
}

type statusCall struct {
	emailID string
	status  domain.Status
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []statusCall
}

func (n *fakeNotifier) NotifyStatusChange(_ context.Context, _ string, c *domain.ApplicationCandidate, status domain.Status) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, statusCall{emailID: c.SourceEmailID, status: status})
	return nil
}

func zomatoEmail() *domain.RawEmail {
	return &domain.RawEmail{
		ID:         "m-zomato",
		Subject:    "Congratulations! You've been selected for Frontend Intern at Zomato",
		From:       "hr@zomato.com",
		ReceivedAt: at(2),
	}
}

func sihEmail() *domain.RawEmail {
	return &domain.RawEmail{
		ID:         "m-sih",
		Subject:    "Smart India Hackathon 2024 – Registration Confirmed",
		From:       "noreply@unstop.com",
		ReceivedAt: at(3),
	}
}

func newsletterEmail() *domain.RawEmail {
	return &domain.RawEmail{
		ID:         "m-news",
		Subject:    "Your weekly reading list",
		From:       "digest@medium.com",
		Body:       "Ten stories picked for you this week.",
		ReceivedAt: at(4),
	}
}

type harness struct {
	mail     *fakeMail
	cursors  *repository.MemorySyncCursorRepository
	ledger   *ledger.Ledger
	ingester *recordingIngester
	notifier *fakeNotifier
	svc      *SyncService
}

func newHarness(t *testing.T, messages ...*domain.RawEmail) *harness {
	t.Helper()
	cls, err := classifier.NewDefault()
	if err != nil {
		t.Fatalf("NewDefault: %v", err)
	}
	cursors := repository.NewMemorySyncCursorRepository()
	l := ledger.New(repository.NewMemoryApplicationRepository(), cursors, zap.NewNop())
	h := &harness{
		mail:     &fakeMail{messages: messages, getErr: map[string]error{}},
		cursors:  cursors,
		ledger:   l,
		ingester: &recordingIngester{Ingester: l, errs: map[string]error{}},
		notifier: &fakeNotifier{},
	}
	h.svc = NewSyncService(h.mail, panickyAnalyzer{Analyzer: cls, panicOn: "m-boom"}, h.ingester, cursors, nil,
		SyncConfig{Concurrency: 3}, zap.NewNop())
	h.svc.now = func() time.Time { return now }
	h.svc.SetStatusNotifier(h.notifier)
	return h
}

func TestSyncUserIsolatesBadEmails(t *testing.T) {
	ctx := context.Background()
	malformed := &domain.RawEmail{ID: "m-bad", Subject: "Your internship application"}
	boom := &domain.RawEmail{ID: "m-boom", Subject: "Job offer", ReceivedAt: at(1)}
	h := newHarness(t, zomatoEmail(), malformed, sihEmail(), boom, newsletterEmail())

	res, err := h.svc.SyncUser(ctx, "u1", nil)
	if err != nil {
		t.Fatalf("SyncUser: %v", err)
	}
	if res.Created != 2 || res.Skipped != 1 || res.Failed != 2 || res.Processed != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !res.Until.Equal(at(4)) {
		t.Fatalf("until = %v, want %v", res.Until, at(4))
	}
	if got, _ := h.cursors.Get(ctx, "u1"); !got.Equal(at(4)) {
		t.Fatalf("cursor = %v, want %v", got, at(4))
	}

	cat, err := h.ledger.Categorize(ctx, "u1")
	if err != nil {
		t.Fatalf("Categorize: %v", err)
	}
	if len(cat.Internships) != 1 || len(cat.Hackathons) != 1 || len(cat.Jobs) != 0 {
		t.Fatalf("categorized: %d jobs, %d internships, %d hackathons", len(cat.Jobs), len(cat.Internships), len(cat.Hackathons))
	}
	if cat.Internships[0].Status != domain.StatusSelected {
		t.Fatalf("internship status = %q", cat.Internships[0].Status)
	}
}

func TestSyncUserWindow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, zomatoEmail())

	if _, err := h.svc.SyncUser(ctx, "u1", nil); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if _, err := h.svc.SyncUser(ctx, "u1", nil); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	explicit := at(1)
	if _, err := h.svc.SyncUser(ctx, "u1", &explicit); err != nil {
		t.Fatalf("explicit sync: %v", err)
	}

	want := []time.Time{now.Add(-30 * 24 * time.Hour), at(2), at(1)}
	if len(h.mail.listedSince) != len(want) {
		t.Fatalf("list calls = %d", len(h.mail.listedSince))
	}
	for i, w := range want {
		if !h.mail.listedSince[i].Equal(w) {
			t.Fatalf("call %d listed since %v, want %v", i, h.mail.listedSince[i], w)
		}
	}
}

func TestSyncUserIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, zomatoEmail(), sihEmail())
	since := at(1)

	if _, err := h.svc.SyncUser(ctx, "u1", &since); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	res, err := h.svc.SyncUser(ctx, "u1", &since)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if res.Created != 0 || res.Updated != 0 || res.Duplicates != 2 {
		t.Fatalf("resync should only see duplicates: %+v", res)
	}
	if len(h.notifier.calls) != 0 {
		t.Fatalf("notifications = %d, want none for a backfill", len(h.notifier.calls))
	}
}

func TestSyncUserIngestsInReceivedOrder(t *testing.T) {
	ctx := context.Background()
	applied := &domain.RawEmail{
		ID:         "m-applied",
		Subject:    "Thank you for applying for the Backend Engineer position at Acme",
		From:       "careers@acme.io",
		ReceivedAt: at(1),
	}
	interview := &domain.RawEmail{
		ID:         "m-interview",
		Subject:    "Interview invitation for the Backend Engineer position at Acme",
		From:       "careers@acme.io",
		ReceivedAt: at(5),
	}
	h := newHarness(t, interview, applied)

	if _, err := h.svc.SyncUser(ctx, "u1", nil); err != nil {
		t.Fatalf("SyncUser: %v", err)
	}
	if len(h.ingester.order) != 2 || h.ingester.order[0] != "m-applied" {
		t.Fatalf("ingest order = %v", h.ingester.order)
	}
	recs, _ := h.ledger.Query(ctx, "u1", domain.QueryFilter{})
	if len(recs) != 1 || recs[0].Status != domain.StatusInterview || len(recs[0].StatusHistory) != 2 {
		t.Fatalf("records: %+v", recs)
	}
}

func TestSyncUserTransientFetchFailureKeepsCursor(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, zomatoEmail(), sihEmail())
	h.mail.getErr["m-sih"] = domain.Unavailable("mail", errors.New("503 backend error"))

	res, err := h.svc.SyncUser(ctx, "u1", nil)
	if !errors.Is(err, domain.ErrSyncPartialFailure) {
		t.Fatalf("want ErrSyncPartialFailure, got %v", err)
	}
	if res.Created != 1 || res.Failed != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got, _ := h.cursors.Get(ctx, "u1"); !got.IsZero() {
		t.Fatalf("cursor advanced to %v despite transient failure", got)
	}
}

func TestSyncUserEveryFetchFailing(t *testing.T) {
	h := newHarness(t, zomatoEmail(), sihEmail())
	h.mail.getErr["m-zomato"] = domain.Unavailable("mail", errors.New("timeout"))
	h.mail.getErr["m-sih"] = domain.Unavailable("mail", errors.New("timeout"))

	_, err := h.svc.SyncUser(context.Background(), "u1", nil)
	if !errors.Is(err, domain.ErrCollaboratorUnavailable) {
		t.Fatalf("want collaborator error, got %v", err)
	}
}

func TestSyncUserListFailure(t *testing.T) {
	h := newHarness(t)
	h.mail.listErr = errors.New("connection reset")

	_, err := h.svc.SyncUser(context.Background(), "u1", nil)
	var ce *domain.CollaboratorError
	if !errors.As(err, &ce) || ce.Collaborator != "mail" || !ce.Retryable() {
		t.Fatalf("want retryable mail CollaboratorError, got %v", err)
	}
}

func TestSyncUserStorageFailureStopsBatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, zomatoEmail(), sihEmail())
	h.ingester.errs["m-zomato"] = domain.Unavailable("storage", errors.New("db down"))

	res, err := h.svc.SyncUser(ctx, "u1", nil)
	if !errors.Is(err, domain.ErrCollaboratorUnavailable) {
		t.Fatalf("want storage error, got %v", err)
	}
	if res == nil || res.Created != 0 {
		t.Fatalf("batch should stop at the storage failure: %+v", res)
	}
	if len(h.ingester.order) != 1 {
		t.Fatalf("ingest calls = %d, want 1", len(h.ingester.order))
	}
	if got, _ := h.cursors.Get(ctx, "u1"); !got.IsZero() {
		t.Fatalf("cursor advanced after storage failure")
	}
}

func TestSyncUserLedgerConflictIsPartial(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, zomatoEmail(), sihEmail())
	h.ingester.errs["m-zomato"] = fmt.Errorf("ingest email m-zomato: %w", domain.ErrLedgerConflict)

	res, err := h.svc.SyncUser(ctx, "u1", nil)
	if !errors.Is(err, domain.ErrSyncPartialFailure) {
		t.Fatalf("want ErrSyncPartialFailure, got %v", err)
	}
	if res.Created != 1 || res.Failed != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got, _ := h.cursors.Get(ctx, "u1"); !got.IsZero() {
		t.Fatalf("cursor advanced after partial failure")
	}
}

func TestSyncUserCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := newHarness(t, zomatoEmail())

	_, err := h.svc.SyncUser(ctx, "u1", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if got, _ := h.cursors.Get(context.Background(), "u1"); !got.IsZero() {
		t.Fatalf("cursor advanced after cancellation")
	}
}

func TestSyncUserWalksWindowLargerThanCap(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, newsletterEmail(), sihEmail(), zomatoEmail())
	h.svc.cfg.MaxMessages = 2

	res, err := h.svc.SyncUser(ctx, "u1", nil)
	if !errors.Is(err, domain.ErrSyncPartialFailure) {
		t.Fatalf("first sync: want ErrSyncPartialFailure, got %v", err)
	}
	if !res.Truncated || res.Processed != 2 || !res.Cursor.Equal(at(3)) {
		t.Fatalf("first sync result: %+v", res)
	}
	if got, _ := h.cursors.Get(ctx, "u1"); !got.Equal(at(3)) {
		t.Fatalf("cursor = %v, want %v", got, at(3))
	}

	res, err = h.svc.SyncUser(ctx, "u1", nil)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if res.Truncated || !res.Since.Equal(at(3)) {
		t.Fatalf("second sync result: %+v", res)
	}
	if got, _ := h.cursors.Get(ctx, "u1"); !got.Equal(at(4)) {
		t.Fatalf("cursor = %v, want %v", got, at(4))
	}

	cat, err := h.ledger.Categorize(ctx, "u1")
	if err != nil {
		t.Fatalf("Categorize: %v", err)
	}
	if len(cat.Internships) != 1 || len(cat.Hackathons) != 1 {
		t.Fatalf("categorized: %d internships, %d hackathons", len(cat.Internships), len(cat.Hackathons))
	}
}

func TestSyncUserBackfillIsQuiet(t *testing.T) {
	h := newHarness(t, zomatoEmail(), newsletterEmail())
	res, err := h.svc.SyncUser(context.Background(), "u1", nil)
	if err != nil {
		t.Fatalf("SyncUser: %v", err)
	}
	if res.Created != 1 || len(h.notifier.calls) != 0 {
		t.Fatalf("result %+v, notifications %+v", res, h.notifier.calls)
	}
}

func TestSyncUserNotifiesStatusChanges(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, zomatoEmail(), newsletterEmail())
	_ = h.cursors.Advance(ctx, "u1", at(1))

	if _, err := h.svc.SyncUser(ctx, "u1", nil); err != nil {
		t.Fatalf("SyncUser: %v", err)
	}
	if len(h.notifier.calls) != 1 || h.notifier.calls[0] != (statusCall{"m-zomato", domain.StatusSelected}) {
		t.Fatalf("notifications: %+v", h.notifier.calls)
	}
}

func TestSyncUserOlderMailIsNotNotified(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, zomatoEmail(), sihEmail())
	_ = h.cursors.Advance(ctx, "u1", at(5))

	since := at(1)
	res, err := h.svc.SyncUser(ctx, "u1", &since)
	if err != nil {
		t.Fatalf("SyncUser: %v", err)
	}
	if res.Created != 2 || len(h.notifier.calls) != 0 {
		t.Fatalf("result %+v, notifications %+v", res, h.notifier.calls)
	}
}

func TestSyncMessagesLeavesCursor(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, zomatoEmail(), sihEmail())

	res, err := h.svc.SyncMessages(ctx, "u1", []string{"m-sih", "m-sih", ""})
	if err != nil {
		t.Fatalf("SyncMessages: %v", err)
	}
	if res.Created != 1 || len(h.mail.fetched) != 1 {
		t.Fatalf("result %+v, fetched %v", res, h.mail.fetched)
	}
	if len(h.mail.listedSince) != 0 {
		t.Fatalf("SyncMessages must not list the mailbox")
	}
	if len(h.notifier.calls) != 1 {
		t.Fatalf("pushed messages should notify, got %+v", h.notifier.calls)
	}
	if got, _ := h.cursors.Get(ctx, "u1"); !got.IsZero() {
		t.Fatalf("SyncMessages moved the cursor")
	}
}
