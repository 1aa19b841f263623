package usecase

import (
	"context"
	"testing"
	"time"

	"skillspring-backend/internal/application/domain"
	"skillspring-backend/pkg/lock"

	"go.uber.org/zap"
)

type syncCall struct {
	userID     string
	trigger    string
	messageIDs []string
}

type fakeSyncer struct {
	calls chan syncCall
}

func newFakeSyncer() *fakeSyncer {
	return &fakeSyncer{calls: make(chan syncCall, 16)}
}

func (f *fakeSyncer) SyncUser(ctx context.Context, userID string, _ *time.Time) (*domain.SyncResult, error) {
	f.calls <- syncCall{userID: userID, trigger: triggerFrom(ctx)}
	return &domain.SyncResult{}, nil
}

func (f *fakeSyncer) SyncMessages(ctx context.Context, userID string, ids []string) (*domain.SyncResult, error) {
	f.calls <- syncCall{userID: userID, trigger: triggerFrom(ctx), messageIDs: ids}
	return &domain.SyncResult{}, nil
}

func waitCall(t *testing.T, calls <-chan syncCall) syncCall {
	t.Helper()
	select {
	case c := <-calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for sync")
		return syncCall{}
	}
}

func TestSyncQueueRunsJobs(t *testing.T) {
	syncer := newFakeSyncer()
	q := NewSyncQueue(syncer, nil, nil, QueueConfig{Workers: 2}, zap.NewNop())
	q.Start()
	defer q.Stop()

	if !q.Enqueue(SyncJob{UserID: "u1", Trigger: "poll"}) {
		t.Fatalf("Enqueue rejected")
	}
	if c := waitCall(t, syncer.calls); c.userID != "u1" || c.trigger != "poll" || c.messageIDs != nil {
		t.Fatalf("unexpected call: %+v", c)
	}

	q.Enqueue(SyncJob{UserID: "u2", MessageIDs: []string{"m1"}, Trigger: "push"})
	if c := waitCall(t, syncer.calls); c.userID != "u2" || len(c.messageIDs) != 1 || c.trigger != "push" {
		t.Fatalf("unexpected call: %+v", c)
	}
}

func TestSyncQueueRetriesBusyUser(t *testing.T) {
	syncer := newFakeSyncer()
	locker := lock.NewLocalLocker()
	release, ok, _ := locker.TryLock(context.Background(), "sync:u1", time.Minute)
	if !ok {
		t.Fatalf("could not pre-acquire lock")
	}

	q := NewSyncQueue(syncer, locker, nil, QueueConfig{Workers: 1, RetryDelay: 20 * time.Millisecond, MaxAttempts: 50}, zap.NewNop())
	q.Start()
	defer q.Stop()

	q.Enqueue(SyncJob{UserID: "u1"})
	select {
	case c := <-syncer.calls:
		t.Fatalf("sync ran while the user was locked: %+v", c)
	case <-time.After(100 * time.Millisecond):
	}

	release()
	if c := waitCall(t, syncer.calls); c.userID != "u1" || c.trigger != "manual" {
		t.Fatalf("unexpected call: %+v", c)
	}
}

func TestSyncQueueGivesUpOnLockedUser(t *testing.T) {
	syncer := newFakeSyncer()
	locker := lock.NewLocalLocker()
	if _, ok, _ := locker.TryLock(context.Background(), "sync:u1", time.Minute); !ok {
		t.Fatalf("could not pre-acquire lock")
	}

	q := NewSyncQueue(syncer, locker, nil, QueueConfig{Workers: 1, RetryDelay: 5 * time.Millisecond, MaxAttempts: 2}, zap.NewNop())
	q.Start()
	defer q.Stop()

	q.Enqueue(SyncJob{UserID: "u1"})
	q.Enqueue(SyncJob{UserID: "u2"})
	if c := waitCall(t, syncer.calls); c.userID != "u2" {
		t.Fatalf("unexpected call: %+v", c)
	}
	select {
	case c := <-syncer.calls:
		t.Fatalf("locked job should have been dropped, got %+v", c)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSyncQueueEnqueueLimits(t *testing.T) {
	q := NewSyncQueue(newFakeSyncer(), nil, nil, QueueConfig{Capacity: 1}, zap.NewNop())

	if q.Enqueue(SyncJob{}) {
		t.Fatalf("job without user accepted")
	}
	if !q.Enqueue(SyncJob{UserID: "u1"}) {
		t.Fatalf("first job rejected")
	}
	if q.Enqueue(SyncJob{UserID: "u2"}) {
		t.Fatalf("job accepted beyond capacity")
	}

	q.Stop()
	q.Stop()
	if q.Enqueue(SyncJob{UserID: "u3"}) {
		t.Fatalf("stopped queue accepted a job")
	}
}

// backfillSyncer reports a truncated window until its remaining
// batches run out.
type backfillSyncer struct {
	*fakeSyncer
	remaining int
}

func (b *backfillSyncer) SyncUser(ctx context.Context, userID string, since *time.Time) (*domain.SyncResult, error) {
	b.calls <- syncCall{userID: userID, trigger: triggerFrom(ctx)}
	b.remaining--
	if b.remaining > 0 {
		return &domain.SyncResult{Truncated: true, Cursor: time.Now()}, domain.ErrSyncPartialFailure
	}
	return &domain.SyncResult{}, nil
}

func TestSyncQueueContinuesTruncatedWindow(t *testing.T) {
	syncer := &backfillSyncer{fakeSyncer: newFakeSyncer(), remaining: 3}
	q := NewSyncQueue(syncer, nil, nil, QueueConfig{Workers: 1}, zap.NewNop())
	q.Start()
	defer q.Stop()

	q.Enqueue(SyncJob{UserID: "u1", Trigger: "poll"})
	for i := 0; i < 3; i++ {
		if c := waitCall(t, syncer.calls); c.userID != "u1" || c.trigger != "poll" {
			t.Fatalf("call %d: %+v", i, c)
		}
	}
	select {
	case c := <-syncer.calls:
		t.Fatalf("sync continued past the end of the window: %+v", c)
	case <-time.After(100 * time.Millisecond):
	}
}
