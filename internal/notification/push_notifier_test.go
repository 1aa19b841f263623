package notification

import (
	"context"
	"errors"
	"strings"
	"testing"

	"skillspring-backend/internal/account/repository"
	appdomain "skillspring-backend/internal/application/domain"
	"skillspring-backend/pkg/fcm"
	"skillspring-backend/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
)

type fakeSender struct {
	sent   []fcm.NotificationData
	tokens [][]string
	failed []string
	err    error
}

func (f *fakeSender) SendToDevices(_ context.Context, tokens []string, n fcm.NotificationData) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, n)
	f.tokens = append(f.tokens, tokens)
	return f.failed, nil
}

func interviewCandidate() *appdomain.ApplicationCandidate {
	return &appdomain.ApplicationCandidate{
		SourceEmailID: "m1",
		Type:          appdomain.TypeJob,
		Company:       "Acme",
		Role:          "Backend Engineer",
		Platform:      "LinkedIn",
		Status:        appdomain.StatusInterview,
	}
}

func TestNotifyStatusChangeSendsAndCleansTokens(t *testing.T) {
	ctx := context.Background()
	tokens := repository.NewMemoryDeviceTokenRepository()
	_ = tokens.SaveToken(ctx, "u1", "tok-good", "chrome")
	_ = tokens.SaveToken(ctx, "u1", "tok-stale", "firefox")
	sender := &fakeSender{failed: []string{"tok-stale"}}
	reg := prometheus.NewRegistry()
	m := metrics.NewSyncMetrics(reg, metrics.Config{ServiceName: "test"})

	p := NewPushNotifier(sender, tokens, m, zap.NewNop())
	if err := p.NotifyStatusChange(ctx, "u1", interviewCandidate(), appdomain.StatusInterview); err != nil {
		t.Fatalf("NotifyStatusChange: %v", err)
	}

	if len(sender.sent) != 1 || len(sender.tokens[0]) != 2 {
		t.Fatalf("sent = %+v", sender.sent)
	}
	n := sender.sent[0]
	if n.Title != "Interview update from Acme" || !strings.Contains(n.Body, "Backend Engineer is now interview (via LinkedIn)") {
		t.Fatalf("notification = %+v", n)
	}
	if n.Data["status"] != "interview" || n.ClickAction != "/applications" {
		t.Fatalf("data = %+v", n.Data)
	}
	left, _ := tokens.GetTokensByUserID(ctx, "u1")
	if len(left) != 1 || left[0].Token != "tok-good" {
		t.Fatalf("stale token not removed: %+v", left)
	}
	if n, err := testutil.GatherAndCount(reg, "skillspring_status_notifications_total"); err != nil || n != 1 {
		t.Fatalf("notification series = %d, %v", n, err)
	}
}

func TestNotifyStatusChangeIgnoresOtherStatuses(t *testing.T) {
	sender := &fakeSender{}
	tokens := repository.NewMemoryDeviceTokenRepository()
	_ = tokens.SaveToken(context.Background(), "u1", "tok", "")
	p := NewPushNotifier(sender, tokens, nil, zap.NewNop())

	for _, s := range []appdomain.Status{appdomain.StatusApplied, appdomain.StatusPending} {
		if err := p.NotifyStatusChange(context.Background(), "u1", interviewCandidate(), s); err != nil {
			t.Fatalf("NotifyStatusChange(%s): %v", s, err)
		}
	}
	if len(sender.sent) != 0 {
		t.Fatalf("unexpected notifications: %+v", sender.sent)
	}
}

func TestNotifyStatusChangeWithoutDevices(t *testing.T) {
	sender := &fakeSender{err: errors.New("should not be called")}
	p := NewPushNotifier(sender, repository.NewMemoryDeviceTokenRepository(), nil, zap.NewNop())
	if err := p.NotifyStatusChange(context.Background(), "u1", interviewCandidate(), appdomain.StatusSelected); err != nil {
		t.Fatalf("NotifyStatusChange: %v", err)
	}
}

func TestStatusNotificationText(t *testing.T) {
	c := interviewCandidate()
	c.Role = appdomain.UnknownPosition
	c.Platform = appdomain.PlatformDirect
	c.Type = appdomain.TypeHackathon

	n, ok := statusNotification(c, appdomain.StatusRejected)
	if !ok || n.Title != "Update from Acme" || n.Body != "Your hackathon application is now rejected" {
		t.Fatalf("notification = %+v, %v", n, ok)
	}
}
