package gmail

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"skillspring-backend/internal/application/domain"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
)

func encode(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func TestBuildSearchQuery(t *testing.T) {
	since := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	if got, want := BuildSearchQuery(since), "-in:chats -in:drafts after:1719792000"; got != want {
		t.Fatalf("BuildSearchQuery = %q, want %q", got, want)
	}
	if got := BuildSearchQuery(time.Time{}); strings.Contains(got, "after:") {
		t.Fatalf("zero since must not bound the query: %q", got)
	}
}

func TestToRawEmailPrefersPlainText(t *testing.T) {
	msg := &gmail.Message{
		Id:           "18f1",
		ThreadId:     "t1",
		Snippet:      "Thanks for applying &amp; good luck",
		InternalDate: 1722506400000,
		Payload: &gmail.MessagePart{
			MimeType: "multipart/alternative",
			Headers: []*gmail.MessagePartHeader{
				{Name: "Subject", Value: "Application received"},
				{Name: "From", Value: "Acme Careers <careers@acme.io>"},
			},
			Parts: []*gmail.MessagePart{
				{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: encode("<p>HTML body</p>")}},
				{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: encode("Plain body\n")}},
				{MimeType: "text/plain", Filename: "cv.txt", Body: &gmail.MessagePartBody{Data: encode("attachment")}},
			},
		},
	}

	email := toRawEmail(msg)
	if email.ID != "18f1" || email.ThreadID != "t1" {
		t.Fatalf("ids: %+v", email)
	}
	if email.Subject != "Application received" || email.From != "Acme Careers <careers@acme.io>" {
		t.Fatalf("headers: %+v", email)
	}
	if email.Body != "Plain body" {
		t.Fatalf("body = %q", email.Body)
	}
	if email.Snippet != "Thanks for applying & good luck" {
		t.Fatalf("snippet = %q", email.Snippet)
	}
	if want := time.Date(2024, 8, 1, 10, 0, 0, 0, time.UTC); !email.ReceivedAt.Equal(want) {
		t.Fatalf("received = %v, want %v", email.ReceivedAt, want)
	}
}

func TestToRawEmailFallsBackToHTML(t *testing.T) {
	msg := &gmail.Message{
		Id: "18f2",
		Payload: &gmail.MessagePart{
			MimeType: "text/html",
			Body: &gmail.MessagePartBody{Data: encode(
				`<html><head><style>p{color:red}</style></head><body><p>Interview&nbsp;scheduled</p><div>Round 2</div></body></html>`)},
		},
	}
	email := toRawEmail(msg)
	if email.Body != "Interview scheduled\nRound 2" {
		t.Fatalf("body = %q", email.Body)
	}
	if !email.ReceivedAt.IsZero() {
		t.Fatalf("missing internal date should stay zero")
	}
}

func TestWrapAPIError(t *testing.T) {
	tests := []struct {
		code        int
		unavailable bool
		notFound    bool
	}{
		{http.StatusNotFound, false, true},
		{http.StatusBadRequest, false, false},
		{http.StatusTooManyRequests, true, false},
		{http.StatusServiceUnavailable, true, false},
	}
	for _, tt := range tests {
		err := wrapAPIError("op", &googleapi.Error{Code: tt.code})
		if got := errors.Is(err, domain.ErrCollaboratorUnavailable); got != tt.unavailable {
			t.Fatalf("code %d: unavailable = %v", tt.code, got)
		}
		if got := errors.Is(err, domain.ErrNotFound); got != tt.notFound {
			t.Fatalf("code %d: not found = %v", tt.code, got)
		}
	}
	if err := wrapAPIError("op", errors.New("dial tcp: timeout")); !errors.Is(err, domain.ErrCollaboratorUnavailable) {
		t.Fatalf("network errors should be retryable: %v", err)
	}
}
