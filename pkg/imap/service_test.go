package imap

import (
	"errors"
	"strings"
	"testing"
	"time"

	"skillspring-backend/internal/application/domain"
)

const multipartMessage = "From: Acme Careers <careers@acme.io>\r\n" +
	"To: student@example.com\r\n" +
	"Subject: =?UTF-8?Q?Interview_invitation_=E2=80=93_Backend_Engineer?=\r\n" +
	"Date: Thu, 01 Aug 2024 10:00:00 +0000\r\n" +
	"Message-ID: <abc@acme.io>\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/alternative; boundary=\"b1\"\r\n" +
	"\r\n" +
	"--b1\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>We would like to <b>interview</b> you.</p>\r\n" +
	"--b1\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"We would like to interview you for the Backend Engineer position.\r\n" +
	"--b1--\r\n"

func TestParseMessage(t *testing.T) {
	internal := time.Date(2024, 8, 2, 0, 0, 0, 0, time.UTC)
	email, err := parseMessage("INBOX:42", strings.NewReader(multipartMessage), internal)
	if err != nil {
		t.Fatalf("parseMessage: %v", err)
	}
	if email.ID != "INBOX:42" {
		t.Fatalf("id = %q", email.ID)
	}
	if email.Subject != "Interview invitation – Backend Engineer" {
		t.Fatalf("subject = %q", email.Subject)
	}
	if !strings.Contains(email.From, "careers@acme.io") {
		t.Fatalf("from = %q", email.From)
	}
	if want := time.Date(2024, 8, 1, 10, 0, 0, 0, time.UTC); !email.ReceivedAt.Equal(want) {
		t.Fatalf("received = %v, want %v", email.ReceivedAt, want)
	}
	if email.Body != "We would like to interview you for the Backend Engineer position." {
		t.Fatalf("body = %q", email.Body)
	}
	if email.Snippet == "" {
		t.Fatalf("snippet not set")
	}
}

func TestParseMessageHTMLOnlyAndMissingDate(t *testing.T) {
	raw := "From: hr@zomato.com\r\n" +
		"Subject: Offer\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<p>Congratulations!</p><p>You&#39;ve been selected.</p>\r\n"
	internal := time.Date(2024, 8, 2, 9, 30, 0, 0, time.UTC)

	email, err := parseMessage("INBOX:7", strings.NewReader(raw), internal)
	if err != nil {
		t.Fatalf("parseMessage: %v", err)
	}
	if email.Body != "Congratulations!\nYou've been selected." {
		t.Fatalf("body = %q", email.Body)
	}
	if !email.ReceivedAt.Equal(internal) {
		t.Fatalf("received = %v, want internal date", email.ReceivedAt)
	}
}

func TestMessageID(t *testing.T) {
	id := MessageID("INBOX", 1234)
	mailbox, uid, err := ParseMessageID(id)
	if err != nil || mailbox != "INBOX" || uid != 1234 {
		t.Fatalf("ParseMessageID(%q) = %q, %d, %v", id, mailbox, uid, err)
	}
	for _, bad := range []string{"", "INBOX", ":12", "INBOX:abc", "INBOX:0"} {
		if _, _, err := ParseMessageID(bad); err == nil {
			t.Fatalf("ParseMessageID(%q) should fail", bad)
		}
	}
}

func TestWrapErrorMarksOutages(t *testing.T) {
	if err := wrapError("dial", errors.New("connection refused")); !errors.Is(err, domain.ErrCollaboratorUnavailable) {
		t.Fatalf("expected collaborator error, got %v", err)
	}
}

func TestArrivedSince(t *testing.T) {
	since := time.Date(2024, 8, 3, 12, 0, 0, 0, time.UTC)
	dates := map[uint32]time.Time{
		10: since.Add(-3 * time.Hour),
		11: since,
		12: since.Add(time.Hour),
	}
	got := arrivedSince([]uint32{10, 11, 12, 13}, dates, since)
	want := []uint32{11, 12, 13}
	if len(got) != len(want) {
		t.Fatalf("arrivedSince = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("arrivedSince = %v, want %v", got, want)
		}
	}
}
