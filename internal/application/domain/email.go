package domain

import (
	"context"
	"time"
)

// RawEmail is a message as fetched from the mail provider. Immutable.
type RawEmail struct {
	ID         string    `json:"id"`
	ThreadID   string    `json:"thread_id,omitempty"`
	Subject    string    `json:"subject"`
	From       string    `json:"from"`
	ReceivedAt time.Time `json:"received_at"`
	Snippet    string    `json:"snippet"`
	Body       string    `json:"body,omitempty"`
}

// MessageRef identifies a message without its content.
type MessageRef struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id,omitempty"`
}

// MailProvider is the mail collaborator consumed by the sync orchestrator.
// Message ids must be stable, they become the ledger's source email ids.
// ListRecentMessages returns the window oldest first.
type MailProvider interface {
	ListRecentMessages(ctx context.Context, userID string, since time.Time) ([]MessageRef, error)
	GetMessage(ctx context.Context, userID string, ref MessageRef) (*RawEmail, error)
}
