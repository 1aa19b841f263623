package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"
	"sync"
	"time"

	"skillspring-backend/internal/application/domain"
	"skillspring-backend/pkg/mailtext"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	user         = "me"
	maxPageSize  = 500
	collaborator = "gmail"
)

// TokenUpdateFunc is called with the new token whenever the access token
// is refreshed, so the caller can persist it.
type TokenUpdateFunc func(token *oauth2.Token) error

// Credentials are the OAuth tokens stored for one mailbox.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

type Service struct {
	clientID     string
	clientSecret string
	logger       *zap.Logger
}

type notifyTokenSource struct {
	mu       sync.Mutex
	src      oauth2.TokenSource
	current  *oauth2.Token
	callback TokenUpdateFunc
	logger   *zap.Logger
}

func (s *notifyTokenSource) Token() (*oauth2.Token, error) {
	t, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.callback != nil && s.current.AccessToken != t.AccessToken {
		s.current = t
		if err := s.callback(t); err != nil {
			s.logger.Warn("failed to persist refreshed token", zap.Error(err))
		}
	}
	return t, nil
}

func NewService(clientID, clientSecret string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		clientID:     clientID,
		clientSecret: clientSecret,
		logger:       logger.Named("gmail"),
	}
}

// GetGmailService creates a Gmail client for the given mailbox tokens.
func (s *Service) GetGmailService(ctx context.Context, creds Credentials, onTokenRefresh TokenUpdateFunc) (*gmail.Service, error) {
	token := &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       creds.Expiry,
	}

	// Unknown expiry with a refresh token: refresh up front.
	if creds.RefreshToken != "" && token.Expiry.IsZero() {
		token.Expiry = time.Now()
	}

	config := &oauth2.Config{
		ClientID:     s.clientID,
		ClientSecret: s.clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmail.GmailReadonlyScope},
	}

	wrappedSource := &notifyTokenSource{
		src:      config.TokenSource(ctx, token),
		current:  token,
		callback: onTokenRefresh,
		logger:   s.logger,
	}

	client := oauth2.NewClient(ctx, wrappedSource)
	srv, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %w", err)
	}
	return srv, nil
}

// BuildSearchQuery returns the Gmail search expression for messages
// received after since.
func BuildSearchQuery(since time.Time) string {
	parts := []string{"-in:chats", "-in:drafts"}
	if !since.IsZero() {
		parts = append(parts, fmt.Sprintf("after:%d", since.Unix()))
	}
	return strings.Join(parts, " ")
}

// ListMessageIDs pages through the messages received after since,
// newest first, stopping at limit.
func (s *Service) ListMessageIDs(ctx context.Context, creds Credentials, since time.Time, limit int, onTokenRefresh TokenUpdateFunc) ([]domain.MessageRef, error) {
	srv, err := s.GetGmailService(ctx, creds, onTokenRefresh)
	if err != nil {
		return nil, err
	}

	q := BuildSearchQuery(since)
	refs := make([]domain.MessageRef, 0)
	pageToken := ""
	for {
		pageSize := int64(maxPageSize)
		if limit > 0 && int64(limit-len(refs)) < pageSize {
			pageSize = int64(limit - len(refs))
		}
		call := srv.Users.Messages.List(user).Q(q).MaxResults(pageSize).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, wrapAPIError("list messages", err)
		}
		for _, m := range resp.Messages {
			refs = append(refs, domain.MessageRef{ID: m.Id, ThreadID: m.ThreadId})
		}
		pageToken = resp.NextPageToken
		if pageToken == "" || (limit > 0 && len(refs) >= limit) {
			break
		}
	}
	return refs, nil
}

// GetMessage fetches one message in full format.
func (s *Service) GetMessage(ctx context.Context, creds Credentials, messageID string, onTokenRefresh TokenUpdateFunc) (*domain.RawEmail, error) {
	srv, err := s.GetGmailService(ctx, creds, onTokenRefresh)
	if err != nil {
		return nil, err
	}
	msg, err := srv.Users.Messages.Get(user, messageID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, wrapAPIError("get message "+messageID, err)
	}
	return toRawEmail(msg), nil
}

// ListHistory returns the ids of messages added to the inbox after
// startHistoryID, and the newest history id seen.
func (s *Service) ListHistory(ctx context.Context, creds Credentials, startHistoryID uint64, onTokenRefresh TokenUpdateFunc) ([]string, uint64, error) {
	srv, err := s.GetGmailService(ctx, creds, onTokenRefresh)
	if err != nil {
		return nil, 0, err
	}

	var ids []string
	seen := map[string]struct{}{}
	latest := startHistoryID
	pageToken := ""
	for {
		call := srv.Users.History.List(user).
			StartHistoryId(startHistoryID).
			HistoryTypes("messageAdded").
			LabelId("INBOX").
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, 0, wrapAPIError("list history", err)
		}
		for _, h := range resp.History {
			for _, added := range h.MessagesAdded {
				if added.Message == nil {
					continue
				}
				if _, dup := seen[added.Message.Id]; !dup {
					seen[added.Message.Id] = struct{}{}
					ids = append(ids, added.Message.Id)
				}
			}
		}
		if resp.HistoryId > latest {
			latest = resp.HistoryId
		}
		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}
	return ids, latest, nil
}

// Watch sets up push notifications for the user's inbox and returns the
// mailbox history id at the time of the call.
func (s *Service) Watch(ctx context.Context, creds Credentials, topicName string, onTokenRefresh TokenUpdateFunc) (uint64, time.Time, error) {
	srv, err := s.GetGmailService(ctx, creds, onTokenRefresh)
	if err != nil {
		return 0, time.Time{}, err
	}

	// Only one watch per mailbox is allowed; clear any previous one.
	_ = srv.Users.Stop(user).Context(ctx).Do()

	req := &gmail.WatchRequest{
		TopicName: topicName,
		LabelIds:  []string{"INBOX"},
	}
	resp, err := srv.Users.Watch(user, req).Context(ctx).Do()
	if err != nil {
		return 0, time.Time{}, wrapAPIError("watch mailbox", err)
	}
	expiration := time.UnixMilli(resp.Expiration)
	s.logger.Info("watch started",
		zap.String("topic", topicName),
		zap.Uint64("history_id", resp.HistoryId),
		zap.Time("expiration", expiration))
	return resp.HistoryId, expiration, nil
}

// Stop stops push notifications for the user's mailbox.
func (s *Service) Stop(ctx context.Context, creds Credentials, onTokenRefresh TokenUpdateFunc) error {
	srv, err := s.GetGmailService(ctx, creds, onTokenRefresh)
	if err != nil {
		return err
	}
	if err := srv.Users.Stop(user).Context(ctx).Do(); err != nil {
		return wrapAPIError("stop mailbox watch", err)
	}
	return nil
}

// Profile returns the mailbox address, which also proves the tokens work.
func (s *Service) Profile(ctx context.Context, creds Credentials, onTokenRefresh TokenUpdateFunc) (string, error) {
	srv, err := s.GetGmailService(ctx, creds, onTokenRefresh)
	if err != nil {
		return "", err
	}
	p, err := srv.Users.GetProfile(user).Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusUnauthorized {
			return "", errors.New("invalid or expired access token")
		}
		return "", wrapAPIError("get profile", err)
	}
	return p.EmailAddress, nil
}

// wrapAPIError marks failures worth retrying as collaborator outages.
// A missing message is permanent.
func wrapAPIError(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusNotFound:
			return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
		case apiErr.Code == http.StatusBadRequest:
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return fmt.Errorf("%s: %w", op, domain.Unavailable(collaborator, err))
}

// Helper functions

func toRawEmail(msg *gmail.Message) *domain.RawEmail {
	email := &domain.RawEmail{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Snippet:  html.UnescapeString(msg.Snippet),
	}
	if msg.InternalDate > 0 {
		email.ReceivedAt = time.UnixMilli(msg.InternalDate).UTC()
	}
	if msg.Payload == nil {
		return email
	}
	email.Subject = getHeader(msg.Payload.Headers, "Subject")
	email.From = getHeader(msg.Payload.Headers, "From")
	email.Body = mailtext.PickBody(getEmailBody(msg.Payload))
	return email
}

func getHeader(headers []*gmail.MessagePartHeader, name string) string {
	for _, header := range headers {
		if strings.EqualFold(header.Name, name) {
			return header.Value
		}
	}
	return ""
}

// getEmailBody returns the first text/plain and text/html bodies found.
func getEmailBody(payload *gmail.MessagePart) (string, string) {
	var plainBody, htmlBody string

	var walk func(part *gmail.MessagePart)
	walk = func(part *gmail.MessagePart) {
		if part == nil {
			return
		}
		if part.Filename == "" && part.Body != nil && part.Body.Data != "" {
			if data, ok := decodeBody(part.Body.Data); ok {
				switch {
				case strings.HasPrefix(part.MimeType, "text/plain") && plainBody == "":
					plainBody = data
				case strings.HasPrefix(part.MimeType, "text/html") && htmlBody == "":
					htmlBody = data
				}
			}
		}
		for _, p := range part.Parts {
			walk(p)
		}
	}
	walk(payload)
	return plainBody, htmlBody
}

func decodeBody(data string) (string, bool) {
	if b, err := base64.URLEncoding.DecodeString(data); err == nil {
		return string(b), true
	}
	if b, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return string(b), true
	}
	return "", false
}
