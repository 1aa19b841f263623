package imap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"skillspring-backend/internal/application/domain"
	"skillspring-backend/pkg/mailtext"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"go.uber.org/zap"
)

const (
	collaborator = "imap"
	inbox        = "INBOX"
	maxPartSize  = 1 << 20
	snippetRunes = 200
)

// Account is what is needed to log in to one mailbox.
type Account struct {
	Host     string // host:port, TLS
	Username string
	Password string
}

type Service struct {
	dialTimeout time.Duration
	logger      *zap.Logger
}

func NewService(logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		dialTimeout: 10 * time.Second,
		logger:      logger.Named("imap"),
	}
}

// Verify logs in once to check the account details.
func (s *Service) Verify(ctx context.Context, acc Account) error {
	c, err := s.connect(ctx, acc)
	if err != nil {
		return err
	}
	return c.Logout()
}

// ListSince returns the inbox messages that arrived at or after since,
// oldest first, at most limit of them. SEARCH SINCE only has day
// precision, so the server's internal dates narrow it down.
func (s *Service) ListSince(ctx context.Context, acc Account, since time.Time, limit int) ([]domain.MessageRef, error) {
	c, err := s.connect(ctx, acc)
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	var uids []uint32
	err = withContext(ctx, c, func() error {
		if _, err := c.Select(inbox, true); err != nil {
			return err
		}
		criteria := imap.NewSearchCriteria()
		if !since.IsZero() {
			criteria.Since = since
		}
		if uids, err = c.UidSearch(criteria); err != nil {
			return err
		}
		if since.IsZero() || len(uids) == 0 {
			return nil
		}
		dates, err := internalDates(c, uids)
		if err != nil {
			return err
		}
		uids = arrivedSince(uids, dates, since)
		return nil
	})
	if err != nil {
		return nil, wrapError("search inbox", err)
	}

	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	if limit > 0 && len(uids) > limit {
		uids = uids[:limit]
	}
	refs := make([]domain.MessageRef, 0, len(uids))
	for _, uid := range uids {
		refs = append(refs, domain.MessageRef{ID: MessageID(inbox, uid)})
	}
	return refs, nil
}

func internalDates(c *client.Client, uids []uint32) (map[uint32]time.Time, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	messages := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, []imap.FetchItem{imap.FetchUid, imap.FetchInternalDate}, messages)
	}()
	dates := make(map[uint32]time.Time, len(uids))
	for m := range messages {
		dates[m.Uid] = m.InternalDate
	}
	return dates, <-done
}

// arrivedSince keeps the uids whose internal date is not before since.
// Messages without a date are kept.
func arrivedSince(uids []uint32, dates map[uint32]time.Time, since time.Time) []uint32 {
	kept := uids[:0]
	for _, uid := range uids {
		if d, ok := dates[uid]; ok && !d.IsZero() && d.Before(since) {
			continue
		}
		kept = append(kept, uid)
	}
	return kept
}

// Fetch downloads and parses one message by its MessageID.
func (s *Service) Fetch(ctx context.Context, acc Account, id string) (*domain.RawEmail, error) {
	mailbox, uid, err := ParseMessageID(id)
	if err != nil {
		return nil, &domain.ExtractionError{EmailID: id, Err: err}
	}

	c, err := s.connect(ctx, acc)
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	section := &imap.BodySectionName{Peek: true}
	var msg *imap.Message
	err = withContext(ctx, c, func() error {
		if _, err := c.Select(mailbox, true); err != nil {
			return err
		}
		seqset := new(imap.SeqSet)
		seqset.AddNum(uid)

		messages := make(chan *imap.Message, 1)
		done := make(chan error, 1)
		go func() {
			done <- c.UidFetch(seqset, []imap.FetchItem{section.FetchItem(), imap.FetchInternalDate, imap.FetchUid}, messages)
		}()
		for m := range messages {
			msg = m
		}
		return <-done
	})
	if err != nil {
		return nil, wrapError("fetch "+id, err)
	}
	if msg == nil {
		return nil, fmt.Errorf("fetch %s: %w", id, domain.ErrNotFound)
	}

	body := msg.GetBody(section)
	if body == nil {
		return nil, &domain.ExtractionError{EmailID: id, Err: errors.New("server returned no body")}
	}
	return parseMessage(id, body, msg.InternalDate)
}

func (s *Service) connect(ctx context.Context, acc Account) (*client.Client, error) {
	dialer := &net.Dialer{Timeout: s.dialTimeout}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}
	c, err := client.DialWithDialerTLS(dialer, acc.Host, nil)
	if err != nil {
		return nil, wrapError("dial "+acc.Host, err)
	}
	c.Timeout = s.dialTimeout

	if err := withContext(ctx, c, func() error { return c.Login(acc.Username, acc.Password) }); err != nil {
		_ = c.Terminate()
		return nil, wrapError("login", err)
	}
	return c, nil
}

// withContext runs fn and drops the connection if ctx ends first.
func withContext(ctx context.Context, c *client.Client, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = c.Terminate()
		<-done
		return ctx.Err()
	}
}

func wrapError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w", op, domain.Unavailable(collaborator, err))
}

// MessageID encodes mailbox and uid as "<mailbox>:<uid>".
func MessageID(mailbox string, uid uint32) string {
	return mailbox + ":" + strconv.FormatUint(uint64(uid), 10)
}

func ParseMessageID(id string) (string, uint32, error) {
	i := strings.LastIndex(id, ":")
	if i <= 0 {
		return "", 0, fmt.Errorf("malformed imap message id %q", id)
	}
	uid, err := strconv.ParseUint(id[i+1:], 10, 32)
	if err != nil || uid == 0 {
		return "", 0, fmt.Errorf("malformed imap message id %q", id)
	}
	return id[:i], uint32(uid), nil
}

// parseMessage reads an RFC 5322 message. The Date header wins over the
// server's internal date.
func parseMessage(id string, r io.Reader, internalDate time.Time) (*domain.RawEmail, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, &domain.ExtractionError{EmailID: id, Err: err}
	}
	defer mr.Close()

	email := &domain.RawEmail{ID: id, ReceivedAt: internalDate.UTC()}
	h := mr.Header
	if subject, err := h.Subject(); err == nil {
		email.Subject = subject
	} else {
		email.Subject = h.Get("Subject")
	}
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		email.From = from[0].String()
	} else {
		email.From = h.Get("From")
	}
	if date, err := h.Date(); err == nil && !date.IsZero() {
		email.ReceivedAt = date.UTC()
	}

	var plain, html string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) {
				continue
			}
			return nil, &domain.ExtractionError{EmailID: id, Err: err}
		}
		ih, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := ih.ContentType()
		b, err := io.ReadAll(io.LimitReader(p.Body, maxPartSize))
		if err != nil {
			continue
		}
		switch {
		case ct == "text/plain" && plain == "":
			plain = string(b)
		case ct == "text/html" && html == "":
			html = string(b)
		}
	}

	email.Body = mailtext.PickBody(plain, html)
	email.Snippet = mailtext.Snippet(email.Body, snippetRunes)
	return email, nil
}
