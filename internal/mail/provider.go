package mail

import (
	"context"
	"fmt"
	"slices"
	"time"

	"skillspring-backend/internal/account/domain"
	"skillspring-backend/internal/account/repository"
	accountusecase "skillspring-backend/internal/account/usecase"
	appdomain "skillspring-backend/internal/application/domain"
	"skillspring-backend/pkg/crypto"
	"skillspring-backend/pkg/gmail"
	"skillspring-backend/pkg/imap"
)

type GmailReader interface {
	ListMessageIDs(ctx context.Context, creds gmail.Credentials, since time.Time, limit int, onRefresh gmail.TokenUpdateFunc) ([]appdomain.MessageRef, error)
	GetMessage(ctx context.Context, creds gmail.Credentials, messageID string, onRefresh gmail.TokenUpdateFunc) (*appdomain.RawEmail, error)
}

type IMAPReader interface {
	ListSince(ctx context.Context, acc imap.Account, since time.Time, limit int) ([]appdomain.MessageRef, error)
	Fetch(ctx context.Context, acc imap.Account, id string) (*appdomain.RawEmail, error)
}

// Router serves the sync pipeline from whichever mailbox the user
// connected.
type Router struct {
	accounts repository.MailAccountRepository
	gmail    GmailReader
	imap     IMAPReader
	box      *crypto.Box
	// imapLimit is one more than the sync cap so overflow is visible.
	imapLimit int
}

// gmailListCap bounds how many ids are listed from Gmail for one window.
// Gmail lists newest first, so the whole window has to be listed before
// its oldest part is known.
const gmailListCap = 5000

func NewRouter(accounts repository.MailAccountRepository, gmailReader GmailReader, imapReader IMAPReader, box *crypto.Box, maxMessages int) *Router {
	limit := 0
	if maxMessages > 0 {
		limit = maxMessages + 1
	}
	return &Router{
		accounts:  accounts,
		gmail:     gmailReader,
		imap:      imapReader,
		box:       box,
		imapLimit: limit,
	}
}

// ListRecentMessages lists the window oldest first.
func (r *Router) ListRecentMessages(ctx context.Context, userID string, since time.Time) ([]appdomain.MessageRef, error) {
	acc, err := r.account(ctx, userID)
	if err != nil {
		return nil, err
	}
	switch acc.Provider {
	case domain.ProviderGmail:
		refs, err := r.gmail.ListMessageIDs(ctx, credentials(acc), since, gmailListCap, accountusecase.TokenPersister(r.accounts, userID))
		if err != nil {
			return nil, err
		}
		slices.Reverse(refs)
		return refs, nil
	case domain.ProviderIMAP:
		imapAcc, err := r.imapAccount(acc)
		if err != nil {
			return nil, err
		}
		return r.imap.ListSince(ctx, imapAcc, since, r.imapLimit)
	}
	return nil, fmt.Errorf("unsupported mail provider %q", acc.Provider)
}

func (r *Router) GetMessage(ctx context.Context, userID string, ref appdomain.MessageRef) (*appdomain.RawEmail, error) {
	acc, err := r.account(ctx, userID)
	if err != nil {
		return nil, err
	}
	switch acc.Provider {
	case domain.ProviderGmail:
		return r.gmail.GetMessage(ctx, credentials(acc), ref.ID, accountusecase.TokenPersister(r.accounts, userID))
	case domain.ProviderIMAP:
		imapAcc, err := r.imapAccount(acc)
		if err != nil {
			return nil, err
		}
		return r.imap.Fetch(ctx, imapAcc, ref.ID)
	}
	return nil, fmt.Errorf("unsupported mail provider %q", acc.Provider)
}

func (r *Router) account(ctx context.Context, userID string) (*domain.MailAccount, error) {
	acc, err := r.accounts.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, appdomain.ErrNoMailAccount
	}
	return acc, nil
}

func (r *Router) imapAccount(acc *domain.MailAccount) (imap.Account, error) {
	password, err := r.box.Decrypt(acc.IMAPPassword)
	if err != nil {
		return imap.Account{}, fmt.Errorf("open imap password: %w", err)
	}
	return imap.Account{Host: acc.IMAPHost, Username: acc.IMAPUsername, Password: password}, nil
}

func credentials(acc *domain.MailAccount) gmail.Credentials {
	return gmail.Credentials{
		AccessToken:  acc.AccessToken,
		RefreshToken: acc.RefreshToken,
		Expiry:       acc.TokenExpiry,
	}
}
