package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"skillspring-backend/internal/account/domain"
	"skillspring-backend/internal/account/dto"
	"skillspring-backend/internal/account/repository"
	appdomain "skillspring-backend/internal/application/domain"
	"skillspring-backend/pkg/crypto"
	"skillspring-backend/pkg/gmail"
	"skillspring-backend/pkg/imap"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

var (
	ErrInvalidCredentials = errors.New("mailbox rejected the credentials")
	ErrPushUnsupported    = errors.New("push notifications need a gmail account")
	ErrPushDisabled       = errors.New("push notifications are not configured")
)

// GmailClient is the part of the Gmail adapter used here.
type GmailClient interface {
	Profile(ctx context.Context, creds gmail.Credentials, onRefresh gmail.TokenUpdateFunc) (string, error)
	Watch(ctx context.Context, creds gmail.Credentials, topicName string, onRefresh gmail.TokenUpdateFunc) (uint64, time.Time, error)
	Stop(ctx context.Context, creds gmail.Credentials, onRefresh gmail.TokenUpdateFunc) error
}

type IMAPVerifier interface {
	Verify(ctx context.Context, acc imap.Account) error
}

type accountUsecase struct {
	accounts repository.MailAccountRepository
	devices  repository.DeviceTokenRepository
	gmail    GmailClient
	imap     IMAPVerifier
	box      *crypto.Box
	topic    string
	logger   *zap.Logger
	now      func() time.Time
}

// NewAccountUsecase wires the account flows. topic is the full Pub/Sub
// topic name used for Gmail watch; empty disables push.
func NewAccountUsecase(
	accounts repository.MailAccountRepository,
	devices repository.DeviceTokenRepository,
	gmailClient GmailClient,
	imapClient IMAPVerifier,
	box *crypto.Box,
	topic string,
	logger *zap.Logger,
) AccountUsecase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &accountUsecase{
		accounts: accounts,
		devices:  devices,
		gmail:    gmailClient,
		imap:     imapClient,
		box:      box,
		topic:    topic,
		logger:   logger.Named("account"),
		now:      time.Now,
	}
}

// TokenPersister returns a refresh callback that stores new tokens for
// the user.
func TokenPersister(accounts repository.MailAccountRepository, userID string) gmail.TokenUpdateFunc {
	return func(t *oauth2.Token) error {
		return accounts.UpdateTokens(context.Background(), userID, t.AccessToken, t.RefreshToken, t.Expiry)
	}
}

func gmailCredentials(acc *domain.MailAccount) gmail.Credentials {
	return gmail.Credentials{
		AccessToken:  acc.AccessToken,
		RefreshToken: acc.RefreshToken,
		Expiry:       acc.TokenExpiry,
	}
}

func (u *accountUsecase) ConnectGmail(ctx context.Context, userID string, req *dto.ConnectGmailRequest) (*dto.AccountResponse, error) {
	if u.gmail == nil {
		return nil, errors.New("gmail is not configured")
	}
	acc := &domain.MailAccount{
		UserID:       userID,
		Provider:     domain.ProviderGmail,
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
	}
	if req.ExpiresIn > 0 {
		acc.TokenExpiry = u.now().Add(time.Duration(req.ExpiresIn) * time.Second)
	}

	// The profile call proves the tokens work and names the mailbox.
	var refreshed *oauth2.Token
	email, err := u.gmail.Profile(ctx, gmailCredentials(acc), func(t *oauth2.Token) error {
		refreshed = t
		return nil
	})
	if err != nil {
		if errors.Is(err, appdomain.ErrCollaboratorUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if refreshed != nil {
		acc.AccessToken = refreshed.AccessToken
		acc.TokenExpiry = refreshed.Expiry
		if refreshed.RefreshToken != "" {
			acc.RefreshToken = refreshed.RefreshToken
		}
	}
	acc.Email = email

	if err := u.accounts.Save(ctx, acc); err != nil {
		return nil, err
	}
	u.logger.Info("gmail account connected", zap.String("user_id", userID))
	return dto.NewAccountResponse(acc, u.now()), nil
}

func (u *accountUsecase) ConnectIMAP(ctx context.Context, userID string, req *dto.ConnectIMAPRequest) (*dto.AccountResponse, error) {
	if u.imap == nil {
		return nil, errors.New("imap is not configured")
	}
	host := strings.TrimSpace(req.Host)
	if !strings.Contains(host, ":") {
		host += ":993"
	}
	if err := u.imap.Verify(ctx, imap.Account{Host: host, Username: req.Username, Password: req.Password}); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	sealed, err := u.box.Encrypt(req.Password)
	if err != nil {
		return nil, fmt.Errorf("seal imap password: %w", err)
	}

	email := req.Email
	if email == "" {
		email = req.Username
	}
	acc := &domain.MailAccount{
		UserID:       userID,
		Email:        email,
		Provider:     domain.ProviderIMAP,
		IMAPHost:     host,
		IMAPUsername: req.Username,
		IMAPPassword: sealed,
	}
	if err := u.accounts.Save(ctx, acc); err != nil {
		return nil, err
	}
	u.logger.Info("imap account connected", zap.String("user_id", userID), zap.String("host", host))
	return dto.NewAccountResponse(acc, u.now()), nil
}

func (u *accountUsecase) Me(ctx context.Context, userID string) (*dto.AccountResponse, error) {
	acc, err := u.accounts.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, appdomain.ErrNoMailAccount
	}
	return dto.NewAccountResponse(acc, u.now()), nil
}

func (u *accountUsecase) Disconnect(ctx context.Context, userID string) error {
	acc, err := u.accounts.FindByUserID(ctx, userID)
	if err != nil {
		return err
	}
	if acc == nil {
		return appdomain.ErrNoMailAccount
	}
	if acc.Provider == domain.ProviderGmail && u.gmail != nil && !acc.WatchExpiration.IsZero() {
		if err := u.gmail.Stop(ctx, gmailCredentials(acc), TokenPersister(u.accounts, userID)); err != nil {
			u.logger.Warn("failed to stop gmail watch", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return u.accounts.Delete(ctx, userID)
}

// StartWatch (re)registers the Gmail watch. The returned history id
// becomes the dedup baseline for push notifications.
func (u *accountUsecase) StartWatch(ctx context.Context, userID string) (*dto.WatchResponse, error) {
	if u.topic == "" || u.gmail == nil {
		return nil, ErrPushDisabled
	}
	acc, err := u.accounts.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, appdomain.ErrNoMailAccount
	}
	if acc.Provider != domain.ProviderGmail {
		return nil, ErrPushUnsupported
	}

	historyID, expiration, err := u.gmail.Watch(ctx, gmailCredentials(acc), u.topic, TokenPersister(u.accounts, userID))
	if err != nil {
		return nil, err
	}
	if _, err := u.accounts.AdvanceHistoryID(ctx, userID, historyID); err != nil {
		return nil, err
	}
	if err := u.accounts.SetWatchExpiration(ctx, userID, expiration); err != nil {
		return nil, err
	}
	return &dto.WatchResponse{HistoryID: historyID, Expiration: expiration}, nil
}

func (u *accountUsecase) RegisterDevice(ctx context.Context, userID string, req *dto.RegisterDeviceRequest) error {
	return u.devices.SaveToken(ctx, userID, req.Token, req.DeviceInfo)
}

// UnregisterDevice only removes tokens owned by the user.
func (u *accountUsecase) UnregisterDevice(ctx context.Context, userID, token string) error {
	tokens, err := u.devices.GetTokensByUserID(ctx, userID)
	if err != nil {
		return err
	}
	for _, t := range tokens {
		if t.Token == token {
			return u.devices.DeleteToken(ctx, token)
		}
	}
	return appdomain.ErrNotFound
}
