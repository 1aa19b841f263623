package usecase

import (
	"context"

	"skillspring-backend/internal/account/dto"
)

// AccountUsecase manages the mailbox a user syncs from and the devices
// that receive status notifications.
type AccountUsecase interface {
	ConnectGmail(ctx context.Context, userID string, req *dto.ConnectGmailRequest) (*dto.AccountResponse, error)
	ConnectIMAP(ctx context.Context, userID string, req *dto.ConnectIMAPRequest) (*dto.AccountResponse, error)
	Me(ctx context.Context, userID string) (*dto.AccountResponse, error)
	Disconnect(ctx context.Context, userID string) error
	StartWatch(ctx context.Context, userID string) (*dto.WatchResponse, error)
	RegisterDevice(ctx context.Context, userID string, req *dto.RegisterDeviceRequest) error
	UnregisterDevice(ctx context.Context, userID, token string) error
}
