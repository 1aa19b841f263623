package dto

import (
	"time"

	"skillspring-backend/internal/account/domain"
)

type ConnectGmailRequest struct {
	AccessToken  string `json:"access_token" binding:"required"`
	RefreshToken string `json:"refresh_token"`
	// Seconds until the access token expires, as returned by Google.
	ExpiresIn int64 `json:"expires_in"`
}

type ConnectIMAPRequest struct {
	Host     string `json:"host" binding:"required"`
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	Email    string `json:"email"`
}

type RegisterDeviceRequest struct {
	Token      string `json:"token" binding:"required"`
	DeviceInfo string `json:"device_info"`
}

type AccountResponse struct {
	Email           string          `json:"email"`
	Provider        domain.Provider `json:"provider"`
	IMAPHost        string          `json:"imap_host,omitempty"`
	PushEnabled     bool            `json:"push_enabled"`
	WatchExpiration *time.Time      `json:"watch_expiration,omitempty"`
	ConnectedAt     time.Time       `json:"connected_at"`
}

type WatchResponse struct {
	HistoryID  uint64    `json:"history_id"`
	Expiration time.Time `json:"expiration"`
}

func NewAccountResponse(acc *domain.MailAccount, now time.Time) *AccountResponse {
	resp := &AccountResponse{
		Email:       acc.Email,
		Provider:    acc.Provider,
		IMAPHost:    acc.IMAPHost,
		ConnectedAt: acc.CreatedAt,
	}
	if !acc.WatchExpiration.IsZero() {
		exp := acc.WatchExpiration
		resp.WatchExpiration = &exp
		resp.PushEnabled = exp.After(now)
	}
	return resp
}
