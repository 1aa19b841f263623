package domain

import "time"

type Provider string

const (
	ProviderGmail Provider = "gmail"
	ProviderIMAP  Provider = "imap"
)

// MailAccount is the mailbox a user connected for syncing. A user has at
// most one. Tokens and the IMAP password never leave the server.
type MailAccount struct {
	ID              string    `json:"id" gorm:"primaryKey"`
	UserID          string    `json:"user_id" gorm:"uniqueIndex;not null"`
	Email           string    `json:"email" gorm:"index;not null"`
	Provider        Provider  `json:"provider" gorm:"not null"`
	AccessToken     string    `json:"-"`
	RefreshToken    string    `json:"-"`
	TokenExpiry     time.Time `json:"-"`
	IMAPHost        string    `json:"imap_host,omitempty"`
	IMAPUsername    string    `json:"imap_username,omitempty"`
	IMAPPassword    string    `json:"-"` // sealed
	LastHistoryID   uint64    `json:"-" gorm:"not null;default:0"`
	WatchExpiration time.Time `json:"watch_expiration,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (MailAccount) TableName() string {
	return "mail_accounts"
}

// DeviceToken is a Firebase Cloud Messaging registration token.
type DeviceToken struct {
	ID         string    `json:"id" gorm:"primaryKey"`
	UserID     string    `json:"user_id" gorm:"index;not null"`
	Token      string    `json:"-" gorm:"uniqueIndex;not null"`
	DeviceInfo string    `json:"device_info"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (DeviceToken) TableName() string {
	return "device_tokens"
}
