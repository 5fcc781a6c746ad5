package domain

import "time"

// User represents a platform account.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash []byte
	IsAdmin      bool
	Disabled     bool
	LastSyncedAt *time.Time
	CreatedAt    time.Time
}

// PasswordReset is a one-shot token letting a user set their password.
type PasswordReset struct {
	ID        string
	UserID    string
	Token     string
	SourceIP  string
	CreatedAt time.Time
	ExpiresAt time.Time
}
