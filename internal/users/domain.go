package users

import (
	"time"

	"github.com/google/uuid"
)

// User represents an account identity. Accounts are created on first
// registration and never deleted by this service.
type User struct {
	ID           uuid.UUID
	Email        string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
	LastLoginAt  time.Time
}
