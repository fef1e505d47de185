package invitations

import (
	"time"

	"github.com/google/uuid"

	"github.com/ledgerkeep/ledgerkeep/internal/authz"
)

// Status is the lifecycle state of an invitation.
type Status string

// Invitation statuses. Only pending invitations can be accepted, declined,
// or cancelled.
const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusDeclined  Status = "declined"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// DefaultTTL is how long a pending invitation stays acceptable.
const DefaultTTL = 7 * 24 * time.Hour

// Invitation asks an email address to join a business with a role.
type Invitation struct {
	ID           uuid.UUID
	BusinessID   uuid.UUID
	BusinessName string
	Email        string
	Role         authz.PolicyKey
	InvitedBy    uuid.UUID
	Status       Status
	ExpiresAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Expired reports whether the invitation can no longer be accepted.
func (i Invitation) Expired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}

// BusinessMember is a user holding a role in a business.
type BusinessMember struct {
	BusinessID  uuid.UUID
	UserID      uuid.UUID
	Email       string
	DisplayName string
	Role        authz.PolicyKey
	CreatedAt   time.Time
}
