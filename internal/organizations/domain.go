package organizations

import (
	"time"

	"github.com/google/uuid"

	"github.com/ledgerkeep/ledgerkeep/internal/authz"
)

// Organization is the billing-owning parent of one or more businesses.
type Organization struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
	CreatedBy uuid.UUID
	UpdatedAt time.Time
}

// Member ties a user to an organization with a role.
type Member struct {
	OrganizationID uuid.UUID
	UserID         uuid.UUID
	Role           authz.OrgRole
	Email          string
	DisplayName    string
	CreatedAt      time.Time
}

// Overview is an organization as seen by one of its members.
type Overview struct {
	Organization Organization
	Role         authz.OrgRole
	Plan         authz.PlanKey
}
