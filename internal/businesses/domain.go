package businesses

import (
	"time"

	"github.com/google/uuid"

	"github.com/ledgerkeep/ledgerkeep/internal/authz"
)

// Business is a bookkeeping ledger owned by an organization. Soft-deleted
// rows keep their data but disappear from every read path.
type Business struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Name           string
	Currency       string
	CreatedBy      uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time
	DeletedBy      *uuid.UUID
}

// Membership is a business together with the viewer's role in it.
type Membership struct {
	Business Business
	Role     authz.PolicyKey
}
