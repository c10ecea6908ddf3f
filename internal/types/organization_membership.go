package types

import (
	"time"

	"github.com/google/uuid"
)

// OrganizationMembership links a user to an organization. Rows are synced from
// the identity provider's membership webhooks and are never written by request
// handlers.
type OrganizationMembership struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID         uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_org_membership_pair" json:"user_id"`
	OrganizationID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_org_membership_pair" json:"organization_id"`
	Role           string    `gorm:"column:role;not null;default:'member'" json:"role"`
	CreatedAt      time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt      time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (OrganizationMembership) TableName() string { return "organization_membership" }
