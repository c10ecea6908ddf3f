package types

import (
	"time"

	"github.com/google/uuid"
)

// User is the local shadow of an identity-provider account. Privileged users
// bypass the entitlement gate entirely.
type User struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ExternalID string    `gorm:"column:external_id;uniqueIndex" json:"external_id"`
	Email      string    `gorm:"column:email" json:"email"`
	Privileged bool      `gorm:"column:privileged;not null;default:false" json:"privileged"`
	CreatedAt  time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt  time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (User) TableName() string { return "app_user" }
