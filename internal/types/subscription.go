package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusTrialing = "trialing"
	SubscriptionStatusCanceled = "canceled"
	SubscriptionStatusPastDue  = "past_due"
	SubscriptionStatusUnpaid   = "unpaid"
	SubscriptionStatusExpired  = "expired"
)

// Subscription mirrors the billing provider's state for one tenant. It is
// eventually consistent: rows are written only by the billing webhook sync.
type Subscription struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID           *uuid.UUID `gorm:"type:uuid;index" json:"user_id,omitempty"`
	OrganizationID   *uuid.UUID `gorm:"type:uuid;index" json:"organization_id,omitempty"`
	ExternalID       string     `gorm:"column:external_id;uniqueIndex" json:"external_id"`
	Status           string     `gorm:"column:status;not null;index" json:"status"`
	PlanArticleLimit int        `gorm:"column:plan_article_limit;not null;default:0" json:"plan_article_limit"`
	AddonQuantity    int        `gorm:"column:addon_quantity;not null;default:0" json:"addon_quantity"`
	CurrentPeriodEnd time.Time  `gorm:"column:current_period_end" json:"current_period_end"`
	CanceledAt       *time.Time `gorm:"column:canceled_at" json:"canceled_at,omitempty"`
	PastDueSince     *time.Time `gorm:"column:past_due_since" json:"past_due_since,omitempty"`
	CreatedAt        time.Time  `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"not null;default:now()" json:"updated_at"`
}

func (Subscription) TableName() string { return "subscription" }
