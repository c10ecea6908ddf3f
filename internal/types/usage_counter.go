package types

import (
	"time"

	"github.com/google/uuid"
)

// UsageCounter tracks article consumption for one tenant within one billing
// period. articles_generated may never exceed articles_limit +
// addon_articles_limit; the repo enforces this in the increment statement.
type UsageCounter struct {
	ID                 uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID             *uuid.UUID `gorm:"type:uuid;index:idx_usage_counter_tenant_period" json:"user_id,omitempty"`
	OrganizationID     *uuid.UUID `gorm:"type:uuid;index:idx_usage_counter_tenant_period" json:"organization_id,omitempty"`
	ArticlesGenerated  int        `gorm:"column:articles_generated;not null;default:0" json:"articles_generated"`
	ArticlesLimit      int        `gorm:"column:articles_limit;not null;default:0" json:"articles_limit"`
	AddonArticlesLimit int        `gorm:"column:addon_articles_limit;not null;default:0" json:"addon_articles_limit"`
	BillingPeriodStart time.Time  `gorm:"column:billing_period_start;not null;index:idx_usage_counter_tenant_period" json:"billing_period_start"`
	BillingPeriodEnd   time.Time  `gorm:"column:billing_period_end;not null" json:"billing_period_end"`
	CreatedAt          time.Time  `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"not null;default:now()" json:"updated_at"`
}

func (UsageCounter) TableName() string { return "usage_counter" }

func (c *UsageCounter) Remaining() int {
	rem := c.ArticlesLimit + c.AddonArticlesLimit - c.ArticlesGenerated
	if rem < 0 {
		return 0
	}
	return rem
}
