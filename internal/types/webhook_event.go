package types

import (
	"time"
)

const (
	WebhookSourceIdentity = "identity"
	WebhookSourceBilling  = "billing"
)

// WebhookEvent is the durable already-processed set for external sync events.
// The unique event_id makes at-least-once delivery safe: a replay fails the
// insert and the handler skips re-applying the payload.
type WebhookEvent struct {
	EventID    string    `gorm:"column:event_id;primaryKey" json:"event_id"`
	Source     string    `gorm:"column:source;not null;index" json:"source"`
	EventType  string    `gorm:"column:event_type;not null" json:"event_type"`
	ReceivedAt time.Time `gorm:"column:received_at;not null;default:now()" json:"received_at"`
}

func (WebhookEvent) TableName() string { return "webhook_event" }
