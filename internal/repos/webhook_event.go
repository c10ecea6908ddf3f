package repos

import (
  "context"
  "time"

  "gorm.io/gorm"
  "gorm.io/gorm/clause"

  pkgerrors "github.com/shintairiku/marketing-automation-sub005/internal/pkg/errors"
  "github.com/shintairiku/marketing-automation-sub005/internal/platform/logger"
  "github.com/shintairiku/marketing-automation-sub005/internal/types"
)

type WebhookEventRepo interface {
  // MarkProcessed records the event id and reports whether it had already
  // been recorded (a replay from the external system).
  MarkProcessed(ctx context.Context, tx *gorm.DB, eventID, source, eventType string) (alreadyProcessed bool, err error)
}

type webhookEventRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewWebhookEventRepo(db *gorm.DB, baseLog *logger.Logger) WebhookEventRepo {
  return &webhookEventRepo{
    db:  db,
    log: baseLog.With("repo", "WebhookEventRepo"),
  }
}

func (r *webhookEventRepo) MarkProcessed(ctx context.Context, tx *gorm.DB, eventID, source, eventType string) (bool, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if eventID == "" {
    return false, pkgerrors.ErrInvalidArgument
  }
  event := types.WebhookEvent{
    EventID:    eventID,
    Source:     source,
    EventType:  eventType,
    ReceivedAt: time.Now(),
  }
  res := transaction.WithContext(ctx).Clauses(clause.OnConflict{
    Columns:   []clause.Column{{Name: "event_id"}},
    DoNothing: true,
  }).Create(&event)
  if res.Error != nil {
    return false, res.Error
  }
  return res.RowsAffected == 0, nil
}
