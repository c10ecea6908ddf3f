package repos

import (
  "context"
  "errors"
  "time"

  "github.com/google/uuid"
  "gorm.io/gorm"
  "gorm.io/gorm/clause"

  pkgerrors "github.com/shintairiku/marketing-automation-sub005/internal/pkg/errors"
  "github.com/shintairiku/marketing-automation-sub005/internal/platform/logger"
  "github.com/shintairiku/marketing-automation-sub005/internal/types"
)

type SubscriptionRepo interface {
  ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Subscription, error)
  ListByOrganizations(ctx context.Context, tx *gorm.DB, orgIDs []uuid.UUID) ([]*types.Subscription, error)
  GetByExternalID(ctx context.Context, tx *gorm.DB, externalID string) (*types.Subscription, error)
  Upsert(ctx context.Context, tx *gorm.DB, sub *types.Subscription) (*types.Subscription, error)
  SetAddonQuantity(ctx context.Context, tx *gorm.DB, id uuid.UUID, quantity int) error
}

type subscriptionRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewSubscriptionRepo(db *gorm.DB, baseLog *logger.Logger) SubscriptionRepo {
  return &subscriptionRepo{
    db:  db,
    log: baseLog.With("repo", "SubscriptionRepo"),
  }
}

func (r *subscriptionRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Subscription, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  var out []*types.Subscription
  if userID == uuid.Nil {
    return out, nil
  }
  if err := transaction.WithContext(ctx).
    Where("user_id = ?", userID).
    Find(&out).Error; err != nil {
    return nil, err
  }
  return out, nil
}

func (r *subscriptionRepo) ListByOrganizations(ctx context.Context, tx *gorm.DB, orgIDs []uuid.UUID) ([]*types.Subscription, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  var out []*types.Subscription
  if len(orgIDs) == 0 {
    return out, nil
  }
  if err := transaction.WithContext(ctx).
    Where("organization_id IN ?", orgIDs).
    Find(&out).Error; err != nil {
    return nil, err
  }
  return out, nil
}

func (r *subscriptionRepo) GetByExternalID(ctx context.Context, tx *gorm.DB, externalID string) (*types.Subscription, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if externalID == "" {
    return nil, pkgerrors.ErrInvalidArgument
  }
  var sub types.Subscription
  err := transaction.WithContext(ctx).
    Where("external_id = ?", externalID).
    First(&sub).Error
  if errors.Is(err, gorm.ErrRecordNotFound) {
    return nil, pkgerrors.ErrNotFound
  }
  if err != nil {
    return nil, err
  }
  return &sub, nil
}

// Upsert keys on the billing provider's subscription id so replayed webhook
// deliveries converge on the same row.
func (r *subscriptionRepo) Upsert(ctx context.Context, tx *gorm.DB, sub *types.Subscription) (*types.Subscription, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if sub == nil || sub.ExternalID == "" {
    return nil, pkgerrors.ErrInvalidArgument
  }
  if sub.ID == uuid.Nil {
    sub.ID = uuid.New()
  }
  err := transaction.WithContext(ctx).Clauses(clause.OnConflict{
    Columns: []clause.Column{{Name: "external_id"}},
    DoUpdates: clause.AssignmentColumns([]string{
      "status", "plan_article_limit", "addon_quantity",
      "current_period_end", "canceled_at", "past_due_since", "updated_at",
    }),
  }).Create(sub).Error
  if err != nil {
    return nil, err
  }
  return r.GetByExternalID(ctx, transaction, sub.ExternalID)
}

func (r *subscriptionRepo) SetAddonQuantity(ctx context.Context, tx *gorm.DB, id uuid.UUID, quantity int) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if id == uuid.Nil || quantity < 0 {
    return pkgerrors.ErrInvalidArgument
  }
  return transaction.WithContext(ctx).Model(&types.Subscription{}).
    Where("id = ?", id).
    Updates(map[string]interface{}{
      "addon_quantity": quantity,
      "updated_at":     time.Now(),
    }).Error
}
