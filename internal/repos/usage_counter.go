package repos

import (
  "context"
  "errors"
  "time"

  "github.com/google/uuid"
  "gorm.io/gorm"

  pkgerrors "github.com/shintairiku/marketing-automation-sub005/internal/pkg/errors"
  "github.com/shintairiku/marketing-automation-sub005/internal/platform/logger"
  "github.com/shintairiku/marketing-automation-sub005/internal/types"
)

// UsageCounterRepo owns all quota mutation. IncrementGenerated is a single
// conditional UPDATE so the quota ceiling holds under any number of
// concurrent completions.
type UsageCounterRepo interface {
  GetCurrent(ctx context.Context, tx *gorm.DB, owner types.Owner, at time.Time) (*types.UsageCounter, error)
  GetOrCreateForPeriod(ctx context.Context, tx *gorm.DB, owner types.Owner, periodStart, periodEnd time.Time, articlesLimit int) (*types.UsageCounter, error)
  IncrementGenerated(ctx context.Context, tx *gorm.DB, counterID uuid.UUID) error
  SetAddonLimit(ctx context.Context, tx *gorm.DB, counterID uuid.UUID, addonLimit int) error
}

type usageCounterRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewUsageCounterRepo(db *gorm.DB, baseLog *logger.Logger) UsageCounterRepo {
  return &usageCounterRepo{
    db:  db,
    log: baseLog.With("repo", "UsageCounterRepo"),
  }
}

func (r *usageCounterRepo) GetCurrent(ctx context.Context, tx *gorm.DB, owner types.Owner, at time.Time) (*types.UsageCounter, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if !owner.Valid() {
    return nil, pkgerrors.ErrInvalidArgument
  }
  var counter types.UsageCounter
  err := ownerScoped(transaction.WithContext(ctx), owner).
    Where("billing_period_start <= ? AND billing_period_end > ?", at, at).
    Order("billing_period_start DESC").
    First(&counter).Error
  if errors.Is(err, gorm.ErrRecordNotFound) {
    return nil, pkgerrors.ErrNotFound
  }
  if err != nil {
    return nil, err
  }
  return &counter, nil
}

func (r *usageCounterRepo) GetOrCreateForPeriod(ctx context.Context, tx *gorm.DB, owner types.Owner, periodStart, periodEnd time.Time, articlesLimit int) (*types.UsageCounter, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if !owner.Valid() {
    return nil, pkgerrors.ErrInvalidArgument
  }
  var counter types.UsageCounter
  err := ownerScoped(transaction.WithContext(ctx), owner).
    Where("billing_period_start = ?", periodStart).
    First(&counter).Error
  if err == nil {
    return &counter, nil
  }
  if !errors.Is(err, gorm.ErrRecordNotFound) {
    return nil, err
  }
  counter = types.UsageCounter{
    ID:                 uuid.New(),
    UserID:             owner.UserIDPtr(),
    OrganizationID:     owner.OrganizationIDPtr(),
    ArticlesLimit:      articlesLimit,
    BillingPeriodStart: periodStart,
    BillingPeriodEnd:   periodEnd,
  }
  if cErr := transaction.WithContext(ctx).Create(&counter).Error; cErr != nil {
    // a concurrent creator may have won; re-read before failing
    var existing types.UsageCounter
    if rErr := ownerScoped(transaction.WithContext(ctx), owner).
      Where("billing_period_start = ?", periodStart).
      First(&existing).Error; rErr == nil {
      return &existing, nil
    }
    return nil, cErr
  }
  return &counter, nil
}

func (r *usageCounterRepo) IncrementGenerated(ctx context.Context, tx *gorm.DB, counterID uuid.UUID) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if counterID == uuid.Nil {
    return pkgerrors.ErrInvalidArgument
  }
  res := transaction.WithContext(ctx).Model(&types.UsageCounter{}).
    Where("id = ? AND articles_generated < articles_limit + addon_articles_limit", counterID).
    Updates(map[string]interface{}{
      "articles_generated": gorm.Expr("articles_generated + 1"),
      "updated_at":         time.Now(),
    })
  if res.Error != nil {
    return res.Error
  }
  if res.RowsAffected == 0 {
    return pkgerrors.ErrQuotaExceeded
  }
  return nil
}

func (r *usageCounterRepo) SetAddonLimit(ctx context.Context, tx *gorm.DB, counterID uuid.UUID, addonLimit int) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if counterID == uuid.Nil {
    return pkgerrors.ErrInvalidArgument
  }
  if addonLimit < 0 {
    return pkgerrors.ErrInvalidArgument
  }
  return transaction.WithContext(ctx).Model(&types.UsageCounter{}).
    Where("id = ?", counterID).
    Updates(map[string]interface{}{
      "addon_articles_limit": addonLimit,
      "updated_at":           time.Now(),
    }).Error
}
