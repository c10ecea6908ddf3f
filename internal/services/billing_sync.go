package services

import (
  "context"
  "fmt"
  "strings"
  "time"

  "github.com/google/uuid"
  "gorm.io/gorm"

  pkgerrors "github.com/shintairiku/marketing-automation-sub005/internal/pkg/errors"
  "github.com/shintairiku/marketing-automation-sub005/internal/platform/logger"
  "github.com/shintairiku/marketing-automation-sub005/internal/repos"
  "github.com/shintairiku/marketing-automation-sub005/internal/types"
)

const (
  BillingEventSubscriptionUpserted = "subscription.upserted"
  BillingEventSubscriptionDeleted  = "subscription.deleted"
  BillingEventAddonChanged         = "addon.changed"
)

// BillingEvent is one billing-provider webhook delivery.
type BillingEvent struct {
  EventID        string     `json:"event_id"`
  Type           string     `json:"type"`
  SubscriptionID string     `json:"subscription_id"`
  UserExternalID string     `json:"user_external_id,omitempty"`
  OrganizationID string     `json:"organization_id,omitempty"`
  Status         string     `json:"status,omitempty"`
  PlanArticleLimit int      `json:"plan_article_limit,omitempty"`
  CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty"`
  CanceledAt     *time.Time `json:"canceled_at,omitempty"`
  PastDueSince   *time.Time `json:"past_due_since,omitempty"`
  AddonQuantity  *int       `json:"addon_quantity,omitempty"`
}

// BillingSyncService keeps the local subscription shadow in step with the
// billing provider. Addon changes run through the entitlement gate so the
// subscription quantity and the counter's addon limit move together.
type BillingSyncService interface {
  HandleEvent(ctx context.Context, event BillingEvent) error
}

type billingSyncService struct {
  db          *gorm.DB
  log         *logger.Logger
  eventRepo   repos.WebhookEventRepo
  userRepo    repos.UserRepo
  subRepo     repos.SubscriptionRepo
  entitlement EntitlementService
}

func NewBillingSyncService(
  db *gorm.DB,
  log *logger.Logger,
  eventRepo repos.WebhookEventRepo,
  userRepo repos.UserRepo,
  subRepo repos.SubscriptionRepo,
  entitlement EntitlementService,
) BillingSyncService {
  return &billingSyncService{
    db:          db,
    log:         log.With("service", "BillingSyncService"),
    eventRepo:   eventRepo,
    userRepo:    userRepo,
    subRepo:     subRepo,
    entitlement: entitlement,
  }
}

func (s *billingSyncService) HandleEvent(ctx context.Context, event BillingEvent) error {
  if strings.TrimSpace(event.EventID) == "" || strings.TrimSpace(event.SubscriptionID) == "" {
    return pkgerrors.ErrInvalidArgument
  }
  return runInTransaction(ctx, s.db, func(tx *gorm.DB) error {
    replay, err := s.eventRepo.MarkProcessed(ctx, tx, event.EventID, types.WebhookSourceBilling, event.Type)
    if err != nil {
      return err
    }
    if replay {
      s.log.Debug("Skipping replayed billing event", "event_id", event.EventID, "type", event.Type)
      return nil
    }
    return s.apply(ctx, tx, event)
  })
}

func (s *billingSyncService) apply(ctx context.Context, tx *gorm.DB, event BillingEvent) error {
  switch event.Type {
  case BillingEventSubscriptionUpserted:
    sub, err := s.subscriptionFromEvent(ctx, tx, event)
    if err != nil {
      return err
    }
    if _, err := s.subRepo.Upsert(ctx, tx, sub); err != nil {
      return fmt.Errorf("upsert subscription: %w", err)
    }
    return nil

  case BillingEventSubscriptionDeleted:
    sub, err := s.subRepo.GetByExternalID(ctx, tx, event.SubscriptionID)
    if err == pkgerrors.ErrNotFound {
      return nil
    }
    if err != nil {
      return err
    }
    sub.Status = types.SubscriptionStatusExpired
    _, err = s.subRepo.Upsert(ctx, tx, sub)
    return err

  case BillingEventAddonChanged:
    if event.AddonQuantity == nil {
      return fmt.Errorf("%w: addon event misses quantity", pkgerrors.ErrInvalidArgument)
    }
    return s.entitlement.SetAddonQuantity(ctx, tx, event.SubscriptionID, *event.AddonQuantity)

  default:
    s.log.Warn("Ignoring unknown billing event type", "event_id", event.EventID, "type", event.Type)
    return nil
  }
}

func (s *billingSyncService) subscriptionFromEvent(ctx context.Context, tx *gorm.DB, event BillingEvent) (*types.Subscription, error) {
  sub := &types.Subscription{
    ExternalID:       event.SubscriptionID,
    Status:           event.Status,
    PlanArticleLimit: event.PlanArticleLimit,
    CanceledAt:       event.CanceledAt,
    PastDueSince:     event.PastDueSince,
  }
  if event.CurrentPeriodEnd != nil {
    sub.CurrentPeriodEnd = *event.CurrentPeriodEnd
  }
  if orgStr := strings.TrimSpace(event.OrganizationID); orgStr != "" {
    orgID, err := uuid.Parse(orgStr)
    if err != nil {
      return nil, fmt.Errorf("%w: bad organization id", pkgerrors.ErrInvalidArgument)
    }
    sub.OrganizationID = &orgID
    return sub, nil
  }
  if event.UserExternalID == "" {
    return nil, fmt.Errorf("%w: subscription has no tenant", pkgerrors.ErrInvalidArgument)
  }
  user, err := s.userRepo.Upsert(ctx, tx, &types.User{ExternalID: event.UserExternalID})
  if err != nil {
    return nil, fmt.Errorf("resolve user: %w", err)
  }
  sub.UserID = &user.ID
  return sub, nil
}
