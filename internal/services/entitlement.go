package services

import (
  "context"
  "fmt"
  "time"

  "github.com/google/uuid"
  "gorm.io/gorm"

  pkgerrors "github.com/shintairiku/marketing-automation-sub005/internal/pkg/errors"
  "github.com/shintairiku/marketing-automation-sub005/internal/platform/logger"
  "github.com/shintairiku/marketing-automation-sub005/internal/repos"
  "github.com/shintairiku/marketing-automation-sub005/internal/types"
)

// EntitlementService gates process start and advancement on subscription
// state and the tenant's article quota, and is the only writer of usage.
//
// Authorization precedence: a privileged user always passes; otherwise an
// active personal subscription or an active subscription of any organization
// the user belongs to is sufficient (logical OR).
type EntitlementService interface {
  AuthorizeStart(ctx context.Context, tx *gorm.DB, owner types.Owner) error
  AuthorizeAdvance(ctx context.Context, tx *gorm.DB, owner types.Owner) error
  IncrementUsage(ctx context.Context, tx *gorm.DB, owner types.Owner) error
  SetAddonQuantity(ctx context.Context, tx *gorm.DB, subscriptionExternalID string, quantity int) error
  CurrentUsage(ctx context.Context, tx *gorm.DB, owner types.Owner) (*types.UsageCounter, error)
}

type EntitlementConfig struct {
  // GraceWindow keeps a past-due subscription serviceable while the billing
  // provider retries the charge.
  GraceWindow time.Duration
  // DefaultArticleLimit seeds lazily-created counters when the plan limit is
  // unknown (e.g. privileged tenants with no subscription row).
  DefaultArticleLimit int
  // AddonUnitAmount is the number of extra articles one addon unit buys.
  AddonUnitAmount int
}

type entitlementService struct {
  db             *gorm.DB
  log            *logger.Logger
  cfg            EntitlementConfig
  userRepo       repos.UserRepo
  membershipRepo repos.OrganizationMembershipRepo
  subRepo        repos.SubscriptionRepo
  counterRepo    repos.UsageCounterRepo
}

func NewEntitlementService(
  db *gorm.DB,
  log *logger.Logger,
  cfg EntitlementConfig,
  userRepo repos.UserRepo,
  membershipRepo repos.OrganizationMembershipRepo,
  subRepo repos.SubscriptionRepo,
  counterRepo repos.UsageCounterRepo,
) EntitlementService {
  return &entitlementService{
    db:             db,
    log:            log.With("service", "EntitlementService"),
    cfg:            cfg,
    userRepo:       userRepo,
    membershipRepo: membershipRepo,
    subRepo:        subRepo,
    counterRepo:    counterRepo,
  }
}

func (s *entitlementService) AuthorizeStart(ctx context.Context, tx *gorm.DB, owner types.Owner) error {
  privileged, err := s.isPrivileged(ctx, tx, owner)
  if err != nil {
    return err
  }
  if privileged {
    return nil
  }
  if err := s.checkSubscription(ctx, tx, owner); err != nil {
    return err
  }
  counter, err := s.currentCounter(ctx, tx, owner)
  if err != nil {
    return err
  }
  if counter.Remaining() == 0 {
    return fmt.Errorf("%w: article limit reached for the current billing period", pkgerrors.ErrQuotaExceeded)
  }
  return nil
}

// AuthorizeAdvance re-checks the subscription on every step; a plan can lapse
// mid-process. Quota is not consumed here, only at completion.
func (s *entitlementService) AuthorizeAdvance(ctx context.Context, tx *gorm.DB, owner types.Owner) error {
  privileged, err := s.isPrivileged(ctx, tx, owner)
  if err != nil {
    return err
  }
  if privileged {
    return nil
  }
  return s.checkSubscription(ctx, tx, owner)
}

func (s *entitlementService) IncrementUsage(ctx context.Context, tx *gorm.DB, owner types.Owner) error {
  counter, err := s.currentCounter(ctx, tx, owner)
  if err != nil {
    return err
  }
  return s.counterRepo.IncrementGenerated(ctx, tx, counter.ID)
}

// SetAddonQuantity applies a billing-side addon change: the subscription's
// quantity and the counter's derived addon limit move in one transaction so
// the two can never diverge.
func (s *entitlementService) SetAddonQuantity(ctx context.Context, tx *gorm.DB, subscriptionExternalID string, quantity int) error {
  transaction := tx
  if transaction == nil {
    transaction = s.db
  }
  return runInTransaction(ctx, transaction, func(txx *gorm.DB) error {
    sub, err := s.subRepo.GetByExternalID(ctx, txx, subscriptionExternalID)
    if err != nil {
      return err
    }
    if err := s.subRepo.SetAddonQuantity(ctx, txx, sub.ID, quantity); err != nil {
      return err
    }
    owner := subscriptionOwner(sub)
    if !owner.Valid() {
      return fmt.Errorf("subscription %s has no tenant", subscriptionExternalID)
    }
    counter, err := s.counterForSubscription(ctx, txx, owner, sub)
    if err != nil {
      return err
    }
    return s.counterRepo.SetAddonLimit(ctx, txx, counter.ID, quantity*s.cfg.AddonUnitAmount)
  })
}

func (s *entitlementService) CurrentUsage(ctx context.Context, tx *gorm.DB, owner types.Owner) (*types.UsageCounter, error) {
  return s.currentCounter(ctx, tx, owner)
}

func (s *entitlementService) isPrivileged(ctx context.Context, tx *gorm.DB, owner types.Owner) (bool, error) {
  if owner.IsOrganization() {
    return false, nil
  }
  user, err := s.userRepo.GetByID(ctx, tx, owner.UserID)
  if err == pkgerrors.ErrNotFound {
    return false, nil
  }
  if err != nil {
    return false, err
  }
  return user.Privileged, nil
}

func (s *entitlementService) checkSubscription(ctx context.Context, tx *gorm.DB, owner types.Owner) error {
  subs, err := s.candidateSubscriptions(ctx, tx, owner)
  if err != nil {
    return err
  }
  now := time.Now()
  for _, sub := range subs {
    if s.subscriptionSatisfies(sub, now) {
      return nil
    }
  }
  return fmt.Errorf("%w: no active subscription", pkgerrors.ErrQuotaExceeded)
}

// candidateSubscriptions collects every subscription that could entitle the
// owner: the personal one plus any organization the user belongs to, or just
// the organization's when the process is org-owned.
func (s *entitlementService) candidateSubscriptions(ctx context.Context, tx *gorm.DB, owner types.Owner) ([]*types.Subscription, error) {
  if owner.IsOrganization() {
    return s.subRepo.ListByOrganizations(ctx, tx, []uuid.UUID{owner.OrganizationID})
  }
  personal, err := s.subRepo.ListByUser(ctx, tx, owner.UserID)
  if err != nil {
    return nil, err
  }
  orgIDs, err := s.membershipRepo.ListOrganizationIDsForUser(ctx, tx, owner.UserID)
  if err != nil {
    return nil, err
  }
  orgSubs, err := s.subRepo.ListByOrganizations(ctx, tx, orgIDs)
  if err != nil {
    return nil, err
  }
  return append(personal, orgSubs...), nil
}

func (s *entitlementService) subscriptionSatisfies(sub *types.Subscription, now time.Time) bool {
  if sub == nil {
    return false
  }
  switch sub.Status {
  case types.SubscriptionStatusActive, types.SubscriptionStatusTrialing:
    return true
  case types.SubscriptionStatusCanceled:
    // canceled but paid through the end of the period
    return sub.CurrentPeriodEnd.After(now)
  case types.SubscriptionStatusPastDue:
    if sub.PastDueSince == nil {
      return sub.CurrentPeriodEnd.After(now)
    }
    return now.Sub(*sub.PastDueSince) <= s.cfg.GraceWindow
  default:
    return false
  }
}

func (s *entitlementService) currentCounter(ctx context.Context, tx *gorm.DB, owner types.Owner) (*types.UsageCounter, error) {
  counter, err := s.counterRepo.GetCurrent(ctx, tx, owner, time.Now())
  if err == nil {
    return counter, nil
  }
  if err != pkgerrors.ErrNotFound {
    return nil, err
  }
  limit := s.planLimitFor(ctx, tx, owner)
  start, end := billingPeriodWindow(time.Now())
  return s.counterRepo.GetOrCreateForPeriod(ctx, tx, owner, start, end, limit)
}

func (s *entitlementService) counterForSubscription(ctx context.Context, tx *gorm.DB, owner types.Owner, sub *types.Subscription) (*types.UsageCounter, error) {
  counter, err := s.counterRepo.GetCurrent(ctx, tx, owner, time.Now())
  if err == nil {
    return counter, nil
  }
  if err != pkgerrors.ErrNotFound {
    return nil, err
  }
  limit := sub.PlanArticleLimit
  if limit <= 0 {
    limit = s.cfg.DefaultArticleLimit
  }
  start, end := billingPeriodWindow(time.Now())
  return s.counterRepo.GetOrCreateForPeriod(ctx, tx, owner, start, end, limit)
}

func (s *entitlementService) planLimitFor(ctx context.Context, tx *gorm.DB, owner types.Owner) int {
  subs, err := s.candidateSubscriptions(ctx, tx, owner)
  if err != nil {
    s.log.Warn("Failed to load subscriptions for plan limit", "error", err)
    return s.cfg.DefaultArticleLimit
  }
  best := 0
  now := time.Now()
  for _, sub := range subs {
    if s.subscriptionSatisfies(sub, now) && sub.PlanArticleLimit > best {
      best = sub.PlanArticleLimit
    }
  }
  if best == 0 {
    best = s.cfg.DefaultArticleLimit
  }
  return best
}

func subscriptionOwner(sub *types.Subscription) types.Owner {
  if sub == nil {
    return types.Owner{}
  }
  if sub.OrganizationID != nil && *sub.OrganizationID != uuid.Nil {
    return types.OrganizationOwner(*sub.OrganizationID)
  }
  if sub.UserID != nil {
    return types.PersonalOwner(*sub.UserID)
  }
  return types.Owner{}
}

// billingPeriodWindow buckets usage by calendar month in UTC.
func billingPeriodWindow(at time.Time) (time.Time, time.Time) {
  at = at.UTC()
  start := time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC)
  return start, start.AddDate(0, 1, 0)
}
