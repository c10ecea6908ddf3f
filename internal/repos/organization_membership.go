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

type OrganizationMembershipRepo interface {
  ListOrganizationIDsForUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]uuid.UUID, error)
  IsMember(ctx context.Context, tx *gorm.DB, userID, orgID uuid.UUID) (bool, error)
  Upsert(ctx context.Context, tx *gorm.DB, userID, orgID uuid.UUID, role string) error
  Remove(ctx context.Context, tx *gorm.DB, userID, orgID uuid.UUID) error
}

type organizationMembershipRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewOrganizationMembershipRepo(db *gorm.DB, baseLog *logger.Logger) OrganizationMembershipRepo {
  return &organizationMembershipRepo{
    db:  db,
    log: baseLog.With("repo", "OrganizationMembershipRepo"),
  }
}

func (r *organizationMembershipRepo) ListOrganizationIDsForUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]uuid.UUID, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  var out []uuid.UUID
  if userID == uuid.Nil {
    return out, nil
  }
  err := transaction.WithContext(ctx).Model(&types.OrganizationMembership{}).
    Where("user_id = ?", userID).
    Pluck("organization_id", &out).Error
  if err != nil {
    return nil, err
  }
  return out, nil
}

func (r *organizationMembershipRepo) IsMember(ctx context.Context, tx *gorm.DB, userID, orgID uuid.UUID) (bool, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if userID == uuid.Nil || orgID == uuid.Nil {
    return false, nil
  }
  var membership types.OrganizationMembership
  err := transaction.WithContext(ctx).
    Where("user_id = ? AND organization_id = ?", userID, orgID).
    First(&membership).Error
  if errors.Is(err, gorm.ErrRecordNotFound) {
    return false, nil
  }
  if err != nil {
    return false, err
  }
  return true, nil
}

// Upsert converges on the (user, org) pair so replayed membership events are
// harmless.
func (r *organizationMembershipRepo) Upsert(ctx context.Context, tx *gorm.DB, userID, orgID uuid.UUID, role string) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if userID == uuid.Nil || orgID == uuid.Nil {
    return pkgerrors.ErrInvalidArgument
  }
  if role == "" {
    role = "member"
  }
  membership := types.OrganizationMembership{
    ID:             uuid.New(),
    UserID:         userID,
    OrganizationID: orgID,
    Role:           role,
  }
  return transaction.WithContext(ctx).Clauses(clause.OnConflict{
    Columns:   []clause.Column{{Name: "user_id"}, {Name: "organization_id"}},
    DoUpdates: clause.Assignments(map[string]interface{}{"role": role, "updated_at": time.Now()}),
  }).Create(&membership).Error
}

func (r *organizationMembershipRepo) Remove(ctx context.Context, tx *gorm.DB, userID, orgID uuid.UUID) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if userID == uuid.Nil || orgID == uuid.Nil {
    return pkgerrors.ErrInvalidArgument
  }
  return transaction.WithContext(ctx).
    Where("user_id = ? AND organization_id = ?", userID, orgID).
    Delete(&types.OrganizationMembership{}).Error
}
