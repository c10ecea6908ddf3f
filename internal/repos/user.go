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

type UserRepo interface {
  GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.User, error)
  GetByExternalID(ctx context.Context, tx *gorm.DB, externalID string) (*types.User, error)
  Upsert(ctx context.Context, tx *gorm.DB, user *types.User) (*types.User, error)
  SetPrivileged(ctx context.Context, tx *gorm.DB, id uuid.UUID, privileged bool) error
}

type userRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewUserRepo(db *gorm.DB, baseLog *logger.Logger) UserRepo {
  return &userRepo{
    db:  db,
    log: baseLog.With("repo", "UserRepo"),
  }
}

func (r *userRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.User, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if id == uuid.Nil {
    return nil, pkgerrors.ErrNotFound
  }
  var user types.User
  err := transaction.WithContext(ctx).Where("id = ?", id).First(&user).Error
  if errors.Is(err, gorm.ErrRecordNotFound) {
    return nil, pkgerrors.ErrNotFound
  }
  if err != nil {
    return nil, err
  }
  return &user, nil
}

func (r *userRepo) GetByExternalID(ctx context.Context, tx *gorm.DB, externalID string) (*types.User, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if externalID == "" {
    return nil, pkgerrors.ErrNotFound
  }
  var user types.User
  err := transaction.WithContext(ctx).Where("external_id = ?", externalID).First(&user).Error
  if errors.Is(err, gorm.ErrRecordNotFound) {
    return nil, pkgerrors.ErrNotFound
  }
  if err != nil {
    return nil, err
  }
  return &user, nil
}

func (r *userRepo) Upsert(ctx context.Context, tx *gorm.DB, user *types.User) (*types.User, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if user == nil || user.ExternalID == "" {
    return nil, pkgerrors.ErrInvalidArgument
  }
  if user.ID == uuid.Nil {
    user.ID = uuid.New()
  }
  err := transaction.WithContext(ctx).Clauses(clause.OnConflict{
    Columns:   []clause.Column{{Name: "external_id"}},
    DoUpdates: clause.AssignmentColumns([]string{"email", "updated_at"}),
  }).Create(user).Error
  if err != nil {
    return nil, err
  }
  return r.GetByExternalID(ctx, transaction, user.ExternalID)
}

func (r *userRepo) SetPrivileged(ctx context.Context, tx *gorm.DB, id uuid.UUID, privileged bool) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if id == uuid.Nil {
    return pkgerrors.ErrInvalidArgument
  }
  return transaction.WithContext(ctx).Model(&types.User{}).
    Where("id = ?", id).
    Updates(map[string]interface{}{"privileged": privileged, "updated_at": time.Now()}).Error
}
