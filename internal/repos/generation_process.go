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

// GenerationProcessRepo is the durable store for generation processes. Every
// read and write is scoped to the owning tenant; UpdateChecked is the single
// mutation path and carries the optimistic-concurrency guard.
type GenerationProcessRepo interface {
  Create(ctx context.Context, tx *gorm.DB, proc *types.GenerationProcess) (*types.GenerationProcess, error)
  GetByIDForOwner(ctx context.Context, tx *gorm.DB, id uuid.UUID, owner types.Owner) (*types.GenerationProcess, error)
  ListByOwner(ctx context.Context, tx *gorm.DB, owner types.Owner, statusFilter string, limit, offset int) ([]*types.GenerationProcess, error)
  ListRecoverableByOwner(ctx context.Context, tx *gorm.DB, owner types.Owner, limit int) ([]*types.GenerationProcess, error)
  ListStaleInProgress(ctx context.Context, tx *gorm.DB, olderThan time.Time, limit int) ([]*types.GenerationProcess, error)
  UpdateChecked(ctx context.Context, tx *gorm.DB, id uuid.UUID, owner types.Owner, expectedUpdatedAt time.Time, updates map[string]interface{}) (*types.GenerationProcess, error)
  Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID, owner types.Owner) error
  DeleteTerminalOrAbandoned(ctx context.Context, tx *gorm.DB, id uuid.UUID, owner types.Owner, abandonedBefore time.Time) error
}

type generationProcessRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewGenerationProcessRepo(db *gorm.DB, baseLog *logger.Logger) GenerationProcessRepo {
  return &generationProcessRepo{
    db:  db,
    log: baseLog.With("repo", "GenerationProcessRepo"),
  }
}

// ownerScoped narrows a query to one tenant. Personal processes are rows with
// no organization; organization processes are visible to any caller the
// service layer has already resolved into that organization.
func ownerScoped(q *gorm.DB, owner types.Owner) *gorm.DB {
  if owner.IsOrganization() {
    return q.Where("organization_id = ?", owner.OrganizationID)
  }
  return q.Where("user_id = ? AND organization_id IS NULL", owner.UserID)
}

func (r *generationProcessRepo) Create(ctx context.Context, tx *gorm.DB, proc *types.GenerationProcess) (*types.GenerationProcess, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if proc == nil {
    return nil, pkgerrors.ErrInvalidArgument
  }
  if proc.ID == uuid.Nil {
    proc.ID = uuid.New()
  }
  if err := transaction.WithContext(ctx).Create(proc).Error; err != nil {
    return nil, err
  }
  return proc, nil
}

func (r *generationProcessRepo) GetByIDForOwner(ctx context.Context, tx *gorm.DB, id uuid.UUID, owner types.Owner) (*types.GenerationProcess, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if id == uuid.Nil || !owner.Valid() {
    return nil, pkgerrors.ErrNotFound
  }
  var proc types.GenerationProcess
  err := ownerScoped(transaction.WithContext(ctx).Where("id = ?", id), owner).
    First(&proc).Error
  if errors.Is(err, gorm.ErrRecordNotFound) {
    return nil, pkgerrors.ErrNotFound
  }
  if err != nil {
    return nil, err
  }
  return &proc, nil
}

func (r *generationProcessRepo) ListByOwner(ctx context.Context, tx *gorm.DB, owner types.Owner, statusFilter string, limit, offset int) ([]*types.GenerationProcess, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if !owner.Valid() {
    return nil, pkgerrors.ErrInvalidArgument
  }
  if limit <= 0 || limit > 100 {
    limit = 20
  }
  if offset < 0 {
    offset = 0
  }
  q := ownerScoped(transaction.WithContext(ctx).Model(&types.GenerationProcess{}), owner)
  if statusFilter != "" {
    q = q.Where("status = ?", statusFilter)
  }
  var out []*types.GenerationProcess
  if err := q.Order("updated_at DESC").Limit(limit).Offset(offset).Find(&out).Error; err != nil {
    return nil, err
  }
  return out, nil
}

func (r *generationProcessRepo) ListRecoverableByOwner(ctx context.Context, tx *gorm.DB, owner types.Owner, limit int) ([]*types.GenerationProcess, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if !owner.Valid() {
    return nil, pkgerrors.ErrInvalidArgument
  }
  if limit <= 0 || limit > 50 {
    limit = 10
  }
  var out []*types.GenerationProcess
  err := ownerScoped(transaction.WithContext(ctx).Model(&types.GenerationProcess{}), owner).
    Where("status NOT IN ?", []string{types.ProcessStatusCompleted, types.ProcessStatusCancelled}).
    Order("updated_at DESC").
    Limit(limit).
    Find(&out).Error
  if err != nil {
    return nil, err
  }
  return out, nil
}

func (r *generationProcessRepo) ListStaleInProgress(ctx context.Context, tx *gorm.DB, olderThan time.Time, limit int) ([]*types.GenerationProcess, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if limit <= 0 || limit > 200 {
    limit = 50
  }
  var out []*types.GenerationProcess
  err := transaction.WithContext(ctx).Model(&types.GenerationProcess{}).
    Where("status IN ? AND updated_at < ?", []string{types.ProcessStatusInProgress, types.ProcessStatusResuming}, olderThan).
    Order("updated_at ASC").
    Limit(limit).
    Find(&out).Error
  if err != nil {
    return nil, err
  }
  return out, nil
}

// UpdateChecked applies updates only if the stored updated_at still matches
// what the caller read. A lost race surfaces as ErrConflict, never a silent
// overwrite; a missing or foreign row surfaces as ErrNotFound.
func (r *generationProcessRepo) UpdateChecked(ctx context.Context, tx *gorm.DB, id uuid.UUID, owner types.Owner, expectedUpdatedAt time.Time, updates map[string]interface{}) (*types.GenerationProcess, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if id == uuid.Nil || !owner.Valid() {
    return nil, pkgerrors.ErrNotFound
  }
  if updates == nil {
    updates = map[string]interface{}{}
  }
  updates["updated_at"] = time.Now()

  res := ownerScoped(
    transaction.WithContext(ctx).Model(&types.GenerationProcess{}).
      Where("id = ? AND updated_at = ?", id, expectedUpdatedAt),
    owner,
  ).Updates(updates)
  if res.Error != nil {
    return nil, res.Error
  }
  if res.RowsAffected == 0 {
    // distinguish a concurrency loss from a row the caller cannot see
    if _, err := r.GetByIDForOwner(ctx, transaction, id, owner); err != nil {
      return nil, err
    }
    return nil, pkgerrors.ErrConflict
  }
  return r.GetByIDForOwner(ctx, transaction, id, owner)
}

// Heartbeat bumps updated_at without changing anything else. Recovery math
// keys off updated_at, so a live executor must call this even when idle.
func (r *generationProcessRepo) Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID, owner types.Owner) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if id == uuid.Nil || !owner.Valid() {
    return pkgerrors.ErrNotFound
  }
  res := ownerScoped(
    transaction.WithContext(ctx).Model(&types.GenerationProcess{}).
      Where("id = ? AND status IN ?", id, []string{types.ProcessStatusInProgress, types.ProcessStatusResuming}),
    owner,
  ).Updates(map[string]interface{}{"updated_at": time.Now()})
  if res.Error != nil {
    return res.Error
  }
  if res.RowsAffected == 0 {
    return pkgerrors.ErrNotFound
  }
  return nil
}

// DeleteTerminalOrAbandoned soft deletes a process the owner may discard:
// terminal, or untouched for longer than the abandonment ceiling.
func (r *generationProcessRepo) DeleteTerminalOrAbandoned(ctx context.Context, tx *gorm.DB, id uuid.UUID, owner types.Owner, abandonedBefore time.Time) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if id == uuid.Nil || !owner.Valid() {
    return pkgerrors.ErrNotFound
  }
  res := ownerScoped(
    transaction.WithContext(ctx).
      Where("id = ?", id).
      Where("status IN ? OR updated_at < ?", []string{types.ProcessStatusCompleted, types.ProcessStatusCancelled, types.ProcessStatusError}, abandonedBefore),
    owner,
  ).Delete(&types.GenerationProcess{})
  if res.Error != nil {
    return res.Error
  }
  if res.RowsAffected == 0 {
    if _, err := r.GetByIDForOwner(ctx, transaction, id, owner); err != nil {
      return err
    }
    return pkgerrors.ErrInvalidTransition
  }
  return nil
}
