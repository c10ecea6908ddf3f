package services

import (
  "context"
  "sync"
  "testing"
  "time"

  "github.com/google/uuid"
  "gorm.io/datatypes"
  "gorm.io/gorm"

  pkgerrors "github.com/shintairiku/marketing-automation-sub005/internal/pkg/errors"
  "github.com/shintairiku/marketing-automation-sub005/internal/platform/logger"
  "github.com/shintairiku/marketing-automation-sub005/internal/requestdata"
  "github.com/shintairiku/marketing-automation-sub005/internal/types"
)

func testLogger(t *testing.T) *logger.Logger {
  t.Helper()
  log, err := logger.New("development")
  if err != nil {
    t.Fatalf("init logger: %v", err)
  }
  return log
}

func ctxForUser(userID uuid.UUID) context.Context {
  return requestdata.WithRequestData(context.Background(), &requestdata.RequestData{UserID: userID})
}

func ctxForOrg(userID, orgID uuid.UUID) context.Context {
  return requestdata.WithRequestData(context.Background(), &requestdata.RequestData{UserID: userID, OrganizationID: orgID})
}

// fakeProcessRepo is an in-memory GenerationProcessRepo with the same
// owner-scoping and optimistic-concurrency semantics as the real store.
type fakeProcessRepo struct {
  mu    sync.Mutex
  procs map[uuid.UUID]*types.GenerationProcess
  // beforeUpdate runs at the top of UpdateChecked; tests use it to simulate
  // a racing writer.
  beforeUpdate func()
}

func newFakeProcessRepo() *fakeProcessRepo {
  return &fakeProcessRepo{procs: make(map[uuid.UUID]*types.GenerationProcess)}
}

func ownerMatches(proc *types.GenerationProcess, owner types.Owner) bool {
  if owner.IsOrganization() {
    return proc.OrganizationID != nil && *proc.OrganizationID == owner.OrganizationID
  }
  return proc.UserID != nil && *proc.UserID == owner.UserID && proc.OrganizationID == nil
}

func cloneProcess(proc *types.GenerationProcess) *types.GenerationProcess {
  cp := *proc
  cp.StepHistory = append(datatypes.JSON(nil), proc.StepHistory...)
  cp.ArticleContext = append(datatypes.JSON(nil), proc.ArticleContext...)
  return &cp
}

func (r *fakeProcessRepo) Create(ctx context.Context, tx *gorm.DB, proc *types.GenerationProcess) (*types.GenerationProcess, error) {
  r.mu.Lock()
  defer r.mu.Unlock()
  if proc.ID == uuid.Nil {
    proc.ID = uuid.New()
  }
  now := time.Now()
  proc.CreatedAt = now
  proc.UpdatedAt = now
  r.procs[proc.ID] = cloneProcess(proc)
  return cloneProcess(proc), nil
}

func (r *fakeProcessRepo) GetByIDForOwner(ctx context.Context, tx *gorm.DB, id uuid.UUID, owner types.Owner) (*types.GenerationProcess, error) {
  r.mu.Lock()
  defer r.mu.Unlock()
  proc, ok := r.procs[id]
  if !ok || !ownerMatches(proc, owner) {
    return nil, pkgerrors.ErrNotFound
  }
  return cloneProcess(proc), nil
}

func (r *fakeProcessRepo) ListByOwner(ctx context.Context, tx *gorm.DB, owner types.Owner, statusFilter string, limit, offset int) ([]*types.GenerationProcess, error) {
  r.mu.Lock()
  defer r.mu.Unlock()
  var out []*types.GenerationProcess
  for _, proc := range r.procs {
    if !ownerMatches(proc, owner) {
      continue
    }
    if statusFilter != "" && proc.Status != statusFilter {
      continue
    }
    out = append(out, cloneProcess(proc))
  }
  return out, nil
}

func (r *fakeProcessRepo) ListRecoverableByOwner(ctx context.Context, tx *gorm.DB, owner types.Owner, limit int) ([]*types.GenerationProcess, error) {
  r.mu.Lock()
  defer r.mu.Unlock()
  var out []*types.GenerationProcess
  for _, proc := range r.procs {
    if !ownerMatches(proc, owner) || proc.IsTerminal() {
      continue
    }
    out = append(out, cloneProcess(proc))
  }
  return out, nil
}

func (r *fakeProcessRepo) ListStaleInProgress(ctx context.Context, tx *gorm.DB, olderThan time.Time, limit int) ([]*types.GenerationProcess, error) {
  r.mu.Lock()
  defer r.mu.Unlock()
  var out []*types.GenerationProcess
  for _, proc := range r.procs {
    if proc.Status != types.ProcessStatusInProgress && proc.Status != types.ProcessStatusResuming {
      continue
    }
    if !proc.UpdatedAt.Before(olderThan) {
      continue
    }
    out = append(out, cloneProcess(proc))
  }
  return out, nil
}

func (r *fakeProcessRepo) UpdateChecked(ctx context.Context, tx *gorm.DB, id uuid.UUID, owner types.Owner, expectedUpdatedAt time.Time, updates map[string]interface{}) (*types.GenerationProcess, error) {
  if r.beforeUpdate != nil {
    r.beforeUpdate()
  }
  r.mu.Lock()
  defer r.mu.Unlock()
  proc, ok := r.procs[id]
  if !ok || !ownerMatches(proc, owner) {
    return nil, pkgerrors.ErrNotFound
  }
  if !proc.UpdatedAt.Equal(expectedUpdatedAt) {
    return nil, pkgerrors.ErrConflict
  }
  for key, val := range updates {
    switch key {
    case "status":
      proc.Status = val.(string)
    case "current_step":
      proc.CurrentStep = val.(string)
    case "progress_percentage":
      proc.ProgressPercentage = val.(int)
    case "is_waiting_for_input":
      proc.IsWaitingForInput = val.(bool)
    case "input_type":
      proc.InputType = val.(string)
    case "auto_resume_eligible":
      proc.AutoResumeEligible = val.(bool)
    case "resume_from_step":
      proc.ResumeFromStep = val.(string)
    case "step_history":
      proc.StepHistory = val.(datatypes.JSON)
    case "article_context":
      proc.ArticleContext = val.(datatypes.JSON)
    case "error_message":
      proc.ErrorMessage = val.(string)
    }
  }
  proc.UpdatedAt = time.Now()
  if proc.UpdatedAt.Equal(expectedUpdatedAt) {
    proc.UpdatedAt = expectedUpdatedAt.Add(time.Microsecond)
  }
  return cloneProcess(proc), nil
}

func (r *fakeProcessRepo) Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID, owner types.Owner) error {
  r.mu.Lock()
  defer r.mu.Unlock()
  proc, ok := r.procs[id]
  if !ok || !ownerMatches(proc, owner) {
    return pkgerrors.ErrNotFound
  }
  if proc.Status != types.ProcessStatusInProgress && proc.Status != types.ProcessStatusResuming {
    return pkgerrors.ErrNotFound
  }
  proc.UpdatedAt = time.Now()
  return nil
}

func (r *fakeProcessRepo) DeleteTerminalOrAbandoned(ctx context.Context, tx *gorm.DB, id uuid.UUID, owner types.Owner, abandonedBefore time.Time) error {
  r.mu.Lock()
  defer r.mu.Unlock()
  proc, ok := r.procs[id]
  if !ok || !ownerMatches(proc, owner) {
    return pkgerrors.ErrNotFound
  }
  deletable := proc.Status == types.ProcessStatusCompleted ||
    proc.Status == types.ProcessStatusCancelled ||
    proc.Status == types.ProcessStatusError ||
    proc.UpdatedAt.Before(abandonedBefore)
  if !deletable {
    return pkgerrors.ErrInvalidTransition
  }
  delete(r.procs, id)
  return nil
}

// touch rewinds or advances a stored row's updated_at, bypassing the CAS.
func (r *fakeProcessRepo) touch(id uuid.UUID, at time.Time) {
  r.mu.Lock()
  defer r.mu.Unlock()
  if proc, ok := r.procs[id]; ok {
    proc.UpdatedAt = at
  }
}

func (r *fakeProcessRepo) setStatus(id uuid.UUID, status string) {
  r.mu.Lock()
  defer r.mu.Unlock()
  if proc, ok := r.procs[id]; ok {
    proc.Status = status
  }
}

// fakeEntitlement satisfies EntitlementService with canned answers.
type fakeEntitlement struct {
  startErr       error
  advanceErr     error
  incrementErr   error
  incrementCalls int
}

func (f *fakeEntitlement) AuthorizeStart(ctx context.Context, tx *gorm.DB, owner types.Owner) error {
  return f.startErr
}

func (f *fakeEntitlement) AuthorizeAdvance(ctx context.Context, tx *gorm.DB, owner types.Owner) error {
  return f.advanceErr
}

func (f *fakeEntitlement) IncrementUsage(ctx context.Context, tx *gorm.DB, owner types.Owner) error {
  f.incrementCalls++
  return f.incrementErr
}

func (f *fakeEntitlement) SetAddonQuantity(ctx context.Context, tx *gorm.DB, subscriptionExternalID string, quantity int) error {
  return nil
}

func (f *fakeEntitlement) CurrentUsage(ctx context.Context, tx *gorm.DB, owner types.Owner) (*types.UsageCounter, error) {
  return &types.UsageCounter{}, nil
}
