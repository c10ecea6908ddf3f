package services

import (
  "context"
  "encoding/json"
  "errors"
  "fmt"
  "time"

  "github.com/google/uuid"
  "gorm.io/datatypes"
  "gorm.io/gorm"

  "github.com/shintairiku/marketing-automation-sub005/internal/flow"
  pkgerrors "github.com/shintairiku/marketing-automation-sub005/internal/pkg/errors"
  "github.com/shintairiku/marketing-automation-sub005/internal/platform/logger"
  "github.com/shintairiku/marketing-automation-sub005/internal/repos"
  "github.com/shintairiku/marketing-automation-sub005/internal/requestdata"
  "github.com/shintairiku/marketing-automation-sub005/internal/sse"
  "github.com/shintairiku/marketing-automation-sub005/internal/types"
)

// StepOutcome is what a step executor reports back when a step finishes,
// fails, or needs a human decision. Context carries whatever the executor
// produced; the state machine merges it without interpreting it.
type StepOutcome struct {
  Step         string         `json:"step"`
  Outcome      string         `json:"outcome"`
  InputType    string         `json:"input_type,omitempty"`
  ErrorMessage string         `json:"error_message,omitempty"`
  Context      map[string]any `json:"context,omitempty"`
}

// GenerationProcessService is the process state machine. It is the only
// mutator of GenerationProcess rows; every write goes through the store's
// optimistic-concurrency update, so two racing executors resolve to exactly
// one winner and one ErrConflict.
type GenerationProcessService interface {
  CreateProcess(ctx context.Context, flowType string, initialContext map[string]any) (*types.GenerationProcess, error)
  Start(ctx context.Context, id uuid.UUID) (*types.GenerationProcess, error)
  Advance(ctx context.Context, id uuid.UUID, outcome StepOutcome) (*types.GenerationProcess, error)
  SupplyInput(ctx context.Context, id uuid.UUID, payload map[string]any) (*types.GenerationProcess, error)
  Cancel(ctx context.Context, id uuid.UUID) (*types.GenerationProcess, error)
  Resume(ctx context.Context, id uuid.UUID, fromStep string) (*types.GenerationProcess, error)
  Heartbeat(ctx context.Context, id uuid.UUID) error
  Get(ctx context.Context, id uuid.UUID) (*types.GenerationProcess, error)
  List(ctx context.Context, statusFilter string, limit, offset int) ([]*types.GenerationProcess, error)
  Delete(ctx context.Context, id uuid.UUID) error
}

type ProcessConfig struct {
  // SkipEditing drops the editing step from every flow; the writing step then
  // carries the terminal percentage.
  SkipEditing bool
  // StalenessCeiling is how long an untouched process may sit before the
  // owner is allowed to discard it as abandoned.
  StalenessCeiling time.Duration
}

type generationProcessService struct {
  db          *gorm.DB
  log         *logger.Logger
  cfg         ProcessConfig
  procRepo    repos.GenerationProcessRepo
  entitlement EntitlementService
  notifier    ProcessNotifier
}

func NewGenerationProcessService(
  db *gorm.DB,
  log *logger.Logger,
  cfg ProcessConfig,
  procRepo repos.GenerationProcessRepo,
  entitlement EntitlementService,
  notifier ProcessNotifier,
) GenerationProcessService {
  if notifier == nil {
    notifier = NewNopProcessNotifier()
  }
  return &generationProcessService{
    db:          db,
    log:         log.With("service", "GenerationProcessService"),
    cfg:         cfg,
    procRepo:    procRepo,
    entitlement: entitlement,
    notifier:    notifier,
  }
}

func ownerFromContext(ctx context.Context) (types.Owner, error) {
  rd := requestdata.GetRequestData(ctx)
  if rd == nil || rd.UserID == uuid.Nil {
    return types.Owner{}, pkgerrors.ErrUnauthorized
  }
  if rd.OrganizationID != uuid.Nil {
    return types.OrganizationOwner(rd.OrganizationID), nil
  }
  return types.PersonalOwner(rd.UserID), nil
}

// runInTransaction wraps fn in a database transaction. A nil db runs fn
// directly; the repos then fall back to their own handles.
func runInTransaction(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
  if db == nil {
    return fn(nil)
  }
  return db.WithContext(ctx).Transaction(fn)
}

func (s *generationProcessService) policyFor(flowType string) (*flow.Policy, error) {
  opts := []flow.Option{flow.WithLogger(s.log)}
  if s.cfg.SkipEditing {
    opts = append(opts, flow.WithSkipEditing())
  }
  return flow.New(flowType, opts...)
}

func (s *generationProcessService) CreateProcess(ctx context.Context, flowType string, initialContext map[string]any) (*types.GenerationProcess, error) {
  owner, err := ownerFromContext(ctx)
  if err != nil {
    return nil, err
  }
  policy, err := s.policyFor(flowType)
  if err != nil {
    return nil, fmt.Errorf("%w: %v", pkgerrors.ErrInvalidArgument, err)
  }
  if err := s.entitlement.AuthorizeStart(ctx, nil, owner); err != nil {
    return nil, err
  }

  contextBlob, err := marshalContext(initialContext)
  if err != nil {
    return nil, fmt.Errorf("%w: bad initial context", pkgerrors.ErrInvalidArgument)
  }
  first := policy.FirstStep()
  history, err := appendHistory(nil, types.StepHistoryEntry{
    Step:      first,
    Outcome:   "created",
    Timestamp: time.Now(),
  })
  if err != nil {
    return nil, err
  }

  proc := &types.GenerationProcess{
    ID:             uuid.New(),
    UserID:         owner.UserIDPtr(),
    OrganizationID: owner.OrganizationIDPtr(),
    FlowType:       flowType,
    Status:         types.ProcessStatusPending,
    CurrentStep:    first,
    StepHistory:    history,
    ArticleContext: contextBlob,
  }
  created, err := s.procRepo.Create(ctx, nil, proc)
  if err != nil {
    return nil, err
  }
  s.notifier.ProcessEvent(ctx, sse.SSEEventProcessCreated, created)
  return created, nil
}

// Start is the executor's pickup signal: pending -> in_progress.
func (s *generationProcessService) Start(ctx context.Context, id uuid.UUID) (*types.GenerationProcess, error) {
  owner, err := ownerFromContext(ctx)
  if err != nil {
    return nil, err
  }
  proc, err := s.procRepo.GetByIDForOwner(ctx, nil, id, owner)
  if err != nil {
    return nil, err
  }
  if proc.Status != types.ProcessStatusPending {
    return nil, fmt.Errorf("%w: start from %q", pkgerrors.ErrInvalidTransition, proc.Status)
  }
  history, err := appendHistory(proc.StepHistory, types.StepHistoryEntry{
    Step:      proc.CurrentStep,
    Outcome:   "started",
    Timestamp: time.Now(),
  })
  if err != nil {
    return nil, err
  }
  return s.procRepo.UpdateChecked(ctx, nil, id, owner, proc.UpdatedAt, map[string]interface{}{
    "status":       types.ProcessStatusInProgress,
    "step_history": history,
  })
}

func (s *generationProcessService) Advance(ctx context.Context, id uuid.UUID, outcome StepOutcome) (*types.GenerationProcess, error) {
  owner, err := ownerFromContext(ctx)
  if err != nil {
    return nil, err
  }
  proc, err := s.procRepo.GetByIDForOwner(ctx, nil, id, owner)
  if err != nil {
    return nil, err
  }

  // Late or duplicate callbacks are discarded, not failed: the executor is
  // at-least-once and a cancelled process must stay cancelled.
  if !runnableStatus(proc.Status) {
    s.log.Debug("Discarding step outcome for non-runnable process", "process_id", id, "status", proc.Status, "step", outcome.Step)
    return proc, nil
  }
  if outcome.Step != proc.CurrentStep {
    s.log.Debug("Discarding stale step outcome", "process_id", id, "current_step", proc.CurrentStep, "reported_step", outcome.Step)
    return proc, nil
  }

  policy, err := s.policyFor(proc.FlowType)
  if err != nil {
    return nil, err
  }

  if authErr := s.entitlement.AuthorizeAdvance(ctx, nil, owner); authErr != nil {
    if updated, uErr := s.failProcess(ctx, owner, proc, "subscription no longer valid: "+authErr.Error(), false); uErr == nil {
      s.notifier.ProcessEvent(ctx, sse.SSEEventProcessFailed, updated)
    }
    return nil, authErr
  }

  switch outcome.Outcome {
  case types.StepOutcomeCompleted:
    return s.applyStepCompleted(ctx, owner, proc, policy, outcome)
  case types.StepOutcomeNeedsInput:
    return s.applyNeedsInput(ctx, owner, proc, policy, outcome)
  case types.StepOutcomeFailed:
    return s.applyStepFailed(ctx, owner, proc, policy, outcome)
  default:
    return nil, fmt.Errorf("%w: unknown step outcome %q", pkgerrors.ErrInvalidArgument, outcome.Outcome)
  }
}

func runnableStatus(status string) bool {
  switch status {
  case types.ProcessStatusPending, types.ProcessStatusInProgress, types.ProcessStatusResuming:
    return true
  default:
    return false
  }
}

func (s *generationProcessService) applyStepCompleted(ctx context.Context, owner types.Owner, proc *types.GenerationProcess, policy *flow.Policy, outcome StepOutcome) (*types.GenerationProcess, error) {
  next, err := policy.NextStep(proc.CurrentStep)
  if err != nil {
    return nil, fmt.Errorf("%w: %v", pkgerrors.ErrInvalidArgument, err)
  }
  contextBlob, err := mergeContext(proc.ArticleContext, outcome.Context)
  if err != nil {
    return nil, err
  }
  history, err := appendHistory(proc.StepHistory, types.StepHistoryEntry{
    Step:      proc.CurrentStep,
    Outcome:   types.StepOutcomeCompleted,
    Timestamp: time.Now(),
  })
  if err != nil {
    return nil, err
  }

  if next == flow.StepTerminal {
    return s.completeProcess(ctx, owner, proc, contextBlob, history)
  }

  updated, err := s.procRepo.UpdateChecked(ctx, nil, proc.ID, owner, proc.UpdatedAt, map[string]interface{}{
    "status":              types.ProcessStatusInProgress,
    "current_step":        next,
    "progress_percentage": policy.ProgressFor(proc.CurrentStep),
    "article_context":     contextBlob,
    "step_history":        history,
    "error_message":       "",
  })
  if err != nil {
    return nil, err
  }
  s.notifier.ProcessEvent(ctx, sse.SSEEventProcessStepCompleted, updated)
  return updated, nil
}

// completeProcess is the one place usage is consumed. The counter increment
// and the status flip commit or roll back together; a quota violation turns
// the completion into an error state instead of an uncounted success.
func (s *generationProcessService) completeProcess(ctx context.Context, owner types.Owner, proc *types.GenerationProcess, contextBlob datatypes.JSON, history datatypes.JSON) (*types.GenerationProcess, error) {
  var updated *types.GenerationProcess
  txErr := runInTransaction(ctx, s.db, func(tx *gorm.DB) error {
    if err := s.entitlement.IncrementUsage(ctx, tx, owner); err != nil {
      return err
    }
    var uErr error
    updated, uErr = s.procRepo.UpdateChecked(ctx, tx, proc.ID, owner, proc.UpdatedAt, map[string]interface{}{
      "status":              types.ProcessStatusCompleted,
      "progress_percentage": 100,
      "article_context":     contextBlob,
      "step_history":        history,
      "error_message":       "",
      "is_waiting_for_input": false,
    })
    return uErr
  })
  if txErr == nil {
    s.notifier.ProcessEvent(ctx, sse.SSEEventProcessCompleted, updated)
    return updated, nil
  }
  if errors.Is(txErr, pkgerrors.ErrQuotaExceeded) {
    failed, fErr := s.failProcess(ctx, owner, proc, "article quota exceeded; completion was not recorded", false)
    if fErr != nil {
      return nil, fErr
    }
    s.notifier.ProcessEvent(ctx, sse.SSEEventProcessFailed, failed)
    return failed, txErr
  }
  return nil, txErr
}

func (s *generationProcessService) applyNeedsInput(ctx context.Context, owner types.Owner, proc *types.GenerationProcess, policy *flow.Policy, outcome StepOutcome) (*types.GenerationProcess, error) {
  inputType := outcome.InputType
  if inputType == "" {
    inputType = policy.InputType(proc.CurrentStep)
  }
  contextBlob, err := mergeContext(proc.ArticleContext, outcome.Context)
  if err != nil {
    return nil, err
  }
  history, err := appendHistory(proc.StepHistory, types.StepHistoryEntry{
    Step:      proc.CurrentStep,
    Outcome:   types.StepOutcomeNeedsInput,
    Note:      inputType,
    Timestamp: time.Now(),
  })
  if err != nil {
    return nil, err
  }
  updated, err := s.procRepo.UpdateChecked(ctx, nil, proc.ID, owner, proc.UpdatedAt, map[string]interface{}{
    "status":               types.ProcessStatusUserInputRequired,
    "is_waiting_for_input": true,
    "input_type":           inputType,
    "article_context":      contextBlob,
    "step_history":         history,
  })
  if err != nil {
    return nil, err
  }
  s.notifier.ProcessEvent(ctx, sse.SSEEventProcessInputRequired, updated)
  return updated, nil
}

func (s *generationProcessService) applyStepFailed(ctx context.Context, owner types.Owner, proc *types.GenerationProcess, policy *flow.Policy, outcome StepOutcome) (*types.GenerationProcess, error) {
  msg := outcome.ErrorMessage
  if msg == "" {
    msg = fmt.Sprintf("step %s failed", proc.CurrentStep)
  }
  updated, err := s.failProcess(ctx, owner, proc, msg, policy.Retryable(proc.CurrentStep))
  if err != nil {
    return nil, err
  }
  s.notifier.ProcessEvent(ctx, sse.SSEEventProcessFailed, updated)
  return updated, nil
}

func (s *generationProcessService) failProcess(ctx context.Context, owner types.Owner, proc *types.GenerationProcess, msg string, autoResume bool) (*types.GenerationProcess, error) {
  history, err := appendHistory(proc.StepHistory, types.StepHistoryEntry{
    Step:      proc.CurrentStep,
    Outcome:   types.StepOutcomeFailed,
    Note:      msg,
    Timestamp: time.Now(),
  })
  if err != nil {
    return nil, err
  }
  return s.procRepo.UpdateChecked(ctx, nil, proc.ID, owner, proc.UpdatedAt, map[string]interface{}{
    "status":               types.ProcessStatusError,
    "error_message":        msg,
    "auto_resume_eligible": autoResume,
    "resume_from_step":     proc.CurrentStep,
    "step_history":         history,
  })
}

func (s *generationProcessService) SupplyInput(ctx context.Context, id uuid.UUID, payload map[string]any) (*types.GenerationProcess, error) {
  owner, err := ownerFromContext(ctx)
  if err != nil {
    return nil, err
  }
  proc, err := s.procRepo.GetByIDForOwner(ctx, nil, id, owner)
  if err != nil {
    return nil, err
  }
  if proc.Status != types.ProcessStatusUserInputRequired {
    return nil, fmt.Errorf("%w: supply input from %q", pkgerrors.ErrInvalidTransition, proc.Status)
  }
  contextBlob, err := mergeContext(proc.ArticleContext, payload)
  if err != nil {
    return nil, err
  }
  history, err := appendHistory(proc.StepHistory, types.StepHistoryEntry{
    Step:      proc.CurrentStep,
    Outcome:   "input_supplied",
    Note:      proc.InputType,
    Timestamp: time.Now(),
  })
  if err != nil {
    return nil, err
  }
  updated, err := s.procRepo.UpdateChecked(ctx, nil, id, owner, proc.UpdatedAt, map[string]interface{}{
    "status":               types.ProcessStatusInProgress,
    "is_waiting_for_input": false,
    "input_type":           "",
    "article_context":      contextBlob,
    "step_history":         history,
  })
  if err != nil {
    return nil, err
  }
  s.notifier.ProcessEvent(ctx, sse.SSEEventProcessResumed, updated)
  return updated, nil
}

func (s *generationProcessService) Cancel(ctx context.Context, id uuid.UUID) (*types.GenerationProcess, error) {
  owner, err := ownerFromContext(ctx)
  if err != nil {
    return nil, err
  }
  proc, err := s.procRepo.GetByIDForOwner(ctx, nil, id, owner)
  if err != nil {
    return nil, err
  }
  if proc.IsTerminal() {
    return nil, fmt.Errorf("%w: cancel from %q", pkgerrors.ErrInvalidTransition, proc.Status)
  }
  history, err := appendHistory(proc.StepHistory, types.StepHistoryEntry{
    Step:      proc.CurrentStep,
    Outcome:   types.StepOutcomeCancelled,
    Timestamp: time.Now(),
  })
  if err != nil {
    return nil, err
  }
  // current_step is left frozen where the process stopped
  updated, err := s.procRepo.UpdateChecked(ctx, nil, id, owner, proc.UpdatedAt, map[string]interface{}{
    "status":               types.ProcessStatusCancelled,
    "is_waiting_for_input": false,
    "step_history":         history,
  })
  if err != nil {
    return nil, err
  }
  s.notifier.ProcessEvent(ctx, sse.SSEEventProcessCancelled, updated)
  return updated, nil
}

// Resume re-enters the flow at resume_from_step (current_step when unset).
// Legal from paused and error; the first executor callback then moves
// resuming to in_progress.
func (s *generationProcessService) Resume(ctx context.Context, id uuid.UUID, fromStep string) (*types.GenerationProcess, error) {
  owner, err := ownerFromContext(ctx)
  if err != nil {
    return nil, err
  }
  proc, err := s.procRepo.GetByIDForOwner(ctx, nil, id, owner)
  if err != nil {
    return nil, err
  }
  if proc.Status != types.ProcessStatusPaused && proc.Status != types.ProcessStatusError {
    return nil, fmt.Errorf("%w: resume from %q", pkgerrors.ErrInvalidTransition, proc.Status)
  }
  policy, err := s.policyFor(proc.FlowType)
  if err != nil {
    return nil, err
  }
  if fromStep == "" {
    fromStep = proc.ResumeFromStep
  }
  if fromStep == "" {
    fromStep = proc.CurrentStep
  }
  if !policy.Contains(fromStep) {
    return nil, fmt.Errorf("%w: step %q not in flow %q", pkgerrors.ErrInvalidArgument, fromStep, proc.FlowType)
  }
  history, err := appendHistory(proc.StepHistory, types.StepHistoryEntry{
    Step:      fromStep,
    Outcome:   types.StepOutcomeResumed,
    Timestamp: time.Now(),
  })
  if err != nil {
    return nil, err
  }
  updated, err := s.procRepo.UpdateChecked(ctx, nil, id, owner, proc.UpdatedAt, map[string]interface{}{
    "status":               types.ProcessStatusResuming,
    "current_step":         fromStep,
    "progress_percentage":  progressBefore(policy, fromStep),
    "error_message":        "",
    "is_waiting_for_input": false,
    "auto_resume_eligible": false,
    "resume_from_step":     "",
    "step_history":         history,
  })
  if err != nil {
    return nil, err
  }
  s.notifier.ProcessEvent(ctx, sse.SSEEventProcessResumed, updated)
  return updated, nil
}

// progressBefore is the percentage already banked when a step is about to
// (re)run: the percentage of the step before it.
func progressBefore(policy *flow.Policy, step string) int {
  steps := policy.Steps()
  for i, name := range steps {
    if name == step {
      if i == 0 {
        return 0
      }
      return policy.ProgressFor(steps[i-1])
    }
  }
  return 0
}

func (s *generationProcessService) Heartbeat(ctx context.Context, id uuid.UUID) error {
  owner, err := ownerFromContext(ctx)
  if err != nil {
    return err
  }
  return s.procRepo.Heartbeat(ctx, nil, id, owner)
}

func (s *generationProcessService) Get(ctx context.Context, id uuid.UUID) (*types.GenerationProcess, error) {
  owner, err := ownerFromContext(ctx)
  if err != nil {
    return nil, err
  }
  return s.procRepo.GetByIDForOwner(ctx, nil, id, owner)
}

func (s *generationProcessService) List(ctx context.Context, statusFilter string, limit, offset int) ([]*types.GenerationProcess, error) {
  owner, err := ownerFromContext(ctx)
  if err != nil {
    return nil, err
  }
  return s.procRepo.ListByOwner(ctx, nil, owner, statusFilter, limit, offset)
}

func (s *generationProcessService) Delete(ctx context.Context, id uuid.UUID) error {
  owner, err := ownerFromContext(ctx)
  if err != nil {
    return err
  }
  abandonedBefore := time.Now().Add(-s.cfg.StalenessCeiling)
  return s.procRepo.DeleteTerminalOrAbandoned(ctx, nil, id, owner, abandonedBefore)
}

func marshalContext(m map[string]any) (datatypes.JSON, error) {
  if m == nil {
    m = map[string]any{}
  }
  raw, err := json.Marshal(m)
  if err != nil {
    return nil, err
  }
  return datatypes.JSON(raw), nil
}

// mergeContext is a shallow key merge: executors own their keys and later
// writes win. The machine never looks inside the values.
func mergeContext(existing datatypes.JSON, patch map[string]any) (datatypes.JSON, error) {
  if len(patch) == 0 {
    if existing == nil {
      return marshalContext(nil)
    }
    return existing, nil
  }
  base := map[string]any{}
  if len(existing) > 0 {
    if err := json.Unmarshal(existing, &base); err != nil {
      return nil, fmt.Errorf("decode article context: %w", err)
    }
  }
  for k, v := range patch {
    base[k] = v
  }
  raw, err := json.Marshal(base)
  if err != nil {
    return nil, err
  }
  return datatypes.JSON(raw), nil
}

func appendHistory(existing datatypes.JSON, entry types.StepHistoryEntry) (datatypes.JSON, error) {
  var entries []types.StepHistoryEntry
  if len(existing) > 0 {
    if err := json.Unmarshal(existing, &entries); err != nil {
      return nil, fmt.Errorf("decode step history: %w", err)
    }
  }
  entries = append(entries, entry)
  raw, err := json.Marshal(entries)
  if err != nil {
    return nil, err
  }
  return datatypes.JSON(raw), nil
}
