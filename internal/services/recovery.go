package services

import (
  "context"
  "encoding/json"
  "fmt"
  "time"

  "golang.org/x/sync/errgroup"
  "gorm.io/gorm"

  "github.com/shintairiku/marketing-automation-sub005/internal/flow"
  "github.com/shintairiku/marketing-automation-sub005/internal/platform/logger"
  "github.com/shintairiku/marketing-automation-sub005/internal/repos"
  "github.com/shintairiku/marketing-automation-sub005/internal/types"
)

// Classification is the recovery verdict for one interrupted process.
type Classification struct {
  AutoResumable         bool          `json:"auto_resumable"`
  RequiresUserInput     bool          `json:"requires_user_input"`
  Abandoned             bool          `json:"abandoned"`
  RecoveryNotes         string        `json:"recovery_notes"`
  TimeSinceLastActivity time.Duration `json:"time_since_last_activity"`
}

type RecoverableProcess struct {
  Process        *types.GenerationProcess `json:"process"`
  Classification Classification           `json:"classification"`
}

type RecoveryConfig struct {
  // HeartbeatTimeout: an in_progress process untouched this long is presumed
  // to have lost its executor.
  HeartbeatTimeout time.Duration
  // StalenessCeiling: beyond this a failed process is reported abandoned, not
  // offered for resume.
  StalenessCeiling time.Duration
  // SkipEditing must match the state machine's flow configuration.
  SkipEditing bool
}

// RecoveryService decides, for each interrupted process, whether it can be
// silently resumed, needs the user, or is abandoned. It never mutates
// processes itself; resume is an explicit operation on the state machine.
type RecoveryService interface {
  Classify(proc *types.GenerationProcess, now time.Time) (Classification, bool)
  ListRecoverable(ctx context.Context, limit int) ([]RecoverableProcess, error)
}

type recoveryService struct {
  db       *gorm.DB
  log      *logger.Logger
  cfg      RecoveryConfig
  procRepo repos.GenerationProcessRepo
}

func NewRecoveryService(db *gorm.DB, log *logger.Logger, cfg RecoveryConfig, procRepo repos.GenerationProcessRepo) RecoveryService {
  return &recoveryService{
    db:       db,
    log:      log.With("service", "RecoveryService"),
    cfg:      cfg,
    procRepo: procRepo,
  }
}

// Classify applies the recovery rules in order. The second return is false
// for terminal processes, which are excluded from recoverable listings.
func (s *recoveryService) Classify(proc *types.GenerationProcess, now time.Time) (Classification, bool) {
  if proc == nil || proc.IsTerminal() {
    return Classification{}, false
  }
  elapsed := now.Sub(proc.UpdatedAt)
  c := Classification{TimeSinceLastActivity: elapsed}

  switch proc.Status {
  case types.ProcessStatusUserInputRequired:
    c.RequiresUserInput = true
    c.RecoveryNotes = fmt.Sprintf("waiting on %s; the process continues once a choice is made", displayInputType(proc.InputType))
    return c, true

  case types.ProcessStatusError:
    if elapsed >= s.cfg.StalenessCeiling {
      c.Abandoned = true
      c.RecoveryNotes = fmt.Sprintf("failed at %s and untouched for %s; start a new generation instead", proc.CurrentStep, roundDuration(elapsed))
      return c, true
    }
    if s.failedStepRetryable(proc) {
      c.AutoResumable = true
      c.RecoveryNotes = fmt.Sprintf("failed at %s; the step can be re-run safely", proc.CurrentStep)
      return c, true
    }
    c.RequiresUserInput = true
    c.RecoveryNotes = fmt.Sprintf("failed at %s; re-running needs confirmation because the step involves a selection", proc.CurrentStep)
    return c, true

  case types.ProcessStatusPaused:
    if elapsed >= s.cfg.StalenessCeiling {
      c.Abandoned = true
      c.RecoveryNotes = fmt.Sprintf("paused at %s and untouched for %s", proc.CurrentStep, roundDuration(elapsed))
      return c, true
    }
    c.AutoResumable = true
    c.RecoveryNotes = fmt.Sprintf("paused at %s; can pick up where it left off", proc.CurrentStep)
    return c, true

  case types.ProcessStatusInProgress, types.ProcessStatusResuming, types.ProcessStatusPending:
    if elapsed > s.cfg.HeartbeatTimeout {
      c.AutoResumable = true
      c.RecoveryNotes = fmt.Sprintf("no executor activity for %s; presumed interrupted at %s", roundDuration(elapsed), proc.CurrentStep)
      return c, true
    }
    c.RecoveryNotes = "still running"
    return c, true

  default:
    c.RecoveryNotes = "unknown status"
    return c, true
  }
}

// failedStepRetryable checks the per-step flag the flow policy carries for
// the step the history says failed.
func (s *recoveryService) failedStepRetryable(proc *types.GenerationProcess) bool {
  opts := []flow.Option{flow.WithLogger(s.log)}
  if s.cfg.SkipEditing {
    opts = append(opts, flow.WithSkipEditing())
  }
  policy, err := flow.New(proc.FlowType, opts...)
  if err != nil {
    return false
  }
  step := lastFailedStep(proc.StepHistory)
  if step == "" {
    step = proc.CurrentStep
  }
  return policy.Retryable(step)
}

func lastFailedStep(history []byte) string {
  if len(history) == 0 {
    return ""
  }
  var entries []types.StepHistoryEntry
  if err := json.Unmarshal(history, &entries); err != nil {
    return ""
  }
  for i := len(entries) - 1; i >= 0; i-- {
    if entries[i].Outcome == types.StepOutcomeFailed {
      return entries[i].Step
    }
  }
  return ""
}

func (s *recoveryService) ListRecoverable(ctx context.Context, limit int) ([]RecoverableProcess, error) {
  owner, err := ownerFromContext(ctx)
  if err != nil {
    return nil, err
  }
  procs, err := s.procRepo.ListRecoverableByOwner(ctx, nil, owner, limit)
  if err != nil {
    return nil, err
  }
  now := time.Now()
  out := make([]RecoverableProcess, 0, len(procs))
  for _, proc := range procs {
    classification, ok := s.Classify(proc, now)
    if !ok {
      continue
    }
    out = append(out, RecoverableProcess{Process: proc, Classification: classification})
  }
  return out, nil
}

func displayInputType(inputType string) string {
  switch inputType {
  case "persona_selection":
    return "a persona selection"
  case "theme_selection":
    return "a theme selection"
  case "":
    return "a user decision"
  default:
    return "a " + inputType + " decision"
  }
}

func roundDuration(d time.Duration) time.Duration {
  return d.Round(time.Second)
}

// RecoverySweeper periodically flags orphaned in_progress processes as
// paused so the owner's next visit can offer a one-click resume. Each flip
// goes through the CAS update; another instance (or a live executor) racing
// in simply wins.
type RecoverySweeper struct {
  log      *logger.Logger
  cfg      RecoveryConfig
  interval time.Duration
  procRepo repos.GenerationProcessRepo
  notifier ProcessNotifier
}

func NewRecoverySweeper(log *logger.Logger, cfg RecoveryConfig, interval time.Duration, procRepo repos.GenerationProcessRepo, notifier ProcessNotifier) *RecoverySweeper {
  if notifier == nil {
    notifier = NewNopProcessNotifier()
  }
  if interval <= 0 {
    interval = time.Minute
  }
  return &RecoverySweeper{
    log:      log.With("service", "RecoverySweeper"),
    cfg:      cfg,
    interval: interval,
    procRepo: procRepo,
    notifier: notifier,
  }
}

func (w *RecoverySweeper) Start(ctx context.Context) {
  go func() {
    ticker := time.NewTicker(w.interval)
    defer ticker.Stop()
    for {
      select {
      case <-ctx.Done():
        return
      case <-ticker.C:
        if err := w.sweep(ctx); err != nil {
          w.log.Warn("Recovery sweep failed", "error", err)
        }
      }
    }
  }()
}

func (w *RecoverySweeper) sweep(ctx context.Context) error {
  cutoff := time.Now().Add(-w.cfg.HeartbeatTimeout)
  stale, err := w.procRepo.ListStaleInProgress(ctx, nil, cutoff, 50)
  if err != nil {
    return err
  }
  if len(stale) == 0 {
    return nil
  }

  g, gctx := errgroup.WithContext(ctx)
  g.SetLimit(4)
  for _, proc := range stale {
    proc := proc
    g.Go(func() error {
      w.pauseOrphan(gctx, proc)
      return nil
    })
  }
  return g.Wait()
}

func (w *RecoverySweeper) pauseOrphan(ctx context.Context, proc *types.GenerationProcess) {
  history, err := appendHistory(proc.StepHistory, types.StepHistoryEntry{
    Step:      proc.CurrentStep,
    Outcome:   "paused",
    Note:      "executor heartbeat lost",
    Timestamp: time.Now(),
  })
  if err != nil {
    w.log.Warn("Failed to encode step history for orphan", "process_id", proc.ID, "error", err)
    return
  }
  updated, err := w.procRepo.UpdateChecked(ctx, nil, proc.ID, proc.Owner(), proc.UpdatedAt, map[string]interface{}{
    "status":               types.ProcessStatusPaused,
    "auto_resume_eligible": true,
    "resume_from_step":     proc.CurrentStep,
    "step_history":         history,
  })
  if err != nil {
    // a conflict means the executor came back or another sweeper won
    w.log.Debug("Skipped orphan pause", "process_id", proc.ID, "error", err)
    return
  }
  w.log.Info("Paused orphaned process", "process_id", proc.ID, "step", updated.CurrentStep)
}
