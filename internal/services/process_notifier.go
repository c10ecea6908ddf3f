package services

import (
  "context"

  "github.com/google/uuid"

  "github.com/shintairiku/marketing-automation-sub005/internal/platform/logger"
  "github.com/shintairiku/marketing-automation-sub005/internal/sse"
  "github.com/shintairiku/marketing-automation-sub005/internal/types"
)

// ProcessNotifier publishes process lifecycle events so a browser tab that
// dropped off can re-attach and see where the job got to. Delivery is best
// effort; the durable row is always authoritative.
type ProcessNotifier interface {
  ProcessEvent(ctx context.Context, event sse.SSEEvent, proc *types.GenerationProcess)
}

type processNotifier struct {
  log *logger.Logger
  bus SSEBus
}

func NewProcessNotifier(log *logger.Logger, bus SSEBus) ProcessNotifier {
  return &processNotifier{
    log: log.With("service", "ProcessNotifier"),
    bus: bus,
  }
}

func (n *processNotifier) ProcessEvent(ctx context.Context, event sse.SSEEvent, proc *types.GenerationProcess) {
  if n == nil || n.bus == nil || proc == nil {
    return
  }
  payload := map[string]any{
    "process_id":          proc.ID,
    "status":              proc.Status,
    "current_step":        proc.CurrentStep,
    "progress_percentage": proc.ProgressPercentage,
    "is_waiting_for_input": proc.IsWaitingForInput,
    "input_type":          proc.InputType,
    "error_message":       proc.ErrorMessage,
  }
  channels := []string{sse.ProcessChannel(proc.ID)}
  owner := proc.Owner()
  if owner.IsOrganization() {
    channels = append(channels, sse.TenantChannel("org:"+owner.OrganizationID.String()))
  } else if owner.UserID != uuid.Nil {
    channels = append(channels, sse.TenantChannel("user:"+owner.UserID.String()))
  }
  for _, ch := range channels {
    msg := sse.SSEMessage{Channel: ch, Event: event, Data: payload}
    if err := n.bus.Publish(ctx, msg); err != nil {
      n.log.Warn("Failed to publish process event", "event", event, "channel", ch, "error", err)
    }
  }
}

// nopProcessNotifier is used in tests and when no bus is wired.
type nopProcessNotifier struct{}

func NewNopProcessNotifier() ProcessNotifier { return nopProcessNotifier{} }

func (nopProcessNotifier) ProcessEvent(ctx context.Context, event sse.SSEEvent, proc *types.GenerationProcess) {
}
