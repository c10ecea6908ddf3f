package app

import (
  "gorm.io/gorm"

  "github.com/shintairiku/marketing-automation-sub005/internal/handlers"
  "github.com/shintairiku/marketing-automation-sub005/internal/platform/logger"
  "github.com/shintairiku/marketing-automation-sub005/internal/sse"
)

type Handlers struct {
  Health   *handlers.HealthHandler
  Process  *handlers.ProcessHandler
  Recovery *handlers.RecoveryHandler
  SSE      *handlers.SSEHandler
  Webhook  *handlers.WebhookHandler
}

func wireHandlers(db *gorm.DB, log *logger.Logger, cfg Config, services Services, sseHub *sse.SSEHub) Handlers {
  log.Info("Wiring handlers...")
  return Handlers{
    Health:   handlers.NewHealthHandler(db),
    Process:  handlers.NewProcessHandler(services.Process),
    Recovery: handlers.NewRecoveryHandler(services.Recovery),
    SSE:      handlers.NewSSEHandler(log, sseHub, services.Process),
    Webhook: handlers.NewWebhookHandler(
      log,
      services.MembershipSync,
      services.BillingSync,
      cfg.IdentityWebhookSecret,
      cfg.BillingWebhookSecret,
    ),
  }
}
