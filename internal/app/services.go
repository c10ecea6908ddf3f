package app

import (
  "gorm.io/gorm"

  "github.com/shintairiku/marketing-automation-sub005/internal/platform/logger"
  "github.com/shintairiku/marketing-automation-sub005/internal/services"
)

type Services struct {
  Auth           services.AuthService
  Entitlement    services.EntitlementService
  Process        services.GenerationProcessService
  Recovery       services.RecoveryService
  MembershipSync services.MembershipSyncService
  BillingSync    services.BillingSyncService
  Notifier       services.ProcessNotifier
  Bus            services.SSEBus
  Sweeper        *services.RecoverySweeper
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, r Repos) Services {
  log.Info("Wiring services...")

  bus, err := services.NewRedisSSEBus(log)
  if err != nil {
    log.Warn("Redis SSE bus unavailable; falling back to in-process fanout", "error", err)
    bus = services.NewLocalSSEBus()
  }
  notifier := services.NewProcessNotifier(log, bus)

  auth := services.NewAuthService(db, log, r.User, r.Membership, cfg.JWTSecretKey)

  entitlement := services.NewEntitlementService(db, log, services.EntitlementConfig{
    GraceWindow:         cfg.GraceWindow,
    DefaultArticleLimit: cfg.DefaultArticleLimit,
    AddonUnitAmount:     cfg.AddonUnitAmount,
  }, r.User, r.Membership, r.Subscription, r.UsageCounter)

  process := services.NewGenerationProcessService(db, log, services.ProcessConfig{
    SkipEditing:      cfg.SkipEditing,
    StalenessCeiling: cfg.StalenessCeiling,
  }, r.Process, entitlement, notifier)

  recoveryCfg := services.RecoveryConfig{
    HeartbeatTimeout: cfg.HeartbeatTimeout,
    StalenessCeiling: cfg.StalenessCeiling,
    SkipEditing:      cfg.SkipEditing,
  }
  recovery := services.NewRecoveryService(db, log, recoveryCfg, r.Process)
  sweeper := services.NewRecoverySweeper(log, recoveryCfg, cfg.SweepInterval, r.Process, notifier)

  membershipSync := services.NewMembershipSyncService(db, log, r.WebhookEvent, r.User, r.Membership)
  billingSync := services.NewBillingSyncService(db, log, r.WebhookEvent, r.User, r.Subscription, entitlement)

  return Services{
    Auth:           auth,
    Entitlement:    entitlement,
    Process:        process,
    Recovery:       recovery,
    MembershipSync: membershipSync,
    BillingSync:    billingSync,
    Notifier:       notifier,
    Bus:            bus,
    Sweeper:        sweeper,
  }
}
