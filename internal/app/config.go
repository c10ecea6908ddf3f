package app

import (
  "strings"
  "time"

  "github.com/shintairiku/marketing-automation-sub005/internal/platform/logger"
  "github.com/shintairiku/marketing-automation-sub005/internal/utils"
)

type Config struct {
  ServiceName    string
  Environment    string
  Version        string
  AllowedOrigins []string

  JWTSecretKey          string
  IdentityWebhookSecret string
  BillingWebhookSecret  string

  // Entitlement
  GraceWindow         time.Duration
  DefaultArticleLimit int
  AddonUnitAmount     int

  // Process lifecycle
  SkipEditing      bool
  HeartbeatTimeout time.Duration
  StalenessCeiling time.Duration
  SweepInterval    time.Duration
}

func LoadConfig(log *logger.Logger) Config {
  originsRaw := utils.GetEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000", log)
  origins := []string{}
  for _, o := range strings.Split(originsRaw, ",") {
    if o = strings.TrimSpace(o); o != "" {
      origins = append(origins, o)
    }
  }

  return Config{
    ServiceName:    utils.GetEnv("SERVICE_NAME", "generation-tracker", log),
    Environment:    utils.GetEnv("APP_ENV", "development", log),
    Version:        utils.GetEnv("APP_VERSION", "dev", log),
    AllowedOrigins: origins,

    JWTSecretKey:          utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log),
    IdentityWebhookSecret: utils.GetEnv("IDENTITY_WEBHOOK_SECRET", "", log),
    BillingWebhookSecret:  utils.GetEnv("BILLING_WEBHOOK_SECRET", "", log),

    GraceWindow:         utils.GetEnvAsDuration("ENTITLEMENT_GRACE_WINDOW", 72*time.Hour, log),
    DefaultArticleLimit: utils.GetEnvAsInt("DEFAULT_ARTICLE_LIMIT", 10, log),
    AddonUnitAmount:     utils.GetEnvAsInt("ADDON_UNIT_AMOUNT", 5, log),

    SkipEditing:      strings.EqualFold(utils.GetEnv("FLOW_SKIP_EDITING", "false", log), "true"),
    HeartbeatTimeout: utils.GetEnvAsDuration("PROCESS_HEARTBEAT_TIMEOUT", 5*time.Minute, log),
    StalenessCeiling: utils.GetEnvAsDuration("PROCESS_STALENESS_CEILING", 72*time.Hour, log),
    SweepInterval:    utils.GetEnvAsDuration("RECOVERY_SWEEP_INTERVAL", time.Minute, log),
  }
}
