package app

import (
  "gorm.io/gorm"

  "github.com/shintairiku/marketing-automation-sub005/internal/platform/logger"
  "github.com/shintairiku/marketing-automation-sub005/internal/repos"
)

type Repos struct {
  User         repos.UserRepo
  Membership   repos.OrganizationMembershipRepo
  Subscription repos.SubscriptionRepo
  UsageCounter repos.UsageCounterRepo
  Process      repos.GenerationProcessRepo
  WebhookEvent repos.WebhookEventRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
  log.Info("Wiring repos...")
  return Repos{
    User:         repos.NewUserRepo(db, log),
    Membership:   repos.NewOrganizationMembershipRepo(db, log),
    Subscription: repos.NewSubscriptionRepo(db, log),
    UsageCounter: repos.NewUsageCounterRepo(db, log),
    Process:      repos.NewGenerationProcessRepo(db, log),
    WebhookEvent: repos.NewWebhookEventRepo(db, log),
  }
}
