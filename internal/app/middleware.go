package app

import (
  "github.com/shintairiku/marketing-automation-sub005/internal/middleware"
  "github.com/shintairiku/marketing-automation-sub005/internal/platform/logger"
)

type Middleware struct {
  Auth *middleware.AuthMiddleware
}

func wireMiddleware(log *logger.Logger, services Services) Middleware {
  log.Info("Wiring middleware...")
  return Middleware{
    Auth: middleware.NewAuthMiddleware(log, services.Auth),
  }
}
