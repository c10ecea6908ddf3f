package app

import (
  "github.com/gin-gonic/gin"

  "github.com/shintairiku/marketing-automation-sub005/internal/server"
)

func wireRouter(cfg Config, handlers Handlers, middleware Middleware) *gin.Engine {
  return server.NewRouter(server.RouterConfig{
    ServiceName:     cfg.ServiceName,
    AllowedOrigins:  cfg.AllowedOrigins,
    AuthMiddleware:  middleware.Auth,
    HealthHandler:   handlers.Health,
    ProcessHandler:  handlers.Process,
    RecoveryHandler: handlers.Recovery,
    SSEHandler:      handlers.SSE,
    WebhookHandler:  handlers.Webhook,
  })
}
