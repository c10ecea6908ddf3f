package server

import (
  "strings"

  "github.com/gin-contrib/cors"
  "github.com/gin-gonic/gin"
  "go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

  "github.com/shintairiku/marketing-automation-sub005/internal/handlers"
  "github.com/shintairiku/marketing-automation-sub005/internal/middleware"
)

type RouterConfig struct {
  ServiceName     string
  AllowedOrigins  []string
  AuthMiddleware  *middleware.AuthMiddleware
  HealthHandler   *handlers.HealthHandler
  ProcessHandler  *handlers.ProcessHandler
  RecoveryHandler *handlers.RecoveryHandler
  SSEHandler      *handlers.SSEHandler
  WebhookHandler  *handlers.WebhookHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
  router := gin.Default()

  serviceName := strings.TrimSpace(cfg.ServiceName)
  if serviceName == "" {
    serviceName = "generation-tracker"
  }
  router.Use(otelgin.Middleware(serviceName))

  origins := cfg.AllowedOrigins
  if len(origins) == 0 {
    origins = []string{"http://localhost:3000"}
  }
  router.Use(cors.New(cors.Config{
    AllowOrigins:     origins,
    AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
    AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
    AllowCredentials: true,
  }))

// ===============
// || Public    ||
// ===============
  router.GET("/healthz", cfg.HealthHandler.Healthz)
  webhooks := router.Group("/webhooks")
  {
    webhooks.POST("/identity", cfg.WebhookHandler.Identity)
    webhooks.POST("/billing", cfg.WebhookHandler.Billing)
  }

// ===============
// || Protected ||
// ===============
  api := router.Group("/api")
  api.Use(cfg.AuthMiddleware.RequireAuth())
  // SSE
  api.GET("/events", cfg.SSEHandler.Stream)
  // Processes
  api.GET("/processes/recoverable", cfg.RecoveryHandler.ListRecoverable)
  api.POST("/processes", cfg.ProcessHandler.Create)
  api.GET("/processes", cfg.ProcessHandler.List)
  api.GET("/processes/:id", cfg.ProcessHandler.Get)
  api.DELETE("/processes/:id", cfg.ProcessHandler.Delete)
  api.POST("/processes/:id/start", cfg.ProcessHandler.Start)
  api.POST("/processes/:id/advance", cfg.ProcessHandler.Advance)
  api.POST("/processes/:id/input", cfg.ProcessHandler.SupplyInput)
  api.POST("/processes/:id/cancel", cfg.ProcessHandler.Cancel)
  api.POST("/processes/:id/resume", cfg.ProcessHandler.Resume)
  api.POST("/processes/:id/heartbeat", cfg.ProcessHandler.Heartbeat)

  return router
}
