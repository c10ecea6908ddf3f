package app

import (
  "context"
  "fmt"
  "os"
  "time"

  "github.com/gin-gonic/gin"
  "gorm.io/gorm"

  "github.com/shintairiku/marketing-automation-sub005/internal/db"
  "github.com/shintairiku/marketing-automation-sub005/internal/observability"
  "github.com/shintairiku/marketing-automation-sub005/internal/platform/logger"
  "github.com/shintairiku/marketing-automation-sub005/internal/sse"
)

type App struct {
  Log      *logger.Logger
  DB       *gorm.DB
  Router   *gin.Engine
  Cfg      Config
  Repos    Repos
  Services Services
  SSEHub   *sse.SSEHub

  cancel       context.CancelFunc
  otelShutdown func(context.Context) error
}

func New() (*App, error) {
  logMode := os.Getenv("LOG_MODE")
  if logMode == "" {
    logMode = "development"
  }
  log, err := logger.New(logMode)
  if err != nil {
    return nil, fmt.Errorf("init logger: %w", err)
  }

  log.Info("Loading environment variables...")
  cfg := LoadConfig(log)

  otelShutdown := observability.InitOTel(context.Background(), log, observability.OtelConfig{
    ServiceName: cfg.ServiceName,
    Environment: cfg.Environment,
    Version:     cfg.Version,
  })

  pg, err := db.NewPostgresService(log)
  if err != nil {
    log.Sync()
    return nil, fmt.Errorf("init postgres: %w", err)
  }
  if err := pg.AutoMigrateAll(); err != nil {
    log.Sync()
    return nil, fmt.Errorf("postgres automigrate: %w", err)
  }
  theDB := pg.DB()

  sseHub := sse.NewSSEHub(log)

  reposet := wireRepos(theDB, log)
  serviceset := wireServices(theDB, log, cfg, reposet)
  handlerset := wireHandlers(theDB, log, cfg, serviceset, sseHub)
  middlewareset := wireMiddleware(log, serviceset)
  router := wireRouter(cfg, handlerset, middlewareset)

  return &App{
    Log:          log,
    DB:           theDB,
    Router:       router,
    Cfg:          cfg,
    Repos:        reposet,
    Services:     serviceset,
    SSEHub:       sseHub,
    otelShutdown: otelShutdown,
  }, nil
}

// Start launches the background loops: the recovery sweeper that pauses
// orphaned runs, and the bus forwarder feeding the SSE hub.
func (a *App) Start() {
  if a == nil || a.cancel != nil {
    return
  }
  ctx, cancel := context.WithCancel(context.Background())
  a.cancel = cancel

  if a.Services.Sweeper != nil {
    a.Services.Sweeper.Start(ctx)
  }
  if a.Services.Bus != nil {
    if err := a.Services.Bus.StartForwarder(ctx, a.SSEHub.Broadcast); err != nil {
      a.Log.Warn("SSE bus forwarder failed to start", "error", err)
    }
  }
}

func (a *App) Run(addr string) error {
  if a == nil || a.Router == nil {
    return fmt.Errorf("app not initialized")
  }
  return a.Router.Run(addr)
}

func (a *App) Close() {
  if a == nil {
    return
  }
  if a.cancel != nil {
    a.cancel()
    a.cancel = nil
  }
  if a.Services.Bus != nil {
    if err := a.Services.Bus.Close(); err != nil {
      a.Log.Warn("SSE bus close failed", "error", err)
    }
  }
  if a.otelShutdown != nil {
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    _ = a.otelShutdown(ctx)
    cancel()
  }
  if a.Log != nil {
    a.Log.Sync()
  }
}
