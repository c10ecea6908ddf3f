package handlers

import (
  "net/http"

  "github.com/gin-gonic/gin"
  "gorm.io/gorm"
)

type HealthHandler struct {
  db *gorm.DB
}

func NewHealthHandler(db *gorm.DB) *HealthHandler {
  return &HealthHandler{db: db}
}

// GET /healthz
func (h *HealthHandler) Healthz(c *gin.Context) {
  sqlDB, err := h.db.DB()
  if err != nil {
    c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down", "error": "db handle unavailable"})
    return
  }
  if err := sqlDB.PingContext(c.Request.Context()); err != nil {
    c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down", "error": "db ping failed"})
    return
  }
  c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
