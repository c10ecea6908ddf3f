package handlers

import (
  "github.com/gin-gonic/gin"

  "github.com/shintairiku/marketing-automation-sub005/internal/services"
)

type RecoveryHandler struct {
  svc services.RecoveryService
}

func NewRecoveryHandler(svc services.RecoveryService) *RecoveryHandler {
  return &RecoveryHandler{svc: svc}
}

// GET /api/processes/recoverable?limit=
// Candidates come back most recently touched first, each annotated so the
// client can auto-resume silently or prompt.
func (h *RecoveryHandler) ListRecoverable(c *gin.Context) {
  limit := intQuery(c, "limit", 10)
  candidates, err := h.svc.ListRecoverable(c.Request.Context(), limit)
  if err != nil {
    RespondServiceError(c, err)
    return
  }
  RespondOK(c, gin.H{"recoverable": candidates})
}
