package handlers

import (
  "net/http"
  "strconv"

  "github.com/gin-gonic/gin"
  "github.com/google/uuid"

  "github.com/shintairiku/marketing-automation-sub005/internal/services"
)

type ProcessHandler struct {
  svc services.GenerationProcessService
}

func NewProcessHandler(svc services.GenerationProcessService) *ProcessHandler {
  return &ProcessHandler{svc: svc}
}

type createProcessRequest struct {
  FlowType       string         `json:"flow_type" binding:"required"`
  InitialContext map[string]any `json:"initial_context"`
}

// POST /api/processes
func (h *ProcessHandler) Create(c *gin.Context) {
  var req createProcessRequest
  if err := c.ShouldBindJSON(&req); err != nil {
    RespondError(c, http.StatusBadRequest, "invalid_body", err)
    return
  }
  proc, err := h.svc.CreateProcess(c.Request.Context(), req.FlowType, req.InitialContext)
  if err != nil {
    RespondServiceError(c, err)
    return
  }
  c.JSON(http.StatusCreated, gin.H{"process": proc})
}

// POST /api/processes/:id/start
func (h *ProcessHandler) Start(c *gin.Context) {
  id, ok := parseProcessID(c)
  if !ok {
    return
  }
  proc, err := h.svc.Start(c.Request.Context(), id)
  if err != nil {
    RespondServiceError(c, err)
    return
  }
  RespondOK(c, gin.H{"process": proc})
}

// POST /api/processes/:id/advance is the step executor callback.
func (h *ProcessHandler) Advance(c *gin.Context) {
  id, ok := parseProcessID(c)
  if !ok {
    return
  }
  var outcome services.StepOutcome
  if err := c.ShouldBindJSON(&outcome); err != nil {
    RespondError(c, http.StatusBadRequest, "invalid_body", err)
    return
  }
  proc, err := h.svc.Advance(c.Request.Context(), id, outcome)
  if err != nil {
    RespondServiceError(c, err)
    return
  }
  RespondOK(c, gin.H{"process": proc})
}

type supplyInputRequest struct {
  Payload map[string]any `json:"payload" binding:"required"`
}

// POST /api/processes/:id/input
func (h *ProcessHandler) SupplyInput(c *gin.Context) {
  id, ok := parseProcessID(c)
  if !ok {
    return
  }
  var req supplyInputRequest
  if err := c.ShouldBindJSON(&req); err != nil {
    RespondError(c, http.StatusBadRequest, "invalid_body", err)
    return
  }
  proc, err := h.svc.SupplyInput(c.Request.Context(), id, req.Payload)
  if err != nil {
    RespondServiceError(c, err)
    return
  }
  RespondOK(c, gin.H{"process": proc})
}

// POST /api/processes/:id/cancel
func (h *ProcessHandler) Cancel(c *gin.Context) {
  id, ok := parseProcessID(c)
  if !ok {
    return
  }
  proc, err := h.svc.Cancel(c.Request.Context(), id)
  if err != nil {
    RespondServiceError(c, err)
    return
  }
  RespondOK(c, gin.H{"process": proc})
}

type resumeRequest struct {
  FromStep string `json:"from_step"`
}

// POST /api/processes/:id/resume
func (h *ProcessHandler) Resume(c *gin.Context) {
  id, ok := parseProcessID(c)
  if !ok {
    return
  }
  var req resumeRequest
  _ = c.ShouldBindJSON(&req)
  proc, err := h.svc.Resume(c.Request.Context(), id, req.FromStep)
  if err != nil {
    RespondServiceError(c, err)
    return
  }
  RespondOK(c, gin.H{"process": proc})
}

// POST /api/processes/:id/heartbeat
func (h *ProcessHandler) Heartbeat(c *gin.Context) {
  id, ok := parseProcessID(c)
  if !ok {
    return
  }
  if err := h.svc.Heartbeat(c.Request.Context(), id); err != nil {
    RespondServiceError(c, err)
    return
  }
  RespondOK(c, gin.H{"ok": true})
}

// GET /api/processes/:id
func (h *ProcessHandler) Get(c *gin.Context) {
  id, ok := parseProcessID(c)
  if !ok {
    return
  }
  proc, err := h.svc.Get(c.Request.Context(), id)
  if err != nil {
    RespondServiceError(c, err)
    return
  }
  RespondOK(c, gin.H{"process": proc})
}

// GET /api/processes?status=&limit=&offset=
func (h *ProcessHandler) List(c *gin.Context) {
  limit := intQuery(c, "limit", 20)
  offset := intQuery(c, "offset", 0)
  procs, err := h.svc.List(c.Request.Context(), c.Query("status"), limit, offset)
  if err != nil {
    RespondServiceError(c, err)
    return
  }
  RespondOK(c, gin.H{"processes": procs})
}

// DELETE /api/processes/:id
func (h *ProcessHandler) Delete(c *gin.Context) {
  id, ok := parseProcessID(c)
  if !ok {
    return
  }
  if err := h.svc.Delete(c.Request.Context(), id); err != nil {
    RespondServiceError(c, err)
    return
  }
  RespondOK(c, gin.H{"ok": true})
}

func parseProcessID(c *gin.Context) (uuid.UUID, bool) {
  id, err := uuid.Parse(c.Param("id"))
  if err != nil {
    RespondError(c, http.StatusBadRequest, "invalid_id", err)
    return uuid.Nil, false
  }
  return id, true
}

func intQuery(c *gin.Context, key string, defaultVal int) int {
  raw := c.Query(key)
  if raw == "" {
    return defaultVal
  }
  val, err := strconv.Atoi(raw)
  if err != nil {
    return defaultVal
  }
  return val
}
