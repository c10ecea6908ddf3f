package handlers

import (
  "net/http"

  "github.com/gin-gonic/gin"
  "github.com/google/uuid"

  pkgerrors "github.com/shintairiku/marketing-automation-sub005/internal/pkg/errors"
  "github.com/shintairiku/marketing-automation-sub005/internal/platform/logger"
  "github.com/shintairiku/marketing-automation-sub005/internal/requestdata"
  "github.com/shintairiku/marketing-automation-sub005/internal/services"
  "github.com/shintairiku/marketing-automation-sub005/internal/sse"
)

// SSEHandler attaches a browser tab to the live process event stream. The
// client always joins its tenant channel; passing ?process_id= additionally
// joins that process's channel after an ownership check.
type SSEHandler struct {
  log     *logger.Logger
  hub     *sse.SSEHub
  procSvc services.GenerationProcessService
}

func NewSSEHandler(log *logger.Logger, hub *sse.SSEHub, procSvc services.GenerationProcessService) *SSEHandler {
  return &SSEHandler{
    log:     log.With("handler", "SSEHandler"),
    hub:     hub,
    procSvc: procSvc,
  }
}

// GET /api/events
func (h *SSEHandler) Stream(c *gin.Context) {
  rd := requestdata.GetRequestData(c.Request.Context())
  if rd == nil {
    RespondServiceError(c, pkgerrors.ErrUnauthorized)
    return
  }

  client := h.hub.NewSSEClient(rd.UserID)
  defer h.hub.CloseClient(client)

  tenantKey := "user:" + rd.UserID.String()
  if rd.OrganizationID != uuid.Nil {
    tenantKey = "org:" + rd.OrganizationID.String()
  }
  h.hub.AddChannel(client, sse.TenantChannel(tenantKey))

  if raw := c.Query("process_id"); raw != "" {
    processID, err := uuid.Parse(raw)
    if err != nil {
      RespondError(c, http.StatusBadRequest, "invalid_process_id", err)
      return
    }
    // ownership check; Get is owner scoped
    if _, err := h.procSvc.Get(c.Request.Context(), processID); err != nil {
      RespondServiceError(c, err)
      return
    }
    h.hub.AddChannel(client, sse.ProcessChannel(processID))
  }

  h.log.Debug("SSE stream attached", "clientID", client.ID, "tenant", tenantKey)
  h.hub.ServeHTTP(c.Writer, c.Request, client)
}
