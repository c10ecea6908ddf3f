package handlers

import (
  "crypto/hmac"
  "crypto/sha256"
  "encoding/hex"
  "encoding/json"
  "fmt"
  "io"
  "net/http"

  "github.com/gin-gonic/gin"

  "github.com/shintairiku/marketing-automation-sub005/internal/platform/logger"
  "github.com/shintairiku/marketing-automation-sub005/internal/services"
)

// WebhookHandler terminates the identity and billing webhook endpoints.
// Payloads are HMAC-verified, then handed to the idempotent sync services;
// a replayed delivery returns 200 like the first one did.
type WebhookHandler struct {
  log            *logger.Logger
  membershipSync services.MembershipSyncService
  billingSync    services.BillingSyncService
  identitySecret string
  billingSecret  string
}

func NewWebhookHandler(
  log *logger.Logger,
  membershipSync services.MembershipSyncService,
  billingSync services.BillingSyncService,
  identitySecret string,
  billingSecret string,
) *WebhookHandler {
  return &WebhookHandler{
    log:            log.With("handler", "WebhookHandler"),
    membershipSync: membershipSync,
    billingSync:    billingSync,
    identitySecret: identitySecret,
    billingSecret:  billingSecret,
  }
}

// POST /webhooks/identity
func (h *WebhookHandler) Identity(c *gin.Context) {
  body, ok := h.verifiedBody(c, h.identitySecret)
  if !ok {
    return
  }
  var event services.MembershipEvent
  if err := json.Unmarshal(body, &event); err != nil {
    RespondError(c, http.StatusBadRequest, "invalid_body", err)
    return
  }
  if err := h.membershipSync.HandleEvent(c.Request.Context(), event); err != nil {
    h.log.Error("Membership event failed", "event_id", event.EventID, "type", event.Type, "error", err)
    RespondServiceError(c, err)
    return
  }
  RespondOK(c, gin.H{"ok": true})
}

// POST /webhooks/billing
func (h *WebhookHandler) Billing(c *gin.Context) {
  body, ok := h.verifiedBody(c, h.billingSecret)
  if !ok {
    return
  }
  var event services.BillingEvent
  if err := json.Unmarshal(body, &event); err != nil {
    RespondError(c, http.StatusBadRequest, "invalid_body", err)
    return
  }
  if err := h.billingSync.HandleEvent(c.Request.Context(), event); err != nil {
    h.log.Error("Billing event failed", "event_id", event.EventID, "type", event.Type, "error", err)
    RespondServiceError(c, err)
    return
  }
  RespondOK(c, gin.H{"ok": true})
}

func (h *WebhookHandler) verifiedBody(c *gin.Context, secret string) ([]byte, bool) {
  body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
  if err != nil {
    RespondError(c, http.StatusBadRequest, "invalid_body", err)
    return nil, false
  }
  if secret == "" {
    // unsigned mode for local development only
    return body, true
  }
  sig := c.GetHeader("X-Webhook-Signature")
  if !validSignature(secret, body, sig) {
    RespondError(c, http.StatusUnauthorized, "invalid_signature", fmt.Errorf("webhook signature mismatch"))
    return nil, false
  }
  return body, true
}

func validSignature(secret string, body []byte, provided string) bool {
  if provided == "" {
    return false
  }
  mac := hmac.New(sha256.New, []byte(secret))
  _, _ = mac.Write(body)
  expected := hex.EncodeToString(mac.Sum(nil))
  return hmac.Equal([]byte(expected), []byte(provided))
}
