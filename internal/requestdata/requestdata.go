package requestdata

import (
  "context"

  "github.com/google/uuid"
)

type contextKey struct{}

var requestDataKey = contextKey{}

func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
  return context.WithValue(ctx, requestDataKey, rd)
}

func GetRequestData(ctx context.Context) *RequestData {
  val := ctx.Value(requestDataKey)
  if rd, ok := val.(*RequestData); ok {
    return rd
  }
  return nil
}

// RequestData is the authenticated identity for one request. OrganizationID is
// set only when the token was minted with an active organization selected.
type RequestData struct {
  TokenString    string
  UserID         uuid.UUID
  OrganizationID uuid.UUID
  Privileged     bool
}
