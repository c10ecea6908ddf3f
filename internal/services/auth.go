package services

import (
  "context"
  "fmt"
  "strings"

  "github.com/golang-jwt/jwt/v5"
  "github.com/google/uuid"
  "gorm.io/gorm"

  pkgerrors "github.com/shintairiku/marketing-automation-sub005/internal/pkg/errors"
  "github.com/shintairiku/marketing-automation-sub005/internal/platform/logger"
  "github.com/shintairiku/marketing-automation-sub005/internal/repos"
  "github.com/shintairiku/marketing-automation-sub005/internal/requestdata"
  "github.com/shintairiku/marketing-automation-sub005/internal/types"
)

// AuthService verifies identity-provider tokens and resolves them into a
// tenant context. Accounts are provisioned lazily on first sight; the
// membership table (webhook-synced) decides whether an organization claim is
// honored.
type AuthService interface {
  SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error)
}

type authService struct {
  db             *gorm.DB
  log            *logger.Logger
  userRepo       repos.UserRepo
  membershipRepo repos.OrganizationMembershipRepo
  jwtSecretKey   string
}

func NewAuthService(
  db *gorm.DB,
  log *logger.Logger,
  userRepo repos.UserRepo,
  membershipRepo repos.OrganizationMembershipRepo,
  jwtSecretKey string,
) AuthService {
  return &authService{
    db:             db,
    log:            log.With("service", "AuthService"),
    userRepo:       userRepo,
    membershipRepo: membershipRepo,
    jwtSecretKey:   jwtSecretKey,
  }
}

type tokenClaims struct {
  Email          string `json:"email,omitempty"`
  OrganizationID string `json:"org_id,omitempty"`
  jwt.RegisteredClaims
}

func (as *authService) SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error) {
  tokenString = strings.TrimSpace(tokenString)
  if tokenString == "" {
    return ctx, pkgerrors.ErrUnauthorized
  }

  claims := &tokenClaims{}
  token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
    if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
      return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
    }
    return []byte(as.jwtSecretKey), nil
  })
  if err != nil || !token.Valid {
    return ctx, pkgerrors.ErrUnauthorized
  }
  externalID := strings.TrimSpace(claims.Subject)
  if externalID == "" {
    return ctx, pkgerrors.ErrUnauthorized
  }

  user, err := as.userRepo.GetByExternalID(ctx, nil, externalID)
  if err == pkgerrors.ErrNotFound {
    user, err = as.userRepo.Upsert(ctx, nil, &types.User{
      ExternalID: externalID,
      Email:      claims.Email,
    })
  }
  if err != nil {
    return ctx, fmt.Errorf("resolve user: %w", err)
  }

  rd := &requestdata.RequestData{
    TokenString: tokenString,
    UserID:      user.ID,
    Privileged:  user.Privileged,
  }

  if orgStr := strings.TrimSpace(claims.OrganizationID); orgStr != "" {
    orgID, pErr := uuid.Parse(orgStr)
    if pErr != nil {
      return ctx, pkgerrors.ErrUnauthorized
    }
    member, mErr := as.membershipRepo.IsMember(ctx, nil, user.ID, orgID)
    if mErr != nil {
      return ctx, fmt.Errorf("check membership: %w", mErr)
    }
    if !member {
      as.log.Warn("Token carries an organization the user does not belong to", "user_id", user.ID, "org_id", orgID)
      return ctx, pkgerrors.ErrUnauthorized
    }
    rd.OrganizationID = orgID
  }

  return requestdata.WithRequestData(ctx, rd), nil
}
