package services

import (
  "context"
  "errors"
  "testing"
  "time"

  "github.com/golang-jwt/jwt/v5"
  "github.com/google/uuid"

  pkgerrors "github.com/shintairiku/marketing-automation-sub005/internal/pkg/errors"
  "github.com/shintairiku/marketing-automation-sub005/internal/requestdata"
  "github.com/shintairiku/marketing-automation-sub005/internal/types"
)

const testJWTSecret = "test-secret"

func mintToken(t *testing.T, secret, subject, email, orgID string) string {
  t.Helper()
  claims := tokenClaims{
    Email:          email,
    OrganizationID: orgID,
    RegisteredClaims: jwt.RegisteredClaims{
      Subject:   subject,
      ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
      IssuedAt:  jwt.NewNumericDate(time.Now()),
    },
  }
  token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
  signed, err := token.SignedString([]byte(secret))
  if err != nil {
    t.Fatalf("sign token: %v", err)
  }
  return signed
}

func TestSetContextFromTokenProvisionsUserLazily(t *testing.T) {
  users := newFakeUserRepo()
  svc := NewAuthService(nil, testLogger(t), users, newFakeMembershipRepo(), testJWTSecret)

  token := mintToken(t, testJWTSecret, "idp|newcomer", "new@example.com", "")
  ctx, err := svc.SetContextFromToken(context.Background(), token)
  if err != nil {
    t.Fatalf("SetContextFromToken: %v", err)
  }
  rd := requestdata.GetRequestData(ctx)
  if rd == nil || rd.UserID == uuid.Nil {
    t.Fatalf("request data not populated: %+v", rd)
  }
  user, err := users.GetByExternalID(context.Background(), nil, "idp|newcomer")
  if err != nil {
    t.Fatalf("user not provisioned: %v", err)
  }
  if user.ID != rd.UserID {
    t.Fatalf("request data user mismatch")
  }
  if user.Email != "new@example.com" {
    t.Fatalf("email not captured: %q", user.Email)
  }
}

func TestSetContextFromTokenCarriesPrivilegedFlag(t *testing.T) {
  users := newFakeUserRepo()
  id := uuid.New()
  users.users[id] = &types.User{ID: id, ExternalID: "idp|admin", Privileged: true}

  svc := NewAuthService(nil, testLogger(t), users, newFakeMembershipRepo(), testJWTSecret)
  token := mintToken(t, testJWTSecret, "idp|admin", "", "")
  ctx, err := svc.SetContextFromToken(context.Background(), token)
  if err != nil {
    t.Fatalf("SetContextFromToken: %v", err)
  }
  rd := requestdata.GetRequestData(ctx)
  if rd == nil || !rd.Privileged {
    t.Fatalf("privileged flag lost: %+v", rd)
  }
}

func TestSetContextFromTokenHonorsOrgClaimOnlyForMembers(t *testing.T) {
  users := newFakeUserRepo()
  memberships := newFakeMembershipRepo()
  svc := NewAuthService(nil, testLogger(t), users, memberships, testJWTSecret)
  orgID := uuid.New()

  // not a member yet
  token := mintToken(t, testJWTSecret, "idp|grace", "", orgID.String())
  if _, err := svc.SetContextFromToken(context.Background(), token); !errors.Is(err, pkgerrors.ErrUnauthorized) {
    t.Fatalf("non-member org claim: want ErrUnauthorized, got %v", err)
  }

  user, err := users.GetByExternalID(context.Background(), nil, "idp|grace")
  if err != nil {
    t.Fatalf("user: %v", err)
  }
  memberships.members[membershipKey{user.ID, orgID}] = "member"

  ctx, err := svc.SetContextFromToken(context.Background(), token)
  if err != nil {
    t.Fatalf("member org claim: %v", err)
  }
  rd := requestdata.GetRequestData(ctx)
  if rd.OrganizationID != orgID {
    t.Fatalf("organization not set: %+v", rd)
  }
}

func TestSetContextFromTokenRejectsBadTokens(t *testing.T) {
  svc := NewAuthService(nil, testLogger(t), newFakeUserRepo(), newFakeMembershipRepo(), testJWTSecret)

  if _, err := svc.SetContextFromToken(context.Background(), ""); !errors.Is(err, pkgerrors.ErrUnauthorized) {
    t.Fatalf("empty token: want ErrUnauthorized, got %v", err)
  }
  if _, err := svc.SetContextFromToken(context.Background(), "not.a.jwt"); !errors.Is(err, pkgerrors.ErrUnauthorized) {
    t.Fatalf("garbage token: want ErrUnauthorized, got %v", err)
  }
  wrongKey := mintToken(t, "other-secret", "idp|mallory", "", "")
  if _, err := svc.SetContextFromToken(context.Background(), wrongKey); !errors.Is(err, pkgerrors.ErrUnauthorized) {
    t.Fatalf("wrong key: want ErrUnauthorized, got %v", err)
  }
  noSubject := mintToken(t, testJWTSecret, "", "", "")
  if _, err := svc.SetContextFromToken(context.Background(), noSubject); !errors.Is(err, pkgerrors.ErrUnauthorized) {
    t.Fatalf("missing subject: want ErrUnauthorized, got %v", err)
  }
}
