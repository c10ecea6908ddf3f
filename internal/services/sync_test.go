package services

import (
  "context"
  "errors"
  "testing"
  "time"

  "github.com/google/uuid"
  "gorm.io/gorm"

  pkgerrors "github.com/shintairiku/marketing-automation-sub005/internal/pkg/errors"
  "github.com/shintairiku/marketing-automation-sub005/internal/types"
)

type fakeWebhookEventRepo struct {
  seen map[string]bool
}

func newFakeWebhookEventRepo() *fakeWebhookEventRepo {
  return &fakeWebhookEventRepo{seen: make(map[string]bool)}
}

func (r *fakeWebhookEventRepo) MarkProcessed(ctx context.Context, tx *gorm.DB, eventID, source, eventType string) (bool, error) {
  if r.seen[eventID] {
    return true, nil
  }
  r.seen[eventID] = true
  return false, nil
}

func TestMembershipEventCreatesUserAndMembership(t *testing.T) {
  events := newFakeWebhookEventRepo()
  users := newFakeUserRepo()
  memberships := newFakeMembershipRepo()
  svc := NewMembershipSyncService(nil, testLogger(t), events, users, memberships)

  orgID := uuid.New()
  err := svc.HandleEvent(context.Background(), MembershipEvent{
    EventID:        "evt-1",
    Type:           MembershipEventMembershipCreated,
    UserExternalID: "idp|alice",
    Email:          "alice@example.com",
    OrganizationID: orgID.String(),
    Role:           "admin",
  })
  if err != nil {
    t.Fatalf("HandleEvent: %v", err)
  }

  user, err := users.GetByExternalID(context.Background(), nil, "idp|alice")
  if err != nil {
    t.Fatalf("user not created: %v", err)
  }
  isMember, err := memberships.IsMember(context.Background(), nil, user.ID, orgID)
  if err != nil || !isMember {
    t.Fatalf("membership not created: member=%v err=%v", isMember, err)
  }
}

func TestMembershipEventReplayIsNoOp(t *testing.T) {
  events := newFakeWebhookEventRepo()
  users := newFakeUserRepo()
  memberships := newFakeMembershipRepo()
  svc := NewMembershipSyncService(nil, testLogger(t), events, users, memberships)

  orgID := uuid.New()
  event := MembershipEvent{
    EventID:        "evt-dup",
    Type:           MembershipEventMembershipCreated,
    UserExternalID: "idp|bob",
    OrganizationID: orgID.String(),
  }
  if err := svc.HandleEvent(context.Background(), event); err != nil {
    t.Fatalf("first delivery: %v", err)
  }
  user, err := users.GetByExternalID(context.Background(), nil, "idp|bob")
  if err != nil {
    t.Fatalf("user not created: %v", err)
  }

  // the membership is removed out of band; the replay must not recreate it
  if err := memberships.Remove(context.Background(), nil, user.ID, orgID); err != nil {
    t.Fatalf("remove: %v", err)
  }
  if err := svc.HandleEvent(context.Background(), event); err != nil {
    t.Fatalf("replay: %v", err)
  }
  isMember, _ := memberships.IsMember(context.Background(), nil, user.ID, orgID)
  if isMember {
    t.Fatalf("replayed event must not be re-applied")
  }
}

func TestMembershipEventDeletedRemovesMembership(t *testing.T) {
  events := newFakeWebhookEventRepo()
  users := newFakeUserRepo()
  memberships := newFakeMembershipRepo()
  svc := NewMembershipSyncService(nil, testLogger(t), events, users, memberships)

  orgID := uuid.New()
  if err := svc.HandleEvent(context.Background(), MembershipEvent{
    EventID:        "evt-c",
    Type:           MembershipEventMembershipCreated,
    UserExternalID: "idp|carol",
    OrganizationID: orgID.String(),
  }); err != nil {
    t.Fatalf("create: %v", err)
  }
  if err := svc.HandleEvent(context.Background(), MembershipEvent{
    EventID:        "evt-d",
    Type:           MembershipEventMembershipDeleted,
    UserExternalID: "idp|carol",
    OrganizationID: orgID.String(),
  }); err != nil {
    t.Fatalf("delete: %v", err)
  }
  user, _ := users.GetByExternalID(context.Background(), nil, "idp|carol")
  isMember, _ := memberships.IsMember(context.Background(), nil, user.ID, orgID)
  if isMember {
    t.Fatalf("membership should be removed")
  }
}

func TestMembershipEventSetsPrivilegedFlag(t *testing.T) {
  events := newFakeWebhookEventRepo()
  users := newFakeUserRepo()
  svc := NewMembershipSyncService(nil, testLogger(t), events, users, newFakeMembershipRepo())

  privileged := true
  if err := svc.HandleEvent(context.Background(), MembershipEvent{
    EventID:        "evt-p",
    Type:           MembershipEventUserUpserted,
    UserExternalID: "idp|dave",
    Privileged:     &privileged,
  }); err != nil {
    t.Fatalf("HandleEvent: %v", err)
  }
  user, err := users.GetByExternalID(context.Background(), nil, "idp|dave")
  if err != nil {
    t.Fatalf("user: %v", err)
  }
  if !user.Privileged {
    t.Fatalf("privileged flag not applied")
  }
}

func TestMembershipEventRejectsMissingFields(t *testing.T) {
  svc := NewMembershipSyncService(nil, testLogger(t), newFakeWebhookEventRepo(), newFakeUserRepo(), newFakeMembershipRepo())
  err := svc.HandleEvent(context.Background(), MembershipEvent{Type: MembershipEventUserUpserted})
  if !errors.Is(err, pkgerrors.ErrInvalidArgument) {
    t.Fatalf("want ErrInvalidArgument, got %v", err)
  }
}

func newBillingFixture(t *testing.T) (BillingSyncService, *fakeWebhookEventRepo, *fakeUserRepo, *fakeSubscriptionRepo, EntitlementService, *fakeCounterRepo) {
  t.Helper()
  events := newFakeWebhookEventRepo()
  users := newFakeUserRepo()
  subs := newFakeSubscriptionRepo()
  counters := newFakeCounterRepo()
  entitlement := NewEntitlementService(nil, testLogger(t), EntitlementConfig{
    GraceWindow:         72 * time.Hour,
    DefaultArticleLimit: 10,
    AddonUnitAmount:     5,
  }, users, newFakeMembershipRepo(), subs, counters)
  svc := NewBillingSyncService(nil, testLogger(t), events, users, subs, entitlement)
  return svc, events, users, subs, entitlement, counters
}

func TestBillingEventUpsertsSubscriptionForUser(t *testing.T) {
  svc, _, users, subs, _, _ := newBillingFixture(t)

  periodEnd := time.Now().Add(30 * 24 * time.Hour)
  err := svc.HandleEvent(context.Background(), BillingEvent{
    EventID:          "bill-1",
    Type:             BillingEventSubscriptionUpserted,
    SubscriptionID:   "sub_123",
    UserExternalID:   "idp|erin",
    Status:           types.SubscriptionStatusActive,
    PlanArticleLimit: 30,
    CurrentPeriodEnd: &periodEnd,
  })
  if err != nil {
    t.Fatalf("HandleEvent: %v", err)
  }

  sub, err := subs.GetByExternalID(context.Background(), nil, "sub_123")
  if err != nil {
    t.Fatalf("subscription not stored: %v", err)
  }
  if sub.Status != types.SubscriptionStatusActive || sub.PlanArticleLimit != 30 {
    t.Fatalf("subscription fields: %+v", sub)
  }
  user, err := users.GetByExternalID(context.Background(), nil, "idp|erin")
  if err != nil {
    t.Fatalf("user not lazily created: %v", err)
  }
  if sub.UserID == nil || *sub.UserID != user.ID {
    t.Fatalf("subscription not bound to user")
  }
}

func TestBillingEventDeletedExpiresSubscription(t *testing.T) {
  svc, _, _, subs, _, _ := newBillingFixture(t)

  userID := uuid.New()
  subs.subs["sub_del"] = &types.Subscription{
    ID:         uuid.New(),
    UserID:     &userID,
    ExternalID: "sub_del",
    Status:     types.SubscriptionStatusActive,
  }
  if err := svc.HandleEvent(context.Background(), BillingEvent{
    EventID:        "bill-2",
    Type:           BillingEventSubscriptionDeleted,
    SubscriptionID: "sub_del",
  }); err != nil {
    t.Fatalf("HandleEvent: %v", err)
  }
  sub, _ := subs.GetByExternalID(context.Background(), nil, "sub_del")
  if sub.Status != types.SubscriptionStatusExpired {
    t.Fatalf("status: want=expired got=%q", sub.Status)
  }
}

func TestBillingEventAddonChanged(t *testing.T) {
  svc, _, _, subs, entitlement, _ := newBillingFixture(t)

  userID := uuid.New()
  subs.subs["sub_addon"] = &types.Subscription{
    ID:         uuid.New(),
    UserID:     &userID,
    ExternalID: "sub_addon",
    Status:     types.SubscriptionStatusActive,
  }
  quantity := 2
  if err := svc.HandleEvent(context.Background(), BillingEvent{
    EventID:        "bill-3",
    Type:           BillingEventAddonChanged,
    SubscriptionID: "sub_addon",
    AddonQuantity:  &quantity,
  }); err != nil {
    t.Fatalf("HandleEvent: %v", err)
  }
  counter, err := entitlement.CurrentUsage(context.Background(), nil, types.PersonalOwner(userID))
  if err != nil {
    t.Fatalf("CurrentUsage: %v", err)
  }
  if counter.AddonArticlesLimit != 10 {
    t.Fatalf("addon limit: want=10 got=%d", counter.AddonArticlesLimit)
  }
}

func TestBillingEventReplayIsNoOp(t *testing.T) {
  svc, _, _, subs, _, _ := newBillingFixture(t)

  periodEnd := time.Now().Add(30 * 24 * time.Hour)
  event := BillingEvent{
    EventID:          "bill-dup",
    Type:             BillingEventSubscriptionUpserted,
    SubscriptionID:   "sub_dup",
    UserExternalID:   "idp|frank",
    Status:           types.SubscriptionStatusActive,
    PlanArticleLimit: 30,
    CurrentPeriodEnd: &periodEnd,
  }
  if err := svc.HandleEvent(context.Background(), event); err != nil {
    t.Fatalf("first delivery: %v", err)
  }
  // the plan shrinks out of band; the replay must not restore it
  sub, _ := subs.GetByExternalID(context.Background(), nil, "sub_dup")
  sub.PlanArticleLimit = 5
  subs.subs["sub_dup"] = sub

  if err := svc.HandleEvent(context.Background(), event); err != nil {
    t.Fatalf("replay: %v", err)
  }
  got, _ := subs.GetByExternalID(context.Background(), nil, "sub_dup")
  if got.PlanArticleLimit != 5 {
    t.Fatalf("replay re-applied the event: limit=%d", got.PlanArticleLimit)
  }
}
