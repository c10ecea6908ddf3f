package services

import (
  "context"
  "fmt"
  "strings"

  "github.com/google/uuid"
  "gorm.io/gorm"

  pkgerrors "github.com/shintairiku/marketing-automation-sub005/internal/pkg/errors"
  "github.com/shintairiku/marketing-automation-sub005/internal/platform/logger"
  "github.com/shintairiku/marketing-automation-sub005/internal/repos"
  "github.com/shintairiku/marketing-automation-sub005/internal/types"
)

const (
  MembershipEventUserUpserted      = "user.upserted"
  MembershipEventMembershipCreated = "membership.created"
  MembershipEventMembershipDeleted = "membership.deleted"
)

// MembershipEvent is one identity-provider webhook delivery. Deliveries are
// at-least-once; EventID is the dedupe key.
type MembershipEvent struct {
  EventID        string `json:"event_id"`
  Type           string `json:"type"`
  UserExternalID string `json:"user_external_id"`
  Email          string `json:"email,omitempty"`
  OrganizationID string `json:"organization_id,omitempty"`
  Role           string `json:"role,omitempty"`
  Privileged     *bool  `json:"privileged,omitempty"`
}

// MembershipSyncService applies identity-provider events to the local user
// and membership shadow tables. A replayed event id is a no-op.
type MembershipSyncService interface {
  HandleEvent(ctx context.Context, event MembershipEvent) error
}

type membershipSyncService struct {
  db             *gorm.DB
  log            *logger.Logger
  eventRepo      repos.WebhookEventRepo
  userRepo       repos.UserRepo
  membershipRepo repos.OrganizationMembershipRepo
}

func NewMembershipSyncService(
  db *gorm.DB,
  log *logger.Logger,
  eventRepo repos.WebhookEventRepo,
  userRepo repos.UserRepo,
  membershipRepo repos.OrganizationMembershipRepo,
) MembershipSyncService {
  return &membershipSyncService{
    db:             db,
    log:            log.With("service", "MembershipSyncService"),
    eventRepo:      eventRepo,
    userRepo:       userRepo,
    membershipRepo: membershipRepo,
  }
}

func (s *membershipSyncService) HandleEvent(ctx context.Context, event MembershipEvent) error {
  if strings.TrimSpace(event.EventID) == "" || strings.TrimSpace(event.UserExternalID) == "" {
    return pkgerrors.ErrInvalidArgument
  }
  return runInTransaction(ctx, s.db, func(tx *gorm.DB) error {
    replay, err := s.eventRepo.MarkProcessed(ctx, tx, event.EventID, types.WebhookSourceIdentity, event.Type)
    if err != nil {
      return err
    }
    if replay {
      s.log.Debug("Skipping replayed membership event", "event_id", event.EventID, "type", event.Type)
      return nil
    }
    return s.apply(ctx, tx, event)
  })
}

func (s *membershipSyncService) apply(ctx context.Context, tx *gorm.DB, event MembershipEvent) error {
  user, err := s.userRepo.Upsert(ctx, tx, &types.User{
    ExternalID: event.UserExternalID,
    Email:      event.Email,
  })
  if err != nil {
    return fmt.Errorf("upsert user: %w", err)
  }
  if event.Privileged != nil {
    if err := s.userRepo.SetPrivileged(ctx, tx, user.ID, *event.Privileged); err != nil {
      return fmt.Errorf("set privileged: %w", err)
    }
  }

  switch event.Type {
  case MembershipEventUserUpserted, "":
    return nil
  case MembershipEventMembershipCreated:
    orgID, pErr := uuid.Parse(event.OrganizationID)
    if pErr != nil {
      return fmt.Errorf("%w: bad organization id", pkgerrors.ErrInvalidArgument)
    }
    return s.membershipRepo.Upsert(ctx, tx, user.ID, orgID, event.Role)
  case MembershipEventMembershipDeleted:
    orgID, pErr := uuid.Parse(event.OrganizationID)
    if pErr != nil {
      return fmt.Errorf("%w: bad organization id", pkgerrors.ErrInvalidArgument)
    }
    return s.membershipRepo.Remove(ctx, tx, user.ID, orgID)
  default:
    s.log.Warn("Ignoring unknown membership event type", "event_id", event.EventID, "type", event.Type)
    return nil
  }
}
