package types

import "github.com/google/uuid"

// Owner identifies the tenant a process (or counter, or subscription) belongs
// to: exactly one of UserID / OrganizationID is set.
type Owner struct {
	UserID         uuid.UUID
	OrganizationID uuid.UUID
}

func PersonalOwner(userID uuid.UUID) Owner {
	return Owner{UserID: userID}
}

func OrganizationOwner(orgID uuid.UUID) Owner {
	return Owner{OrganizationID: orgID}
}

func (o Owner) IsOrganization() bool {
	return o.OrganizationID != uuid.Nil
}

func (o Owner) Valid() bool {
	return (o.UserID != uuid.Nil) != (o.OrganizationID != uuid.Nil)
}

func (o Owner) UserIDPtr() *uuid.UUID {
	if o.UserID == uuid.Nil || o.IsOrganization() {
		return nil
	}
	id := o.UserID
	return &id
}

func (o Owner) OrganizationIDPtr() *uuid.UUID {
	if o.OrganizationID == uuid.Nil {
		return nil
	}
	id := o.OrganizationID
	return &id
}
