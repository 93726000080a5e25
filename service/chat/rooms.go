package chat

import (
	"context"

	"RelayCore/data/store"
	"RelayCore/tools/errs"
)

// Authorizer gates room-scoped actions on the authoritative participation
// data in the persistence collaborator. It reads, never mutates.
type Authorizer struct {
	store store.Store
}

func NewAuthorizer(s store.Store) *Authorizer {
	return &Authorizer{store: s}
}

// AuthorizeJoin returns the actor's role, or ErrNotAParticipant.
func (a *Authorizer) AuthorizeJoin(ctx context.Context, userID, conversationID string) (store.Role, error) {
	role, ok, err := a.store.ParticipantRole(ctx, conversationID, userID)
	if err != nil {
		return "", errs.ErrDependencyUnavailable.WrapMsg("participant lookup: " + err.Error())
	}
	if !ok {
		return "", errs.ErrNotAParticipant
	}
	return role, nil
}

// AuthorizeRemove applies the removal rule: an actor may always remove
// themselves; removing another participant takes an elevated role.
func (a *Authorizer) AuthorizeRemove(ctx context.Context, actingUserID, conversationID, targetUserID string) error {
	role, err := a.AuthorizeJoin(ctx, actingUserID, conversationID)
	if err != nil {
		return err
	}
	if actingUserID == targetUserID {
		return nil
	}
	if !role.Elevated() {
		return errs.ErrForbidden
	}
	return nil
}
