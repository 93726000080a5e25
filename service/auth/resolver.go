package auth

import (
	"context"
	"errors"

	"RelayCore/data/store"
	"RelayCore/logger"
	"RelayCore/tools/errs"
)

// Resolver maps verified claims to an internal user record. It never creates
// users; registration belongs to the HTTP API.
type Resolver struct {
	store store.Store
}

func NewResolver(s store.Store) *Resolver {
	return &Resolver{store: s}
}

// Resolve looks the user up by the provider subject, falling back to the
// email for accounts that predate the provider link. The fallback only
// applies to unlinked accounts: an email match already bound to another
// subject is rejected, otherwise a colliding email would hand over someone
// else's account. A fallback match gets the subject persisted as a side
// effect so it runs once.
func (r *Resolver) Resolve(ctx context.Context, claims *Claims) (*store.User, error) {
	u, err := r.store.UserByExternalID(ctx, claims.Subject)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, store.ErrNoRows) {
		return nil, errs.ErrDependencyUnavailable.WrapMsg("user lookup: " + err.Error())
	}

	if claims.Email == "" {
		return nil, errs.ErrUserNotRegistered
	}
	u, err = r.store.UserByEmail(ctx, claims.Email)
	if errors.Is(err, store.ErrNoRows) {
		return nil, errs.ErrUserNotRegistered
	}
	if err != nil {
		return nil, errs.ErrDependencyUnavailable.WrapMsg("user lookup: " + err.Error())
	}

	if u.ExternalID == claims.Subject {
		return u, nil
	}
	if u.ExternalID != "" {
		// bound to a different subject; this token's identity is not that account
		logger.Warnf("[auth] email fallback rejected: user=%s already linked", u.ID)
		return nil, errs.ErrUserNotRegistered
	}
	if lerr := r.store.LinkExternalID(ctx, u.ID, claims.Subject); lerr != nil {
		// link is a lazy optimization, the login itself still succeeds
		logger.Warnf("[auth] link external id user=%s: %v", u.ID, lerr)
	} else {
		u.ExternalID = claims.Subject
	}
	return u, nil
}
