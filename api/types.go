package api

import (
	"boardsync/domain"
	"boardsync/engine"
)

// Boards hands out per-owner controllers.
type Boards interface {
	Controller(owner domain.User) *engine.Controller
	Release(ownerID string)
}

// Authenticator resolves the signed-in owner from an Authorization header.
type Authenticator interface {
	UserFromAuthHeader(string) (domain.User, error)
}
