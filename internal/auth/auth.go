// Package auth binds operation roles to caller identities.
package auth

import (
	"github.com/google/uuid"

	"CoffeeClear/internal/state"
)

// Role names the privilege an operation demands.
type Role uint8

const (
	RoleAuthority Role = iota
	RoleOracle
	RoleVerifier
	RoleCounterparty
)

func (r Role) String() string {
	switch r {
	case RoleAuthority:
		return "authority"
	case RoleOracle:
		return "oracle"
	case RoleVerifier:
		return "verifier"
	case RoleCounterparty:
		return "counterparty"
	default:
		return "unknown"
	}
}

// Authorizer decides whether a caller may act as a role holder. The
// identity model is key-equality: callers present an identity that has
// been authenticated by the transport layer, and the engine compares it
// against the role holder recorded on the market or deal.
type Authorizer interface {
	Authorize(caller, holder uuid.UUID, role Role) error
}

// KeyEquality is the production Authorizer: the caller must be exactly
// the recorded holder.
type KeyEquality struct{}

func NewKeyEquality() KeyEquality {
	return KeyEquality{}
}

func (KeyEquality) Authorize(caller, holder uuid.UUID, _ Role) error {
	if caller == uuid.Nil || caller != holder {
		return state.ErrUnauthorized
	}
	return nil
}
