package auth

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"CoffeeClear/internal/state"
)

func TestKeyEquality(t *testing.T) {
	a := NewKeyEquality()
	holder := uuid.New()

	if err := a.Authorize(holder, holder, RoleOracle); err != nil {
		t.Errorf("matching key: %v", err)
	}
	if err := a.Authorize(uuid.New(), holder, RoleOracle); !errors.Is(err, state.ErrUnauthorized) {
		t.Errorf("wrong key: got %v, want ErrUnauthorized", err)
	}
	if err := a.Authorize(uuid.Nil, uuid.Nil, RoleAuthority); !errors.Is(err, state.ErrUnauthorized) {
		t.Errorf("nil caller: got %v, want ErrUnauthorized", err)
	}
}
