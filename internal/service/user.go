package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/capitalize-ai/bill-assistant/internal/apperr"
)

// UserStore resolves identities to owner ids.
type UserStore interface {
	Ensure(ctx context.Context, identity string) (int64, error)
}

// UserService maps authenticated identities to owners.
type UserService struct {
	users UserStore
}

// NewUserService creates a new user service.
func NewUserService(users UserStore) *UserService {
	return &UserService{users: users}
}

// EnsureUser returns the owner id of identity, creating the user on first use.
func (s *UserService) EnsureUser(ctx context.Context, identity string) (int64, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return 0, apperr.Validationf("user.ensure", "identity is required")
	}
	id, err := s.users.Ensure(ctx, identity)
	if err != nil {
		return 0, apperr.Storage("user.ensure", fmt.Errorf("failed to resolve user: %w", err))
	}
	return id, nil
}
