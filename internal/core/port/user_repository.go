package port

import (
	"context"

	"github.com/arklim/marketplace-auth/internal/core/domain"
)

// UserRepository exposes the read-only user lookups the security core needs.
// Implementations return repository.ErrNotFound when no record matches.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
}
