package ports

import (
	"context"

	"github.com/microshop/user-service/internal/core/domain"
)

// UserRepository is the authoritative store for user records.
type UserRepository interface {
	// Create persists u and returns the stored record with its assigned ID and CreatedAt.
	// Returns domain.ErrEmailExists or domain.ErrUsernameExists on a uniqueness violation.
	Create(ctx context.Context, u *domain.User) (*domain.User, error)
	// List returns every record with the password projected out.
	List(ctx context.Context) ([]*domain.User, error)
	// GetByID returns domain.ErrUserNotFound when id does not resolve.
	GetByID(ctx context.Context, id string) (*domain.User, error)
	// DeleteByID removes the record and returns its pre-delete snapshot.
	DeleteByID(ctx context.Context, id string) (*domain.User, error)
}
