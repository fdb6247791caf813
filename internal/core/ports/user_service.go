package ports

import (
	"context"

	"github.com/microshop/user-service/internal/core/domain"
)

// CreateUserInput is the DTO passed from the transport layer to UserService.
type CreateUserInput struct {
	Username string
	Email    string
	Password string
	Role     string // optional, defaults to domain.DefaultRole
}

// UserService defines the user lifecycle use cases.
type UserService interface {
	Create(ctx context.Context, in CreateUserInput) (*domain.User, error)
	List(ctx context.Context) ([]*domain.User, error)
	GetByID(ctx context.Context, id string) (*domain.User, error)
	Delete(ctx context.Context, id string) (*domain.User, error)
}
