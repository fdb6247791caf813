package handler

import (
	"strings"

	"github.com/microshop/user-service/internal/core/ports"
)

// errorResponse is the standard error envelope returned on all 4xx/5xx responses.
type errorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// --- Request / Response types ---

type createUserRequest struct {
	Username string `json:"username" validate:"required"`
	Email    string `json:"email"    validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Role     string `json:"role"     validate:"omitempty,oneof=user admin"`
}

// normalize trims surrounding whitespace so that "  bob " validates like "bob".
func (r *createUserRequest) normalize() {
	r.Username = strings.TrimSpace(r.Username)
	r.Email = strings.TrimSpace(r.Email)
	r.Role = strings.TrimSpace(r.Role)
}

func (r createUserRequest) toInput() ports.CreateUserInput {
	return ports.CreateUserInput{
		Username: r.Username,
		Email:    r.Email,
		Password: r.Password,
		Role:     r.Role,
	}
}

// userResponse documents the record shape for swag; handlers render domain.User directly.
type userResponse struct {
	ID        string `json:"_id"       example:"507f191e810c19729de860ea"`
	Username  string `json:"username"  example:"hafizur"`
	Email     string `json:"email"     example:"hafiz@example.com"`
	Role      string `json:"role"      example:"admin"`
	CreatedAt string `json:"createdAt" example:"2026-10-15T09:30:00.000Z"`
}
