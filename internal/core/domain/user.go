package domain

import (
	"errors"
	"time"
)

// Role is the access level attached to a user record.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// DefaultRole is applied when a create request omits the role.
const DefaultRole = RoleUser

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrEmailExists    = errors.New("email already exists")
	ErrUsernameExists = errors.New("username already exists")
	ErrInvalidID      = errors.New("invalid id format")
	ErrValidation     = errors.New("validation failed")
)

// Valid reports whether r is one of the recognised roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin:
		return true
	}
	return false
}

// User is the authoritative user record. Password is never serialised to JSON,
// which keeps it out of HTTP responses and cache snapshots alike.
type User struct {
	ID        string    `json:"_id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Password  string    `json:"-"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}
