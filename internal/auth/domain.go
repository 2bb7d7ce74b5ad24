package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/HDurna/drn-satis-yazilimi/internal/shared"
)

// User is an operator account as seen by the token layer.
type User struct {
	ID       int64
	Username string
	Role     shared.Role
	IsActive bool
}

// Claims is the bearer token payload.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

var (
	// ErrInvalidToken indicates a malformed, expired or forged token.
	ErrInvalidToken = fmt.Errorf("auth: invalid token: %w", shared.ErrUnauthorized)
	// ErrInactiveUser indicates the token subject is disabled or unknown.
	ErrInactiveUser = fmt.Errorf("auth: inactive user: %w", shared.ErrUnauthorized)
)
