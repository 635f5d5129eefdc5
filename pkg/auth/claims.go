// Package auth provides JWT-based identity for foresight-engine.
// Tokens are validated against configured JWKS endpoints; identity is
// optional on most routes, where an absent token means an anonymous caller.
package auth

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// ClaimsKey is the context key for storing JWT claims.
	ClaimsKey contextKey = "claims"
)

// Claims represents the JWT claims accepted by the service. The subject is
// the user's UUID.
type Claims struct {
	jwt.RegisteredClaims
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// UserID parses the subject claim as a user UUID.
func (c *Claims) UserID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// GetClaims retrieves JWT claims from the request context.
// Returns nil and false if claims are not present.
func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*Claims)
	return claims, ok
}

// UserIDFromContext returns the authenticated user's UUID, or nil for
// anonymous callers. Anonymous callers can create and read timelines but
// never own them.
func UserIDFromContext(ctx context.Context) *uuid.UUID {
	claims, ok := GetClaims(ctx)
	if !ok || claims == nil {
		return nil
	}
	id, err := claims.UserID()
	if err != nil {
		return nil
	}
	return &id
}
