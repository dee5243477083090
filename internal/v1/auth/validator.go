// Package auth validates the bearer tokens presented to the admin HTTP
// surface. Tokens are HS256-signed with a shared secret; scopes gate the
// mutating endpoints.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ScopeAdmin is required for every mutating admin endpoint; read-only
// endpoints accept ScopeRead as well.
const (
	ScopeAdmin = "admin"
	ScopeRead  = "admin:read"
)

// CustomClaims are the claims carried by admin tokens. It embeds
// jwt.RegisteredClaims and adds a Scope field listing space-separated
// scopes.
type CustomClaims struct {
	Scope string `json:"scope"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// HasScope reports whether the token carries the given scope. The full
// admin scope implies every other scope.
func (c *CustomClaims) HasScope(scope string) bool {
	for _, s := range strings.Fields(c.Scope) {
		if s == scope || s == ScopeAdmin {
			return true
		}
	}
	return false
}

// TokenValidator validates an admin bearer token.
type TokenValidator interface {
	ValidateToken(tokenString string) (*CustomClaims, error)
}

// Validator verifies HS256 tokens against the shared admin secret.
type Validator struct {
	secret []byte
}

// NewValidator creates a Validator. The secret must be at least 32 bytes;
// config validation enforces this before the server starts.
func NewValidator(secret string) (*Validator, error) {
	if len(secret) < 32 {
		return nil, errors.New("admin secret must be at least 32 bytes")
	}
	return &Validator{secret: []byte(secret)}, nil
}

// ValidateToken parses and verifies a token string, returning its claims.
// Only HS256 is accepted; asymmetric algorithms (and "none") are rejected
// up front.
func (v *Validator) ValidateToken(tokenString string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return v.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, errors.New("token is invalid")
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok {
		return nil, errors.New("failed to cast claims to CustomClaims")
	}
	return claims, nil
}

// GetAllowedOrigins splits a comma-separated origin list, falling back to
// the provided defaults when the value is empty.
func GetAllowedOrigins(originsStr string, defaults []string) []string {
	if originsStr == "" {
		return defaults
	}
	out := strings.Split(originsStr, ",")
	for i := range out {
		out[i] = strings.TrimSpace(out[i])
	}
	return out
}
