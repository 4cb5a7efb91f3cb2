// Package auth implements the Authenticator component: self-contained,
// signed bearer tokens carrying the caller's identity and roles.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/loftbid/liveauction/internal/apperr"
	"github.com/loftbid/liveauction/internal/domain"
)

// Identity is the authenticated caller resolved from a bearer token.
type Identity struct {
	UserID int64
	Roles  []domain.Role
}

// HasRole reports whether the identity carries the given role.
func (id Identity) HasRole(r domain.Role) bool {
	for _, have := range id.Roles {
		if have == r {
			return true
		}
	}
	return false
}

type claims struct {
	UserID int64          `json:"user_id"`
	Roles  []domain.Role  `json:"roles"`
	jwt.RegisteredClaims
}

// Authenticator issues and verifies HS256 bearer tokens.
type Authenticator struct {
	signingKey []byte
	ttl        time.Duration
}

// New builds an Authenticator with a signing key and token lifetime.
func New(signingKey string, ttl time.Duration) *Authenticator {
	return &Authenticator{signingKey: []byte(signingKey), ttl: ttl}
}

// Issue mints a signed token for the given identity.
func (a *Authenticator) Issue(userID int64, roles []domain.Role) (string, error) {
	now := time.Now().UTC()
	c := claims{
		UserID: userID,
		Roles:  roles,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(a.signingKey)
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, "failed to sign token", err)
	}
	return signed, nil
}

// Verify parses and validates a bearer token, returning the caller's
// identity. Expired or malformed tokens map to Unauthenticated.
func (a *Authenticator) Verify(tokenString string) (Identity, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.signingKey, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, apperr.Wrap(apperr.Unauthenticated, "invalid or expired token", err)
	}
	return Identity{UserID: c.UserID, Roles: c.Roles}, nil
}

// RequireRole returns a Forbidden error unless id carries role r.
func RequireRole(id Identity, r domain.Role) error {
	if !id.HasRole(r) {
		return apperr.New(apperr.Forbidden, "requires "+string(r)+" role")
	}
	return nil
}
