package session

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/roasbeef/deckview/internal/deck"
)

// tokenClaims is the subset of the backend's JWT payload the client reads.
type tokenClaims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`

	jwt.RegisteredClaims
}

// parseClaims decodes the token payload without verifying the signature.
// The client never holds the signing key; the claims are only used to fill
// in the identity projection and to drop credentials that are known to be
// expired. Opaque tokens yield empty claims.
func parseClaims(raw string) tokenClaims {
	var claims tokenClaims

	_, _, err := jwt.NewParser().ParseUnverified(raw, &claims)
	if err != nil {
		log.Tracef("Token is not a decodable JWT: %v", err)
		return tokenClaims{}
	}

	return claims
}

// expired reports whether the claims carry an expiry at or before now.
func (c tokenClaims) expired(now time.Time) bool {
	if c.ExpiresAt == nil {
		return false
	}

	return !now.Before(c.ExpiresAt.Time)
}

// projectIdentity builds the identity from the token response, filling gaps
// from the claims. The backend's development mode returns only the access
// token, in which case everything comes from the claims.
func projectIdentity(resp deck.TokenResponse, claims tokenClaims) deck.Identity {
	ident := deck.Identity{
		ID:    resp.UserID,
		Email: resp.Email,
		Name:  resp.FullName,
	}

	if ident.ID == "" {
		ident.ID = claims.Subject
	}
	if ident.Email == "" {
		ident.Email = claims.Email
	}
	if ident.Name == "" {
		ident.Name = claims.Name
	}
	if ident.Name == "" {
		ident.Name = ident.DisplayName()
	}

	return ident
}

// fingerprint returns a short stable digest of the token, used to scope
// cache entries when the session carries no identity.
func fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))

	return hex.EncodeToString(sum[:8])
}
