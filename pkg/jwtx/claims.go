package jwtx

import (
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformed   = errors.New("jwtx: malformed token")
	ErrExpired     = errors.New("jwtx: token expired")
	ErrNotYetValid = errors.New("jwtx: token not valid yet")
	ErrAudience    = errors.New("jwtx: audience mismatch")
)

// AAL values reported by identity backends that issue step-up tokens.
const (
	AAL1 = "aal1"
	AAL2 = "aal2"
)

// IdentityClaims is the union of the claims the console reads from identity
// tokens issued by either backend. Both backends put the user id in sub.
type IdentityClaims struct {
	jwt.RegisteredClaims

	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`

	// AAL is the authenticator assurance level (supabase).
	AAL string `json:"aal,omitempty"`

	// SessionID identifies the backend session (supabase).
	SessionID string `json:"session_id,omitempty"`

	// Firebase carries sign-in metadata (firebase).
	Firebase *FirebaseInfo `json:"firebase,omitempty"`
}

type FirebaseInfo struct {
	SignInProvider     string `json:"sign_in_provider,omitempty"`
	SignInSecondFactor string `json:"sign_in_second_factor,omitempty"`
}

// UserID returns the subject.
func (c *IdentityClaims) UserID() string { return c.Subject }

// Expiry returns the exp claim, or the zero time when absent.
func (c *IdentityClaims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// ValidateExpiryAt ensures the token has not expired and is not used before
// nbf, allowing leeway for clock skew.
func (c *IdentityClaims) ValidateExpiryAt(now time.Time, leeway time.Duration) error {
	if c.ExpiresAt != nil && now.After(c.ExpiresAt.Add(leeway)) {
		return ErrExpired
	}
	if c.NotBefore != nil && now.Before(c.NotBefore.Add(-leeway)) {
		return ErrNotYetValid
	}
	return nil
}

// ExpiresWithin reports whether the token expires within d of now. Tokens
// without exp never do.
func (c *IdentityClaims) ExpiresWithin(now time.Time, d time.Duration) bool {
	exp := c.Expiry()
	return !exp.IsZero() && !now.Add(d).Before(exp)
}

// ValidateAudience checks that at least one expected audience is present.
func (c *IdentityClaims) ValidateAudience(expected ...string) error {
	if len(expected) == 0 {
		return nil
	}
	for _, want := range expected {
		if slices.Contains(c.Audience, want) {
			return nil
		}
	}
	return ErrAudience
}
