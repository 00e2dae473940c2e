package jwtx

import (
	"crypto/rsa"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ParseUnverified decodes the claims of raw without checking the signature.
//
// The console never authorizes anything from these claims: the identity
// backend already vouched for the token when it issued it and the
// application backend re-verifies on every call. The console only reads exp
// for cookie lifetime and refresh scheduling, plus the aal and email fields
// to drive the sign-in state machine.
func ParseUnverified(raw string) (*IdentityClaims, error) {
	claims := &IdentityClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return claims, nil
}

// SignRS256 signs claims with key and sets the kid header. Used by the local
// identity backends that stand in for the real services in tests and demos.
func SignRS256(kid string, key *rsa.PrivateKey, claims jwt.Claims) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	signed, err := tok.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("jwtx: sign: %w", err)
	}
	return signed, nil
}
