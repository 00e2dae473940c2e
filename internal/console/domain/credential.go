package domain

import "time"

// IdentityCredential is an identity backend's refresh credential kept
// between runs. One per backend.
type IdentityCredential struct {
	Backend            string
	UserID             string
	Email              string
	SealedRefreshToken []byte
	UpdatedAt          time.Time
}
