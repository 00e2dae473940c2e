package domain

import "time"

// Cookie is a persisted browser-style cookie. Value is sealed at rest.
type Cookie struct {
	Name        string
	SealedValue []byte
	ExpiresAt   time.Time
	UpdatedAt   time.Time
}

// Expired reports whether the cookie is past its expiry at now.
func (c Cookie) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
