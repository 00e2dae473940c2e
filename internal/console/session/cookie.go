package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/vulntab/internal/console/domain"
	"github.com/aussiebroadwan/vulntab/internal/console/store"
	"github.com/aussiebroadwan/vulntab/pkg/cryptox"
	"github.com/aussiebroadwan/vulntab/pkg/jwtx"
)

const DefaultCookieName = "token"

// fallbackCookieTTL applies to tokens without an exp claim.
const fallbackCookieTTL = time.Hour

// ErrNoCookie is returned by CookieJar.Load when no usable cookie exists.
var ErrNoCookie = errors.New("session: no bearer cookie")

// TokenJar persists the last-known bearer token.
type TokenJar interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, token string) error
	Clear(ctx context.Context) error
}

// CookieJar keeps the bearer token in a single named cookie. The value is
// sealed at rest and the cookie expires with the token.
type CookieJar struct {
	cookies store.Cookies
	sealer  *cryptox.Sealer
	name    string
	now     func() time.Time
}

var _ TokenJar = (*CookieJar)(nil)

func NewCookieJar(cookies store.Cookies, sealer *cryptox.Sealer, name string, now func() time.Time) *CookieJar {
	if name == "" {
		name = DefaultCookieName
	}
	if now == nil {
		now = time.Now
	}
	return &CookieJar{cookies: cookies, sealer: sealer, name: name, now: now}
}

func (j *CookieJar) Name() string { return j.name }

// Load returns the stored token. Missing, expired and unreadable cookies
// all report ErrNoCookie.
func (j *CookieJar) Load(ctx context.Context) (string, error) {
	c, err := j.cookies.GetCookie(ctx, j.name)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrNoCookie
	}
	if err != nil {
		return "", fmt.Errorf("failed to read cookie %q: %w", j.name, err)
	}
	if c.Expired(j.now()) {
		return "", ErrNoCookie
	}
	raw, err := j.sealer.Open(c.SealedValue, []byte(j.name))
	if err != nil {
		return "", ErrNoCookie
	}
	return string(raw), nil
}

// Save stores token until its exp claim. A token that has already expired
// removes the cookie instead.
func (j *CookieJar) Save(ctx context.Context, token string) error {
	now := j.now()
	expires := now.Add(fallbackCookieTTL)
	if claims, err := jwtx.ParseUnverified(token); err == nil && !claims.Expiry().IsZero() {
		expires = claims.Expiry()
	}
	if !now.Before(expires) {
		return j.Clear(ctx)
	}

	sealed, err := j.sealer.Seal([]byte(token), []byte(j.name))
	if err != nil {
		return fmt.Errorf("failed to seal cookie: %w", err)
	}
	return j.cookies.PutCookie(ctx, domain.Cookie{
		Name:        j.name,
		SealedValue: sealed,
		ExpiresAt:   expires,
		UpdatedAt:   now,
	})
}

// Clear removes the cookie. Clearing a missing cookie is not an error.
func (j *CookieJar) Clear(ctx context.Context) error {
	err := j.cookies.DeleteCookie(ctx, j.name)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to delete cookie %q: %w", j.name, err)
	}
	return nil
}
