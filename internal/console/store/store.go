package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/vulntab/internal/console/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the console's local persistence. Drivers (sqlite, redis)
// implement it and expose sub-repositories per concern.
type Store interface {
	Cookies() Cookies
	Credentials() Credentials
	ActionCodes() ActionCodes

	ApplyMigrations() error

	// Tx starts a transaction. The caller MUST call Commit or Rollback.
	Tx(ctx context.Context) (Tx, error)

	// WithTx runs fn in a transaction, committing when fn returns nil.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error
	Ping(ctx context.Context) error
}

// Tx is a transactional store.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Cookies interface {
	GetCookie(ctx context.Context, name string) (domain.Cookie, error)
	// PutCookie inserts or replaces the cookie.
	PutCookie(ctx context.Context, c domain.Cookie) error
	DeleteCookie(ctx context.Context, name string) error
	DeleteExpiredCookies(ctx context.Context, now time.Time) (int64, error)
}

type Credentials interface {
	GetCredential(ctx context.Context, backend string) (domain.IdentityCredential, error)
	PutCredential(ctx context.Context, c domain.IdentityCredential) error
	DeleteCredential(ctx context.Context, backend string) error
}

type ActionCodes interface {
	GetActionCode(ctx context.Context, fingerprint string) (domain.ActionCode, error)
	// RecordActionCode fails with ErrAlreadyExists when the fingerprint is
	// already recorded.
	RecordActionCode(ctx context.Context, a domain.ActionCode) error
	DeleteActionCodesBefore(ctx context.Context, before time.Time) (int64, error)
}
