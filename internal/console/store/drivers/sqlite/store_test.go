package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/aussiebroadwan/vulntab/internal/console/domain"
	"github.com/aussiebroadwan/vulntab/internal/console/store"
	"github.com/aussiebroadwan/vulntab/internal/console/store/drivers/sqlite"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.NewStore(filepath.Join(t.TempDir(), "console.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.ApplyMigrations())
	return s
}

func TestMigrationsIdempotent(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	require.NoError(t, s.ApplyMigrations())
	require.NoError(t, s.Ping(context.Background()))
}

func TestCookies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)
	now := time.Unix(1700000000, 0).UTC()

	_, err := s.Cookies().GetCookie(ctx, "token")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.Cookies().PutCookie(ctx, domain.Cookie{
		Name: "token", SealedValue: []byte("v1"), ExpiresAt: now.Add(time.Hour), UpdatedAt: now,
	}))
	require.NoError(t, s.Cookies().PutCookie(ctx, domain.Cookie{
		Name: "token", SealedValue: []byte("v2"), ExpiresAt: now.Add(2 * time.Hour), UpdatedAt: now,
	}))

	c, err := s.Cookies().GetCookie(ctx, "token")
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), c.SealedValue)
	require.Equal(t, now.Add(2*time.Hour), c.ExpiresAt)

	require.NoError(t, s.Cookies().PutCookie(ctx, domain.Cookie{
		Name: "stale", SealedValue: []byte("x"), ExpiresAt: now.Add(-time.Minute), UpdatedAt: now,
	}))
	n, err := s.Cookies().DeleteExpiredCookies(ctx, now)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	require.NoError(t, s.Cookies().DeleteCookie(ctx, "token"))
	require.ErrorIs(t, s.Cookies().DeleteCookie(ctx, "token"), store.ErrNotFound)
}

func TestCredentials(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)
	now := time.Unix(1700000000, 0).UTC()

	cred := domain.IdentityCredential{
		Backend: "firebase", UserID: "u1", Email: "a@example.com",
		SealedRefreshToken: []byte{1, 2, 3}, UpdatedAt: now,
	}
	require.NoError(t, s.Credentials().PutCredential(ctx, cred))

	got, err := s.Credentials().GetCredential(ctx, "firebase")
	require.NoError(t, err)
	require.Equal(t, cred, got)

	_, err = s.Credentials().GetCredential(ctx, "supabase")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.Credentials().DeleteCredential(ctx, "firebase"))
	require.ErrorIs(t, s.Credentials().DeleteCredential(ctx, "firebase"), store.ErrNotFound)
}

func TestActionCodes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)
	now := time.Unix(1700000000, 0).UTC()

	code := domain.ActionCode{Fingerprint: "fp1", Mode: domain.ModeResetPassword, Outcome: domain.OutcomeSucceeded, ConsumedAt: now}
	require.NoError(t, s.ActionCodes().RecordActionCode(ctx, code))
	require.ErrorIs(t, s.ActionCodes().RecordActionCode(ctx, code), store.ErrAlreadyExists)

	got, err := s.ActionCodes().GetActionCode(ctx, "fp1")
	require.NoError(t, err)
	require.Equal(t, code, got)

	n, err := s.ActionCodes().DeleteActionCodesBefore(ctx, now.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestWithTx(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)
	now := time.Unix(1700000000, 0).UTC()

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.Cookies().PutCookie(ctx, domain.Cookie{Name: "a", SealedValue: []byte("x"), ExpiresAt: now, UpdatedAt: now}))
		return boom
	})
	require.ErrorIs(t, err, boom)
	_, err = s.Cookies().GetCookie(ctx, "a")
	require.ErrorIs(t, err, store.ErrNotFound, "rolled back")

	err = s.WithTx(ctx, func(tx store.Tx) error {
		_, err := tx.Tx(ctx)
		require.Error(t, err, "nested transactions are not supported")
		return tx.Cookies().PutCookie(ctx, domain.Cookie{Name: "a", SealedValue: []byte("x"), ExpiresAt: now, UpdatedAt: now})
	})
	require.NoError(t, err)
	_, err = s.Cookies().GetCookie(ctx, "a")
	require.NoError(t, err)
}
