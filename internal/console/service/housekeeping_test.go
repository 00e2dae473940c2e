package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/aussiebroadwan/vulntab/internal/console/domain"
	"github.com/aussiebroadwan/vulntab/internal/console/service"
	"github.com/aussiebroadwan/vulntab/internal/console/store"
	"github.com/aussiebroadwan/vulntab/pkg/slogx"
	"github.com/stretchr/testify/require"
)

func TestHousekeepingCleanup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	db := newSQLiteStore(t)
	now := time.Unix(1700000000, 0)

	require.NoError(t, db.Cookies().PutCookie(ctx, domain.Cookie{Name: "expired", SealedValue: []byte("x"), ExpiresAt: now.Add(-time.Minute), UpdatedAt: now}))
	require.NoError(t, db.Cookies().PutCookie(ctx, domain.Cookie{Name: "live", SealedValue: []byte("y"), ExpiresAt: now.Add(time.Hour), UpdatedAt: now}))

	old := domain.ActionCode{Fingerprint: "old", Mode: domain.ModeVerifyEmail, Outcome: domain.OutcomeSucceeded, ConsumedAt: now.Add(-31 * 24 * time.Hour)}
	recent := domain.ActionCode{Fingerprint: "recent", Mode: domain.ModeResetPassword, Outcome: domain.OutcomeFailed, ConsumedAt: now.Add(-time.Hour)}
	require.NoError(t, db.ActionCodes().RecordActionCode(ctx, old))
	require.NoError(t, db.ActionCodes().RecordActionCode(ctx, recent))

	hk := service.NewHousekeepingService(db, slogx.Discard(), 0)
	require.Equal(t, time.Hour, hk.Interval)
	hk.Now = func() time.Time { return now }
	hk.Cleanup(ctx)

	_, err := db.Cookies().GetCookie(ctx, "expired")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = db.Cookies().GetCookie(ctx, "live")
	require.NoError(t, err)

	_, err = db.ActionCodes().GetActionCode(ctx, "old")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = db.ActionCodes().GetActionCode(ctx, "recent")
	require.NoError(t, err)
}

func TestHousekeepingStartStop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	db := newSQLiteStore(t)
	require.NoError(t, db.Cookies().PutCookie(ctx, domain.Cookie{Name: "expired", SealedValue: []byte("x"), ExpiresAt: time.Now().Add(-time.Minute), UpdatedAt: time.Now()}))

	hk := service.NewHousekeepingService(db, slogx.Discard(), time.Hour)
	hk.Start()
	require.Eventually(t, func() bool {
		_, err := db.Cookies().GetCookie(ctx, "expired")
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)
	hk.Stop()
}
