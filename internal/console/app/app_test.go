package app

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aussiebroadwan/vulntab/internal/console/domain"
	"github.com/aussiebroadwan/vulntab/internal/console/store"
	"github.com/aussiebroadwan/vulntab/pkg/slogx"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := defaultConfig()
	cfg.IdentityBackend = BackendSupabase
	cfg.SupabaseURL = "http://127.0.0.1:1"
	cfg.SupabaseAnonKey = "anon"
	cfg.DatabaseFile = filepath.Join(t.TempDir(), "console.db")
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.LogLevel = "error"
	cfg.ShutdownGracePeriod = time.Second
	return cfg
}

func TestNewStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("sqlite", func(t *testing.T) {
		db, err := NewStore(ctx, testConfig(t), slogx.Discard())
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		require.NoError(t, db.Cookies().PutCookie(ctx, domain.Cookie{Name: "token", SealedValue: []byte("sealed"), ExpiresAt: time.Now().Add(time.Hour)}))
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := testConfig(t)
		cfg.StoreDriver = DriverRedis
		cfg.RedisAddr = mr.Addr()

		db, err := NewStore(ctx, cfg, slogx.Discard())
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })

		_, err = db.Cookies().GetCookie(ctx, "token")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("unreachable redis", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.StoreDriver = DriverRedis
		cfg.RedisAddr = "127.0.0.1:1"

		_, err := NewStore(ctx, cfg, slogx.Discard())
		require.ErrorContains(t, err, "unreachable")
	})
}

func TestNewProvider(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cfg := testConfig(t)
	p, err := NewProvider(ctx, cfg, nil, slogx.Discard())
	require.NoError(t, err)
	require.Equal(t, BackendSupabase, p.Name())

	cfg.IdentityBackend = BackendFirebase
	cfg.FirebaseAPIKey = "fake-api-key"
	cfg.FirebaseProjectID = "demo-vulntab"
	cfg.FirebaseEmulatorHost = "127.0.0.1:9099"
	p, err = NewProvider(ctx, cfg, nil, slogx.Discard())
	require.NoError(t, err)
	require.Equal(t, BackendFirebase, p.Name())

	cfg.FirebaseAPIKey = ""
	p, err = NewProvider(ctx, cfg, nil, slogx.Discard())
	require.Error(t, err)
	require.Nil(t, p)
}

func TestApplicationServe(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	application, err := New(ctx, testConfig(t))
	require.NoError(t, err)
	require.NoError(t, application.Serve())
	t.Cleanup(func() { require.NoError(t, application.Shutdown()) })

	require.False(t, application.Session().State().IdentitySessionReady)

	resp, err := http.Get("http://" + application.Addr().String() + "/livez")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status   string `json:"status"`
		Identity string `json:"identity"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ok", body.Status)
	require.Equal(t, BackendSupabase, body.Identity)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.StoreDriver = "postgres"
	_, err := New(context.Background(), cfg)
	require.ErrorContains(t, err, "unknown store driver")
}
