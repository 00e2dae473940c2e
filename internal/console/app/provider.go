package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aussiebroadwan/vulntab/internal/console/identity"
	"github.com/aussiebroadwan/vulntab/internal/console/identity/firebase"
	"github.com/aussiebroadwan/vulntab/internal/console/identity/supabase"
	"github.com/aussiebroadwan/vulntab/internal/console/store"
	"github.com/aussiebroadwan/vulntab/internal/console/store/drivers/redis"
	"github.com/aussiebroadwan/vulntab/internal/console/store/drivers/sqlite"
	goredis "github.com/redis/go-redis/v9"
)

const keycloakProvider = "keycloak"

// NewProvider builds the one identity adapter the process uses. Nothing
// else branches on the backend.
func NewProvider(ctx context.Context, cfg Config, p identity.Persistence, logger *slog.Logger) (identity.Provider, error) {
	callback := cfg.PublicURL + "/auth/callback"

	switch cfg.IdentityBackend {
	case BackendFirebase:
		fp, err := firebase.New(ctx, firebase.Config{
			APIKey:         cfg.FirebaseAPIKey,
			ProjectID:      cfg.FirebaseProjectID,
			EmulatorHost:   cfg.FirebaseEmulatorHost,
			SAMLProviderID: cfg.SAMLProviderID,
			CallbackURL:    callback,
			VerifyIDTokens: cfg.FirebaseVerifyIDTokens,
			Persistence:    p,
			Logger:         logger.With("identity", BackendFirebase),
			OpenURL:        cfg.OpenURL,
		})
		if err != nil {
			return nil, err
		}
		return fp, nil

	case BackendSupabase:
		sc := supabase.Config{
			URL:            cfg.SupabaseURL,
			AnonKey:        cfg.SupabaseAnonKey,
			SAMLProviderID: cfg.SAMLProviderID,
			CallbackURL:    callback,
			Persistence:    p,
			Logger:         logger.With("identity", BackendSupabase),
			OpenURL:        cfg.OpenURL,
		}
		if cfg.KeycloakEnabled {
			sc.FederatedProvider = keycloakProvider
		}
		sp, err := supabase.New(sc)
		if err != nil {
			return nil, err
		}
		return sp, nil
	}

	return nil, fmt.Errorf("unknown identity backend %q", cfg.IdentityBackend)
}

// NewStore opens the configured store driver and applies its migrations.
func NewStore(ctx context.Context, cfg Config, logger *slog.Logger) (store.Store, error) {
	var db store.Store

	switch cfg.StoreDriver {
	case DriverSQLite:
		s, err := sqlite.NewStore(cfg.DatabaseFile)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		db = s
	case DriverRedis:
		db = redis.NewStore(goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr}), redis.Options{})
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	if err := db.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store %s is unreachable: %w", cfg.StoreDriver, err)
	}
	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}

	logger.Info("store ready", "driver", cfg.StoreDriver)
	return db, nil
}
