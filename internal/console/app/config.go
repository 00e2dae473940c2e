package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Identity backends and store drivers.
const (
	BackendFirebase = "firebase"
	BackendSupabase = "supabase"

	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

type Config struct {
	IdentityBackend string // firebase or supabase, fixed for the process (default: firebase)

	FirebaseAPIKey         string
	FirebaseProjectID      string
	FirebaseEmulatorHost   string // Optional: host:port of the Auth Emulator
	FirebaseVerifyIDTokens bool   // Verify ID tokens through OIDC discovery (default: false)

	SupabaseURL     string
	SupabaseAnonKey string

	SAMLProviderID  string // Optional: federated provider id
	KeycloakEnabled bool   // Supabase only: use the keycloak provider for federated sign-in

	APIURL         string        // Application backend (default: http://localhost:8000)
	PublicURL      string        // Where the browser reaches the console (default: http://127.0.0.1:5173)
	CookieName     string        // Persisted bearer cookie (default: token)
	ResendCooldown time.Duration // SMS resend cooldown (default: 30s)

	StoreDriver   string // sqlite or redis (default: sqlite)
	DatabaseFile  string // SQLite file (default: console.db)
	RedisAddr     string // Redis address (default: localhost:6379)
	MasterKeyPath string // Optional: key material for stored-token encryption

	ListenAddr           string        // Loopback API address (default: 127.0.0.1:5173)
	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: text)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1h)

	// OpenURL shows a federated sign-in page. Set by the caller, never
	// loaded from the environment.
	OpenURL func(string) error
}

// fileConfig is the optional TOML seed named by CONSOLE_CONFIG_FILE.
type fileConfig struct {
	Identity struct {
		Backend         string `toml:"backend"`
		SAMLProviderID  string `toml:"saml_provider_id"`
		KeycloakEnabled *bool  `toml:"keycloak_enabled"`
	} `toml:"identity"`
	Firebase struct {
		APIKey         string `toml:"api_key"`
		ProjectID      string `toml:"project_id"`
		EmulatorHost   string `toml:"emulator_host"`
		VerifyIDTokens *bool  `toml:"verify_id_tokens"`
	} `toml:"firebase"`
	Supabase struct {
		URL     string `toml:"url"`
		AnonKey string `toml:"anon_key"`
	} `toml:"supabase"`
	Console struct {
		APIURL            string `toml:"api_url"`
		PublicURL         string `toml:"public_url"`
		CookieName        string `toml:"cookie_name"`
		ListenAddr        string `toml:"listen_addr"`
		MFAResendCooldown string `toml:"mfa_resend_cooldown"`
	} `toml:"console"`
	Store struct {
		Driver        string `toml:"driver"`
		DatabaseFile  string `toml:"database_file"`
		RedisAddr     string `toml:"redis_addr"`
		MasterKeyPath string `toml:"master_key_path"`
	} `toml:"store"`
	Log struct {
		Env    string `toml:"env"`
		Level  string `toml:"level"`
		Format string `toml:"format"`
	} `toml:"log"`
}

func defaultConfig() Config {
	return Config{
		IdentityBackend:      BackendFirebase,
		APIURL:               "http://localhost:8000",
		PublicURL:            "http://127.0.0.1:5173",
		CookieName:           "token",
		ResendCooldown:       30 * time.Second,
		StoreDriver:          DriverSQLite,
		DatabaseFile:         "console.db",
		RedisAddr:            "localhost:6379",
		ListenAddr:           "127.0.0.1:5173",
		Env:                  "dev",
		LogLevel:             "info",
		LogFormat:            "text",
		ShutdownGracePeriod:  10 * time.Second,
		HousekeepingInterval: time.Hour,
	}
}

// LoadConfig builds the configuration from defaults, the optional TOML file
// named by CONSOLE_CONFIG_FILE, and the environment, in that order. The
// environment always wins.
func LoadConfig() (Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("CONSOLE_CONFIG_FILE"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return Config{}, err
		}
	}

	cfg = Config{
		IdentityBackend:        strings.ToLower(getEnvOrDefault("CONSOLE_IDENTITY_BACKEND", cfg.IdentityBackend)),
		FirebaseAPIKey:         getEnvOrDefault("FIREBASE_API_KEY", cfg.FirebaseAPIKey),
		FirebaseProjectID:      getEnvOrDefault("FIREBASE_PROJECT_ID", cfg.FirebaseProjectID),
		FirebaseEmulatorHost:   getEnvOrDefault("FIREBASE_AUTH_EMULATOR_HOST", cfg.FirebaseEmulatorHost),
		FirebaseVerifyIDTokens: getEnvBoolOrDefault("FIREBASE_VERIFY_ID_TOKENS", cfg.FirebaseVerifyIDTokens),
		SupabaseURL:            getEnvOrDefault("SUPABASE_URL", cfg.SupabaseURL),
		SupabaseAnonKey:        getEnvOrDefault("SUPABASE_ANON_KEY", cfg.SupabaseAnonKey),
		SAMLProviderID:         getEnvOrDefault("CONSOLE_SAML_PROVIDER_ID", cfg.SAMLProviderID),
		KeycloakEnabled:        getEnvBoolOrDefault("CONSOLE_KEYCLOAK_ENABLED", cfg.KeycloakEnabled),
		APIURL:                 getEnvOrDefault("CONSOLE_API_URL", cfg.APIURL),
		PublicURL:              strings.TrimSuffix(getEnvOrDefault("CONSOLE_PUBLIC_URL", cfg.PublicURL), "/"),
		CookieName:             getEnvOrDefault("CONSOLE_COOKIE_NAME", cfg.CookieName),
		ResendCooldown:         getEnvDurationOrDefault("CONSOLE_MFA_RESEND_COOLDOWN", cfg.ResendCooldown),
		StoreDriver:            strings.ToLower(getEnvOrDefault("CONSOLE_STORE_DRIVER", cfg.StoreDriver)),
		DatabaseFile:           getEnvOrDefault("CONSOLE_DATABASE_FILE", cfg.DatabaseFile),
		RedisAddr:              getEnvOrDefault("CONSOLE_REDIS_ADDR", cfg.RedisAddr),
		MasterKeyPath:          getEnvOrDefault("CONSOLE_MASTER_KEY_PATH", cfg.MasterKeyPath),
		ListenAddr:             getEnvOrDefault("CONSOLE_LISTEN_ADDR", cfg.ListenAddr),
		Env:                    getEnvOrDefault("ENV", cfg.Env),
		LogLevel:               getEnvOrDefault("LOG_LEVEL", cfg.LogLevel),
		LogFormat:              getEnvOrDefault("LOG_FORMAT", cfg.LogFormat),
		ShutdownGracePeriod:    getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", cfg.ShutdownGracePeriod),
		HousekeepingInterval:   getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", cfg.HousekeepingInterval),
	}

	return cfg, cfg.Validate()
}

func (c *Config) overlayFile(path string) error {
	var f fileConfig
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	setString(&c.IdentityBackend, f.Identity.Backend)
	setString(&c.SAMLProviderID, f.Identity.SAMLProviderID)
	setBool(&c.KeycloakEnabled, f.Identity.KeycloakEnabled)
	setString(&c.FirebaseAPIKey, f.Firebase.APIKey)
	setString(&c.FirebaseProjectID, f.Firebase.ProjectID)
	setString(&c.FirebaseEmulatorHost, f.Firebase.EmulatorHost)
	setBool(&c.FirebaseVerifyIDTokens, f.Firebase.VerifyIDTokens)
	setString(&c.SupabaseURL, f.Supabase.URL)
	setString(&c.SupabaseAnonKey, f.Supabase.AnonKey)
	setString(&c.APIURL, f.Console.APIURL)
	setString(&c.PublicURL, f.Console.PublicURL)
	setString(&c.CookieName, f.Console.CookieName)
	setString(&c.ListenAddr, f.Console.ListenAddr)
	setString(&c.StoreDriver, f.Store.Driver)
	setString(&c.DatabaseFile, f.Store.DatabaseFile)
	setString(&c.RedisAddr, f.Store.RedisAddr)
	setString(&c.MasterKeyPath, f.Store.MasterKeyPath)
	setString(&c.Env, f.Log.Env)
	setString(&c.LogLevel, f.Log.Level)
	setString(&c.LogFormat, f.Log.Format)

	if v := f.Console.MFAResendCooldown; v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config file %s: invalid mfa_resend_cooldown: %w", path, err)
		}
		c.ResendCooldown = d
	}
	return nil
}

// Validate checks the identity backend selection and the settings it needs.
func (c Config) Validate() error {
	var errs []error

	switch c.IdentityBackend {
	case BackendFirebase:
		if c.FirebaseAPIKey == "" {
			errs = append(errs, errors.New("FIREBASE_API_KEY is required for the firebase backend"))
		}
		if c.FirebaseProjectID == "" {
			errs = append(errs, errors.New("FIREBASE_PROJECT_ID is required for the firebase backend"))
		}
	case BackendSupabase:
		if c.SupabaseURL == "" {
			errs = append(errs, errors.New("SUPABASE_URL is required for the supabase backend"))
		}
		if c.SupabaseAnonKey == "" {
			errs = append(errs, errors.New("SUPABASE_ANON_KEY is required for the supabase backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown identity backend %q (want %s or %s)", c.IdentityBackend, BackendFirebase, BackendSupabase))
	}

	if c.StoreDriver != DriverSQLite && c.StoreDriver != DriverRedis {
		errs = append(errs, fmt.Errorf("unknown store driver %q (want %s or %s)", c.StoreDriver, DriverSQLite, DriverRedis))
	}
	if c.ResendCooldown < 0 {
		errs = append(errs, errors.New("CONSOLE_MFA_RESEND_COOLDOWN must not be negative"))
	}

	return errors.Join(errs...)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Plain integers are seconds
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	return defaultValue
}
