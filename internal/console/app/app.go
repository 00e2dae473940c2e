package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	httpapi "github.com/aussiebroadwan/vulntab/internal/console/http"
	"github.com/aussiebroadwan/vulntab/internal/console/identity"
	"github.com/aussiebroadwan/vulntab/internal/console/service"
	"github.com/aussiebroadwan/vulntab/internal/console/session"
	"github.com/aussiebroadwan/vulntab/internal/console/store"
	"github.com/aussiebroadwan/vulntab/pkg/apisdk"
	"github.com/aussiebroadwan/vulntab/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application encapsulates the console with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db       store.Store
	sealers  Sealers
	provider identity.Provider
	session  *session.Session
	api      *apisdk.SDKClient
	returnTo *service.ReturnTo

	// Services
	bootstrapService    *service.BootstrapService
	loginService        *service.LoginService
	actionCodeService   *service.ActionCodeService
	housekeepingService *service.HousekeepingService

	// HTTP server
	server *http.Server
	router *httpapi.Router

	mu           sync.Mutex
	addr         net.Addr
	serving      bool
	housekeeping bool
}

// New creates a new Application instance with all dependencies initialized.
// The session is bound to the identity provider but nothing is restored
// until Start.
func New(ctx context.Context, cfg Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "vulntab-console",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
		returnTo: &service.ReturnTo{},
	}

	sealers, err := InitSealers(cfg, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load master key: %w", err)
	}
	app.sealers = sealers

	if app.db, err = NewStore(ctx, cfg, app.logger); err != nil {
		return nil, err
	}

	app.provider, err = NewProvider(ctx, cfg, store.NewCredentialPersistence(app.db, sealers.Credentials), app.logger)
	if err != nil {
		_ = app.db.Close()
		return nil, fmt.Errorf("failed to initialize identity backend: %w", err)
	}
	app.logger.Info("identity backend selected", "backend", app.provider.Name())

	jar := session.NewCookieJar(app.db.Cookies(), sealers.Cookies, cfg.CookieName, time.Now)
	app.session = session.New(jar, app.logger)
	app.session.Bind(app.provider)
	app.api = apisdk.NewSDKClient(cfg.APIURL)

	app.initServices()
	app.initHTTP()

	return app, nil
}

// initServices initializes all business logic services
func (app *Application) initServices() {
	settings := identity.ActionCodeSettings{URL: app.cfg.PublicURL + service.DefaultLoginPath}

	app.bootstrapService = &service.BootstrapService{
		Backend:        app.api,
		Provider:       app.provider,
		Session:        app.session,
		ReturnTo:       app.returnTo,
		Logger:         app.logger,
		VerifySettings: settings,
	}
	app.loginService = &service.LoginService{
		Provider:       app.provider,
		Session:        app.session,
		Bootstrap:      app.bootstrapService,
		Clock:          service.SystemClock{},
		ResendCooldown: app.cfg.ResendCooldown,
		Logger:         app.logger,
	}
	app.actionCodeService = &service.ActionCodeService{
		Provider: app.provider,
		Codes:    app.db.ActionCodes(),
		Logger:   app.logger,
	}
	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(app.provider.Name(), BuildVersion, app.db, app.logger)

	// Wire services to router
	router.Session = app.session
	router.API = app.api
	router.ReturnTo = app.returnTo
	router.LoginService = app.loginService
	router.ActionCodeService = app.actionCodeService
	router.PublicURL = app.cfg.PublicURL
	router.ResetSettings = identity.ActionCodeSettings{URL: app.cfg.PublicURL + service.DefaultLoginPath}
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              app.cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}

// Start recovers a previous session: the bearer cookie as a provisional
// token, then the adapter's own credential, which confirms the session if
// it is still valid.
func (app *Application) Start(ctx context.Context) error {
	if err := app.session.Restore(ctx); err != nil {
		app.logger.Warn("failed to read bearer cookie", "error", err)
	}
	if err := app.provider.Restore(ctx); err != nil {
		if identity.IsCode(err, identity.CodeNetworkRequestFailed) {
			return err
		}
		app.logger.Info("no identity session restored", "error", err)
	}
	return nil
}

// Serve starts the loopback API in the background. It fails fast when the
// address is taken.
func (app *Application) Serve() error {
	ln, err := net.Listen("tcp", app.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.cfg.ListenAddr, err)
	}

	app.mu.Lock()
	app.serving = true
	app.addr = ln.Addr()
	app.mu.Unlock()

	app.logger.Info("console API listening", "addr", ln.Addr().String(), "version", BuildVersion)
	go func() {
		if err := app.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error("server failed", "error", err)
		}
	}()
	return nil
}

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	ctx := context.Background()
	if err := app.Start(ctx); err != nil {
		app.logger.Warn("identity backend unreachable at start-up", "error", err)
	}

	app.mu.Lock()
	app.housekeeping = true
	app.mu.Unlock()
	app.housekeepingService.Start()

	if err := app.Serve(); err != nil {
		_ = app.Shutdown()
		return err
	}

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	sig := <-shutdown
	app.logger.Info("shutdown signal received", "signal", sig)

	if err := app.Shutdown(); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the application. The session itself is
// kept: its cookie and the adapter's credential stay in the store for the
// next start.
func (app *Application) Shutdown() error {
	app.logger.Debug("shutting down console...")

	app.mu.Lock()
	serving, housekeeping := app.serving, app.housekeeping
	app.serving, app.housekeeping = false, false
	app.mu.Unlock()

	if serving {
		ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
		defer cancel()

		if err := app.server.Shutdown(ctx); err != nil {
			app.logger.Error("graceful server shutdown failed", "error", err)
			if err := app.server.Close(); err != nil {
				app.logger.Error("error closing server", "error", err)
			}
		}
	}

	if housekeeping {
		app.housekeepingService.Stop()
	}

	app.loginService.CancelTwoFactor()
	app.session.Close()

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Debug("console stopped")
	return nil
}

func (app *Application) Logger() *slog.Logger { return app.logger }
func (app *Application) Provider() identity.Provider { return app.provider }
func (app *Application) Session() *session.Session { return app.session }
func (app *Application) API() *apisdk.SDKClient { return app.api }
func (app *Application) ReturnTo() *service.ReturnTo { return app.returnTo }
func (app *Application) Login() *service.LoginService { return app.loginService }
func (app *Application) Bootstrap() *service.BootstrapService { return app.bootstrapService }
func (app *Application) ActionCodes() *service.ActionCodeService {
	return app.actionCodeService
}

// ResetSettings is passed to password-reset emails.
func (app *Application) ResetSettings() identity.ActionCodeSettings {
	return identity.ActionCodeSettings{URL: app.cfg.PublicURL + service.DefaultLoginPath}
}

func (app *Application) Config() Config { return app.cfg }

// Addr is the address the API listens on, or nil before Serve.
func (app *Application) Addr() net.Addr {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.addr
}
