package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/vulntab/internal/console/identity"
	"github.com/aussiebroadwan/vulntab/internal/console/service"
	"github.com/aussiebroadwan/vulntab/internal/console/session"
	"github.com/aussiebroadwan/vulntab/internal/console/store"
	"github.com/aussiebroadwan/vulntab/pkg/apisdk"
	"github.com/aussiebroadwan/vulntab/pkg/httpx"
	"github.com/aussiebroadwan/vulntab/pkg/slogx"

	_ "github.com/aussiebroadwan/vulntab/api/console" // Swagger docs
	httpSwagger "github.com/swaggo/http-swagger"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	identity     string
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger
	store        store.Store

	Session           *session.Session
	API               *apisdk.SDKClient
	ReturnTo          *service.ReturnTo
	LoginService      *service.LoginService
	ActionCodeService *service.ActionCodeService
	PublicURL         string
	ResetSettings     identity.ActionCodeSettings
}

func NewRouter(identityName, buildVersion string, st store.Store, logger *slog.Logger) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		identity:     identityName,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		logger:       logger,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
		httpx.LoopbackOnly,
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerSystem()
	r.registerSession()
	r.registerLogin()
	r.registerTwoFactor()
	r.registerActions()

	r.Mux.Handle("/swagger/", httpSwagger.Handler())
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title			vulntab Console API
//	@version		0.1.0
//	@description	Loopback API of the vulntab console. It drives sign-in, the SMS second factor, the backend session bootstrap and emailed action links.
//	@description
//	@description	Only requests addressed to a loopback host are served.
//
//	@contact.name	AussieBroadWAN Team
//	@contact.url	https://github.com/aussiebroadwan/vulntab
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host			127.0.0.1:5173
//	@BasePath		/
//
//	@schemes		http
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion, r.identity),
			httpx.RateLimitByRoute(httpx.LenientLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.identity, r.store),
			httpx.RateLimitByRoute(httpx.LenientLimit),
		),
	)
}

func (r *Router) registerSession() {
	h := &SessionHandler{Session: r.Session, API: r.API, Identity: r.identity}

	r.Mux.Handle("GET /v1/auth/session",
		httpx.Chain(http.HandlerFunc(h.HandleState),
			httpx.RateLimitByRoute(httpx.LenientLimit),
		),
	)
	r.Mux.Handle("GET /v1/auth/me",
		httpx.Chain(http.HandlerFunc(h.HandleMe),
			httpx.RequireSession(h.confirmedBearer),
			httpx.RateLimitByRoute(httpx.ModerateLimit),
		),
	)
}

func (r *Router) registerLogin() {
	h := &LoginHandler{
		Login:         r.LoginService,
		ReturnTo:      r.ReturnTo,
		PublicURL:     r.PublicURL,
		ResetSettings: r.ResetSettings,
	}

	// Credential submission: strict.
	r.Mux.Handle("POST /v1/auth/login",
		httpx.Chain(http.HandlerFunc(h.HandleLogin),
			httpx.RateLimitByRoute(httpx.StrictLimit),
		),
	)
	r.Mux.Handle("POST /v1/auth/federated",
		httpx.Chain(http.HandlerFunc(h.HandleFederated),
			httpx.RateLimitByRoute(httpx.ModerateLimit),
		),
	)
	r.Mux.Handle("GET /auth/callback",
		httpx.Chain(http.HandlerFunc(h.HandleCallback),
			httpx.RateLimitByRoute(httpx.ModerateLimit),
		),
	)
	r.Mux.Handle("POST /v1/auth/logout", http.HandlerFunc(h.HandleLogout))

	// Sends email: moderate.
	r.Mux.Handle("POST /v1/auth/password-reset",
		httpx.Chain(http.HandlerFunc(h.HandlePasswordReset),
			httpx.RateLimitByRoute(httpx.ModerateLimit),
		),
	)
}

func (r *Router) registerTwoFactor() {
	h := &TwoFactorHandler{Login: r.LoginService}

	// The UI polls the snapshot every second while the step is shown.
	r.Mux.Handle("GET /v1/auth/two-factor",
		httpx.Chain(http.HandlerFunc(h.HandleSnapshot),
			httpx.RateLimitByRoute(httpx.LenientLimit),
		),
	)
	r.Mux.Handle("POST /v1/auth/two-factor/verify",
		httpx.Chain(http.HandlerFunc(h.HandleVerify),
			httpx.RateLimitByRoute(httpx.StrictLimit),
		),
	)
	r.Mux.Handle("POST /v1/auth/two-factor/resend",
		httpx.Chain(http.HandlerFunc(h.HandleResend),
			httpx.RateLimitByRoute(httpx.ModerateLimit),
		),
	)
	r.Mux.Handle("DELETE /v1/auth/two-factor", http.HandlerFunc(h.HandleCancel))
}

func (r *Router) registerActions() {
	h := &ActionHandler{Actions: r.ActionCodeService}

	r.Mux.Handle("GET /auth/action",
		httpx.Chain(http.HandlerFunc(h.HandleGet),
			httpx.RateLimitByRoute(httpx.ModerateLimit),
		),
	)
	r.Mux.Handle("POST /auth/action",
		httpx.Chain(http.HandlerFunc(h.HandlePost),
			httpx.RateLimitByRoute(httpx.StrictLimit),
		),
	)
}
