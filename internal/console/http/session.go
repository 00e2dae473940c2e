package http

import (
	"net/http"

	"github.com/aussiebroadwan/vulntab/internal/console/session"
	"github.com/aussiebroadwan/vulntab/pkg/apisdk"
	"github.com/aussiebroadwan/vulntab/pkg/httpx"
	"github.com/aussiebroadwan/vulntab/pkg/slogx"
)

// SessionHandler exposes the session state and the backend's view of the
// signed-in user.
type SessionHandler struct {
	Session  *session.Session
	API      *apisdk.SDKClient
	Identity string
}

// HandleState handles GET /v1/auth/session
//
//	@Summary		Session state
//	@Description	ready is true once the identity backend has confirmed the session. authenticated is true whenever a bearer token is held, including a provisional one recovered from the cookie.
//	@Tags			Auth
//	@Produce		json
//	@Success		200	{object}	SessionResponse
//	@Router			/v1/auth/session [get].
func (h *SessionHandler) HandleState(w http.ResponseWriter, r *http.Request) {
	st := h.Session.State()
	httpx.WriteJSON(w, http.StatusOK, SessionResponse{
		Ready:         st.IdentitySessionReady,
		Authenticated: st.BearerToken != "",
		Identity:      h.Identity,
	})
}

// HandleMe handles GET /v1/auth/me
//
//	@Summary		Backend account of the signed-in user
//	@Tags			Auth
//	@Produce		json
//	@Success		200	{object}	apisdk.User
//	@Failure		401	{object}	ErrorResponse	"No confirmed session"
//	@Failure		502	{object}	ErrorResponse	"Backend refused the session"
//	@Router			/v1/auth/me [get].
func (h *SessionHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tok, _ := httpx.BearerFromContext(ctx)

	me, err := h.API.GetMe(ctx, tok)
	if err != nil {
		slogx.FromContext(ctx).Warn("backend refused session", "error", err)
		writeServiceError(w, r, err, nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, me)
}

// confirmedBearer is the RequireSession source backed by the session.
func (h *SessionHandler) confirmedBearer() (string, bool) {
	st := h.Session.State()
	return st.BearerToken, st.IdentitySessionReady && st.BearerToken != ""
}
