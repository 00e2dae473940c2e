package http

import (
	"net/http"

	"github.com/aussiebroadwan/vulntab/internal/console/identity"
	"github.com/aussiebroadwan/vulntab/internal/console/service"
	"github.com/aussiebroadwan/vulntab/pkg/httpx"
	"github.com/aussiebroadwan/vulntab/pkg/slogx"
)

// LoginHandler serves the sign-in, federated, logout and password-reset
// endpoints.
type LoginHandler struct {
	Login    *service.LoginService
	ReturnTo *service.ReturnTo

	// PublicURL is the base the browser reaches the console on; federated
	// callbacks are rebuilt against it.
	PublicURL     string
	ResetSettings identity.ActionCodeSettings
}

func (h *LoginHandler) captureReturnTo(raw string) {
	if raw != "" {
		h.ReturnTo.Capture(service.ParseDestination(raw))
	}
}

// HandleLogin handles POST /v1/auth/login
//
//	@Summary		Sign in with email and password
//	@Description	Returns a navigation decision, or the second factor step when the account has SMS two-factor enrolled.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		LoginRequest		true	"Credentials"
//	@Success		200		{object}	service.LoginResult	"Decision or two-factor snapshot"
//	@Failure		400		{object}	ErrorResponse		"Invalid input"
//	@Failure		401		{object}	ErrorResponse		"Wrong email or password"
//	@Failure		429		{object}	ErrorResponse		"Too many attempts"
//	@Router			/v1/auth/login [post].
func (h *LoginHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeBadJSON(w, r, err)
		return
	}
	h.captureReturnTo(req.ReturnTo)

	res, err := h.Login.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

// HandleFederated handles POST /v1/auth/federated
//
//	@Summary		Start a federated sign-in
//	@Description	Returns the identity provider URL to send the browser to. The sign-in completes at /auth/callback.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		FederatedRequest	false	"Provider override"
//	@Success		200		{object}	FederatedResponse
//	@Failure		400		{object}	ErrorResponse
//	@Router			/v1/auth/federated [post].
func (h *LoginHandler) HandleFederated(w http.ResponseWriter, r *http.Request) {
	var req FederatedRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			writeBadJSON(w, r, err)
			return
		}
	}
	h.captureReturnTo(req.ReturnTo)

	authURL, err := h.Login.FederatedRedirect(r.Context(), req.Provider, h.PublicURL+"/auth/callback")
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, FederatedResponse{AuthURL: authURL})
}

// HandleCallback handles GET /auth/callback
//
//	@Summary		Federated sign-in callback
//	@Description	Landing URL of a federated sign-in. Completes it and returns the decision.
//	@Tags			Auth
//	@Produce		json
//	@Param			state	query		string				true	"Sign-in state"
//	@Success		200		{object}	service.LoginResult
//	@Failure		401		{object}	ErrorResponse
//	@Router			/auth/callback [get].
func (h *LoginHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	res, err := h.Login.CompleteFederated(r.Context(), h.PublicURL+r.URL.RequestURI())
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

// HandleLogout handles POST /v1/auth/logout
//
//	@Summary		Sign out
//	@Description	Ends the session and clears the persisted bearer cookie. Safe without a session.
//	@Tags			Auth
//	@Success		204
//	@Router			/v1/auth/logout [post].
func (h *LoginHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.Login.Logout(r.Context()); err != nil {
		// Local state is cleared regardless.
		slogx.FromContext(r.Context()).Warn("logout reported an error", "error", err)
	}
	httpx.NoCache(w)
	w.WriteHeader(http.StatusNoContent)
}

// HandlePasswordReset handles POST /v1/auth/password-reset
//
//	@Summary		Send a password-reset email
//	@Description	Always reports success for a well-formed address so the form does not reveal which accounts exist.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		PasswordResetRequest	true	"Account email"
//	@Success		202		{object}	MessageResponse
//	@Failure		400		{object}	ErrorResponse
//	@Router			/v1/auth/password-reset [post].
func (h *LoginHandler) HandlePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeBadJSON(w, r, err)
		return
	}
	if err := h.Login.SendPasswordReset(r.Context(), req.Email, h.ResetSettings); err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, MessageResponse{Message: service.MsgPasswordResetSent})
}
