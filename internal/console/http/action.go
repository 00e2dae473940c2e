package http

import (
	"errors"
	"net/http"

	"github.com/aussiebroadwan/vulntab/internal/console/service"
	"github.com/aussiebroadwan/vulntab/pkg/httpx"
)

// ActionHandler serves emailed action-code links.
type ActionHandler struct {
	Actions *service.ActionCodeService
}

// HandleGet handles GET /auth/action
//
//	@Summary		Open an action link
//	@Description	Parses mode and oobCode. For resetPassword the code is checked and the account email returned.
//	@Tags			Action Codes
//	@Produce		json
//	@Param			mode	query		string	true	"resetPassword, verifyEmail or recoverEmail"
//	@Param			oobCode	query		string	true	"Action code"
//	@Success		200		{object}	service.ActionView
//	@Router			/auth/action [get].
func (h *ActionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, h.Actions.Prepare(r.Context(), r.URL.RawQuery))
}

// HandlePost handles POST /auth/action
//
//	@Summary		Submit an action link
//	@Description	Performs the action once. The returned view is always disabled; a second submission is refused.
//	@Tags			Action Codes
//	@Accept			json
//	@Produce		json
//	@Param			mode	query		string				true	"resetPassword, verifyEmail or recoverEmail"
//	@Param			oobCode	query		string				true	"Action code"
//	@Param			request	body		ActionSubmitRequest	false	"New password for resetPassword"
//	@Success		200		{object}	service.ActionView
//	@Failure		400		{object}	ErrorResponse	"Password too short"
//	@Failure		409		{object}	service.ActionView	"Already submitted"
//	@Router			/auth/action [post].
func (h *ActionHandler) HandlePost(w http.ResponseWriter, r *http.Request) {
	var req ActionSubmitRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			writeBadJSON(w, r, err)
			return
		}
	}

	view, err := h.Actions.Submit(r.Context(), r.URL.RawQuery, req.NewPassword)
	switch {
	case errors.Is(err, service.ErrAlreadySubmitted):
		httpx.WriteJSON(w, http.StatusConflict, view)
	case err != nil:
		writeServiceError(w, r, err, nil)
	default:
		httpx.WriteJSON(w, http.StatusOK, view)
	}
}
