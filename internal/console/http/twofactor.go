package http

import (
	"net/http"

	"github.com/aussiebroadwan/vulntab/internal/console/service"
	"github.com/aussiebroadwan/vulntab/pkg/httpx"
	"github.com/aussiebroadwan/vulntab/pkg/slogx"
)

// TwoFactorHandler serves the SMS second factor step.
type TwoFactorHandler struct {
	Login *service.LoginService
}

// HandleSnapshot handles GET /v1/auth/two-factor
//
//	@Summary		Second factor state
//	@Description	Current step, resend cooldown and any errors. Polled by the UI once per second while the step is shown.
//	@Tags			Two-Factor
//	@Produce		json
//	@Success		200	{object}	service.TwoFactorSnapshot
//	@Router			/v1/auth/two-factor [get].
func (h *TwoFactorHandler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, h.Login.TwoFactorSnapshot())
}

// HandleVerify handles POST /v1/auth/two-factor/verify
//
//	@Summary		Submit the SMS code
//	@Tags			Two-Factor
//	@Accept			json
//	@Produce		json
//	@Param			request	body		VerifyCodeRequest	true	"Six digit code"
//	@Success		200		{object}	service.LoginResult	"Navigation decision"
//	@Failure		400		{object}	ErrorResponse		"Incomplete or wrong code, with the updated snapshot"
//	@Failure		409		{object}	ErrorResponse		"No step in progress or a submission is already running"
//	@Router			/v1/auth/two-factor/verify [post].
func (h *TwoFactorHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var req VerifyCodeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeBadJSON(w, r, err)
		return
	}
	r = r.WithContext(slogx.With(r.Context(), "flow", "two_factor"))
	res, err := h.Login.VerifyTwoFactor(r.Context(), req.Code)
	if err != nil {
		writeServiceError(w, r, err, res.TwoFactor)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

// HandleResend handles POST /v1/auth/two-factor/resend
//
//	@Summary		Resend the SMS code
//	@Description	Allowed once the cooldown has elapsed. Replaces the challenge and restarts the cooldown.
//	@Tags			Two-Factor
//	@Produce		json
//	@Success		200	{object}	service.TwoFactorSnapshot
//	@Failure		409	{object}	ErrorResponse	"No step in progress"
//	@Failure		429	{object}	ErrorResponse	"Cooldown still running"
//	@Router			/v1/auth/two-factor/resend [post].
func (h *TwoFactorHandler) HandleResend(w http.ResponseWriter, r *http.Request) {
	r = r.WithContext(slogx.With(r.Context(), "flow", "two_factor"))
	snap, err := h.Login.ResendTwoFactor(r.Context())
	if err != nil {
		writeServiceError(w, r, err, &snap)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, snap)
}

// HandleCancel handles DELETE /v1/auth/two-factor
//
//	@Summary		Abandon the second factor step
//	@Tags			Two-Factor
//	@Success		204
//	@Router			/v1/auth/two-factor [delete].
func (h *TwoFactorHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	h.Login.CancelTwoFactor()
	httpx.NoCache(w)
	w.WriteHeader(http.StatusNoContent)
}
