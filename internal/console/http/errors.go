package http

import (
	"errors"
	"net/http"

	"github.com/aussiebroadwan/vulntab/internal/console/identity"
	"github.com/aussiebroadwan/vulntab/internal/console/service"
	"github.com/aussiebroadwan/vulntab/pkg/apisdk"
	"github.com/aussiebroadwan/vulntab/pkg/httpx"
	"github.com/aussiebroadwan/vulntab/pkg/slogx"
)

// writeServiceError maps err to a status and an ErrorResponse whose
// description is the user-facing message.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, snap *service.TwoFactorSnapshot) {
	log := slogx.FromContext(r.Context())
	body := ErrorResponse{ErrorDescription: service.MessageFor(err), TwoFactor: snap}
	status := http.StatusBadRequest

	var v *service.ValidationError
	var idErr *identity.Error
	var apiErr *apisdk.APIError
	switch {
	case errors.As(err, &v):
		body.Error = "invalid_request"
		body.Field = v.Field

	case errors.Is(err, service.ErrNoChallenge):
		status, body.Error = http.StatusConflict, "no_challenge"
		body.ErrorDescription = "No second factor step is in progress."
	case errors.Is(err, service.ErrFlowClosed):
		status, body.Error = http.StatusConflict, "flow_closed"
		body.ErrorDescription = service.MsgLoginAgain
	case errors.Is(err, service.ErrVerifyInFlight), errors.Is(err, service.ErrResendInFlight):
		status, body.Error = http.StatusConflict, "in_progress"
	case errors.Is(err, service.ErrResendNotReady):
		status, body.Error = http.StatusTooManyRequests, "resend_not_ready"
	case errors.Is(err, service.ErrAlreadySubmitted):
		status, body.Error = http.StatusConflict, "already_submitted"
		body.ErrorDescription = service.MsgLinkAlreadyUsed

	case errors.As(err, &apiErr):
		status, body.Error = http.StatusBadGateway, "backend_error"
		body.ErrorDescription = apiErr.Detail
		log.Warn("application backend error", "status", apiErr.StatusCode, "detail", apiErr.Detail)

	case errors.As(err, &idErr):
		body.Error = "identity_error"
		body.Code = string(idErr.Code)
		switch idErr.Code {
		case identity.CodeInvalidCredential, identity.CodeUserNotFound,
			identity.CodeUserTokenExpired, identity.CodeNoCurrentUser:
			status = http.StatusUnauthorized
		case identity.CodeTooManyRequests:
			status = http.StatusTooManyRequests
		case identity.CodeNetworkRequestFailed:
			status = http.StatusServiceUnavailable
		case identity.CodeInternalError:
			status = http.StatusBadGateway
		}

	default:
		status, body.Error = http.StatusInternalServerError, "server_error"
		log.Error("unexpected error", "error", err)
	}

	httpx.WriteJSON(w, status, body)
}

func writeBadJSON(w http.ResponseWriter, r *http.Request, err error) {
	slogx.FromContext(r.Context()).Warn("failed to parse request", "error", err)
	httpx.WriteJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:            "invalid_request",
		ErrorDescription: service.MsgInvalidRequest,
	})
}
