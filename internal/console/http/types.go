package http

import "github.com/aussiebroadwan/vulntab/internal/console/service"

// HealthResponse is returned by /livez and /readyz.
type HealthResponse struct {
	Status   string        `json:"status"`
	Uptime   string        `json:"uptime"`
	Version  string        `json:"version"`
	Identity string        `json:"identity"`
	Checks   *HealthChecks `json:"checks,omitempty"`
}

type HealthChecks struct {
	Store string `json:"store"`
}

// ErrorResponse is the error body of every console endpoint. Field names
// the offending input for validation errors and Code carries the identity
// backend's error code when there is one.
type ErrorResponse struct {
	Error            string                     `json:"error"`
	ErrorDescription string                     `json:"error_description,omitempty"`
	Field            string                     `json:"field,omitempty"`
	Code             string                     `json:"code,omitempty"`
	TwoFactor        *service.TwoFactorSnapshot `json:"two_factor,omitempty"`
}

// SessionResponse is the read-only session view.
type SessionResponse struct {
	Ready         bool   `json:"ready"`
	Authenticated bool   `json:"authenticated"`
	Identity      string `json:"identity"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	// ReturnTo is the path the user was headed for, e.g. "/tickets?page=2".
	ReturnTo string `json:"return_to,omitempty"`
}

type FederatedRequest struct {
	Provider string `json:"provider,omitempty"`
	ReturnTo string `json:"return_to,omitempty"`
}

type FederatedResponse struct {
	AuthURL string `json:"auth_url"`
}

type VerifyCodeRequest struct {
	Code string `json:"code"`
}

type PasswordResetRequest struct {
	Email string `json:"email"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

// ActionSubmitRequest carries the new password for resetPassword links.
type ActionSubmitRequest struct {
	NewPassword string `json:"new_password,omitempty"`
}
