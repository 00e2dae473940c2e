package apisdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Backend detail strings the sign-in flow reacts to.
const (
	DetailNoSuchUser       = "No such user"
	DetailEmailNotVerified = "Email is not verified"
)

// ErrNoToken is returned by a Session whose TokenSource yields no token.
var ErrNoToken = errors.New("apisdk: no bearer token available")

// APIError is a non-2xx backend response.
type APIError struct {
	StatusCode int
	Detail     string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("backend HTTP %d: %s", e.StatusCode, e.Detail)
}

// IsEmailNotVerified reports whether err is the backend refusing an identity
// whose email address has not been verified yet.
func IsEmailNotVerified(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && strings.HasPrefix(apiErr.Detail, DetailEmailNotVerified)
}

// IsNoSuchUser reports whether err is the backend saying no account exists
// for the identity.
func IsNoSuchUser(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Detail == DetailNoSuchUser
}

// parseErrorResponse turns a non-2xx response body into an *APIError. The
// detail field is a string for domain errors and a list for request
// validation errors.
func parseErrorResponse(resp *http.Response, body []byte) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var env errorBody
	if err := json.Unmarshal(body, &env); err == nil {
		switch d := env.Detail.(type) {
		case string:
			apiErr.Detail = d
		case nil:
		default:
			raw, _ := json.Marshal(d)
			apiErr.Detail = string(raw)
		}
	}

	if apiErr.Detail == "" {
		apiErr.Detail = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
