package apisdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// SDKClient is a client for the application backend.
type SDKClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewSDKClient creates a new backend client.
func NewSDKClient(baseURL string) *SDKClient {
	return &SDKClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// GetMe calls GET /users/me with token.
func (c *SDKClient) GetMe(ctx context.Context, token string) (*User, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/users/me", token, nil)
	if err != nil {
		return nil, err
	}

	var user User
	if err := decodeJSON(resp, &user, http.StatusOK); err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateUser calls POST /users with token. The backend keys the new account
// by the identity's user id taken from the token.
func (c *SDKClient) CreateUser(ctx context.Context, token string, req CreateUserRequest) (*User, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/users", token, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var user User
	if err := decodeJSON(resp, &user, http.StatusOK, http.StatusCreated); err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateUser calls PUT /users/me with token.
func (c *SDKClient) UpdateUser(ctx context.Context, token string, req UpdateUserRequest) (*User, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPut, "/users/me", token, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var user User
	if err := decodeJSON(resp, &user, http.StatusOK); err != nil {
		return nil, err
	}
	return &user, nil
}
