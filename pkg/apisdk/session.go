package apisdk

import (
	"context"
	"fmt"
)

// TokenSource yields the bearer token for a request. Implementations may
// block until a token is available and must honour ctx cancellation.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Session performs backend calls with tokens drawn from a TokenSource, so
// requests are held rather than sent unauthenticated while the identity
// session is still being established.
type Session struct {
	client *SDKClient
	tokens TokenSource
}

// NewSession binds the client to a TokenSource.
func (c *SDKClient) NewSession(tokens TokenSource) *Session {
	return &Session{client: c, tokens: tokens}
}

func (s *Session) token(ctx context.Context) (string, error) {
	tok, err := s.tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to obtain bearer token: %w", err)
	}
	if tok == "" {
		return "", ErrNoToken
	}
	return tok, nil
}

// GetMe fetches the caller's backend account.
func (s *Session) GetMe(ctx context.Context) (*User, error) {
	tok, err := s.token(ctx)
	if err != nil {
		return nil, err
	}
	return s.client.GetMe(ctx, tok)
}

// CreateUser creates the caller's backend account.
func (s *Session) CreateUser(ctx context.Context, req CreateUserRequest) (*User, error) {
	tok, err := s.token(ctx)
	if err != nil {
		return nil, err
	}
	return s.client.CreateUser(ctx, tok, req)
}

// UpdateUser updates the caller's backend account.
func (s *Session) UpdateUser(ctx context.Context, req UpdateUserRequest) (*User, error) {
	tok, err := s.token(ctx)
	if err != nil {
		return nil, err
	}
	return s.client.UpdateUser(ctx, tok, req)
}
