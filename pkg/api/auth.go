package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"opus/pkg/domain"
)

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Name     string `json:"name" validate:"required"`
	Phone    string `json:"phone,omitempty"`
}

type AuthResponse struct {
	User  domain.User `json:"user"`
	Token string      `json:"token"`
}

func (c *Client) Login(ctx context.Context, req LoginRequest) (AuthResponse, error) {
	if err := c.check(req); err != nil {
		return AuthResponse{}, err
	}
	var resp AuthResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/auth/login", nil, public, req, &resp); err != nil {
		return AuthResponse{}, err
	}
	return resp, nil
}

func (c *Client) Register(ctx context.Context, req RegisterRequest) (AuthResponse, error) {
	if err := c.check(req); err != nil {
		return AuthResponse{}, err
	}
	var resp AuthResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/auth/register", nil, public, req, &resp); err != nil {
		return AuthResponse{}, err
	}
	return resp, nil
}

// Me returns the signed-in user. The backend may answer with {"user": {...}} or the bare user.
func (c *Client) Me(ctx context.Context) (domain.User, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, "/v1/auth/me", nil, bearer, nil, &raw); err != nil {
		return domain.User{}, err
	}
	var wrapped struct {
		User *domain.User `json:"user"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return domain.User{}, fmt.Errorf("%w: GET /v1/auth/me: %v", ErrMalformedResponse, err)
	}
	if wrapped.User != nil {
		return *wrapped.User, nil
	}
	var user domain.User
	if err := json.Unmarshal(raw, &user); err != nil {
		return domain.User{}, fmt.Errorf("%w: GET /v1/auth/me: %v", ErrMalformedResponse, err)
	}
	return user, nil
}

// Health probes backend reachability with the short health timeout.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, HealthTimeout, http.MethodGet, "/health", nil, public, nil, nil)
}
