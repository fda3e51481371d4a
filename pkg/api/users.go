package api

import (
	"context"
	"net/http"

	"opus/pkg/domain"
)

type UpdateUserRequest struct {
	Name          string      `json:"name,omitempty"`
	PhotoURL      string      `json:"photo_url,omitempty" validate:"omitempty,url"`
	PreferredMode domain.Mode `json:"preferred_mode,omitempty" validate:"omitempty,oneof=consumer provider"`
}

func (c *Client) GetMe(ctx context.Context) (domain.User, error) {
	var user domain.User
	if err := c.doJSON(ctx, http.MethodGet, "/v1/users/me", nil, bearer, nil, &user); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

func (c *Client) UpdateMe(ctx context.Context, req UpdateUserRequest) (domain.User, error) {
	if err := c.check(req); err != nil {
		return domain.User{}, err
	}
	var user domain.User
	if err := c.doJSON(ctx, http.MethodPatch, "/v1/users/me", nil, bearer, req, &user); err != nil {
		return domain.User{}, err
	}
	return user, nil
}
