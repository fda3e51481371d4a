// Package session signs users in and out against the marketplace backend and
// keeps the bearer token in a tokenstore.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"opus/pkg/api"
	"opus/pkg/domain"
	"opus/pkg/tokenstore"
)

// ErrSessionExpired is returned by CurrentUser when the backend rejects the stored token.
var ErrSessionExpired = errors.New("session expired")

// Manager ties the auth endpoints to token persistence.
type Manager struct {
	client *api.Client
	store  *tokenstore.Store
}

func NewManager(client *api.Client, store *tokenstore.Store) *Manager {
	return &Manager{client: client, store: store}
}

// Login probes /health, signs in and persists the returned token.
// The probe is informational only; its failure never blocks the login attempt.
func (m *Manager) Login(ctx context.Context, email, password string) (api.AuthResponse, error) {
	m.probe(ctx)
	resp, err := m.client.Login(ctx, api.LoginRequest{Email: strings.TrimSpace(email), Password: password})
	if err != nil {
		slog.Warn("login failed", "api_url", m.client.BaseURL(), "err", err)
		return api.AuthResponse{}, err
	}
	if err := m.persist(ctx, resp); err != nil {
		return api.AuthResponse{}, err
	}
	slog.Info("login succeeded", "user_id", resp.User.ID)
	return resp, nil
}

// Register creates an account, then behaves like Login.
func (m *Manager) Register(ctx context.Context, email, password, name, phone string) (api.AuthResponse, error) {
	m.probe(ctx)
	resp, err := m.client.Register(ctx, api.RegisterRequest{
		Email:    strings.TrimSpace(email),
		Password: password,
		Name:     strings.TrimSpace(name),
		Phone:    strings.TrimSpace(phone),
	})
	if err != nil {
		slog.Warn("register failed", "api_url", m.client.BaseURL(), "err", err)
		return api.AuthResponse{}, err
	}
	if err := m.persist(ctx, resp); err != nil {
		return api.AuthResponse{}, err
	}
	slog.Info("register succeeded", "user_id", resp.User.ID)
	return resp, nil
}

// persist stores the session token. A success response without a token is
// rejected so that a nil error always leaves the session authenticated.
func (m *Manager) persist(ctx context.Context, resp api.AuthResponse) error {
	if strings.TrimSpace(resp.Token) == "" {
		return fmt.Errorf("%w: auth response has no token", api.ErrMalformedResponse)
	}
	return m.store.SaveToken(ctx, resp.Token)
}

func (m *Manager) Logout(ctx context.Context) error {
	return m.store.RemoveToken(ctx)
}

func (m *Manager) IsAuthenticated(ctx context.Context) bool {
	return m.store.IsAuthenticated(ctx)
}

// CurrentUser fetches the signed-in user. A 401 clears the stored token.
func (m *Manager) CurrentUser(ctx context.Context) (domain.User, error) {
	user, err := m.client.Me(ctx)
	if err == nil {
		return user, nil
	}
	if api.IsStatus(err, http.StatusUnauthorized) {
		if rmErr := m.store.RemoveToken(ctx); rmErr != nil {
			slog.Warn("clear expired token failed", "err", rmErr)
		}
		return domain.User{}, ErrSessionExpired
	}
	return domain.User{}, err
}

// SyncProfile pushes profile fields after sign-in. Failures are logged and dropped.
func (m *Manager) SyncProfile(ctx context.Context, update api.UpdateUserRequest) (domain.User, bool) {
	user, err := m.client.UpdateMe(ctx, update)
	if err != nil {
		slog.Warn("profile sync failed", "err", err)
		return domain.User{}, false
	}
	return user, true
}

func (m *Manager) probe(ctx context.Context) {
	if err := m.client.Health(ctx); err != nil {
		slog.Warn("health check failed, continuing", "api_url", m.client.BaseURL(), "err", err)
		return
	}
	slog.Debug("health check ok", "api_url", m.client.BaseURL())
}
