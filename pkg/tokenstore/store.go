package tokenstore

import (
	"context"
	"log/slog"
)

// TokenKey is the storage key holding the bearer token.
const TokenKey = "@opus:auth_token"

// KV is the minimal persistent key-value capability the token store needs.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Store persists the single bearer token of the signed-in user.
type Store struct {
	kv KV
}

// New wraps a KV backend.
func New(kv KV) *Store {
	return &Store{kv: kv}
}

// SaveToken overwrites any previously stored token.
func (s *Store) SaveToken(ctx context.Context, token string) error {
	if err := s.kv.Set(ctx, TokenKey, token); err != nil {
		slog.Error("token save failed", "err", err)
		return err
	}
	return nil
}

// Token returns the stored token. Read failures are logged and reported as absent.
func (s *Store) Token(ctx context.Context) (string, bool) {
	token, ok, err := s.kv.Get(ctx, TokenKey)
	if err != nil {
		slog.Warn("token read failed", "err", err)
		return "", false
	}
	if !ok || token == "" {
		return "", false
	}
	return token, true
}

// RemoveToken deletes the stored token.
func (s *Store) RemoveToken(ctx context.Context) error {
	if err := s.kv.Delete(ctx, TokenKey); err != nil {
		slog.Error("token remove failed", "err", err)
		return err
	}
	return nil
}

// IsAuthenticated reports token presence. The token itself is not validated.
func (s *Store) IsAuthenticated(ctx context.Context) bool {
	_, ok := s.Token(ctx)
	return ok
}
