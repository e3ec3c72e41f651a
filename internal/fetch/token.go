package fetch

import (
	"context"

	"goflare.io/freshen/internal/fault"
	"goflare.io/freshen/store"
)

// TokenKey is the store key holding the auth token.
const TokenKey = "@auth_token"

// TokenStore persists the auth token in the same store as the cache.
type TokenStore struct {
	adapter store.Adapter
}

// NewTokenStore creates a TokenStore over adapter.
func NewTokenStore(adapter store.Adapter) *TokenStore {
	return &TokenStore{adapter: adapter}
}

// Token returns the stored token, or "" when signed out.
func (t *TokenStore) Token(ctx context.Context) (string, error) {
	v, found, err := t.adapter.Get(ctx, TokenKey)
	if err != nil {
		return "", fault.Store(err, "read auth token")
	}
	if !found {
		return "", nil
	}
	return v, nil
}

// Save stores token.
func (t *TokenStore) Save(ctx context.Context, token string) error {
	return fault.Store(t.adapter.Set(ctx, TokenKey, token), "save auth token")
}

// Clear removes the token.
func (t *TokenStore) Clear(ctx context.Context) error {
	return fault.Store(t.adapter.Remove(ctx, TokenKey), "clear auth token")
}
