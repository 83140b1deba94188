package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/systmms/payment-authgate/pkg/token"
)

// TokenCache stores minted tokens keyed by clientId, TTL-bound to the
// token's own expiry. It never returns a token whose absolute expiry has
// passed, even if the underlying store has not yet evicted the key.
type TokenCache struct {
	store Cache
}

func NewTokenCache(store Cache) *TokenCache {
	return &TokenCache{store: store}
}

type cachedToken struct {
	TokenString string        `json:"tokenString"`
	Claims      token.Claims  `json:"claims"`
}

// Get returns the cached token for clientId, or ok=false on miss or
// expiry. An expired-but-not-yet-evicted entry is evicted eagerly.
func (c *TokenCache) Get(ctx context.Context, clientID string) (token.Token, bool, error) {
	raw, ok, err := c.store.Get(ctx, clientID)
	if err != nil || !ok {
		return token.Token{}, false, err
	}

	var ct cachedToken
	if err := json.Unmarshal(raw, &ct); err != nil {
		return token.Token{}, false, fmt.Errorf("decode cached token: %w", err)
	}

	tok := token.Token{TokenString: ct.TokenString, Claims: ct.Claims}
	if !tok.ExpiresAt().After(time.Now().UTC()) {
		_ = c.store.Evict(ctx, clientID)
		return token.Token{}, false, nil
	}
	return tok, true, nil
}

// Put stores tok under clientId with TTL equal to its remaining lifetime.
func (c *TokenCache) Put(ctx context.Context, clientID string, tok token.Token) error {
	ttl := time.Until(tok.ExpiresAt())
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(cachedToken{TokenString: tok.TokenString, Claims: tok.Claims})
	if err != nil {
		return fmt.Errorf("encode token for cache: %w", err)
	}
	return c.store.Put(ctx, clientID, raw, ttl)
}

// Evict drops the cached token for clientId, used on revocation and on
// rotation reaching NEW_ACTIVE or being cancelled.
func (c *TokenCache) Evict(ctx context.Context, clientID string) error {
	return c.store.Evict(ctx, clientID)
}
