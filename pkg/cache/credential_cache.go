package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/systmms/payment-authgate/pkg/credential"
)

// CredentialCache is the degraded-mode fallback read when VaultClient is
// unavailable. Entries carry a short TTL chosen to bound staleness during
// vault outages; it is never the authoritative source.
type CredentialCache struct {
	store Cache
	ttl   time.Duration
}

// NewCredentialCache builds a CredentialCache with the configured TTL
// (cache.credentialTtlSeconds).
func NewCredentialCache(store Cache, ttl time.Duration) *CredentialCache {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &CredentialCache{store: store, ttl: ttl}
}

func (c *CredentialCache) Get(ctx context.Context, clientID string) (credential.ClientCredential, bool, error) {
	raw, ok, err := c.store.Get(ctx, clientID)
	if err != nil || !ok {
		return credential.ClientCredential{}, false, err
	}
	var cred credential.ClientCredential
	if err := json.Unmarshal(raw, &cred); err != nil {
		return credential.ClientCredential{}, false, fmt.Errorf("decode cached credential: %w", err)
	}
	return cred, true, nil
}

func (c *CredentialCache) Put(ctx context.Context, cred credential.ClientCredential) error {
	raw, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("encode credential for cache: %w", err)
	}
	return c.store.Put(ctx, cred.ClientID, raw, c.ttl)
}

func (c *CredentialCache) Evict(ctx context.Context, clientID string) error {
	return c.store.Evict(ctx, clientID)
}
