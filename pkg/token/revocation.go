package token

import (
	"context"
	"time"
)

// revocationStore is the subset of cache.Cache RevocationRegistry needs.
// Declared locally (rather than importing pkg/cache) to avoid a dependency
// cycle: pkg/cache imports pkg/token for TokenCache's claim type.
type revocationStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RevocationRegistry is the shared, TTL-bounded set of revoked jtis EAPI
// writes to on revoke() and SAPI's Validator reads from on every
// validation. Backed by the same Redis instance as the caches so both
// processes observe the same revocation state.
type RevocationRegistry struct {
	store revocationStore
}

func NewRevocationRegistry(store revocationStore) *RevocationRegistry {
	return &RevocationRegistry{store: store}
}

func (r *RevocationRegistry) key(jti string) string {
	return "revoked:" + jti
}

// Revoke inserts jti with TTL equal to the token's original remaining
// lifetime, so the registry entry naturally expires alongside the token
// it would otherwise protect against.
func (r *RevocationRegistry) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return r.store.Put(ctx, r.key(jti), []byte{1}, ttl)
}

// IsRevoked implements RevocationChecker.
func (r *RevocationRegistry) IsRevoked(ctx context.Context, jti string) bool {
	_, ok, err := r.store.Get(ctx, r.key(jti))
	return err == nil && ok
}

var _ RevocationChecker = (*RevocationRegistry)(nil)
