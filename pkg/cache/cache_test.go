package cache_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/payment-authgate/pkg/cache"
	"github.com/systmms/payment-authgate/pkg/credential"
	"github.com/systmms/payment-authgate/pkg/token"
)

// memoryCache is a minimal in-process Cache used to test TokenCache and
// CredentialCache without a real Redis instance.
type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	expiry  map[string]time.Time
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string][]byte{}, expiry: map[string]time.Time{}}
}

func (m *memoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.expiry[key]
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(exp) {
		delete(m.entries, key)
		delete(m.expiry, key)
		return nil, false, nil
	}
	v, ok := m.entries[key]
	return v, ok, nil
}

func (m *memoryCache) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
	m.expiry[key] = time.Now().Add(ttl)
	return nil
}

func (m *memoryCache) Evict(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	delete(m.expiry, key)
	return nil
}

func (m *memoryCache) EvictByPrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
			delete(m.expiry, k)
		}
	}
	return nil
}

var _ cache.Cache = (*memoryCache)(nil)

func TestTokenCachePutThenGet(t *testing.T) {
	store := newMemoryCache()
	tc := cache.NewTokenCache(store)

	tok := token.Token{
		TokenString: "header.payload.sig",
		Claims:      token.Claims{Subject: "vendor_xyz", ExpiresAt: time.Now().Add(time.Hour).Unix()},
	}

	require.NoError(t, tc.Put(context.Background(), "vendor_xyz", tok))

	got, ok, err := tc.Get(context.Background(), "vendor_xyz")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, tok.TokenString, got.TokenString)
}

func TestTokenCacheNeverReturnsExpiredEntry(t *testing.T) {
	store := newMemoryCache()
	tc := cache.NewTokenCache(store)

	// Write directly through the underlying store with a long store-level
	// TTL but an already-past absolute token expiry, simulating a store
	// that has not yet evicted the entry on its own schedule.
	require.NoError(t, store.Put(context.Background(), "vendor_xyz",
		[]byte(`{"tokenString":"header.payload.sig","claims":{"sub":"vendor_xyz","exp":1}}`),
		time.Minute))

	_, ok, err := tc.Get(context.Background(), "vendor_xyz")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTokenCacheEvict(t *testing.T) {
	store := newMemoryCache()
	tc := cache.NewTokenCache(store)

	tok := token.Token{
		TokenString: "header.payload.sig",
		Claims:      token.Claims{Subject: "vendor_xyz", ExpiresAt: time.Now().Add(time.Hour).Unix()},
	}
	require.NoError(t, tc.Put(context.Background(), "vendor_xyz", tok))
	require.NoError(t, tc.Evict(context.Background(), "vendor_xyz"))

	_, ok, err := tc.Get(context.Background(), "vendor_xyz")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCredentialCacheRoundTrip(t *testing.T) {
	store := newMemoryCache()
	cc := cache.NewCredentialCache(store, time.Minute)

	cred := credential.ClientCredential{
		ClientID: "vendor_xyz",
		Versions: []credential.CredentialVersion{
			{VersionID: "v1", Status: credential.StatusActive},
		},
	}
	require.NoError(t, cc.Put(context.Background(), cred))

	got, ok, err := cc.Get(context.Background(), "vendor_xyz")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "vendor_xyz", got.ClientID)
	assert.Len(t, got.Versions, 1)
}

func TestEvictByPrefixRemovesAllMatchingKeys(t *testing.T) {
	store := newMemoryCache()
	require.NoError(t, store.Put(context.Background(), "vendor_xyz", []byte("a"), time.Minute))
	require.NoError(t, store.Put(context.Background(), "vendor_xyz:perm=process_payment", []byte("b"), time.Minute))
	require.NoError(t, store.Put(context.Background(), "vendor_abc", []byte("c"), time.Minute))

	require.NoError(t, store.EvictByPrefix(context.Background(), "vendor_xyz"))

	_, ok, _ := store.Get(context.Background(), "vendor_xyz")
	assert.False(t, ok)
	_, ok, _ = store.Get(context.Background(), "vendor_xyz:perm=process_payment")
	assert.False(t, ok)
	_, ok, _ = store.Get(context.Background(), "vendor_abc")
	assert.True(t, ok)
}
