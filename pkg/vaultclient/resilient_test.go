package vaultclient_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/payment-authgate/pkg/cache"
	"github.com/systmms/payment-authgate/pkg/credential"
	"github.com/systmms/payment-authgate/pkg/vaultclient"
)

// fakeInner is a scriptable VaultClient used to drive the resilience layer.
type fakeInner struct {
	mu             sync.Mutex
	getCredentialN int32
	getCredErr     error
	cred           credential.ClientCredential
	writeErr       error
}

func (f *fakeInner) GetCredential(_ context.Context, clientID string) (credential.ClientCredential, error) {
	atomic.AddInt32(&f.getCredentialN, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getCredErr != nil {
		return credential.ClientCredential{}, f.getCredErr
	}
	return f.cred, nil
}

func (f *fakeInner) StoreNewCredentialVersion(context.Context, string, string, string, string) error {
	return f.writeErr
}
func (f *fakeInner) ConfigureCredentialTransition(context.Context, string, string, *string) error {
	return f.writeErr
}
func (f *fakeInner) DisableCredentialVersion(context.Context, string, string) error { return f.writeErr }
func (f *fakeInner) RemoveCredentialVersion(context.Context, string, string) error  { return f.writeErr }
func (f *fakeInner) GetActiveCredentialVersions(context.Context, string) ([]string, error) {
	return nil, f.writeErr
}

// memCache mirrors the in-memory Cache used by the cache package tests.
type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMemCache() *memCache { return &memCache{entries: map[string][]byte{}} }

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	return v, ok, nil
}
func (m *memCache) Put(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
	return nil
}
func (m *memCache) Evict(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}
func (m *memCache) EvictByPrefix(context.Context, string) error { return nil }

var _ cache.Cache = (*memCache)(nil)

func TestResilientGetCredentialRetriesTransientFailure(t *testing.T) {
	inner := &fakeInner{
		getCredErr: &vaultclient.Error{Kind: vaultclient.TransientIO},
		cred:       credential.ClientCredential{ClientID: "vendor_xyz"},
	}
	// Succeed on the 3rd call.
	calls := int32(0)
	wrapped := &countingInner{fakeInner: inner, failUntil: 2, calls: &calls}

	r := vaultclient.NewResilientVaultClient(wrapped, nil, vaultclient.RetryConfig{Base: time.Millisecond, Factor: 2, MaxAttempts: 5}, vaultclient.DefaultBreakerConfig(), nil)

	cred, err := r.GetCredential(context.Background(), "vendor_xyz")
	require.NoError(t, err)
	assert.Equal(t, "vendor_xyz", cred.ClientID)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(3))
}

type countingInner struct {
	*fakeInner
	failUntil int32
	calls     *int32
}

func (c *countingInner) GetCredential(ctx context.Context, clientID string) (credential.ClientCredential, error) {
	n := atomic.AddInt32(c.calls, 1)
	if n <= c.failUntil {
		return credential.ClientCredential{}, &vaultclient.Error{Kind: vaultclient.TransientIO}
	}
	return credential.ClientCredential{ClientID: clientID}, nil
}

func TestResilientReadFallsBackToCacheWhenVaultFails(t *testing.T) {
	inner := &fakeInner{getCredErr: &vaultclient.Error{Kind: vaultclient.TransientIO}}
	store := newMemCache()
	credCache := cache.NewCredentialCache(store, time.Minute)
	require.NoError(t, credCache.Put(context.Background(), credential.ClientCredential{
		ClientID: "vendor_xyz",
		Versions: []credential.CredentialVersion{{VersionID: "v1", Status: credential.StatusActive}},
	}))

	r := vaultclient.NewResilientVaultClient(inner, credCache, vaultclient.RetryConfig{Base: time.Millisecond, MaxAttempts: 1}, vaultclient.DefaultBreakerConfig(), nil)

	cred, err := r.GetCredential(context.Background(), "vendor_xyz")
	require.NoError(t, err)
	assert.Equal(t, "vendor_xyz", cred.ClientID)
}

func TestResilientWriteNeverUsesCacheFallback(t *testing.T) {
	inner := &fakeInner{writeErr: &vaultclient.Error{Kind: vaultclient.TransientIO}}
	store := newMemCache()
	credCache := cache.NewCredentialCache(store, time.Minute)

	r := vaultclient.NewResilientVaultClient(inner, credCache, vaultclient.RetryConfig{Base: time.Millisecond, MaxAttempts: 1}, vaultclient.DefaultBreakerConfig(), nil)

	err := r.DisableCredentialVersion(context.Background(), "vendor_xyz", "v1")
	assert.Error(t, err)
}

func TestNonRetryableFailureReturnsImmediately(t *testing.T) {
	inner := &fakeInner{getCredErr: &vaultclient.Error{Kind: vaultclient.NotFound}}

	r := vaultclient.NewResilientVaultClient(inner, nil, vaultclient.RetryConfig{Base: time.Millisecond, MaxAttempts: 5}, vaultclient.DefaultBreakerConfig(), nil)

	_, err := r.GetCredential(context.Background(), "vendor_xyz")
	assert.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&inner.getCredentialN))
}
