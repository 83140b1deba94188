package authtranslator_test

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/payment-authgate/internal/apierr"
	"github.com/systmms/payment-authgate/internal/logging"
	"github.com/systmms/payment-authgate/pkg/authtranslator"
	"github.com/systmms/payment-authgate/pkg/cache"
	"github.com/systmms/payment-authgate/pkg/credential"
	"github.com/systmms/payment-authgate/pkg/rotation"
	"github.com/systmms/payment-authgate/pkg/token"
	"github.com/systmms/payment-authgate/pkg/vaultclient"
)

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

type fakeVault struct {
	cred credential.ClientCredential
	err  error
}

func (f *fakeVault) GetCredential(context.Context, string) (credential.ClientCredential, error) {
	return f.cred, f.err
}
func (f *fakeVault) StoreNewCredentialVersion(context.Context, string, string, string, string) error {
	return nil
}
func (f *fakeVault) ConfigureCredentialTransition(context.Context, string, string, *string) error {
	return nil
}
func (f *fakeVault) DisableCredentialVersion(context.Context, string, string) error { return nil }
func (f *fakeVault) RemoveCredentialVersion(context.Context, string, string) error  { return nil }
func (f *fakeVault) GetActiveCredentialVersions(context.Context, string) ([]string, error) {
	return nil, nil
}

type fakeForwarder struct {
	responses []authtranslator.ForwardResponse
	calls     int
}

func (f *fakeForwarder) Do(context.Context, string, authtranslator.ForwardRequest, string) (authtranslator.ForwardResponse, error) {
	resp := f.responses[f.calls]
	if f.calls < len(f.responses)-1 {
		f.calls++
	}
	return resp, nil
}

func newCredential(t *testing.T, clientID, secret string) credential.ClientCredential {
	t.Helper()
	salt, err := credential.NewSalt()
	require.NoError(t, err)
	hashed, err := credential.Hash(secret, salt)
	require.NoError(t, err)
	return credential.ClientCredential{
		ClientID: clientID,
		Versions: []credential.CredentialVersion{
			{VersionID: "v1", HashedSecret: hashed, Salt: salt, Status: credential.StatusActive},
		},
		Permissions: []string{"process_payment", "view_status"},
	}
}

func newTranslator(t *testing.T, vault *fakeVault, forwarder authtranslator.Forwarder) *authtranslator.AuthTranslator {
	t.Helper()
	at, _ := newTranslatorWithUsage(t, vault, forwarder)
	return at
}

func newTranslatorWithUsage(t *testing.T, vault *fakeVault, forwarder authtranslator.Forwarder) (*authtranslator.AuthTranslator, *rotation.UsageTracker) {
	t.Helper()
	tokenCache := cache.NewTokenCache(newMemCache())
	credCache := cache.NewCredentialCache(newMemCache(), time.Minute)
	keys := token.NewKeySet("k1", []byte("0123456789abcdef0123456789abcdef"))
	minter := token.NewMinter(keys, "authgate", "sapi", time.Hour)
	revocation := token.NewRevocationRegistry(newMemCache())
	usage := rotation.NewUsageTracker(newMemCache())
	logger := logging.New(false, true)
	at := authtranslator.New(tokenCache, credCache, vault, minter, revocation, usage, authtranslator.DefaultRateLimitConfig(), forwarder, logger)
	return at, usage
}

func TestAuthenticateHappyPath(t *testing.T) {
	cred := newCredential(t, "vendor_xyz", "s3cret")
	vault := &fakeVault{cred: cred}
	at := newTranslator(t, vault, &fakeForwarder{})

	result, err := at.Authenticate(context.Background(), "vendor_xyz", "s3cret", "req-1", "10.0.0.1")
	require.NoError(t, err)
	assert.NotEmpty(t, result.Token.TokenString)
	assert.ElementsMatch(t, []string{"process_payment", "view_status"}, result.Token.Claims.Permissions)
}

func TestAuthenticateWrongSecret(t *testing.T) {
	cred := newCredential(t, "vendor_xyz", "s3cret")
	vault := &fakeVault{cred: cred}
	at := newTranslator(t, vault, &fakeForwarder{})

	_, err := at.Authenticate(context.Background(), "vendor_xyz", "wrong", "req-1", "10.0.0.1")
	assert.Error(t, err)
}

func TestAuthenticateUnknownClientIDMatchesWrongSecretOutcome(t *testing.T) {
	unknownVault := &fakeVault{err: &vaultclient.Error{Kind: vaultclient.NotFound, Op: "getCredential"}}
	atUnknown := newTranslator(t, unknownVault, &fakeForwarder{})
	_, unknownErr := atUnknown.Authenticate(context.Background(), "vendor_unknown", "whatever", "req-1", "10.0.0.1")

	known := newCredential(t, "vendor_xyz", "s3cret")
	wrongVault := &fakeVault{cred: known}
	atWrong := newTranslator(t, wrongVault, &fakeForwarder{})
	_, wrongErr := atWrong.Authenticate(context.Background(), "vendor_xyz", "wrong", "req-2", "10.0.0.1")

	require.Error(t, unknownErr)
	require.Error(t, wrongErr)
	unknownAPIErr, ok := unknownErr.(*apierr.Error)
	require.True(t, ok)
	wrongAPIErr, ok := wrongErr.(*apierr.Error)
	require.True(t, ok)
	assert.Equal(t, apierr.CodeAuthenticationFailed, unknownAPIErr.Code)
	assert.Equal(t, wrongAPIErr.Code, unknownAPIErr.Code)
	assert.Equal(t, http.StatusUnauthorized, apierr.Status(unknownAPIErr.Code))
}

func TestAuthenticateVaultTransientErrorIsUpstreamUnavailable(t *testing.T) {
	vault := &fakeVault{err: &vaultclient.Error{Kind: vaultclient.TransientIO, Op: "getCredential"}}
	at := newTranslator(t, vault, &fakeForwarder{})

	_, err := at.Authenticate(context.Background(), "vendor_xyz", "s3cret", "req-1", "10.0.0.1")
	require.Error(t, err)
	apiErr, ok := err.(*apierr.Error)
	require.True(t, ok)
	assert.Equal(t, apierr.CodeUpstreamUnavailable, apiErr.Code)
}

func TestAuthenticateDualActiveVersions(t *testing.T) {
	saltOld, err := credential.NewSalt()
	require.NoError(t, err)
	hashedOld, err := credential.Hash("old-secret", saltOld)
	require.NoError(t, err)
	saltNew, err := credential.NewSalt()
	require.NoError(t, err)
	hashedNew, err := credential.Hash("new-secret", saltNew)
	require.NoError(t, err)

	cred := credential.ClientCredential{
		ClientID: "vendor_xyz",
		Versions: []credential.CredentialVersion{
			{VersionID: "v1", HashedSecret: hashedOld, Salt: saltOld, Status: credential.StatusDeprecated},
			{VersionID: "v2", HashedSecret: hashedNew, Salt: saltNew, Status: credential.StatusActive},
		},
		Permissions: []string{"process_payment"},
	}
	vault := &fakeVault{cred: cred}
	at := newTranslator(t, vault, &fakeForwarder{})

	_, err = at.Authenticate(context.Background(), "vendor_xyz", "old-secret", "req-1", "10.0.0.1")
	require.NoError(t, err)

	at2 := newTranslator(t, vault, &fakeForwarder{})
	_, err = at2.Authenticate(context.Background(), "vendor_xyz", "new-secret", "req-2", "10.0.0.1")
	require.NoError(t, err)
}

func TestAuthenticateSuccessRecordsUsageForMatchedVersion(t *testing.T) {
	cred := newCredential(t, "vendor_xyz", "s3cret")
	vault := &fakeVault{cred: cred}
	at, usage := newTranslatorWithUsage(t, vault, &fakeForwarder{})

	_, err := at.Authenticate(context.Background(), "vendor_xyz", "s3cret", "req-1", "10.0.0.1")
	require.NoError(t, err)

	assert.False(t, usage.UnusedFor(context.Background(), "vendor_xyz", "v1", time.Hour),
		"a version that just authenticated must not read back as unused")
}

func TestAuthenticateFailureDoesNotRecordUsage(t *testing.T) {
	cred := newCredential(t, "vendor_xyz", "s3cret")
	vault := &fakeVault{cred: cred}
	at, usage := newTranslatorWithUsage(t, vault, &fakeForwarder{})

	_, err := at.Authenticate(context.Background(), "vendor_xyz", "wrong", "req-1", "10.0.0.1")
	require.Error(t, err)

	assert.True(t, usage.UnusedFor(context.Background(), "vendor_xyz", "v1", time.Nanosecond))
}

func TestAuthenticateMissingCredentials(t *testing.T) {
	at := newTranslator(t, &fakeVault{}, &fakeForwarder{})

	_, err := at.Authenticate(context.Background(), "vendor_xyz", "", "req-1", "10.0.0.1")
	assert.Error(t, err)
}

func TestAuthenticateMalformedClientID(t *testing.T) {
	at := newTranslator(t, &fakeVault{}, &fakeForwarder{})

	_, err := at.Authenticate(context.Background(), "not a valid id!!", "secret", "req-1", "10.0.0.1")
	assert.Error(t, err)
}

func TestRevokeAfterAuthenticateSucceeds(t *testing.T) {
	cred := newCredential(t, "vendor_xyz", "s3cret")
	vault := &fakeVault{cred: cred}
	at := newTranslator(t, vault, &fakeForwarder{})

	_, err := at.Authenticate(context.Background(), "vendor_xyz", "s3cret", "req-1", "10.0.0.1")
	require.NoError(t, err)

	require.NoError(t, at.Revoke(context.Background(), "vendor_xyz"))
}

func TestForwardRetriesOnceOnTokenExpired(t *testing.T) {
	cred := newCredential(t, "vendor_xyz", "s3cret")
	vault := &fakeVault{cred: cred}
	expiredHeader := http.Header{}
	expiredHeader.Set("X-Token-Expired", "true")
	forwarder := &fakeForwarder{
		responses: []authtranslator.ForwardResponse{
			{StatusCode: http.StatusUnauthorized, Header: expiredHeader},
			{StatusCode: http.StatusOK, Header: http.Header{}, Body: []byte(`{"status":"ok"}`)},
		},
	}
	at := newTranslator(t, vault, forwarder)

	resp, err := at.Forward(context.Background(), "vendor_xyz", "http://sapi.internal", "req-1", authtranslator.ForwardRequest{
		Method: "POST",
		Path:   "/internal/v1/payments",
		Body:   []byte(`{"amount":100}`),
	}, "stale-token")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, forwarder.calls)
}
