// Package credential holds the ClientCredential / CredentialVersion data
// model and the salted, constant-time secret matching used by
// AuthTranslator. Raw secrets are never stored: only the bcrypt hash of
// salt+secret is kept at rest.
package credential

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// VersionStatus is the closed set a CredentialVersion can be in.
type VersionStatus string

const (
	StatusActive     VersionStatus = "ACTIVE"
	StatusDeprecated VersionStatus = "DEPRECATED"
	StatusDisabled   VersionStatus = "DISABLED"
)

// CredentialVersion is one generation of a client's secret. The raw secret
// never appears here, only its salted hash.
type CredentialVersion struct {
	VersionID    string
	HashedSecret string
	Salt         string
	Status       VersionStatus
	CreatedAt    time.Time
}

// ClientCredential is the vault's view of a vendor: a stable clientId and
// the set of credential versions currently known for it.
type ClientCredential struct {
	ClientID    string
	Versions    []CredentialVersion
	Permissions []string
}

// MatchableVersions returns the versions a submitted secret may be checked
// against: ACTIVE and DEPRECATED. DISABLED versions never authenticate.
func (c ClientCredential) MatchableVersions() []CredentialVersion {
	out := make([]CredentialVersion, 0, len(c.Versions))
	for _, v := range c.Versions {
		if v.Status == StatusActive || v.Status == StatusDeprecated {
			out = append(out, v)
		}
	}
	return out
}

// NewSalt returns a fresh random salt, hex-encoded.
func NewSalt() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Hash salts rawSecret and bcrypt-hashes it for storage.
func Hash(rawSecret, salt string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(salt+rawSecret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(h), nil
}

// MatchResult is the outcome of checking a raw secret against one version.
type MatchResult struct {
	VersionID string
	Matched   bool
}

// dummyHash is compared against when a clientId has no matchable versions
// (unknown clientId, or every version disabled), so that case costs the
// same one bcrypt comparison as a known clientId with a wrong secret
// instead of returning immediately.
var dummyHash = func() string {
	h, err := bcrypt.GenerateFromPassword([]byte("authgate-dummy-comparison-secret"), bcrypt.DefaultCost)
	if err != nil {
		panic("credential: failed to precompute dummy hash: " + err.Error())
	}
	return string(h)
}()

// MatchAll evaluates rawSecret against every candidate version without
// short-circuiting, so wrong-secret and unknown-clientId paths take the
// same amount of work. Returns the id of the first matching version, or
// ("", false) if none matched.
func MatchAll(rawSecret string, candidates []CredentialVersion) (string, bool) {
	if len(candidates) == 0 {
		constantTimeBcryptCompare(rawSecret, dummyHash)
		return "", false
	}
	matchedID := ""
	matched := false
	for _, v := range candidates {
		ok := constantTimeBcryptCompare(v.Salt+rawSecret, v.HashedSecret)
		// Evaluate every candidate; only record the first match.
		if ok && !matched {
			matchedID = v.VersionID
			matched = true
		}
	}
	return matchedID, matched
}

// constantTimeBcryptCompare verifies a bcrypt hash. bcrypt.CompareHashAndPassword
// is already constant-time with respect to the candidate password given a
// fixed hash, so no additional subtle.ConstantTimeCompare is needed here;
// subtle.ConstantTimeCompare is used only by ConstantTimeEqual.
func constantTimeBcryptCompare(saltedSecret, hashedSecret string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hashedSecret), []byte(saltedSecret))
	return err == nil
}

// ConstantTimeEqual is exposed for comparing opaque non-bcrypt tokens
// (e.g. admin bearer tokens) where both sides are already fixed-length
// digests rather than bcrypt hashes.
func ConstantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
