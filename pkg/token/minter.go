package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/systmms/payment-authgate/internal/apierr"
)

// Minter mints signed tokens under the current signing key. Only the
// current signing key mints; the overlapping verification key set is
// Validator's concern.
type Minter struct {
	keys     *KeySet
	issuer   string
	audience string
	lifetime time.Duration
}

// NewMinter constructs a Minter. lifetime defaults to 3600s (token.lifetimeSeconds).
func NewMinter(keys *KeySet, issuer, audience string, lifetime time.Duration) *Minter {
	if lifetime == 0 {
		lifetime = 3600 * time.Second
	}
	return &Minter{keys: keys, issuer: issuer, audience: audience, lifetime: lifetime}
}

// Keys returns the KeySet backing this Minter, so callers that need to
// verify a signature without minting (EAPI's renewal path) can share it
// rather than holding a second copy of the signing material.
func (m *Minter) Keys() *KeySet {
	return m.keys
}

// Mint signs a fresh token for clientID with the given permissions.
// permissions is always an explicit list supplied by the caller, never
// derived from the submitted raw secret.
func (m *Minter) Mint(clientID string, permissions []string) (Token, error) {
	keyBytes, err := m.keys.signingKeyBytes()
	if err != nil {
		return Token{}, apierr.Wrap(apierr.CodeSystemError, "signing key unavailable", err)
	}

	now := time.Now().UTC()
	claims := Claims{
		Subject:     clientID,
		Issuer:      m.issuer,
		Audience:    m.audience,
		IssuedAt:    now.Unix(),
		ExpiresAt:   now.Add(m.lifetime).Unix(),
		JTI:         uuid.NewString(),
		Permissions: append([]string(nil), permissions...),
	}

	jc := toJWTClaims(claims)
	jt := jwt.NewWithClaims(jwt.SigningMethodHS256, jc)
	jt.Header["kid"] = m.keys.signingKeyID
	signed, err := jt.SignedString(keyBytes)
	if err != nil {
		return Token{}, apierr.Wrap(apierr.CodeSystemError, "signing key unavailable", err)
	}

	return Token{TokenString: signed, Claims: claims}, nil
}
