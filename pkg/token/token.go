// Package token implements bearer token minting and validation: HMAC-SHA256
// signed JWTs with a rotating signing key and an overlapping verification
// key set, per the gateway's token format.
package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the exact claim set minted and required by validators. Extra
// claims on the wire are tolerated by VerifySignature but never produced by Mint.
type Claims struct {
	Subject     string   `json:"sub"`
	Issuer      string   `json:"iss"`
	Audience    string   `json:"aud"`
	ExpiresAt   int64    `json:"exp"`
	IssuedAt    int64    `json:"iat"`
	JTI         string   `json:"jti"`
	Permissions []string `json:"permissions"`
}

func (c Claims) hasPermission(p string) bool {
	for _, have := range c.Permissions {
		if have == p {
			return true
		}
	}
	return false
}

// jwtClaims adapts Claims to jwt.Claims so the standard parser can decode
// and sign it without us hand-rolling base64url segments.
type jwtClaims struct {
	jwt.RegisteredClaims
	Permissions []string `json:"permissions"`
}

func toJWTClaims(c Claims) jwtClaims {
	return jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.Subject,
			Issuer:    c.Issuer,
			Audience:  jwt.ClaimStrings{c.Audience},
			ExpiresAt: jwt.NewNumericDate(time.Unix(c.ExpiresAt, 0)),
			IssuedAt:  jwt.NewNumericDate(time.Unix(c.IssuedAt, 0)),
			ID:        c.JTI,
		},
		Permissions: c.Permissions,
	}
}

func fromJWTClaims(c jwtClaims) Claims {
	var aud string
	if len(c.Audience) > 0 {
		aud = c.Audience[0]
	}
	var exp, iat int64
	if c.ExpiresAt != nil {
		exp = c.ExpiresAt.Unix()
	}
	if c.IssuedAt != nil {
		iat = c.IssuedAt.Unix()
	}
	return Claims{
		Subject:     c.Subject,
		Issuer:      c.Issuer,
		Audience:    aud,
		ExpiresAt:   exp,
		IssuedAt:    iat,
		JTI:         c.ID,
		Permissions: c.Permissions,
	}
}

// Token is the minted artifact returned to AuthTranslator and cached.
type Token struct {
	TokenString string
	Claims      Claims
}

// ExpiresAt is a convenience accessor used by the token cache to compute TTL.
func (t Token) ExpiresAt() time.Time {
	return time.Unix(t.Claims.ExpiresAt, 0)
}
