// Package auth inspects provider access tokens. Tokens are issued and
// refreshed elsewhere; this package only reads what a token grants so
// the synchronizer can short-circuit endpoints the credential has no
// scope for without spending a provider call.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid access token")

// Credentials is the decoded view of one provider access token.
type Credentials struct {
	AccessToken string
	Scopes      []string
	ExpiresAt   time.Time
}

// ParseToken decodes the claims of a provider access token. Signature
// verification belongs to the provider; here the token is only opened
// to read its scopes and expiry.
func ParseToken(raw string) (Credentials, error) {
	claims := jwt.MapClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(raw, claims)
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	cred := Credentials{AccessToken: raw}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: bad exp claim: %v", ErrInvalidToken, err)
	}
	if exp != nil {
		cred.ExpiresAt = exp.Time
	}

	// The provider encodes granted scopes in "scp", as a single string
	// for one scope or an array for several.
	switch scp := claims["scp"].(type) {
	case string:
		cred.Scopes = []string{scp}
	case []any:
		for _, s := range scp {
			if str, ok := s.(string); ok {
				cred.Scopes = append(cred.Scopes, str)
			}
		}
	}

	return cred, nil
}

// HasScope reports whether the token grants the named scope. The empty
// scope is granted to every token.
func (c Credentials) HasScope(scope string) bool {
	if scope == "" {
		return true
	}
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Expired reports whether the token is past its expiry at now. Tokens
// without an exp claim never expire.
func (c Credentials) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !c.ExpiresAt.After(now)
}
