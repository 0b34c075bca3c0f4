// Package auth resolves the current authenticated account from an access
// token issued by the external identity service. The engine never mints
// tokens itself; it only verifies and decodes them.
package auth

import (
	"context"
	"errors"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mlevkov/tasksync/internal/common"
)

// Claims are the token claims the engine cares about: the registered set
// plus the account identifier.
type Claims struct {
	jwt.RegisteredClaims
	AccountID string
}

// Provider yields the current authenticated account id. Implementations
// must return common.ErrNoAccount when nobody is signed in; the sync engine
// short-circuits on that before any network call.
type Provider interface {
	AccountID(ctx context.Context) (string, error)
}

// TokenSource supplies the raw access token (from local metadata, an env
// var, etc.). An empty token means signed out.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// StaticSource is a TokenSource over a fixed token string.
type StaticSource string

func (s StaticSource) AccessToken(ctx context.Context) (string, error) {
	return string(s), nil
}

// ParseAccountID verifies tokenString against secretKey (HS256) and returns
// the account id claim.
func ParseAccountID(tokenString string, secretKey []byte) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", common.ErrTokenExpired
		}
		return "", common.ErrInvalidToken
	}

	if !token.Valid || claims.AccountID == "" {
		return "", common.ErrInvalidToken
	}

	return claims.AccountID, nil
}

// TokenProvider is a Provider that decodes the token from a TokenSource on
// every call, so a sign-out (token cleared) is observed immediately.
type TokenProvider struct {
	source TokenSource
	secret []byte
}

func NewTokenProvider(source TokenSource, secret []byte) *TokenProvider {
	return &TokenProvider{source: source, secret: secret}
}

func (p *TokenProvider) AccountID(ctx context.Context) (string, error) {
	token, err := p.source.AccessToken(ctx)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", common.ErrNoAccount
	}
	return ParseAccountID(token, p.secret)
}
