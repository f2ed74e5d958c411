// Package token extracts and verifies the bearer JWTs that authenticate
// proxied requests.
package token

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/l0p7/fhirgate/internal/policy"
)

var (
	// ErrTokenMissing reports an absent or empty bearer token.
	ErrTokenMissing = errors.New("token missing")
	// ErrTokenExpired reports a token whose exp claim has passed.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid reports any other verification failure.
	ErrTokenInvalid = errors.New("token invalid")
)

// KeyResolver resolves a signing key by key id.
type KeyResolver interface {
	Key(ctx context.Context, kid string) (any, error)
}

// Verifier decodes bearer JWTs with RS256 signatures against a remote key
// set and the configured audience.
type Verifier struct {
	keys      KeyResolver
	audience  string
	algorithm string
}

// NewVerifier builds a verifier. Empty audience and algorithm fall back to
// the Keycloak defaults (account, RS256).
func NewVerifier(keys KeyResolver, audience, algorithm string) *Verifier {
	if audience == "" {
		audience = "account"
	}
	if algorithm == "" {
		algorithm = "RS256"
	}
	return &Verifier{keys: keys, audience: audience, algorithm: algorithm}
}

// ExtractBearer strips the single Bearer prefix from an Authorization header
// value. An empty result is ErrTokenMissing.
func ExtractBearer(header string) (string, error) {
	value := strings.TrimPrefix(header, "Bearer ")
	value = strings.TrimSpace(value)
	if value == "" {
		return "", ErrTokenMissing
	}
	return value, nil
}

// Verify decodes and validates the token, returning its claims. Failures map
// onto the package sentinel errors so callers can choose status codes without
// inspecting library internals.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (policy.Claims, error) {
	if tokenString == "" {
		return nil, ErrTokenMissing
	}

	keyFunc := func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token: kid header missing")
		}
		return v.keys.Key(ctx, kid)
	}

	parsed, err := jwt.Parse(tokenString, keyFunc,
		jwt.WithValidMethods([]string{v.algorithm}),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type", ErrTokenInvalid)
	}
	claims := make(policy.Claims, len(mapClaims))
	for key, value := range mapClaims {
		claims[key] = value
	}
	return claims, nil
}
