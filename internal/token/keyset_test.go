package token

import (
	"context"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/l0p7/fhirgate/internal/keycache"
)

func TestKeySetFetchesAndCaches(t *testing.T) {
	key := generateKey(t)
	srv, hits := jwksServer(t, "key-1", key)

	keys := NewKeySet(srv.URL, time.Second, keycache.NewMemory(time.Minute), nil, nil)

	resolved, err := keys.Key(context.Background(), "key-1")
	require.NoError(t, err)
	public, ok := resolved.(*rsa.PublicKey)
	require.True(t, ok, "expected rsa public key, got %T", resolved)
	require.Equal(t, key.Public(), public)
	require.Equal(t, 1, *hits)

	// Second resolution is served from the cache.
	_, err = keys.Key(context.Background(), "key-1")
	require.NoError(t, err)
	require.Equal(t, 1, *hits)
}

func TestKeySetUnknownKid(t *testing.T) {
	key := generateKey(t)
	srv, _ := jwksServer(t, "key-1", key)

	keys := NewKeySet(srv.URL, time.Second, keycache.NewMemory(time.Minute), nil, nil)

	_, err := keys.Key(context.Background(), "key-9")
	require.ErrorContains(t, err, "not found in key set")
}

func TestKeySetRefetchesAfterExpiry(t *testing.T) {
	key := generateKey(t)
	srv, hits := jwksServer(t, "key-1", key)

	cache := keycache.NewMemory(time.Minute)
	keys := NewKeySet(srv.URL, time.Second, cache, nil, nil)

	_, err := keys.Key(context.Background(), "key-1")
	require.NoError(t, err)

	// Force an expired entry so the next lookup misses.
	stored := time.Now().UTC().Add(-2 * time.Minute)
	require.NoError(t, cache.Store(context.Background(), "key-1", keycache.Entry{
		Key:       []byte(`{"kty":"RSA","kid":"key-1","n":"abc","e":"AQAB"}`),
		StoredAt:  stored,
		ExpiresAt: stored.Add(time.Minute),
	}))

	_, err = keys.Key(context.Background(), "key-1")
	require.NoError(t, err)
	require.Equal(t, 2, *hits)
}

func TestKeySetUnreachableEndpoint(t *testing.T) {
	keys := NewKeySet("http://127.0.0.1:1/certs", 200*time.Millisecond, keycache.NewMemory(time.Minute), nil, nil)
	_, err := keys.Key(context.Background(), "key-1")
	require.ErrorContains(t, err, "jwks fetch")
}

func TestKeySetRequiresKid(t *testing.T) {
	keys := NewKeySet("http://example.invalid/certs", time.Second, nil, nil, nil)
	_, err := keys.Key(context.Background(), "")
	require.ErrorContains(t, err, "key id required")
}
