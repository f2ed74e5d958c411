// Package keycache caches JWKS signing keys by key id so token verification
// does not pay a network round-trip per request. Entries expire on a fixed
// TTL; a miss triggers a synchronous refetch by the caller.
package keycache

import (
	"context"
	"encoding/json"
	"time"
)

// Entry is one cached signing key. Key holds the JWK document for the key id
// as fetched from the identity provider.
type Entry struct {
	Key       json.RawMessage `json:"key"`
	StoredAt  time.Time       `json:"storedAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// Cache stores signing keys by key id.
type Cache interface {
	Lookup(ctx context.Context, kid string) (Entry, bool, error)
	Store(ctx context.Context, kid string, entry Entry) error
	Close(ctx context.Context) error
}
