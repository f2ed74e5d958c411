package token

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/l0p7/fhirgate/internal/keycache"
	"github.com/l0p7/fhirgate/internal/metrics"
)

// KeySet resolves JWT signing keys by key id against a remote JWKS document.
// Resolved keys are cached so only the first request per key id pays the
// network round-trip; a miss triggers a synchronous bounded-timeout fetch.
type KeySet struct {
	url     string
	client  *http.Client
	cache   keycache.Cache
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// NewKeySet wires the JWKS endpoint to the key cache. timeout bounds each
// fetch of the key set document.
func NewKeySet(url string, timeout time.Duration, cache keycache.Cache, logger *slog.Logger, recorder *metrics.Recorder) *KeySet {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KeySet{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		cache:   cache,
		logger:  logger,
		metrics: recorder,
	}
}

// Key returns the public key for the given key id, consulting the cache
// before fetching the JWKS document.
func (s *KeySet) Key(ctx context.Context, kid string) (any, error) {
	if kid == "" {
		return nil, fmt.Errorf("token: key id required")
	}
	if s.cache != nil {
		entry, ok, err := s.cache.Lookup(ctx, kid)
		if err != nil {
			s.metrics.ObserveKeyCache(metrics.KeyCacheError)
			s.logger.Warn("key cache lookup failed", slog.String("kid", kid), slog.Any("error", err))
		} else if ok {
			s.metrics.ObserveKeyCache(metrics.KeyCacheHit)
			return unmarshalKey(entry.Key)
		}
	}
	s.metrics.ObserveKeyCache(metrics.KeyCacheMiss)

	keySet, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}

	var match *jose.JSONWebKey
	for i := range keySet.Keys {
		key := keySet.Keys[i]
		if !key.Valid() {
			continue
		}
		if s.cache != nil {
			if raw, err := json.Marshal(key); err == nil {
				if err := s.cache.Store(ctx, key.KeyID, keycache.Entry{Key: raw}); err != nil {
					s.logger.Warn("key cache store failed", slog.String("kid", key.KeyID), slog.Any("error", err))
				}
			}
		}
		if key.KeyID == kid {
			match = &keySet.Keys[i]
		}
	}
	if match == nil {
		return nil, fmt.Errorf("token: key %q not found in key set", kid)
	}
	return match.Key, nil
}

// fetch retrieves and parses the JWKS document.
func (s *KeySet) fetch(ctx context.Context) (jose.JSONWebKeySet, error) {
	if s.url == "" {
		return jose.JSONWebKeySet{}, fmt.Errorf("token: jwks url not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return jose.JSONWebKeySet{}, fmt.Errorf("token: jwks request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return jose.JSONWebKeySet{}, fmt.Errorf("token: jwks fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return jose.JSONWebKeySet{}, fmt.Errorf("token: jwks fetch status %d", resp.StatusCode)
	}
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return jose.JSONWebKeySet{}, fmt.Errorf("token: jwks read: %w", err)
	}
	var keySet jose.JSONWebKeySet
	if err := json.Unmarshal(payload, &keySet); err != nil {
		return jose.JSONWebKeySet{}, fmt.Errorf("token: jwks parse: %w", err)
	}
	return keySet, nil
}

func unmarshalKey(raw json.RawMessage) (any, error) {
	var key jose.JSONWebKey
	if err := key.UnmarshalJSON(raw); err != nil {
		return nil, fmt.Errorf("token: cached key parse: %w", err)
	}
	return key.Key, nil
}
