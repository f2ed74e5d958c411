package keycache

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

// keyPrefix namespaces cached signing keys so a shared valkey instance can
// host other tenants.
const keyPrefix = "fhirgate:jwks:"

// RedisTLSConfig controls TLS for the valkey connection.
type RedisTLSConfig struct {
	Enabled bool
	CAFile  string
}

// RedisConfig carries valkey connection settings for the key cache.
type RedisConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	TTL      time.Duration
	TLS      RedisTLSConfig
}

type redisCache struct {
	client valkey.Client
	ttl    time.Duration
}

// NewRedis connects to valkey and verifies the connection with a bounded
// ping before returning the cache.
func NewRedis(cfg RedisConfig) (Cache, error) {
	if cfg.Address == "" {
		return nil, errors.New("keycache: redis address required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	option := valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	}

	if cfg.TLS.Enabled {
		tlsConfig := &tls.Config{}
		if cfg.TLS.CAFile != "" {
			caData, err := os.ReadFile(cfg.TLS.CAFile)
			if err != nil {
				return nil, fmt.Errorf("keycache: read redis ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caData) {
				return nil, errors.New("keycache: redis ca file contains no certificates")
			}
			tlsConfig.RootCAs = pool
		}
		option.TLSConfig = tlsConfig
	}

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("keycache: redis client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("keycache: redis ping: %w", err)
	}

	return &redisCache{client: client, ttl: ttl}, nil
}

func (c *redisCache) Lookup(ctx context.Context, kid string) (Entry, bool, error) {
	resp := c.client.Do(ctx, c.client.B().Get().Key(keyPrefix+kid).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("keycache: redis get: %w", err)
	}
	payload, err := resp.AsBytes()
	if err != nil {
		return Entry{}, false, fmt.Errorf("keycache: redis get bytes: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("keycache: redis unmarshal: %w", err)
	}
	return entry, true, nil
}

func (c *redisCache) Store(ctx context.Context, kid string, entry Entry) error {
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now().UTC()
	}
	if entry.ExpiresAt.IsZero() || entry.ExpiresAt.Before(entry.StoredAt) {
		entry.ExpiresAt = entry.StoredAt.Add(c.ttl)
	}
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("keycache: redis marshal: %w", err)
	}
	cmd := c.client.B().Set().Key(keyPrefix + kid).Value(string(payload)).Px(ttl).Build()
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("keycache: redis set: %w", err)
	}
	return nil
}

func (c *redisCache) Close(context.Context) error {
	c.client.Close()
	return nil
}
