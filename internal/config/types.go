package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Config holds every process-level option. It is immutable after Load.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Auth     AuthConfig     `koanf:"auth"`
	Upstream UpstreamConfig `koanf:"upstream"`
	Policies PoliciesConfig `koanf:"policies"`
	OIDC     OIDCConfig     `koanf:"oidc"`
	Audit    AuditConfig    `koanf:"audit"`
	KeyCache KeyCacheConfig `koanf:"keycache"`
}

// ServerConfig collects the HTTP listener knobs.
type ServerConfig struct {
	Listen        ListenConfig  `koanf:"listen"`
	Logging       LoggingConfig `koanf:"logging"`
	MaxBodyBytes  int64         `koanf:"maxBodyBytes"`
	PathWhitelist []string      `koanf:"pathWhitelist"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level and format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// AuthConfig describes how bearer tokens are verified.
type AuthConfig struct {
	JWKSURL        string `koanf:"jwksUrl"`
	Audience       string `koanf:"audience"`
	Algorithm      string `koanf:"algorithm"`
	TimeoutSeconds int    `koanf:"timeoutSeconds"`
}

// UpstreamConfig points the proxy at the FHIR backend.
type UpstreamConfig struct {
	URL            string `koanf:"url"`
	ForwardAuth    bool   `koanf:"forwardAuth"`
	TimeoutSeconds int    `koanf:"timeoutSeconds"`
}

// PoliciesConfig locates loadable policy modules and names the coding system
// used for per-user ownership labels.
type PoliciesConfig struct {
	Dir            string `koanf:"dir"`
	Watch          bool   `koanf:"watch"`
	SecuritySystem string `koanf:"securitySystem"`
}

// OIDCConfig feeds the smart-configuration discovery document.
type OIDCConfig struct {
	AuthorizeURL     string `koanf:"authorizeUrl"`
	TokenURI         string `koanf:"tokenUri"`
	IntrospectionURI string `koanf:"introspectionUri"`
}

// AuditConfig names the remote audit log receiver. An empty URL sends audit
// events to the structured logger instead.
type AuditConfig struct {
	URL            string `koanf:"url"`
	Token          string `koanf:"token"`
	TimeoutSeconds int    `koanf:"timeoutSeconds"`
}

// KeyCacheConfig selects the JWKS key cache backend.
type KeyCacheConfig struct {
	Backend    string           `koanf:"backend"`
	TTLSeconds int              `koanf:"ttlSeconds"`
	Redis      RedisCacheConfig `koanf:"redis"`
}

// RedisCacheConfig carries connection settings for the valkey/redis key cache.
type RedisCacheConfig struct {
	Address  string              `koanf:"address"`
	Username string              `koanf:"username"`
	Password string              `koanf:"password"`
	DB       int                 `koanf:"db"`
	TLS      RedisTLSCacheConfig `koanf:"tls"`
}

type RedisTLSCacheConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// Validate enforces invariants that keep the runtime predictable before
// serving traffic.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("config: server.maxBodyBytes invalid: %d", c.Server.MaxBodyBytes)
	}
	if c.Upstream.URL == "" {
		return errors.New("config: upstream.url required")
	}
	if _, err := url.Parse(c.Upstream.URL); err != nil {
		return fmt.Errorf("config: upstream.url invalid: %w", err)
	}
	if c.Auth.JWKSURL != "" {
		if _, err := url.Parse(c.Auth.JWKSURL); err != nil {
			return fmt.Errorf("config: auth.jwksUrl invalid: %w", err)
		}
	}
	if c.Auth.Algorithm != "" && c.Auth.Algorithm != "RS256" {
		return fmt.Errorf("config: auth.algorithm unsupported: %s", c.Auth.Algorithm)
	}
	if c.KeyCache.TTLSeconds < 0 {
		return fmt.Errorf("config: keycache.ttlSeconds invalid: %d", c.KeyCache.TTLSeconds)
	}
	backend := strings.TrimSpace(strings.ToLower(c.KeyCache.Backend))
	switch backend {
	case "", "memory":
	case "redis":
		if strings.TrimSpace(c.KeyCache.Redis.Address) == "" {
			return errors.New("config: keycache.redis.address required for redis backend")
		}
	default:
		return fmt.Errorf("config: keycache.backend unsupported: %s", c.KeyCache.Backend)
	}
	for i, path := range c.Server.PathWhitelist {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("config: server.pathWhitelist[%d] must start with /: %s", i, path)
		}
	}
	return nil
}

// DefaultConfig returns the baseline values that align with the shipped
// deployment defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
			},
			MaxBodyBytes: 8 << 20,
		},
		Auth: AuthConfig{
			Audience:       "account",
			Algorithm:      "RS256",
			TimeoutSeconds: 5,
		},
		Upstream: UpstreamConfig{
			URL:            "http://localhost:8086",
			TimeoutSeconds: 30,
		},
		Policies: PoliciesConfig{
			SecuritySystem: "http://keycloak.cirg.uw.edu/fhir/security-labels",
		},
		Audit: AuditConfig{
			TimeoutSeconds: 10,
		},
		KeyCache: KeyCacheConfig{
			Backend:    "memory",
			TTLSeconds: 300,
		},
	}
}

// Settings renders the configuration as the flat upper-snake view served by
// the read-only settings endpoint. The router withholds blacklisted keys; this
// method reports everything.
func (c Config) Settings() map[string]any {
	return map[string]any{
		"LISTEN_ADDRESS":               c.Server.Listen.Address,
		"LISTEN_PORT":                  c.Server.Listen.Port,
		"LOG_LEVEL":                    c.Server.Logging.Level,
		"LOG_FORMAT":                   c.Server.Logging.Format,
		"MAX_BODY_BYTES":               c.Server.MaxBodyBytes,
		"PATH_WHITELIST":               strings.Join(c.Server.PathWhitelist, ","),
		"JWKS_URL":                     c.Auth.JWKSURL,
		"AUTH_AUDIENCE":                c.Auth.Audience,
		"AUTH_ALGORITHM":               c.Auth.Algorithm,
		"UPSTREAM_SERVER":              c.Upstream.URL,
		"UPSTREAM_FORWARD_AUTH":        c.Upstream.ForwardAuth,
		"POLICIES_DIR":                 c.Policies.Dir,
		"POLICIES_WATCH":               c.Policies.Watch,
		"SECURITY_SYSTEM":              c.Policies.SecuritySystem,
		"OIDC_AUTHORIZE_URL":           c.OIDC.AuthorizeURL,
		"OIDC_TOKEN_URI":               c.OIDC.TokenURI,
		"OIDC_TOKEN_INTROSPECTION_URI": c.OIDC.IntrospectionURI,
		"LOGSERVER_URL":                c.Audit.URL,
		"LOGSERVER_TOKEN":              c.Audit.Token,
		"KEYCACHE_BACKEND":             c.KeyCache.Backend,
		"KEYCACHE_TTL_SECONDS":         c.KeyCache.TTLSeconds,
	}
}

// SettingBlacklisted reports whether a settings key must be withheld from the
// read-only settings endpoints: anything whose uppercase form mentions SECRET
// or KEY stays private.
func SettingBlacklisted(key string) bool {
	upper := strings.ToUpper(key)
	return strings.Contains(upper, "SECRET") || strings.Contains(upper, "KEY")
}
