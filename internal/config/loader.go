package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates the runtime configuration while respecting
// alias > env > file > default precedence. Bare aliases are the single-purpose
// environment variables the original deployment documented (JWKS_URL,
// UPSTREAM_SERVER, ...); they win over everything so existing deployments keep
// working unchanged.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator that honors the documented precedence
// contract before touching files or defaults.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// envAliases maps the bare environment variables of the original deployment
// onto config paths.
var envAliases = map[string]string{
	"JWKS_URL":                     "auth.jwksUrl",
	"UPSTREAM_SERVER":              "upstream.url",
	"PATH_WHITELIST":               "server.pathWhitelist",
	"OIDC_AUTHORIZE_URL":           "oidc.authorizeUrl",
	"OIDC_TOKEN_URI":               "oidc.tokenUri",
	"OIDC_TOKEN_INTROSPECTION_URI": "oidc.introspectionUri",
	"LOGSERVER_URL":                "audit.url",
	"LOGSERVER_TOKEN":              "audit.token",
	"LOG_LEVEL":                    "server.logging.level",
	"POLICIES_DIR":                 "policies.dir",
}

// Load assembles the effective snapshot using the documented precedence rules.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	defaultCfg := DefaultConfig()
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(defaultCfg), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.files {
		if path == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		parser, err := parserFor(path)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		canonical := map[string]string{
			"server.maxbodybytes":       "server.maxBodyBytes",
			"server.pathwhitelist":      "server.pathWhitelist",
			"auth.jwksurl":              "auth.jwksUrl",
			"auth.timeoutseconds":       "auth.timeoutSeconds",
			"upstream.forwardauth":      "upstream.forwardAuth",
			"upstream.timeoutseconds":   "upstream.timeoutSeconds",
			"policies.securitysystem":   "policies.securitySystem",
			"oidc.authorizeurl":         "oidc.authorizeUrl",
			"oidc.tokenuri":             "oidc.tokenUri",
			"oidc.introspectionuri":     "oidc.introspectionUri",
			"audit.timeoutseconds":      "audit.timeoutSeconds",
			"keycache.ttlseconds":       "keycache.ttlSeconds",
			"keycache.redis.tls.cafile": "keycache.redis.tls.caFile",
		}
		transform := func(s string) string {
			// Double underscores signal a nested path (AUTH__JWKS_URL -> auth.jwksurl).
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			key = strings.ReplaceAll(key, "_", "")
			lower := strings.ToLower(key)
			if mapped, ok := canonical[lower]; ok {
				return mapped
			}
			return lower
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	aliases := map[string]any{}
	for name, path := range envAliases {
		value, ok := os.LookupEnv(name)
		if !ok || value == "" {
			continue
		}
		if path == "server.pathWhitelist" {
			aliases[path] = splitCommaList(value)
			continue
		}
		aliases[path] = value
	}
	if len(aliases) > 0 {
		if err := k.Load(confmap.Provider(aliases, "."), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env aliases: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// parserFor selects the koanf parser by file extension.
func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return kjson.Parser(), nil
	case ".toml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("config: unsupported file type: %s", path)
	}
}

func splitCommaList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
			"logging": map[string]any{
				"level":  cfg.Server.Logging.Level,
				"format": cfg.Server.Logging.Format,
			},
			"maxBodyBytes":  cfg.Server.MaxBodyBytes,
			"pathWhitelist": cfg.Server.PathWhitelist,
		},
		"auth": map[string]any{
			"jwksUrl":        cfg.Auth.JWKSURL,
			"audience":       cfg.Auth.Audience,
			"algorithm":      cfg.Auth.Algorithm,
			"timeoutSeconds": cfg.Auth.TimeoutSeconds,
		},
		"upstream": map[string]any{
			"url":            cfg.Upstream.URL,
			"forwardAuth":    cfg.Upstream.ForwardAuth,
			"timeoutSeconds": cfg.Upstream.TimeoutSeconds,
		},
		"policies": map[string]any{
			"dir":            cfg.Policies.Dir,
			"watch":          cfg.Policies.Watch,
			"securitySystem": cfg.Policies.SecuritySystem,
		},
		"oidc": map[string]any{
			"authorizeUrl":     cfg.OIDC.AuthorizeURL,
			"tokenUri":         cfg.OIDC.TokenURI,
			"introspectionUri": cfg.OIDC.IntrospectionURI,
		},
		"audit": map[string]any{
			"url":            cfg.Audit.URL,
			"token":          cfg.Audit.Token,
			"timeoutSeconds": cfg.Audit.TimeoutSeconds,
		},
		"keycache": map[string]any{
			"backend":    cfg.KeyCache.Backend,
			"ttlSeconds": cfg.KeyCache.TTLSeconds,
			"redis": map[string]any{
				"address":  cfg.KeyCache.Redis.Address,
				"username": cfg.KeyCache.Redis.Username,
				"password": cfg.KeyCache.Redis.Password,
				"db":       cfg.KeyCache.Redis.DB,
				"tls": map[string]any{
					"enabled": cfg.KeyCache.Redis.TLS.Enabled,
					"caFile":  cfg.KeyCache.Redis.TLS.CAFile,
				},
			},
		},
	}
}
