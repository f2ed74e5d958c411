package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/l0p7/fhirgate/internal/audit"
	"github.com/l0p7/fhirgate/internal/config"
	"github.com/l0p7/fhirgate/internal/gateway"
	"github.com/l0p7/fhirgate/internal/keycache"
	"github.com/l0p7/fhirgate/internal/logging"
	"github.com/l0p7/fhirgate/internal/metrics"
	"github.com/l0p7/fhirgate/internal/policy"
	"github.com/l0p7/fhirgate/internal/policy/builtin"
	"github.com/l0p7/fhirgate/internal/server"
	"github.com/l0p7/fhirgate/internal/token"
	"github.com/l0p7/fhirgate/internal/upstream"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to server configuration file")
		envPrefix  = flag.String("env-prefix", "FHIRGATE", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*envPrefix, *configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}

	promRegistry := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(promRegistry)

	keyCache := buildKeyCache(logger.With(slog.String("component", "keycache")), cfg.KeyCache)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := keyCache.Close(shutdownCtx); err != nil {
			logger.Error("key cache shutdown failed", slog.Any("error", err))
		}
	}()

	keySet := token.NewKeySet(cfg.Auth.JWKSURL, time.Duration(cfg.Auth.TimeoutSeconds)*time.Second, keyCache, logger, recorder)
	verifier := token.NewVerifier(keySet, cfg.Auth.Audience, cfg.Auth.Algorithm)

	policyLoader, err := policy.NewLoader(logger)
	if err != nil {
		logger.Error("policy loader setup failed", slog.Any("error", err))
		os.Exit(1)
	}
	builtins := builtin.Modules(cfg.Policies.SecuritySystem)
	registry := policyLoader.Load(cfg.Policies.Dir, builtins)

	upstreamClient, err := upstream.New(upstream.Options{
		BaseURL:      cfg.Upstream.URL,
		ForwardAuth:  cfg.Upstream.ForwardAuth,
		Timeout:      time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	}, logger, recorder)
	if err != nil {
		logger.Error("upstream client setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	auditSink := audit.NewSink(cfg.Audit.URL, cfg.Audit.Token,
		time.Duration(cfg.Audit.TimeoutSeconds)*time.Second, logger, recorder)

	gw := gateway.New(gateway.Options{
		Logger:        logger,
		Engine:        policy.NewEngine(logger),
		Registry:      registry,
		Verifier:      verifier,
		Upstream:      upstreamClient,
		Audit:         auditSink,
		Metrics:       recorder,
		PathWhitelist: cfg.Server.PathWhitelist,
		MaxBodyBytes:  cfg.Server.MaxBodyBytes,
	})

	if cfg.Policies.Watch && cfg.Policies.Dir != "" {
		watcher, err := policyLoader.Watch(ctx, cfg.Policies.Dir, builtins, func(fresh *policy.Registry) {
			gw.SetRegistry(fresh)
			logger.Info("policy registry reloaded", slog.Int("modules", len(fresh.Modules())))
		}, func(err error) {
			logger.Error("policy watcher error", slog.Any("error", err))
		})
		if err != nil {
			logger.Error("policy watcher setup failed", slog.Any("error", err))
		} else {
			defer watcher.Stop()
		}
	}

	router := server.NewRouter(cfg, gw, recorder.Handler())
	srv, err := server.New(cfg, logger, router)
	if err != nil {
		logger.Error("unable to construct server", slog.Any("error", err))
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.Info("server shutdown complete")
}

// buildKeyCache selects the configured backend, degrading to the in-process
// cache when valkey is unreachable so startup never blocks on the cache tier.
func buildKeyCache(logger *slog.Logger, cfg config.KeyCacheConfig) keycache.Cache {
	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	backend := strings.TrimSpace(strings.ToLower(cfg.Backend))
	switch backend {
	case "", "memory":
		logger.Info("using memory key cache", slog.Duration("ttl", ttl))
		return keycache.NewMemory(ttl)
	case "redis":
		redisCache, err := keycache.NewRedis(keycache.RedisConfig{
			Address:  cfg.Redis.Address,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      ttl,
			TLS: keycache.RedisTLSConfig{
				Enabled: cfg.Redis.TLS.Enabled,
				CAFile:  cfg.Redis.TLS.CAFile,
			},
		})
		if err != nil {
			logger.Error("redis key cache initialization failed", slog.Any("error", err))
			logger.Info("falling back to memory key cache")
			return keycache.NewMemory(ttl)
		}
		logger.Info("using redis key cache", slog.String("address", cfg.Redis.Address))
		return redisCache
	default:
		logger.Warn("unsupported key cache backend, defaulting to memory", slog.String("backend", cfg.Backend))
		return keycache.NewMemory(ttl)
	}
}
