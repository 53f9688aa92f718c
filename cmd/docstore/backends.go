// cmd/docstore/backends.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dalemusser/docstore/api/users"
	"github.com/dalemusser/docstore/auth/apikey"
	"github.com/dalemusser/docstore/cache"
	"github.com/dalemusser/docstore/config"
	"github.com/dalemusser/docstore/health"
	"github.com/dalemusser/docstore/metrics"
	"github.com/dalemusser/docstore/router"
	"github.com/dalemusser/docstore/store"
	"github.com/dalemusser/docstore/store/memstore"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// defaultStore is the registry name of the connection the API uses.
const defaultStore = "default"

// backends is everything the HTTP layer needs from the outside world.
type backends struct {
	registry *store.Registry
	handle   *store.Handle
	users    *store.Operation
	cache    cache.Cache // nil when cache_backend is "none"
}

// observerRegisterer is where the store metrics live; tests swap it out.
var observerRegisterer prometheus.Registerer = prometheus.DefaultRegisterer

func connect(ctx context.Context, core *config.CoreConfig, logger *zap.Logger) (*backends, error) {
	obs := metrics.NewStoreObserver(observerRegisterer)

	var dialer store.Dialer
	switch core.Store.Backend {
	case "memory":
		logger.Warn("using in-memory document store; data is lost on exit")
		dialer = memstore.New().Dialer()
	default:
		dialer = store.MongoDialer(obs.PoolMonitor())
	}

	opts := append(core.Store.HandleOptions(),
		store.WithLogger(logger),
		store.WithObserver(obs),
		store.WithDialer(dialer),
	)
	reg := store.NewRegistry(opts...)
	reg.Register(defaultStore, core.Store.ConnectionConfig())

	h, err := reg.Client(defaultStore)
	if err != nil {
		return nil, err
	}
	if err := h.Connect(ctx); err != nil {
		return nil, err
	}
	logger.Info("document store connected",
		zap.String("backend", core.Store.Backend),
		zap.String("database", core.Store.MongoDatabase))

	b := &backends{
		registry: reg,
		handle:   h,
		users:    store.NewOperation(h, core.Store.UsersCollection),
	}

	c, err := newCache(ctx, core.Cache)
	if err != nil {
		_ = reg.DisconnectAll(context.WithoutCancel(ctx))
		return nil, err
	}
	b.cache = c
	return b, nil
}

func newCache(ctx context.Context, cfg config.CacheConfig) (cache.Cache, error) {
	switch cfg.Backend {
	case "memory":
		return cache.NewMemory(), nil
	case "redis":
		r, err := cache.NewRedis(ctx, cache.RedisConfig{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: "docstore:",
		})
		if err != nil {
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		return r, nil
	}
	return nil, nil
}

func ensureSchema(ctx context.Context, _ *config.CoreConfig, b *backends, logger *zap.Logger) error {
	if err := users.EnsureIndexes(ctx, b.users); err != nil {
		return err
	}
	logger.Info("indexes ensured", zap.String("collection", b.users.CollectionName()))
	return nil
}

func buildHandler(core *config.CoreConfig, b *backends, logger *zap.Logger) (http.Handler, error) {
	r := router.New(core, logger)

	r.Get("/", health.Welcome("docstore"))
	health.Mount(r, health.FromRegistry(b.registry), logger)
	r.With(apikey.Require(core.MetricsAPIKey, "metrics", logger)).
		Method(http.MethodGet, "/metrics", metrics.Handler())

	var repo store.Repo = store.NewRepository(b.users)
	if b.cache != nil {
		repo = store.NewCachedRepository(repo, b.cache, "users:", core.Cache.TTL, logger)
	}
	r.Mount("/users", users.NewHandler(repo, b.users, logger).Routes(b.handle))

	return r, nil
}

func shutdown(ctx context.Context, b *backends, logger *zap.Logger) error {
	var errs []error
	if b.cache != nil {
		errs = append(errs, b.cache.Close())
	}
	errs = append(errs, b.registry.DisconnectAll(ctx))
	logger.Info("backends closed")
	return errors.Join(errs...)
}
