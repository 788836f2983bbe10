// Package app wires the infrastructure shared by the post, search and media
// services.
package app

import (
	"context"
	"fmt"

	"postmesh/config"
	"postmesh/internal/broker"
	"postmesh/internal/metrics"
	"postmesh/internal/redis"
	"postmesh/internal/server"
	"postmesh/pkg/database"
	"postmesh/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Infra struct {
	Config   *config.Config
	Logger   *logger.Logger
	Pool     *pgxpool.Pool
	Redis    *goredis.Client
	Cache    *redis.CacheStore
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Broker   *broker.Manager
}

// LoggerMode maps the gin app mode onto the logger mode.
func LoggerMode(appMode string) string {
	if appMode == server.ReleaseMode {
		return logger.ProductionMode
	}
	return logger.DevelopmentMode
}

func CacheConfig(cfg *config.Config) redis.CacheConfig {
	return redis.CacheConfig{
		PostTTL:   cfg.CachePostTTL,
		ListTTL:   cfg.CacheListTTL,
		SearchTTL: cfg.CacheSearchTTL,
		Timeout:   cfg.CacheTimeout,
	}
}

func RateLimitConfig(cfg *config.Config) redis.RateLimitConfig {
	return redis.RateLimitConfig{
		Limit:  cfg.RateLimitRequests,
		Window: cfg.RateLimitWindow,
	}
}

func SubscriberConfig(cfg *config.Config) broker.SubscriberConfig {
	sc := broker.DefaultSubscriberConfig()
	sc.Concurrency = cfg.SubscriberConcurrency
	sc.RequeueOnError = cfg.SubscriberRequeueOnErr
	return sc
}

// Bootstrap connects the database, cache and broker. The broker must be
// reachable at startup; an unreachable cache only degrades reads.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Infra, error) {
	l := logger.New(LoggerMode(cfg.AppMode)).With(zap.String("service", cfg.ServiceName))
	logger.SetGlobalLogger(l)

	pool, err := database.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}

	redisClient := redis.NewClient(redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redis.Ping(ctx, redisClient); err != nil {
		l.Warn(ctx, "cache unavailable, reads will go to the store", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	manager := broker.NewManager(cfg.RabbitMQURL, cfg.BrokerExchange, l)
	if _, err := manager.EnsureChannel(ctx); err != nil {
		_ = redisClient.Close()
		pool.Close()
		return nil, fmt.Errorf("broker unavailable at startup: %w", err)
	}

	return &Infra{
		Config:   cfg,
		Logger:   l,
		Pool:     pool,
		Redis:    redisClient,
		Cache:    redis.NewCacheStore(redisClient, CacheConfig(cfg), l, m),
		Registry: registry,
		Metrics:  m,
		Broker:   manager,
	}, nil
}

// NewServer builds the HTTP server with the database health check.
func (i *Infra) NewServer() *server.Server {
	srv := server.New(i.Config, i.Logger, i.Registry)
	srv.AddHealthCheck("database", func(ctx context.Context) error {
		return database.HealthCheck(ctx, i.Pool)
	})
	return srv
}

// Serve runs srv until shutdown. Close is registered last so the caller's
// hooks (subscriber stop) run before the broker and pool go away.
func (i *Infra) Serve(srv *server.Server) error {
	srv.OnShutdown(func(ctx context.Context) { i.Close() })
	return srv.Start()
}

func (i *Infra) Close() {
	i.Broker.Close()
	if err := i.Redis.Close(); err != nil {
		i.Logger.Warn(context.Background(), "failed to close redis client", zap.Error(err))
	}
	i.Pool.Close()
	i.Logger.Sync()
}
