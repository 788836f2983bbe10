package main

import (
	"context"
	"log"
	"time"

	"postmesh/config"
	"postmesh/internal/app"
	"postmesh/internal/broker"
	"postmesh/internal/events"
	"postmesh/internal/handler"
	"postmesh/internal/middleware"
	"postmesh/internal/redis"
	"postmesh/internal/repository"
	"postmesh/internal/services"
	"postmesh/internal/storage"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg := config.LoadConfig("media-service", "5003")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	infra, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to start media service: %v", err)
	}

	blobs, err := storage.NewClient(ctx, storage.S3Config{
		Region:     cfg.S3Region,
		Bucket:     cfg.S3Bucket,
		AccessKey:  cfg.S3AccessKey,
		SecretKey:  cfg.S3SecretKey,
		Endpoint:   cfg.S3Endpoint,
		PublicBase: cfg.S3PublicBase,
	})
	if err != nil {
		infra.Logger.Logger.Fatal("failed to create blob store client", zap.Error(err))
	}

	mediaSvc := services.NewMediaService(
		repository.NewMediaRepository(infra.Pool),
		blobs,
		infra.Logger,
		infra.Metrics,
		cfg.StoreTimeout,
		cfg.MediaMaxUploadBytes,
	)

	subscriber := broker.NewSubscriber(infra.Broker, app.SubscriberConfig(cfg), infra.Logger, infra.Metrics)
	if err := subscriber.Subscribe(ctx, events.RoutingKeyPostDeleted, mediaSvc.HandlePostDeleted); err != nil {
		infra.Logger.Logger.Fatal("failed to subscribe", zap.String("routing_key", events.RoutingKeyPostDeleted), zap.Error(err))
	}

	auth := middleware.AuthMiddleware(services.NewTokenService(cfg.JWTSecret))
	limiter := redis.NewRateLimiter(infra.Redis, app.RateLimitConfig(cfg))
	mediaHandler := handler.NewMediaHandler(mediaSvc)

	srv := infra.NewServer()
	srv.OnShutdown(func(ctx context.Context) { subscriber.Stop() })
	srv.SetupRoutes(func(api *gin.RouterGroup) {
		mediaHandler.RegisterRoutes(api, auth, middleware.RateLimitMiddleware(limiter, "upload", infra.Logger))
	})

	if err := infra.Serve(srv); err != nil {
		infra.Logger.Logger.Fatal("media service stopped with error", zap.Error(err))
	}
}
