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
	"postmesh/internal/repository"
	"postmesh/internal/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg := config.LoadConfig("search-service", "5002")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	infra, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to start search service: %v", err)
	}

	search := services.NewSearchService(
		repository.NewSearchRepository(infra.Pool),
		infra.Cache,
		infra.Logger,
		cfg.StoreTimeout,
	)

	subscriber := broker.NewSubscriber(infra.Broker, app.SubscriberConfig(cfg), infra.Logger, infra.Metrics)
	if err := subscriber.Subscribe(ctx, events.RoutingKeyPostCreated, search.HandlePostCreated); err != nil {
		infra.Logger.Logger.Fatal("failed to subscribe", zap.String("routing_key", events.RoutingKeyPostCreated), zap.Error(err))
	}
	if err := subscriber.Subscribe(ctx, events.RoutingKeyPostDeleted, search.HandlePostDeleted); err != nil {
		infra.Logger.Logger.Fatal("failed to subscribe", zap.String("routing_key", events.RoutingKeyPostDeleted), zap.Error(err))
	}

	auth := middleware.AuthMiddleware(services.NewTokenService(cfg.JWTSecret))
	searchHandler := handler.NewSearchHandler(search)

	srv := infra.NewServer()
	srv.OnShutdown(func(ctx context.Context) { subscriber.Stop() })
	srv.SetupRoutes(func(api *gin.RouterGroup) {
		searchHandler.RegisterRoutes(api, auth)
	})

	if err := infra.Serve(srv); err != nil {
		infra.Logger.Logger.Fatal("search service stopped with error", zap.Error(err))
	}
}
