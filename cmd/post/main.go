package main

import (
	"context"
	"log"
	"time"

	"postmesh/config"
	"postmesh/internal/app"
	"postmesh/internal/broker"
	"postmesh/internal/handler"
	"postmesh/internal/middleware"
	"postmesh/internal/repository"
	"postmesh/internal/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg := config.LoadConfig("post-service", "5001")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	infra, err := app.Bootstrap(ctx, cfg)
	cancel()
	if err != nil {
		log.Fatalf("Failed to start post service: %v", err)
	}

	publisher := broker.NewPublisher(infra.Broker, infra.Logger, infra.Metrics)
	posts := services.NewPostService(
		repository.NewPostRepository(infra.Pool),
		infra.Cache,
		services.NewEventPublisher(publisher, infra.Logger),
		infra.Logger,
		cfg.StoreTimeout,
	)

	auth := middleware.AuthMiddleware(services.NewTokenService(cfg.JWTSecret))
	postHandler := handler.NewPostHandler(posts)

	srv := infra.NewServer()
	srv.SetupRoutes(func(api *gin.RouterGroup) {
		postHandler.RegisterRoutes(api, auth)
	})

	if err := infra.Serve(srv); err != nil {
		infra.Logger.Logger.Fatal("post service stopped with error", zap.Error(err))
	}
}
