package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"tunesync-service/internal/api/routes"
	"tunesync-service/internal/config"
	"tunesync-service/internal/database"
	"tunesync-service/internal/events"
	"tunesync-service/internal/gateway"
	"tunesync-service/internal/presence"
	"tunesync-service/internal/repositories/postgres"
	"tunesync-service/internal/services"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	slog.Info("Starting gateway server")

	// Initialize PostgreSQL connection
	db, err := database.InitPostgres(cfg.Database.URI)
	if err != nil {
		slog.Error("Failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}

	// Initialize Redis connection
	redisClient, err := database.InitRedis(cfg.Redis.URI)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	// Gateway event log. Kafka is optional for local development.
	var eventLog events.Logger = events.NopLogger{}
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := events.NewProducer(cfg.Kafka.Brokers)
		if err != nil {
			slog.Error("Failed to connect to Kafka", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		eventLog = events.NewKafkaLogger(producer, cfg.Kafka.Topic)
	}

	// Icon cache is optional as well.
	var iconService *services.IconService
	if cfg.Storage.Endpoint != "" {
		store, err := minio.New(cfg.Storage.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.Storage.AccessKey, cfg.Storage.SecretKey, ""),
			Secure: cfg.Storage.UseSSL,
		})
		if err != nil {
			slog.Error("Failed to connect to object storage", "error", err)
			os.Exit(1)
		}
		iconService = services.NewIconService(store, cfg.Storage.Bucket)
		if err := iconService.EnsureBucket(context.Background()); err != nil {
			slog.Error("Failed to prepare icon bucket", "error", err)
			os.Exit(1)
		}
	}

	userRepo := postgres.NewUserRepository(db)
	publisher := presence.NewRedisPublisher(redisClient, cfg.Redis.PresenceChannel)

	gw := gateway.NewGateway(userRepo, publisher, eventLog, gateway.Config{
		BotToken:         cfg.Gateway.BotToken,
		PresenceInterval: cfg.Gateway.PresenceInterval,
		CompactPresence:  cfg.Gateway.CompactPresence,
	})

	router := routes.NewRouter(gw, cfg, db, redisClient, iconService)
	router.SetupRoutes()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router.GetEngine(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("Server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	gw.Shutdown()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server stopped")
}
