package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prudhvinik1/liverelay/internal/bridge"
	"github.com/prudhvinik1/liverelay/internal/cache"
	"github.com/prudhvinik1/liverelay/internal/config"
	"github.com/prudhvinik1/liverelay/internal/database"
	"github.com/prudhvinik1/liverelay/internal/hub"
	"github.com/prudhvinik1/liverelay/internal/source"
	"github.com/prudhvinik1/liverelay/internal/stream"
	"github.com/sirupsen/logrus"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	godotenv.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	// Initialize database connections
	postgresPool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("Failed to create postgres pool: %v", err)
	}
	defer postgresPool.Close()

	relay := hub.New(cfg.QueueCapacity, cfg.OverflowPolicy, logger)

	// Optional hub consumers: cache invalidation and the cross-instance
	// bridge ride the same fan-out as client sessions.
	if cfg.RedisURL != "" {
		redisClient, err := database.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatalf("Failed to create redis client: %v", err)
		}
		defer redisClient.Close()

		invalidator := cache.NewInvalidator(redisClient, logger)
		go invalidator.Run(ctx, relay.Register())
	}

	if cfg.NATSURL != "" {
		publisher, err := bridge.NewPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.Fatalf("Failed to create NATS bridge: %v", err)
		}
		defer publisher.Close()

		go publisher.Run(ctx, relay.Register())
	}

	// Start the notification subscription
	adapter := source.New(cfg.DatabaseURL, cfg.Channels, logger)
	errChan := make(chan error, 1)
	go func() {
		errChan <- adapter.Run(ctx, relay.Publish)
	}()

	// Initialize HTTP server
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := postgresPool.Ping(r.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	router.Get("/api/stream", stream.Handler(relay, cfg.HeartbeatInterval, logger))

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router,
		// Stream sessions run until their request context ends; tie request
		// contexts to the process context so shutdown closes them.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigChan:
			logger.Infof("Received signal: %v, shutting down...", sig)
		case err := <-errChan:
			if err != nil {
				logger.Errorf("Notification adapter stopped: %v", err)
			}
		}

		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Infof("Relay listening on port %s, channels %v", cfg.ServerPort, cfg.Channels)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatalf("Server error: %v", err)
	}

	logger.Info("Relay stopped gracefully")
}
