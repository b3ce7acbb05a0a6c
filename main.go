package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"dashsync/presence"
	"dashsync/pubsub"
	"dashsync/syncengine"
	"dashsync/transport"
)

func main() {
	// Parse command line flags
	addr := flag.String("addr", ":8080", "HTTP listen address")
	redisAddr := flag.String("redis-addr", "", "Redis address for cross-instance fan-out (empty = in-memory)")
	envFile := flag.String("env", ".env", "Path to .env file")
	awayTimeout := flag.Duration("away-timeout", 5*time.Minute, "Inactivity before a participant is marked away")
	offlineTimeout := flag.Duration("offline-timeout", 15*time.Minute, "Inactivity before a participant is marked offline")
	purgeTimeout := flag.Duration("purge-timeout", time.Hour, "Offline duration before a participant is purged")
	sweepInterval := flag.Duration("sweep-interval", time.Minute, "Background presence sweep interval")
	devLogging := flag.Bool("dev", false, "Use development logging")
	flag.Parse()

	// Load environment variables from .env file if it exists
	if _, err := os.Stat(*envFile); err == nil {
		if err := godotenv.Load(*envFile); err != nil {
			log.Printf("Warning: Error loading .env file: %v", err)
		}
	}

	// Override with environment variables if they exist
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		*addr = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		*redisAddr = v
	}

	logger, err := newLogger(*devLogging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Pick the notification fabric: Redis when configured, in-memory
	// otherwise.
	var bus pubsub.PubSub
	if *redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: *redisAddr})
		redisBus, err := pubsub.NewRedisPubSub(client, logger)
		if err != nil {
			logger.Fatal("Failed to connect Redis pubsub", zap.String("addr", *redisAddr), zap.Error(err))
		}
		bus = redisBus
		logger.Info("Using Redis pubsub", zap.String("addr", *redisAddr))
	} else {
		bus = pubsub.NewMemoryPubSubWithLogger(logger)
		logger.Info("Using in-memory pubsub")
	}
	defer bus.Close()

	engine := syncengine.NewEngine(syncengine.DefaultConfig(), bus, logger)

	presenceConfig := &presence.Config{
		AwayTimeout:    *awayTimeout,
		OfflineTimeout: *offlineTimeout,
		PurgeTimeout:   *purgeTimeout,
		SweepInterval:  *sweepInterval,
	}
	tracker := presence.NewTracker(presenceConfig, bus, logger)
	if err := tracker.Start(ctx); err != nil {
		logger.Fatal("Failed to start presence tracker", zap.Error(err))
	}
	defer tracker.Stop()

	gateway := transport.NewGateway(ctx, engine, tracker, bus, logger)

	server := &http.Server{
		Addr:    *addr,
		Handler: gateway.Router(),
	}

	go func() {
		logger.Info("Collaboration gateway listening", zap.String("addr", *addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Wait for termination signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown failed", zap.Error(err))
	}
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
