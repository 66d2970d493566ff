// Package main is the entry point for the API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/stageconnect/messaging-platform/internal/config"
	"github.com/stageconnect/messaging-platform/internal/handler"
	natsclient "github.com/stageconnect/messaging-platform/internal/nats"
	"github.com/stageconnect/messaging-platform/internal/realtime"
	redisrelay "github.com/stageconnect/messaging-platform/internal/redis"
	"github.com/stageconnect/messaging-platform/internal/service"
	"github.com/stageconnect/messaging-platform/internal/store"
	"github.com/stageconnect/messaging-platform/pkg/logger"
	"github.com/stageconnect/messaging-platform/pkg/ratelimit"
	"github.com/stageconnect/messaging-platform/pkg/tracing"
)

const serviceName = "messaging-platform"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	log, err := logger.New(cfg.LogLevel, os.Getenv("ENV") == "development")
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	logger.SetGlobal(log)

	log.Info("starting API server", zap.String("relay", cfg.RealtimeRelay))

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, serviceName, cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer func() { _ = tracing.Shutdown(context.Background(), tp) }()
		}
	}

	// Open the store
	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close(db) }()

	// Shared NATS connection for the relay and profile sync
	var nc *natsclient.Client
	if cfg.NeedsNATS() {
		nc, err = connectNATS(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer nc.Close()
	}

	// Profile directory sources
	profiles := store.NewProfileDirectory(db)
	if cfg.ProfileSeedFile != "" {
		n, err := store.SeedProfiles(ctx, profiles, cfg.ProfileSeedFile)
		if err != nil {
			return err
		}
		log.Info("profiles seeded", zap.Int("count", n), zap.String("file", cfg.ProfileSeedFile))
	}
	if cfg.ProfileSyncEnabled {
		profileSync := natsclient.NewProfileSync(nc, cfg.ProfileSyncSubject, profiles, log.Named("profiles"))
		if err := profileSync.Start(); err != nil {
			return err
		}
		defer func() { _ = profileSync.Close() }()
	}

	// Realtime relay
	relay, closeRelay, err := openRelay(ctx, cfg, nc, log)
	if err != nil {
		return err
	}
	defer closeRelay()

	hub := realtime.NewHub(relay, log.Named("hub"))
	if err := hub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start realtime hub: %w", err)
	}

	// Initialize services
	connectionSvc := service.NewConnectionService(store.NewConnectionRepository(db), profiles, hub, log.Named("connections"))
	conversationSvc := service.NewConversationService(store.NewMessageRepository(db), profiles, log.Named("conversations"))
	gateway := service.NewGateway(connectionSvc, conversationSvc, hub, service.GatewayOptions{
		RequireConnection: cfg.RequireConnection,
	}, log.Named("gateway"))

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(map[string]handler.ReadinessCheck{
		"database": func(ctx context.Context) error { return store.Ping(ctx, db) },
		"realtime": hub.Ping,
	})
	inboundLimiter := ratelimit.New(cfg.WSEventsPerSecond, cfg.WSEventBurst, 10*time.Minute)

	router := handler.NewRouter(handler.RouterConfig{
		Health:            healthHandler,
		Connections:       handler.NewConnectionHandler(connectionSvc, log),
		Messages:          handler.NewMessageHandler(gateway, log),
		Realtime:          handler.NewRealtimeHandler(hub, gateway, inboundLimiter, cfg.WSAllowedOrigins, log.Named("realtime")),
		JWTSecret:         cfg.JWTSecret,
		AllowedOrigins:    cfg.WSAllowedOrigins,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		IPRateLimit:       cfg.IPRateLimit,
		Logger:            log,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("shutting down server", zap.String("signal", sig.String()))
	case err := <-serverErr:
		log.Error("server error", zap.Error(err))
		_ = hub.Close()
		return err
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	if err := hub.Close(); err != nil {
		log.Warn("failed to close realtime hub", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}

func connectNATS(ctx context.Context, cfg *config.Config, log *logger.Logger) (*natsclient.Client, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return natsclient.Connect(connectCtx, natsclient.Config{
		URL:      cfg.NATSURL,
		Name:     serviceName,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log.Named("nats"))
}

// openRelay builds the configured relay. The returned func releases any
// client the relay owns; the shared NATS client is closed by the caller.
func openRelay(ctx context.Context, cfg *config.Config, nc *natsclient.Client, log *logger.Logger) (realtime.Relay, func(), error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	switch cfg.RealtimeRelay {
	case config.RelayNATS:
		return natsclient.NewRelay(nc, log.Named("nats")), func() {}, nil

	case config.RelayRedis:
		rdb, err := redisrelay.NewClient(connectCtx, redisrelay.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, nil, err
		}
		return redisrelay.NewRelay(rdb, log.Named("redis")), func() { _ = rdb.Close() }, nil

	default:
		return realtime.NewLocalRelay(), func() {}, nil
	}
}
