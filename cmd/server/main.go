package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/procurehq/be-proc-requests/internal/client"
	"github.com/procurehq/be-proc-requests/internal/config"
	"github.com/procurehq/be-proc-requests/internal/database"
	"github.com/procurehq/be-proc-requests/internal/handler"
	"github.com/procurehq/be-proc-requests/internal/logger"
	"github.com/procurehq/be-proc-requests/internal/middleware"
	"github.com/procurehq/be-proc-requests/internal/repository"
	"github.com/procurehq/be-proc-requests/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("environment", cfg.Service.Environment).
		Msg("Starting Procurement Requests Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Redis backs the rule registry cache; the service degrades to direct
	// registry reads without it.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unreachable, rule caching disabled")
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	// NATS carries notification events; publishing is best-effort.
	var nc *nats.Conn
	nc, err = nats.Connect(cfg.NATS.URL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		log.Warn().Err(err).Str("url", cfg.NATS.URL).Msg("NATS unreachable, notifications disabled")
		nc = nil
	} else {
		defer nc.Close()
	}

	// Initialize repositories
	requestRepo := repository.NewRequestRepository(db)
	approvalRepo := repository.NewApprovalRepository(db)
	overrideRepo := repository.NewOverrideRepository(db)

	// Initialize collaborator clients
	timeout := cfg.Clients.RequestTimeout
	rulesClient := client.NewRulesClient(cfg.Clients.RulesURL, timeout, redisClient, cfg.Redis.RuleCacheTTL, log.Logger)
	authzClient := client.NewAuthzClient(cfg.Clients.AuthzURL, timeout)
	evidenceClient := client.NewEvidenceClient(cfg.Clients.EvidenceURL, timeout)
	vendorsClient := client.NewVendorsClient(cfg.Clients.VendorsURL, timeout)
	notifier := client.NewNotificationPublisher(nc, log.Logger)

	log.Info().
		Str("rules_url", cfg.Clients.RulesURL).
		Str("authz_url", cfg.Clients.AuthzURL).
		Str("evidence_url", cfg.Clients.EvidenceURL).
		Str("vendors_url", cfg.Clients.VendorsURL).
		Msg("Collaborator clients initialized")

	// Initialize services
	locker := service.NewRequestLocker()
	gate := service.NewGate(log)
	calculator := service.NewVendorApprovalCalculator(vendorsClient, cfg.VendorApproval, log)
	transitionService := service.NewTransitionService(
		requestRepo, approvalRepo, overrideRepo,
		rulesClient, authzClient, evidenceClient, vendorsClient,
		notifier, gate, calculator, locker, log)
	approvalService := service.NewApprovalService(
		requestRepo, approvalRepo, authzClient, notifier, transitionService, locker, log)
	overrideService := service.NewOverrideService(
		requestRepo, overrideRepo, authzClient, notifier, locker, log)

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(transitionService, approvalService, overrideService, log)
	mux := http.NewServeMux()
	httpHandler.Register(mux)

	// Apply middleware
	var h http.Handler = mux
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Timeout(30 * time.Second)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}
