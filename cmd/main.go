package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"musicstream-payments/internal/adapters/auth/opa"
	httphandler "musicstream-payments/internal/adapters/http"
	"musicstream-payments/internal/adapters/messaging/kafka"
	"musicstream-payments/internal/adapters/messaging/mock"
	"musicstream-payments/internal/adapters/storage/postgres"
	"musicstream-payments/internal/adapters/storage/redis"
	"musicstream-payments/internal/app"
	"musicstream-payments/internal/auth"
	"musicstream-payments/internal/config"
	"musicstream-payments/internal/core/ports"
	"musicstream-payments/internal/observability"
	"musicstream-payments/internal/upi"
)

func main() {
	// --- 1. Configuration and Logging ---
	fallbackLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		fallbackLogger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg.App.Env)
	logger.Info("Application starting", "env", cfg.App.Env, "port", cfg.Server.Port)

	// --- 2. Validate critical config ---
	jwtSecret := cfg.JWT.JWTSecret
	if jwtSecret == "" {
		logger.Error("JWT_SECRET is not set")
		os.Exit(1)
	}
	if cfg.Payment.WebhookSecret == "" {
		logger.Error("webhook secret is not set")
		os.Exit(1)
	}
	if cfg.UPI.VPA == "" {
		logger.Error("UPI receiver VPA is not set")
		os.Exit(1)
	}

	// --- 3. Observability ---
	shutdownTracer, err := observability.InitTracer(cfg.Jaeger.Port, "payment-gateway")
	if err != nil {
		logger.Error("Failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Warn("Failed to shutdown tracer", "error", err)
		}
	}()

	// --- 4. Dependencies ---
	ctx := context.Background()

	repo, err := postgres.NewRepository(ctx, cfg.Postgres.DSN)
	if err != nil {
		logger.Error("Failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	logger.Info("Connected to PostgreSQL")

	catalog := postgres.NewCatalogRepository(repo.Pool())

	rateLimiterRepo, err := redis.NewRateLimiterAdapter(cfg.Redis.Addr)
	if err != nil {
		logger.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := rateLimiterRepo.Close(); err != nil {
			logger.Warn("Failed to close Redis connection", "error", err)
		}
	}()

	// Settlement events go to Kafka; without brokers configured the mock
	// publisher keeps local development runnable.
	var publisher ports.SettlementPublisher
	if cfg.Kafka.BootstrapServers != "" {
		broker, err := kafka.NewBroker(strings.Split(cfg.Kafka.BootstrapServers, ","), cfg.Kafka.SettlementTopic, logger)
		if err != nil {
			logger.Error("Failed to create Kafka broker", "error", err)
			os.Exit(1)
		}
		defer broker.Close()
		logger.Info("Kafka broker created", "topic", cfg.Kafka.SettlementTopic)
		publisher = broker
	} else {
		logger.Warn("Kafka not configured, settlement events are logged only")
		publisher = mock.NewBroker(logger)
	}

	// --- 5. Service Layer ---
	expiry := cfg.Payment.ExpiryWindow()
	paymentService := app.NewPaymentService(repo, catalog, publisher, logger, expiry)

	links := upi.LinkBuilder{VPA: cfg.UPI.VPA, MerchantName: cfg.UPI.MerchantName}
	paymentHandler := httphandler.NewPaymentHandler(paymentService, links, logger, expiry)
	rateLimiterMiddleware := httphandler.NewRateLimiterMiddleware(rateLimiterRepo, logger, cfg.RateLimit.Limit, cfg.RateLimit.Window())
	opaMiddleware := opa.NewMiddleware(cfg.OPA.URL, httphandler.ClaimsFromContext, logger)
	oauthServer := auth.NewAuthorizationServer(jwtSecret, "storefront", "storefront-secret", logger)

	// Expiry supervisor: pending transactions past the payment window get
	// failed in the background, independent of status polling.
	sweeper := app.NewExpirySweeper(repo, logger, expiry, cfg.Payment.SweepInterval())
	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go sweeper.Run(sweepCtx)

	// --- 6. HTTP Router ---
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		rateLimiterMiddleware.Handler,
		middleware.Logger,
		middleware.Recoverer,
		observability.NewLoggerMiddleware(logger),
		observability.NewMetricsMiddleware("payment-gateway"),
		observability.NewTracingMiddleware("payment-gateway"),
	)

	// Public routes
	r.Post("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		if err := oauthServer.HandleTokenRequest(w, r); err != nil {
			logger.Error("failed to handle token request", "error", err)
		}
	})
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(map[string]string{
			"status":  "healthy",
			"service": "payment-gateway",
		}); err != nil {
			logger.Error("Failed to write health response", "error", err)
		}
	})
	r.Handle("/metrics", promhttp.Handler())

	// Gateway callback: authenticated by signature, not by user identity.
	r.Group(func(r chi.Router) {
		r.Use(httphandler.GatewaySignatureMiddleware(cfg.Payment.WebhookSecret, logger))
		r.Post("/webhook/upi", paymentHandler.HandleWebhook)
	})

	// Customer routes: /api/v1/*
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httphandler.JWTMiddleware([]byte(jwtSecret), logger))
		if cfg.OPA.URL != "" {
			r.Use(opaMiddleware.Authorize)
		}
		r.Post("/purchases", paymentHandler.HandleCreatePurchase)
		r.Get("/purchases/history", paymentHandler.HandleHistory)
		r.Get("/purchases/{transactionID}/status", paymentHandler.HandleStatus)
	})

	// Operator routes: OIDC-verified identities from the company IdP.
	if cfg.OIDC.URL != "" {
		oidcAuth, err := httphandler.NewOIDCAuthenticator(ctx, cfg.OIDC.URL, cfg.OIDC.ClientID)
		if err != nil {
			logger.Error("Failed to create OIDC authenticator", "error", err)
			os.Exit(1)
		}
		r.Group(func(r chi.Router) {
			r.Use(oidcAuth.Middleware)
			r.Post("/internal/expiry/sweep", func(w http.ResponseWriter, req *http.Request) {
				expired := sweeper.Sweep(req.Context())
				w.Header().Set("Content-Type", "application/json")
				if err := json.NewEncoder(w).Encode(map[string]int{"expired": expired}); err != nil {
					logger.Error("Failed to write sweep response", "error", err)
				}
			})
		})
	}

	// --- 7. HTTP Server ---
	port := cfg.Server.Port
	if port == "" {
		port = "8080"
	}
	serverAddr := "0.0.0.0:" + port

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("HTTP server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	stopSweeper()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", "error", err)
		os.Exit(1)
	}

	logger.Info("Server exited properly")
}
